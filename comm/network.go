package comm

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// DefaultDialTimeout bounds how long a rank keeps retrying connections to
// peers that have not started listening yet
const DefaultDialTimeout = 30 * time.Second

// DefaultMaxMessageLen caps the int32 values in one message when
// NetworkConfig.MaxMessageLen is unset
const DefaultMaxMessageLen = 1 << 24

// handshakeMagic prefixes the rank announcement on every new connection
const handshakeMagic int32 = 0x53544e43

// NetworkConfig describes one rank of a TCP world
type NetworkConfig struct {
	Rank  int
	Addrs []string // Listen address of every rank, indexed by rank
	// Listener overrides listening on Addrs[Rank]
	Listener    net.Listener
	DialTimeout time.Duration
	// MaxMessageLen bounds the values in one message in either direction. A
	// peer announcing a longer frame is disconnected.
	MaxMessageLen int
	Log           logrus.FieldLogger
}

// Network is a Communicator whose ranks are separate processes. Every ordered
// pair of ranks uses its own TCP connection; the sender dials and the
// receiver accepts. Send returns once the message is written to the socket.
type Network struct {
	rank   int
	size   int
	maxLen int
	log    logrus.FieldLogger
	ln     net.Listener
	out    []*peerConn
	inbox  *mailbox

	mu      sync.Mutex
	inbound []net.Conn
	closed  bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// NewNetwork listens for inbound connections and dials every peer, retrying
// with exponential backoff until the peer is reachable or the dial timeout
// expires
func NewNetwork(ctx context.Context, cfg NetworkConfig) (*Network, error) {
	size := len(cfg.Addrs)
	if size == 0 {
		return nil, fmt.Errorf("network requires at least one address")
	}
	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, fmt.Errorf("rank %d with %d addresses: %w", cfg.Rank, size, ErrRankOutOfRange)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = DefaultMaxMessageLen
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("rank", cfg.Rank)

	ln := cfg.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", cfg.Addrs[cfg.Rank]); err != nil {
			return nil, fmt.Errorf("listen on %s: %w", cfg.Addrs[cfg.Rank], err)
		}
	}

	nw := &Network{
		rank:   cfg.Rank,
		size:   size,
		maxLen: cfg.MaxMessageLen,
		log:    log,
		ln:     ln,
		out:    make([]*peerConn, size),
		inbox:  newMailbox(),
	}
	nw.wg.Add(1)
	go nw.acceptLoop()

	for peer, addr := range cfg.Addrs {
		if peer == cfg.Rank {
			continue
		}
		conn, err := nw.dial(ctx, peer, addr, cfg.DialTimeout)
		if err != nil {
			nw.Close()
			return nil, err
		}
		nw.out[peer] = &peerConn{conn: conn, w: bufio.NewWriter(conn)}
	}
	log.WithField("size", size).Debug("network connected")
	return nw, nil
}

func (nw *Network) dial(ctx context.Context, peer int, addr string, timeout time.Duration) (net.Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = timeout

	var conn net.Conn
	operation := func() error {
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if err := binary.Write(c, binary.LittleEndian, [2]int32{handshakeMagic, int32(nw.rank)}); err != nil {
			c.Close()
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		nw.log.WithFields(logrus.Fields{
			"peer": peer,
			"addr": addr,
			"wait": wait,
		}).Debugf("dial failed, retrying: %v", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(eb, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect to rank %d at %s: %w", peer, addr, err)
	}
	return conn, nil
}

func (nw *Network) acceptLoop() {
	defer nw.wg.Done()
	for {
		conn, err := nw.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				nw.log.WithError(err).Warn("accept failed")
			}
			return
		}
		nw.mu.Lock()
		if nw.closed {
			nw.mu.Unlock()
			conn.Close()
			return
		}
		nw.inbound = append(nw.inbound, conn)
		nw.mu.Unlock()

		nw.wg.Add(1)
		go nw.readLoop(conn)
	}
}

func (nw *Network) readLoop(conn net.Conn) {
	defer nw.wg.Done()
	r := bufio.NewReader(conn)

	var hello [2]int32
	if err := binary.Read(r, binary.LittleEndian, &hello); err != nil {
		nw.log.WithError(err).Warn("handshake read failed")
		conn.Close()
		return
	}
	src := int(hello[1])
	if hello[0] != handshakeMagic || checkPeer(nw.rank, src, nw.size) != nil {
		nw.log.WithField("remote", conn.RemoteAddr()).Warn("rejecting connection with bad handshake")
		conn.Close()
		return
	}
	log := nw.log.WithField("peer", src)
	log.Debug("peer connected")

	for {
		var header [2]int32
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Warn("read failed")
			}
			nw.inbox.fail(src, fmt.Errorf("link from rank %d: %w", src, ErrClosed))
			return
		}
		tag, count := int(header[0]), int(header[1])
		if count < 0 {
			nw.inbox.fail(src, fmt.Errorf("link from rank %d: negative message length %d", src, count))
			conn.Close()
			return
		}
		if count > nw.maxLen {
			log.WithField("count", count).Warn("dropping link with oversized frame")
			nw.inbox.fail(src, fmt.Errorf("link from rank %d: %d values, limit %d: %w",
				src, count, nw.maxLen, ErrMessageTooLarge))
			conn.Close()
			return
		}
		msg := make([]int32, count)
		if err := binary.Read(r, binary.LittleEndian, msg); err != nil {
			nw.inbox.fail(src, fmt.Errorf("link from rank %d: truncated message: %w", src, err))
			return
		}
		nw.inbox.put(src, tag, msg)
	}
}

// Rank implements Communicator
func (nw *Network) Rank() int { return nw.rank }

// Size implements Communicator
func (nw *Network) Size() int { return nw.size }

// Send implements Communicator. Each message is framed as (tag, count)
// followed by count little-endian int32 values.
func (nw *Network) Send(buf []int32, destination, tag int) error {
	if err := checkPeer(nw.rank, destination, nw.size); err != nil {
		return fmt.Errorf("send to %d: %w", destination, err)
	}
	if len(buf) > nw.maxLen {
		return fmt.Errorf("send to %d: %d values, limit %d: %w", destination, len(buf), nw.maxLen, ErrMessageTooLarge)
	}
	pc := nw.out[destination]
	if pc == nil {
		return fmt.Errorf("send to %d: %w", destination, ErrClosed)
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if err := binary.Write(pc.w, binary.LittleEndian, [2]int32{int32(tag), int32(len(buf))}); err != nil {
		return fmt.Errorf("send to %d tag %d: %w", destination, tag, err)
	}
	if err := binary.Write(pc.w, binary.LittleEndian, buf); err != nil {
		return fmt.Errorf("send to %d tag %d: %w", destination, tag, err)
	}
	if err := pc.w.Flush(); err != nil {
		return fmt.Errorf("send to %d tag %d: %w", destination, tag, err)
	}
	return nil
}

// Receive implements Communicator
func (nw *Network) Receive(buf []int32, source, tag int) error {
	if err := checkPeer(nw.rank, source, nw.size); err != nil {
		return fmt.Errorf("receive from %d: %w", source, err)
	}
	msg, err := nw.inbox.get(source, tag)
	if err != nil {
		return fmt.Errorf("receive from %d tag %d: %w", source, tag, err)
	}
	if len(msg) != len(buf) {
		return fmt.Errorf("receive from %d tag %d: got %d values into buffer of %d: %w",
			source, tag, len(msg), len(buf), ErrSizeMismatch)
	}
	copy(buf, msg)
	return nil
}

// Close implements Communicator
func (nw *Network) Close() error {
	var err error
	nw.closeOnce.Do(func() {
		err = nw.ln.Close()
		for _, pc := range nw.out {
			if pc != nil {
				pc.conn.Close()
			}
		}
		nw.mu.Lock()
		nw.closed = true
		for _, conn := range nw.inbound {
			conn.Close()
		}
		nw.mu.Unlock()
		nw.inbox.close()
		nw.wg.Wait()
	})
	return err
}
