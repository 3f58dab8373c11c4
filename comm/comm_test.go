package comm

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLocalSendReceive(t *testing.T) {
	w := NewWorld(2)
	defer w.Close()
	c0, c1 := w.Comm(0), w.Comm(1)
	assert.Equal(t, 0, c0.Rank())
	assert.Equal(t, 2, c1.Size())

	var g errgroup.Group
	payload := []int32{1, 2, 3}
	g.Go(func() error {
		err := c0.Send(payload, 1, 7)
		payload[0] = 99 // the receiver must not observe this
		return err
	})
	got := make([]int32, 3)
	require.NoError(t, c1.Receive(got, 0, 7))
	require.NoError(t, g.Wait())
	assert.Equal(t, []int32{1, 2, 3}, got)
}

func TestLocalTagsAreIndependent(t *testing.T) {
	w := NewWorld(2)
	defer w.Close()

	var g errgroup.Group
	g.Go(func() error {
		if err := w.Comm(0).Send([]int32{1}, 1, 1); err != nil {
			return err
		}
		return w.Comm(0).Send([]int32{0}, 1, 0)
	})
	// Receive in the same order the sends are issued; a tag mix-up would
	// swap the values
	a, b := make([]int32, 1), make([]int32, 1)
	require.NoError(t, w.Comm(1).Receive(a, 0, 1))
	require.NoError(t, w.Comm(1).Receive(b, 0, 0))
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), a[0])
	assert.Equal(t, int32(0), b[0])
}

func TestLocalSizeMismatch(t *testing.T) {
	w := NewWorld(2)
	defer w.Close()

	go func() { _ = w.Comm(0).Send([]int32{1, 2, 3}, 1, 0) }()
	err := w.Comm(1).Receive(make([]int32, 2), 0, 0)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestLocalInvalidPeers(t *testing.T) {
	w := NewWorld(3)
	defer w.Close()
	c := w.Comm(1)

	assert.ErrorIs(t, c.Send(nil, 3, 0), ErrRankOutOfRange)
	assert.ErrorIs(t, c.Send(nil, -1, 0), ErrRankOutOfRange)
	assert.ErrorIs(t, c.Receive(nil, 5, 0), ErrRankOutOfRange)
	assert.ErrorIs(t, c.Send(nil, 1, 0), ErrSelfMessage)
	assert.Panics(t, func() { w.Comm(3) })
	assert.Panics(t, func() { NewWorld(0) })
}

func TestLocalCloseUnblocks(t *testing.T) {
	w := NewWorld(2)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Comm(1).Receive(make([]int32, 1), 0, 0)
	}()
	require.NoError(t, w.Comm(0).Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("receive did not unblock after close")
	}
	assert.ErrorIs(t, w.Comm(0).Send([]int32{1}, 1, 0), ErrClosed)
}

// ring passes a token around all ranks and returns what rank 0 receives
func ring(t *testing.T, comms []Communicator) []int32 {
	n := len(comms)
	var g errgroup.Group
	var final []int32
	for r := 0; r < n; r++ {
		c := comms[r]
		g.Go(func() error {
			buf := make([]int32, 2)
			if c.Rank() == 0 {
				buf[0], buf[1] = 0, 1
				if err := c.Send(buf, 1, 3); err != nil {
					return err
				}
				if err := c.Receive(buf, n-1, 3); err != nil {
					return err
				}
				final = buf
				return nil
			}
			if err := c.Receive(buf, c.Rank()-1, 3); err != nil {
				return err
			}
			buf[0] += int32(c.Rank())
			buf[1]++
			return c.Send(buf, (c.Rank()+1)%n, 3)
		})
	}
	require.NoError(t, g.Wait())
	return final
}

func TestLocalRing(t *testing.T) {
	w := NewWorld(5)
	defer w.Close()
	comms := make([]Communicator, 5)
	for r := range comms {
		comms[r] = w.Comm(r)
	}
	assert.Equal(t, []int32{0 + 1 + 2 + 3 + 4, 5}, ring(t, comms))
}

func newTestNetwork(t *testing.T, n int) []*Network {
	return newLimitedNetwork(t, n, 0)
}

// newLimitedNetwork connects n ranks over loopback, each accepting messages
// of at most maxLen values (0 for the default)
func newLimitedNetwork(t *testing.T, n, maxLen int) []*Network {
	listeners := make([]net.Listener, n)
	addrs := make([]string, n)
	for r := range listeners {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[r] = ln
		addrs[r] = ln.Addr().String()
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	nets := make([]*Network, n)
	var g errgroup.Group
	for r := 0; r < n; r++ {
		g.Go(func() error {
			nw, err := NewNetwork(context.Background(), NetworkConfig{
				Rank:          r,
				Addrs:         addrs,
				Listener:      listeners[r],
				DialTimeout:   5 * time.Second,
				MaxMessageLen: maxLen,
				Log:           log,
			})
			nets[r] = nw
			return err
		})
	}
	require.NoError(t, g.Wait())
	t.Cleanup(func() {
		for _, nw := range nets {
			nw.Close()
		}
	})
	return nets
}

func TestNetworkRing(t *testing.T) {
	nets := newTestNetwork(t, 3)
	comms := make([]Communicator, len(nets))
	for r, nw := range nets {
		assert.Equal(t, r, nw.Rank())
		assert.Equal(t, 3, nw.Size())
		comms[r] = nw
	}
	assert.Equal(t, []int32{0 + 1 + 2, 3}, ring(t, comms))
}

func TestNetworkOutOfOrderTags(t *testing.T) {
	nets := newTestNetwork(t, 2)

	require.NoError(t, nets[0].Send([]int32{10, 11}, 1, 10))
	require.NoError(t, nets[0].Send([]int32{1}, 1, 1))

	small := make([]int32, 1)
	require.NoError(t, nets[1].Receive(small, 0, 1))
	assert.Equal(t, []int32{1}, small)

	big := make([]int32, 2)
	require.NoError(t, nets[1].Receive(big, 0, 10))
	assert.Equal(t, []int32{10, 11}, big)

	require.NoError(t, nets[0].Send([]int32{1, 2, 3}, 1, 0))
	assert.ErrorIs(t, nets[1].Receive(big, 0, 0), ErrSizeMismatch)
}

func TestNetworkConcurrentSenders(t *testing.T) {
	nets := newTestNetwork(t, 4)
	const messages = 50

	var wg sync.WaitGroup
	for r := 1; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < messages; i++ {
				assert.NoError(t, nets[r].Send([]int32{int32(r), int32(i)}, 0, 11))
			}
		}()
	}

	buf := make([]int32, 2)
	for r := 1; r < 4; r++ {
		for i := 0; i < messages; i++ {
			require.NoError(t, nets[0].Receive(buf, r, 11))
			assert.Equal(t, []int32{int32(r), int32(i)}, buf)
		}
	}
	wg.Wait()
}

func TestNetworkCloseUnblocks(t *testing.T) {
	nets := newTestNetwork(t, 2)
	errCh := make(chan error, 1)
	go func() {
		errCh <- nets[1].Receive(make([]int32, 1), 0, 0)
	}()
	// Closing the sender breaks the link and fails the pending receive
	require.NoError(t, nets[0].Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("receive did not unblock after peer closed")
	}
}

func TestNetworkConfigValidation(t *testing.T) {
	_, err := NewNetwork(context.Background(), NetworkConfig{})
	assert.Error(t, err)
	_, err = NewNetwork(context.Background(), NetworkConfig{Rank: 2, Addrs: []string{"a", "b"}})
	assert.ErrorIs(t, err, ErrRankOutOfRange)
}

func TestNetworkDialGivesUp(t *testing.T) {
	// Reserve a port, then free it so nothing is listening there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	require.NoError(t, ln.Close())

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	_, err = NewNetwork(context.Background(), NetworkConfig{
		Rank:        0,
		Addrs:       []string{"127.0.0.1:0", dead},
		DialTimeout: 300 * time.Millisecond,
		Log:         log,
	})
	assert.Error(t, err)
}

func TestNetworkSendRejectsOversizedMessage(t *testing.T) {
	nets := newLimitedNetwork(t, 2, 4)
	err := nets[0].Send(make([]int32, 5), 1, 0)
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	// The link stays usable after a rejected send
	var g errgroup.Group
	g.Go(func() error { return nets[0].Send([]int32{1, 2, 3, 4}, 1, 0) })
	got := make([]int32, 4)
	require.NoError(t, nets[1].Receive(got, 0, 0))
	require.NoError(t, g.Wait())
	assert.Equal(t, []int32{1, 2, 3, 4}, got)
}

// A peer announcing a frame longer than the limit is disconnected before any
// buffer for it is allocated
func TestNetworkDropsOversizedFrame(t *testing.T) {
	// Rank 0 is played by hand: its listener only absorbs rank 1's dial
	ln0, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln0.Close()
	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	nw, err := NewNetwork(context.Background(), NetworkConfig{
		Rank:          1,
		Addrs:         []string{ln0.Addr().String(), ln1.Addr().String()},
		Listener:      ln1,
		DialTimeout:   5 * time.Second,
		MaxMessageLen: 16,
		Log:           log,
	})
	require.NoError(t, err)
	defer nw.Close()

	conn, err := net.Dial("tcp", ln1.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	frames := []int32{
		handshakeMagic, 0,
		3, 2, 5, 6, // tag 3, two values
		0, 1 << 30, // tag 0, four GiB of payload announced
	}
	require.NoError(t, binary.Write(conn, binary.LittleEndian, frames))

	got := make([]int32, 2)
	require.NoError(t, nw.Receive(got, 0, 3))
	assert.Equal(t, []int32{5, 6}, got)

	err = nw.Receive(make([]int32, 4), 0, 0)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}
