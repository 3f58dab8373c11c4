package comm

import (
	"fmt"
	"sync"
)

type link struct {
	src, dst, tag int
}

// World connects Size ranks living in the same process. Every (source,
// destination, tag) triple has its own unbuffered channel, so a Send does not
// return until the matching Receive takes the message.
type World struct {
	size int

	mu    sync.Mutex
	links map[link]chan []int32

	closeOnce sync.Once
	done      chan struct{}
}

// NewWorld creates an in-process world of size ranks
func NewWorld(size int) *World {
	if size <= 0 {
		panic(fmt.Sprintf("world size must be positive, got %d", size))
	}
	return &World{
		size:  size,
		links: make(map[link]chan []int32),
		done:  make(chan struct{}),
	}
}

// Size returns the number of ranks in the world
func (w *World) Size() int {
	return w.size
}

// Comm returns the communicator of rank
func (w *World) Comm(rank int) *LocalComm {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("rank %d out of range [0,%d)", rank, w.size))
	}
	return &LocalComm{world: w, rank: rank}
}

// Close unblocks every pending Send and Receive with ErrClosed
func (w *World) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
}

func (w *World) channel(l link) chan []int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, exists := w.links[l]
	if !exists {
		ch = make(chan []int32)
		w.links[l] = ch
	}
	return ch
}

// LocalComm is a rank's communicator within a World
type LocalComm struct {
	world *World
	rank  int
}

// Rank implements Communicator
func (lc *LocalComm) Rank() int { return lc.rank }

// Size implements Communicator
func (lc *LocalComm) Size() int { return lc.world.size }

// Send implements Communicator
func (lc *LocalComm) Send(buf []int32, destination, tag int) error {
	if err := checkPeer(lc.rank, destination, lc.world.size); err != nil {
		return fmt.Errorf("send to %d: %w", destination, err)
	}
	msg := make([]int32, len(buf))
	copy(msg, buf)

	ch := lc.world.channel(link{src: lc.rank, dst: destination, tag: tag})
	select {
	case ch <- msg:
		return nil
	case <-lc.world.done:
		return fmt.Errorf("send to %d tag %d: %w", destination, tag, ErrClosed)
	}
}

// Receive implements Communicator
func (lc *LocalComm) Receive(buf []int32, source, tag int) error {
	if err := checkPeer(lc.rank, source, lc.world.size); err != nil {
		return fmt.Errorf("receive from %d: %w", source, err)
	}

	ch := lc.world.channel(link{src: source, dst: lc.rank, tag: tag})
	select {
	case msg := <-ch:
		if len(msg) != len(buf) {
			return fmt.Errorf("receive from %d tag %d: got %d values into buffer of %d: %w",
				source, tag, len(msg), len(buf), ErrSizeMismatch)
		}
		copy(buf, msg)
		return nil
	case <-lc.world.done:
		return fmt.Errorf("receive from %d tag %d: %w", source, tag, ErrClosed)
	}
}

// Close implements Communicator. Closing any rank closes the whole world.
func (lc *LocalComm) Close() error {
	lc.world.Close()
	return nil
}
