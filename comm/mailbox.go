package comm

import (
	"sync"
)

type mailKey struct {
	src, tag int
}

// mailbox queues inbound messages per (source, tag) until a Receive claims them
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[mailKey][][]int32
	errs   map[int]error
	closed bool
}

func newMailbox() *mailbox {
	mb := &mailbox{
		queues: make(map[mailKey][][]int32),
		errs:   make(map[int]error),
	}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

func (mb *mailbox) put(src, tag int, msg []int32) {
	mb.mu.Lock()
	key := mailKey{src, tag}
	mb.queues[key] = append(mb.queues[key], msg)
	mb.mu.Unlock()
	mb.cond.Broadcast()
}

// fail marks the link from src as broken. Messages already queued from src
// are still delivered.
func (mb *mailbox) fail(src int, err error) {
	mb.mu.Lock()
	if mb.errs[src] == nil {
		mb.errs[src] = err
	}
	mb.mu.Unlock()
	mb.cond.Broadcast()
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()
	mb.cond.Broadcast()
}

func (mb *mailbox) get(src, tag int) ([]int32, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	key := mailKey{src, tag}
	for {
		if q := mb.queues[key]; len(q) > 0 {
			msg := q[0]
			if len(q) == 1 {
				delete(mb.queues, key)
			} else {
				mb.queues[key] = q[1:]
			}
			return msg, nil
		}
		if mb.closed {
			return nil, ErrClosed
		}
		if err := mb.errs[src]; err != nil {
			return nil, err
		}
		mb.cond.Wait()
	}
}
