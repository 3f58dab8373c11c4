// Package comm provides blocking point-to-point messaging between a fixed set
// of ranks. Messages are int32 slices addressed by (rank, tag).
//
// Two implementations are provided: World, where every rank is a goroutine in
// the same process and a send rendezvouses with its matching receive, and
// Network, where every rank is a separate process connected over TCP.
//
// Communication mismatches (a receive buffer whose length differs from the
// arriving message) are reported as ErrSizeMismatch and are not recoverable.
package comm

import (
	"errors"
)

var (
	// ErrSizeMismatch reports a message whose length differs from the receive buffer
	ErrSizeMismatch = errors.New("message size does not match receive buffer")
	// ErrRankOutOfRange reports a source or destination outside [0, Size)
	ErrRankOutOfRange = errors.New("rank out of range")
	// ErrSelfMessage reports a send or receive addressed to the calling rank
	ErrSelfMessage = errors.New("rank cannot message itself")
	// ErrClosed reports use of a communicator after Close
	ErrClosed = errors.New("communicator closed")
	// ErrMessageTooLarge reports a message longer than the link accepts
	ErrMessageTooLarge = errors.New("message exceeds maximum length")
)

// Communicator is one rank's view of the message-passing world
type Communicator interface {
	// Rank returns the caller's rank, 0 <= Rank() < Size()
	Rank() int
	// Size returns the total number of ranks
	Size() int
	// Send transmits buf to destination with the given tag. Send blocks until
	// the message is handed off; buf may be reused once Send returns.
	Send(buf []int32, destination, tag int) error
	// Receive blocks until the message from source with the given tag arrives
	// and copies it into buf
	Receive(buf []int32, source, tag int) error
	// Close releases the communicator; blocked calls return ErrClosed
	Close() error
}

func checkPeer(rank, peer, size int) error {
	if peer < 0 || peer >= size {
		return ErrRankOutOfRange
	}
	if peer == rank {
		return ErrSelfMessage
	}
	return nil
}
