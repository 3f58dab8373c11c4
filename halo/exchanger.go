// Package halo runs the per-iteration protocol of a row-band stencil
// computation: boundary rows are exchanged with neighboring bands, each band
// is convolved locally, and the coordinator (rank 0) gathers the bands and
// redistributes the merged grid.
package halo

import (
	"fmt"

	"github.com/notargets/StencilKernel/comm"
	"github.com/notargets/StencilKernel/partitions"
)

// Message tags. Halo traffic of the two exchange phases, band aggregation and
// grid broadcast share the same links and are told apart only by tag.
const (
	TagPhase0 = 0
	TagPhase1 = 1
	TagGrid   = 10
	TagBand   = 11
)

// Exchanger swaps halo rows between a band and its neighbors.
//
// Links are ordered by rank parity. In the first phase even ranks only send
// and odd ranks only receive; in the second phase the roles swap. Neighbors
// along the chain of bands always differ in parity, so each blocking send
// meets a receive that its partner posts in the same phase. The ring wrap
// link between the last and first rank is never used (those halos are global
// edges), which keeps the ordering valid for odd process counts.
type Exchanger struct {
	Comm   comm.Communicator
	Buffer *partitions.HaloBuffer
}

// NewExchanger creates the exchanger of one rank
func NewExchanger(c comm.Communicator, hb *partitions.HaloBuffer) *Exchanger {
	return &Exchanger{Comm: c, Buffer: hb}
}

// Exchange sends Buffer.SendUpper/SendLower to the neighbors and fills the
// in-grid rows of Buffer.RecvUpper/RecvLower from them. Sides without a
// neighbor are left untouched.
func (ex *Exchanger) Exchange() error {
	if ex.Comm.Rank()%2 == 0 {
		if err := ex.sendAll(TagPhase1); err != nil {
			return err
		}
		return ex.receiveAll(TagPhase0)
	}
	if err := ex.receiveAll(TagPhase1); err != nil {
		return err
	}
	return ex.sendAll(TagPhase0)
}

// sendAll sends the upper boundary to prev, then the lower boundary to next
func (ex *Exchanger) sendAll(tag int) error {
	for _, side := range []partitions.Side{partitions.Upper, partitions.Lower} {
		rp, ok := ex.Buffer.Remote(side)
		if !ok {
			continue
		}
		if err := ex.Comm.Send(ex.Buffer.Send(side), rp.Rank, tag); err != nil {
			return fmt.Errorf("halo send %s boundary to rank %d: %w", side, rp.Rank, err)
		}
	}
	return nil
}

// receiveAll fills the lower halo from next, then the upper halo from prev
func (ex *Exchanger) receiveAll(tag int) error {
	for _, side := range []partitions.Side{partitions.Lower, partitions.Upper} {
		rp, ok := ex.Buffer.Remote(side)
		if !ok {
			continue
		}
		if err := ex.Comm.Receive(ex.Buffer.Recv(side), rp.Rank, tag); err != nil {
			return fmt.Errorf("halo receive %s halo from rank %d: %w", side, rp.Rank, err)
		}
	}
	return nil
}
