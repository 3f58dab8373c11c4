package partitions

import (
	"fmt"
)

// BandBuilder constructs the row decomposition of a square grid
type BandBuilder struct {
	Dim           int // Grid dimension D
	NumPartitions int // Process count
	HalfWidth     int // Kernel half-width p, the halo depth
}

// BuildBands creates a band layout with one band per partition
func (bb *BandBuilder) BuildBands() (*BandLayout, error) {
	if bb.NumPartitions <= 0 {
		return nil, fmt.Errorf("number of partitions must be positive, got %d", bb.NumPartitions)
	}
	if bb.Dim <= 0 || bb.Dim%bb.NumPartitions != 0 {
		return nil, fmt.Errorf("%w: D=%d, processes=%d", ErrUnevenPartition, bb.Dim, bb.NumPartitions)
	}

	bands := make([]Band, bb.NumPartitions)
	rowToP := make([]int, bb.Dim)
	for rank := range bands {
		b, err := NewBand(rank, bb.NumPartitions, bb.Dim)
		if err != nil {
			return nil, err
		}
		bands[rank] = b
		for r := b.Start; r <= b.End(); r++ {
			rowToP[r] = rank
		}
	}

	layout := &BandLayout{
		Bands:         bands,
		Dim:           bb.Dim,
		RowsPerBand:   bb.Dim / bb.NumPartitions,
		NumPartitions: bb.NumPartitions,
		RowToP:        rowToP,
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid band layout: %w", err)
	}

	return layout, nil
}

// BuildHaloBuffers creates halo storage for every band of the layout
func (bb *BandBuilder) BuildHaloBuffers(layout *BandLayout) ([]*HaloBuffer, error) {
	if bb.HalfWidth < 0 {
		return nil, fmt.Errorf("halo depth must not be negative, got %d", bb.HalfWidth)
	}
	buffers := make([]*HaloBuffer, layout.NumPartitions)
	for rank, b := range layout.Bands {
		buffers[rank] = NewHaloBuffer(b, bb.HalfWidth)
	}

	if err := validateCommunicationSymmetry(layout, buffers); err != nil {
		return nil, fmt.Errorf("asymmetric halo pattern: %w", err)
	}

	return buffers, nil
}

// NewHaloBuffer allocates halo storage for band b with halo depth halfWidth.
// Each send holds what the neighbor's halo needs from inside the grid, which
// may run past the band when halfWidth exceeds NRows.
func NewHaloBuffer(b Band, halfWidth int) *HaloBuffer {
	hb := &HaloBuffer{
		HalfWidth: halfWidth,
		Dim:       b.Dim,
		UpperRows: b.HaloRows(Upper, halfWidth),
		LowerRows: b.HaloRows(Lower, halfWidth),
		RecvUpper: make([]int32, halfWidth*b.Dim),
		RecvLower: make([]int32, halfWidth*b.Dim),
	}
	for _, s := range []Side{Upper, Lower} {
		peer := b.Neighbor(s)
		if peer < 0 {
			continue
		}
		var send []int32
		if s == Upper {
			// Prev's lower halo: rows Start onward, up to the grid bottom
			send = make([]int32, min(halfWidth, b.Dim-b.Start)*b.Dim)
			hb.SendUpper = send
		} else {
			// Next's upper halo: rows ending at End, down to the grid top
			send = make([]int32, min(halfWidth, b.End()+1)*b.Dim)
			hb.SendLower = send
		}
		hb.RemotePartitions = append(hb.RemotePartitions, RemotePartition{
			Rank:      peer,
			Side:      s,
			SendCount: len(send),
			RecvCount: len(hb.Recv(s)),
		})
	}
	return hb
}

// validateCommunicationSymmetry verifies that if band A sends to band B,
// then band B expects to receive the same count from band A
func validateCommunicationSymmetry(layout *BandLayout, buffers []*HaloBuffer) error {
	// "sender:receiver" -> count
	sendMap := make(map[string]int)
	for senderID, buf := range buffers {
		for _, rp := range buf.RemotePartitions {
			key := fmt.Sprintf("%d:%d", senderID, rp.Rank)
			sendMap[key] = rp.SendCount
		}
	}

	for receiverID, buf := range buffers {
		for _, rp := range buf.RemotePartitions {
			key := fmt.Sprintf("%d:%d", rp.Rank, receiverID)
			expectedCount, exists := sendMap[key]
			if !exists {
				return fmt.Errorf("band %d expects to receive from %d, but %d doesn't send",
					receiverID, rp.Rank, rp.Rank)
			}
			if expectedCount != rp.RecvCount {
				return fmt.Errorf("count mismatch: band %d sends %d to %d, but %d expects %d",
					rp.Rank, expectedCount, receiverID, receiverID, rp.RecvCount)
			}
			if got := layout.Bands[receiverID].Neighbor(rp.Side); got != rp.Rank {
				return fmt.Errorf("band %d %s neighbor is %d, buffer links %d",
					receiverID, rp.Side, got, rp.Rank)
			}
		}
	}

	return nil
}
