package utils

import (
	"fmt"
)

// Span is a contiguous run of cells in a row-major buffer
type Span struct {
	Offset int
	Count  int
}

// End returns one past the last cell of the span
func (s Span) End() int {
	return s.Offset + s.Count
}

// HaloConnector manages pick and place spans for row-band decompositions.
// Picks address the global grid, places address a band's sub-grid buffer
// [halo-top | band | halo-bottom].
type HaloConnector struct {
	// Decomposition dimensions
	NumPartitions int
	Dim           int // Grid dimension and row width
	NRows         int // Rows per band
	HalfWidth     int // Halo depth p

	// Band rows of each partition in the global grid
	BandPicks []Span

	// Pick/Place spans per partition pair
	PickSpans  [][]PickBuffer  // [sourcePartition][targetPartition]
	PlaceSpans [][]PlaceBuffer // [targetPartition][sourcePartition]
}

// PickBuffer is the global grid span a source partition sends to a target
type PickBuffer struct {
	Span
	TargetPartition int
}

// PlaceBuffer is the sub-grid span a target fills with rows from a source
type PlaceBuffer struct {
	Span
	SourcePartition int
}

// NewHaloConnector creates a connector for a dim x dim grid split into
// numPartitions bands with halos of halfWidth rows
func NewHaloConnector(numPartitions, dim, halfWidth int) (*HaloConnector, error) {
	if numPartitions <= 0 || dim <= 0 || halfWidth < 0 {
		return nil, fmt.Errorf("invalid dimensions: partitions=%d, D=%d, p=%d", numPartitions, dim, halfWidth)
	}
	if dim%numPartitions != 0 {
		return nil, fmt.Errorf("D=%d is not divisible by %d partitions", dim, numPartitions)
	}
	nrows := dim / numPartitions

	hc := &HaloConnector{
		NumPartitions: numPartitions,
		Dim:           dim,
		NRows:         nrows,
		HalfWidth:     halfWidth,
	}

	hc.initializeBuffers()
	hc.BuildSpans()

	return hc, nil
}

// initializeBuffers creates empty pick and place span tables
func (hc *HaloConnector) initializeBuffers() {
	hc.BandPicks = make([]Span, hc.NumPartitions)
	hc.PickSpans = make([][]PickBuffer, hc.NumPartitions)
	hc.PlaceSpans = make([][]PlaceBuffer, hc.NumPartitions)

	for p := 0; p < hc.NumPartitions; p++ {
		hc.PickSpans[p] = make([]PickBuffer, hc.NumPartitions)
		hc.PlaceSpans[p] = make([]PlaceBuffer, hc.NumPartitions)

		for q := 0; q < hc.NumPartitions; q++ {
			hc.PickSpans[p][q] = PickBuffer{TargetPartition: q}
			hc.PlaceSpans[p][q] = PlaceBuffer{SourcePartition: q}
		}
	}
}

// BuildSpans constructs band, pick and place spans for all partitions
func (hc *HaloConnector) BuildSpans() {
	for p := 0; p < hc.NumPartitions; p++ {
		hc.BandPicks[p] = Span{Offset: p * hc.NRows * hc.Dim, Count: hc.NRows * hc.Dim}

		// Rows from partition p's start fill the bottom halo of the band above
		if p > 0 {
			hc.PickSpans[p][p-1].Span = hc.UpperPick(p)
			hc.PlaceSpans[p-1][p].Span = hc.BottomFill(p - 1)
		}
		// Rows ending at partition p's end fill the top halo of the band below
		if p < hc.NumPartitions-1 {
			hc.PickSpans[p][p+1].Span = hc.LowerPick(p)
			hc.PlaceSpans[p+1][p].Span = hc.TopFill(p + 1)
		}
	}
}

// rowsAbove returns how many of the HalfWidth rows above partition p lie
// inside the grid
func (hc *HaloConnector) rowsAbove(p int) int {
	return min(hc.HalfWidth, p*hc.NRows)
}

// rowsBelow returns how many of the HalfWidth rows below partition p lie
// inside the grid
func (hc *HaloConnector) rowsBelow(p int) int {
	return min(hc.HalfWidth, hc.Dim-(p+1)*hc.NRows)
}

// UpperPick returns the rows of the global grid starting at partition p that
// form the bottom halo of partition p-1. When the halo is deeper than a band
// the span continues past the band into the grid replica.
func (hc *HaloConnector) UpperPick(p int) Span {
	return Span{Offset: hc.BandPicks[p].Offset, Count: hc.rowsBelow(p-1) * hc.Dim}
}

// LowerPick returns the rows of the global grid ending at partition p that
// form the top halo of partition p+1
func (hc *HaloConnector) LowerPick(p int) Span {
	count := hc.rowsAbove(p+1) * hc.Dim
	return Span{Offset: hc.BandPicks[p].End() - count, Count: count}
}

// TopFill returns the part of partition p's halo-top that lies inside the
// grid; rows above the grid stay zero
func (hc *HaloConnector) TopFill(p int) Span {
	rows := hc.rowsAbove(p)
	return Span{Offset: (hc.HalfWidth - rows) * hc.Dim, Count: rows * hc.Dim}
}

// BottomFill returns the part of partition p's halo-bottom that lies inside
// the grid
func (hc *HaloConnector) BottomFill(p int) Span {
	return Span{Offset: hc.BottomPlace().Offset, Count: hc.rowsBelow(p) * hc.Dim}
}

// TopPlace returns the halo-top span of a sub-grid buffer
func (hc *HaloConnector) TopPlace() Span {
	return Span{Offset: 0, Count: hc.HalfWidth * hc.Dim}
}

// BandPlace returns the band span of a sub-grid buffer
func (hc *HaloConnector) BandPlace() Span {
	return Span{Offset: hc.HalfWidth * hc.Dim, Count: hc.NRows * hc.Dim}
}

// BottomPlace returns the halo-bottom span of a sub-grid buffer
func (hc *HaloConnector) BottomPlace() Span {
	return Span{Offset: (hc.HalfWidth + hc.NRows) * hc.Dim, Count: hc.HalfWidth * hc.Dim}
}

// SubGridLen returns the length of a sub-grid buffer
func (hc *HaloConnector) SubGridLen() int {
	return (hc.NRows + 2*hc.HalfWidth) * hc.Dim
}

// GetPickSpan returns the span source sends to target, zero if none
func (hc *HaloConnector) GetPickSpan(sourcePartition, targetPartition int) Span {
	if sourcePartition < 0 || sourcePartition >= hc.NumPartitions ||
		targetPartition < 0 || targetPartition >= hc.NumPartitions {
		return Span{}
	}
	return hc.PickSpans[sourcePartition][targetPartition].Span
}

// GetPlaceSpan returns the span target fills from source, zero if none
func (hc *HaloConnector) GetPlaceSpan(targetPartition, sourcePartition int) Span {
	if targetPartition < 0 || targetPartition >= hc.NumPartitions ||
		sourcePartition < 0 || sourcePartition >= hc.NumPartitions {
		return Span{}
	}
	return hc.PlaceSpans[targetPartition][sourcePartition].Span
}

// Verify checks span validity, halo placement and conservation properties
func (hc *HaloConnector) Verify() error {
	gridLen := hc.Dim * hc.Dim
	subLen := hc.SubGridLen()

	// Verify 1: Local validity - all spans are within bounds
	for p := 0; p < hc.NumPartitions; p++ {
		for q := 0; q < hc.NumPartitions; q++ {
			pick := hc.PickSpans[p][q].Span
			if pick.Offset < 0 || pick.End() > gridLen {
				return fmt.Errorf("invalid pick span %+v from partition %d to %d (grid %d)",
					pick, p, q, gridLen)
			}
			place := hc.PlaceSpans[p][q].Span
			if place.Offset < 0 || place.End() > subLen {
				return fmt.Errorf("invalid place span %+v in partition %d from %d (sub-grid %d)",
					place, p, q, subLen)
			}
		}
	}

	// Verify 2: Correspondence - pick and place spans have the same length
	for p := 0; p < hc.NumPartitions; p++ {
		for q := 0; q < hc.NumPartitions; q++ {
			pickLen := hc.PickSpans[p][q].Count
			placeLen := hc.PlaceSpans[q][p].Count
			if pickLen != placeLen {
				return fmt.Errorf("length mismatch: pick[%d][%d]=%d, place[%d][%d]=%d",
					p, q, pickLen, q, p, placeLen)
			}
		}
	}

	// Verify 3: Adjacency - halo rows are the rows directly beyond the target band
	for p := 0; p < hc.NumPartitions; p++ {
		for q := 0; q < hc.NumPartitions; q++ {
			pick := hc.PickSpans[p][q].Span
			if pick.Count == 0 {
				continue
			}
			target := hc.BandPicks[q]
			switch {
			case p == q-1 && pick.End() != target.Offset:
				return fmt.Errorf("partition %d halo-top ends at %d, band starts at %d",
					q, pick.End(), target.Offset)
			case p == q+1 && pick.Offset != target.End():
				return fmt.Errorf("partition %d halo-bottom starts at %d, band ends at %d",
					q, pick.Offset, target.End())
			case p != q-1 && p != q+1:
				return fmt.Errorf("partition %d picks for non-adjacent partition %d", p, q)
			}
		}
	}

	// Verify 4: Conservation - bands tile the grid exactly
	total := 0
	for p, band := range hc.BandPicks {
		if band.Offset != total {
			return fmt.Errorf("partition %d band starts at %d, expected %d", p, band.Offset, total)
		}
		total += band.Count
	}
	if total != gridLen {
		return fmt.Errorf("conservation error: bands cover %d cells, grid has %d", total, gridLen)
	}

	return nil
}
