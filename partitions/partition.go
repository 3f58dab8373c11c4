package partitions

import (
	"errors"
	"fmt"
)

// ErrUnevenPartition is returned when the process count does not evenly
// divide the grid dimension
var ErrUnevenPartition = errors.New("process count must evenly divide the grid dimension")

// Side identifies which boundary of a band a halo belongs to
type Side uint8

const (
	Upper Side = iota // Rows above Start, owned by Prev
	Lower             // Rows below End, owned by Next
)

func (s Side) String() string {
	if s == Upper {
		return "upper"
	}
	return "lower"
}

// Band is the contiguous block of grid rows owned by one process
type Band struct {
	// Owning process rank, also the partition ID
	Rank          int
	NumPartitions int

	// Row geometry
	Dim   int // Grid dimension D, also the row width
	Start int // First owned row
	NRows int // D / NumPartitions

	// Ring neighbors
	Next int // (Rank+1) mod NumPartitions
	Prev int // Rank-1, wrapping to NumPartitions-1
}

// NewBand computes the band owned by rank among numPartitions processes
func NewBand(rank, numPartitions, dim int) (Band, error) {
	if numPartitions <= 0 {
		return Band{}, fmt.Errorf("number of partitions must be positive, got %d", numPartitions)
	}
	if rank < 0 || rank >= numPartitions {
		return Band{}, fmt.Errorf("rank %d out of range [0,%d)", rank, numPartitions)
	}
	if dim <= 0 {
		return Band{}, fmt.Errorf("grid dimension must be positive, got %d", dim)
	}
	if dim%numPartitions != 0 {
		return Band{}, fmt.Errorf("%w: D=%d, processes=%d", ErrUnevenPartition, dim, numPartitions)
	}
	nrows := dim / numPartitions
	prev := rank - 1
	if rank == 0 {
		prev = numPartitions - 1
	}
	return Band{
		Rank:          rank,
		NumPartitions: numPartitions,
		Dim:           dim,
		Start:         nrows * rank,
		NRows:         nrows,
		Next:          (rank + 1) % numPartitions,
		Prev:          prev,
	}, nil
}

// End returns the last owned row
func (b Band) End() int {
	return b.Start + b.NRows - 1
}

// OwnsTop reports whether the band holds the first grid row
func (b Band) OwnsTop() bool {
	return b.Rank == 0
}

// OwnsBottom reports whether the band holds the last grid row
func (b Band) OwnsBottom() bool {
	return b.Rank == b.NumPartitions-1
}

// Neighbor returns the rank owning the rows on the given side, or -1 when that
// side is a global grid edge
func (b Band) Neighbor(s Side) int {
	switch {
	case s == Upper && !b.OwnsTop():
		return b.Prev
	case s == Lower && !b.OwnsBottom():
		return b.Next
	}
	return -1
}

// HaloRows returns how many of the halfWidth halo rows on side s lie inside
// the grid. The rest are beyond a global edge and read as zero.
func (b Band) HaloRows(s Side, halfWidth int) int {
	if s == Upper {
		return min(halfWidth, b.Start)
	}
	return min(halfWidth, b.Dim-1-b.End())
}

// Size returns the number of cells in the band
func (b Band) Size() int {
	return b.NRows * b.Dim
}

// Offset returns the position of the band's first cell in the global grid
func (b Band) Offset() int {
	return b.Start * b.Dim
}

// BandLayout manages the complete row decomposition of a grid
type BandLayout struct {
	Bands []Band

	// Global sizing information
	Dim           int
	RowsPerBand   int
	NumPartitions int

	// Row to partition mapping
	RowToP []int // Length Dim: row r belongs to partition RowToP[r]
}

// GetPartition returns the partition owning row, or -1 if out of range
func (bl *BandLayout) GetPartition(row int) int {
	if row < 0 || row >= len(bl.RowToP) {
		return -1
	}
	return bl.RowToP[row]
}

// ValidateLayout checks that the bands cover [0, Dim) exactly once, in rank order
func (bl *BandLayout) ValidateLayout() error {
	if len(bl.Bands) != bl.NumPartitions {
		return fmt.Errorf("layout has %d bands, expected %d", len(bl.Bands), bl.NumPartitions)
	}
	covered := make([]int, bl.Dim)
	next := 0
	for i, b := range bl.Bands {
		if b.Rank != i {
			return fmt.Errorf("band %d has rank %d", i, b.Rank)
		}
		if b.NRows != bl.RowsPerBand {
			return fmt.Errorf("band %d: NRows %d != RowsPerBand %d", i, b.NRows, bl.RowsPerBand)
		}
		if b.Start != next {
			return fmt.Errorf("band %d starts at row %d, expected %d", i, b.Start, next)
		}
		for r := b.Start; r <= b.End(); r++ {
			if r < 0 || r >= bl.Dim {
				return fmt.Errorf("band %d row %d outside grid of dimension %d", i, r, bl.Dim)
			}
			covered[r]++
		}
		next = b.End() + 1
	}
	for r, n := range covered {
		if n != 1 {
			return fmt.Errorf("row %d covered %d times", r, n)
		}
	}
	return nil
}

// RemotePartition describes halo traffic with one neighboring band
type RemotePartition struct {
	Rank int  // Neighbor rank
	Side Side // Which of our halos the neighbor fills

	SendCount int // Values we send (the neighbor's halo rows inside the grid)
	RecvCount int // Values we receive (our halo rows inside the grid)
}

// HaloBuffer holds the per-iteration boundary and halo storage of one band.
// A halo deeper than the neighbor band is still supplied by that neighbor
// from its copy of the grid, so the send buffers may reach past the band.
type HaloBuffer struct {
	HalfWidth int
	Dim       int

	// Halo rows inside the grid on each side
	UpperRows int
	LowerRows int

	// Rows sent to the neighbors before the exchange; nil without a link
	SendUpper []int32 // Rows from Start on, filling Prev's lower halo
	SendLower []int32 // Rows up to End, filling Next's upper halo

	// Halo rows filled by the exchange or zero padding
	RecvUpper []int32 // HalfWidth rows above Start
	RecvLower []int32 // HalfWidth rows below End

	// Neighbors this band actually exchanges with; edge sides are absent
	RemotePartitions []RemotePartition
}

// Send returns the boundary rows to send toward side s
func (hb *HaloBuffer) Send(s Side) []int32 {
	if s == Upper {
		return hb.SendUpper
	}
	return hb.SendLower
}

// Recv returns the halo rows on side s that the neighbor fills, the rows
// nearest the band
func (hb *HaloBuffer) Recv(s Side) []int32 {
	if s == Upper {
		return hb.RecvUpper[(hb.HalfWidth-hb.UpperRows)*hb.Dim:]
	}
	return hb.RecvLower[:hb.LowerRows*hb.Dim]
}

// Padding returns the halo rows on side s that lie beyond the global grid edge
func (hb *HaloBuffer) Padding(s Side) []int32 {
	if s == Upper {
		return hb.RecvUpper[:(hb.HalfWidth-hb.UpperRows)*hb.Dim]
	}
	return hb.RecvLower[hb.LowerRows*hb.Dim:]
}

// Remote returns the neighbor link on side s, if the band exchanges on that side
func (hb *HaloBuffer) Remote(s Side) (RemotePartition, bool) {
	for _, rp := range hb.RemotePartitions {
		if rp.Side == s {
			return rp, true
		}
	}
	return RemotePartition{}, false
}

// RequiresRemoteCommunication checks if the band exchanges with any neighbor
func (hb *HaloBuffer) RequiresRemoteCommunication() bool {
	return len(hb.RemotePartitions) > 0
}
