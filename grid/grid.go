package grid

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Grid is a square Dim x Dim field of integer cells stored row-major
type Grid struct {
	Dim  int
	Data []int32 // Length Dim*Dim, cell (r,c) at Data[r*Dim+c]
}

// Summary holds scalar statistics of a grid, used for run reports
type Summary struct {
	Min, Max  float64
	Mean, Std float64
	Sum       float64
}

// NewGrid allocates a zeroed Dim x Dim grid
func NewGrid(dim int) *Grid {
	if dim <= 0 {
		panic(fmt.Sprintf("grid dimension must be positive, got %d", dim))
	}
	return &Grid{
		Dim:  dim,
		Data: make([]int32, dim*dim),
	}
}

// NewFilled allocates a grid with every cell set to value
func NewFilled(dim int, value int32) *Grid {
	g := NewGrid(dim)
	for i := range g.Data {
		g.Data[i] = value
	}
	return g
}

// At returns the value of cell (r, c)
func (g *Grid) At(r, c int) int32 {
	return g.Data[r*g.Dim+c]
}

// Set assigns the value of cell (r, c)
func (g *Grid) Set(r, c int, v int32) {
	g.Data[r*g.Dim+c] = v
}

// Rows returns the slice view of nrows rows beginning at row start.
// The returned slice aliases the grid storage.
func (g *Grid) Rows(start, nrows int) []int32 {
	return g.Data[start*g.Dim : (start+nrows)*g.Dim]
}

// Clone returns a deep copy of the grid
func (g *Grid) Clone() *Grid {
	out := &Grid{Dim: g.Dim, Data: make([]int32, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// Equal reports whether both grids have the same dimension and cells
func (g *Grid) Equal(other *Grid) bool {
	if other == nil || g.Dim != other.Dim || len(g.Data) != len(other.Data) {
		return false
	}
	for i, v := range g.Data {
		if other.Data[i] != v {
			return false
		}
	}
	return true
}

// Float64s returns the cells converted to float64 in row-major order
func (g *Grid) Float64s() []float64 {
	out := make([]float64, len(g.Data))
	for i, v := range g.Data {
		out[i] = float64(v)
	}
	return out
}

// Summarize computes min, max, mean, standard deviation and sum of the cells
func (g *Grid) Summarize() Summary {
	x := g.Float64s()
	mean, std := stat.MeanStdDev(x, nil)
	return Summary{
		Min:  floats.Min(x),
		Max:  floats.Max(x),
		Mean: mean,
		Std:  std,
		Sum:  floats.Sum(x),
	}
}

// Dense returns the grid as a gonum dense matrix
func (g *Grid) Dense() *mat.Dense {
	return mat.NewDense(g.Dim, g.Dim, g.Float64s())
}

// String formats the grid as a matrix, one grid row per line
func (g *Grid) String() string {
	return fmt.Sprintf("%v", mat.Formatted(g.Dense(), mat.Squeeze()))
}
