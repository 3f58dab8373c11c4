package stencil

import "fmt"

// Evaluator convolves the band region of a sub-grid buffer laid out as
// [halo-top (p rows) | band (nrows rows) | halo-bottom (p rows)]
type Evaluator interface {
	ConvolveBand(subgrid []int32, nrows int) ([]int32, error)
}

// Convolve returns the convolution value of subgrid at cell, where dim is the
// row width. Terms whose column would leave the cell's own row are omitted;
// rows above and below are always present because halos are padded to depth p.
func Convolve(subgrid []int32, cell, dim int, k *Kernel) int32 {
	var (
		p   = k.HalfWidth()
		col = cell % dim
		sum int32
	)
	for dc := -p; dc <= p; dc++ {
		if col+dc < 0 || col+dc >= dim {
			continue
		}
		for dr := -p; dr <= p; dr++ {
			sum += subgrid[cell+dr*dim+dc] * k.At(p+dr, p+dc)
		}
	}
	return sum
}

// ConvolveBand evaluates every cell of the band region of subgrid and returns
// the nrows x dim result
func ConvolveBand(subgrid []int32, nrows, dim int, k *Kernel) []int32 {
	p := k.HalfWidth()
	out := make([]int32, nrows*dim)
	first := p * dim
	for i := first; i < first+nrows*dim; i++ {
		out[i-first] = Convolve(subgrid, i, dim, k)
	}
	return out
}

// SubGridLen returns the length of a sub-grid buffer for a band of nrows rows
func SubGridLen(nrows, dim int, k *Kernel) int {
	return (nrows + 2*k.HalfWidth()) * dim
}

// HostEvaluator runs the convolution on the calling goroutine
type HostEvaluator struct {
	Dim    int
	Kernel *Kernel
}

// NewHostEvaluator creates an evaluator for rows of width dim
func NewHostEvaluator(dim int, k *Kernel) *HostEvaluator {
	return &HostEvaluator{Dim: dim, Kernel: k}
}

// ConvolveBand implements Evaluator
func (he *HostEvaluator) ConvolveBand(subgrid []int32, nrows int) ([]int32, error) {
	if want := SubGridLen(nrows, he.Dim, he.Kernel); len(subgrid) != want {
		return nil, fmt.Errorf("sub-grid length %d does not match expected %d", len(subgrid), want)
	}
	return ConvolveBand(subgrid, nrows, he.Dim, he.Kernel), nil
}
