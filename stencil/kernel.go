package stencil

import (
	"errors"
	"fmt"
)

// ErrEvenKernel is returned when a kernel dimension is not a positive odd number
var ErrEvenKernel = errors.New("kernel dimension must be a positive odd number")

// Kernel is an immutable Dim x Dim set of integer weights, Dim odd
type Kernel struct {
	Dim     int
	Weights []int32 // Row-major, weight (r,c) at Weights[r*Dim+c]
}

// NewKernel builds a kernel from row-major weights
func NewKernel(dim int, weights []int32) (*Kernel, error) {
	if dim <= 0 || dim%2 == 0 {
		return nil, fmt.Errorf("%w: got %d", ErrEvenKernel, dim)
	}
	if len(weights) != dim*dim {
		return nil, fmt.Errorf("kernel weights length %d does not match %dx%d", len(weights), dim, dim)
	}
	w := make([]int32, len(weights))
	copy(w, weights)
	return &Kernel{Dim: dim, Weights: w}, nil
}

// NewUniformKernel builds a dim x dim kernel with every weight equal to 1
func NewUniformKernel(dim int) (*Kernel, error) {
	if dim <= 0 || dim%2 == 0 {
		return nil, fmt.Errorf("%w: got %d", ErrEvenKernel, dim)
	}
	w := make([]int32, dim*dim)
	for i := range w {
		w[i] = 1
	}
	return &Kernel{Dim: dim, Weights: w}, nil
}

// HalfWidth returns p = (Dim-1)/2, the reach of the kernel from its center
func (k *Kernel) HalfWidth() int {
	return (k.Dim - 1) / 2
}

// At returns the weight at (r, c) with (p, p) being the center
func (k *Kernel) At(r, c int) int32 {
	return k.Weights[r*k.Dim+c]
}
