package runner

import (
	"fmt"

	"github.com/notargets/StencilKernel/partitions"
	"github.com/notargets/StencilKernel/stencil"
)

// BandEvaluator is a Runner that owns its device. Each band gets its own, so
// bands evaluated concurrently never share device state.
type BandEvaluator struct {
	*Runner
}

// NewBandEvaluator opens a device from deviceProps (empty tries the default
// backends in turn) and compiles the convolution for band b
func NewBandEvaluator(deviceProps string, b partitions.Band, k *stencil.Kernel) (*BandEvaluator, error) {
	device, err := CreateDevice(deviceProps)
	if err != nil {
		return nil, err
	}
	kr, err := NewRunner(device, Config{Dim: b.Dim, NRows: b.NRows, Kernel: k})
	if err != nil {
		device.Free()
		return nil, fmt.Errorf("band of rank %d: %w", b.Rank, err)
	}
	return &BandEvaluator{Runner: kr}, nil
}

// Free releases the runner and its device
func (be *BandEvaluator) Free() {
	be.Runner.Free()
	be.Device.Free()
}
