package runner

import (
	"fmt"
	"unsafe"

	"github.com/notargets/StencilKernel/stencil"
	"github.com/notargets/gocca"
)

// ConvolveKernelName is the name of the compiled band convolution kernel
const ConvolveKernelName = "convolveBand"

// MaxInnerLoop bounds the @inner loop length (the row width) on GPU backends
const MaxInnerLoop = 1024

// Config describes the band convolution compiled into a Runner
type Config struct {
	Dim    int // Row width D
	NRows  int // Rows per band
	Kernel *stencil.Kernel
}

// Runner evaluates band convolutions on an OCCA device. It implements
// stencil.Evaluator for a fixed band geometry.
type Runner struct {
	Config
	Device         *gocca.OCCADevice
	Kernels        map[string]*gocca.OCCAKernel
	PooledMemory   map[string]*gocca.OCCAMemory
	KernelPreamble string
}

// NewRunner allocates device memory for one band and compiles the convolution kernel
func NewRunner(device *gocca.OCCADevice, cfg Config) (*Runner, error) {
	if device == nil {
		return nil, fmt.Errorf("runner requires a device")
	}
	if cfg.Kernel == nil {
		return nil, fmt.Errorf("runner requires a kernel")
	}
	if cfg.Dim <= 0 || cfg.NRows <= 0 {
		return nil, fmt.Errorf("invalid band geometry: D=%d, nrows=%d", cfg.Dim, cfg.NRows)
	}
	if device.Mode() == "CUDA" && cfg.Dim > MaxInnerLoop {
		return nil, fmt.Errorf("row width %d exceeds the %d thread limit of the %s backend",
			cfg.Dim, MaxInnerLoop, device.Mode())
	}

	kr := &Runner{
		Config:       cfg,
		Device:       device,
		Kernels:      make(map[string]*gocca.OCCAKernel),
		PooledMemory: make(map[string]*gocca.OCCAMemory),
	}

	weights := cfg.Kernel.Weights
	kr.PooledMemory["weights"] = device.Malloc(int64(len(weights)*4), unsafe.Pointer(&weights[0]), nil)
	kr.PooledMemory["subgrid"] = device.Malloc(int64(kr.subGridLen()*4), nil, nil)
	kr.PooledMemory["band"] = device.Malloc(int64(cfg.NRows*cfg.Dim*4), nil, nil)

	if _, err := kr.BuildKernel(convolveKernelSource, ConvolveKernelName); err != nil {
		kr.Free()
		return nil, err
	}
	return kr, nil
}

func (kr *Runner) subGridLen() int {
	return stencil.SubGridLen(kr.NRows, kr.Dim, kr.Kernel)
}

// BuildKernel compiles and registers a kernel with the program
func (kr *Runner) BuildKernel(kernelSource, kernelName string) (*gocca.OCCAKernel, error) {
	kr.GeneratePreamble()

	// Combine preamble with kernel source
	fullSource := kr.KernelPreamble + "\n" + kernelSource

	var kernel *gocca.OCCAKernel
	var err error

	if kr.Device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = kr.Device.BuildKernelFromString(fullSource, kernelName, props)
	} else {
		kernel, err = kr.Device.BuildKernelFromString(fullSource, kernelName, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", kernelName, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", kernelName)
	}

	kr.Kernels[kernelName] = kernel
	return kernel, nil
}

// ConvolveBand copies the sub-grid to the device, runs the convolution and
// copies the band result back
func (kr *Runner) ConvolveBand(subgrid []int32, nrows int) ([]int32, error) {
	if nrows != kr.NRows {
		return nil, fmt.Errorf("runner compiled for %d rows, got %d", kr.NRows, nrows)
	}
	if want := kr.subGridLen(); len(subgrid) != want {
		return nil, fmt.Errorf("sub-grid length %d does not match expected %d", len(subgrid), want)
	}
	kernel, exists := kr.Kernels[ConvolveKernelName]
	if !exists {
		return nil, fmt.Errorf("kernel %s not compiled", ConvolveKernelName)
	}

	subMem := kr.PooledMemory["subgrid"]
	bandMem := kr.PooledMemory["band"]
	subMem.CopyFrom(unsafe.Pointer(&subgrid[0]), int64(len(subgrid)*4))

	if err := kernel.RunWithArgs(subMem, kr.PooledMemory["weights"], bandMem); err != nil {
		return nil, fmt.Errorf("kernel execution failed: %w", err)
	}
	kr.Device.Finish()

	out := make([]int32, kr.NRows*kr.Dim)
	bandMem.CopyTo(unsafe.Pointer(&out[0]), int64(len(out)*4))
	return out, nil
}

// Free releases all resources
func (kr *Runner) Free() {
	for _, kernel := range kr.Kernels {
		kernel.Free()
	}
	for _, mem := range kr.PooledMemory {
		mem.Free()
	}
	kr.Kernels = make(map[string]*gocca.OCCAKernel)
	kr.PooledMemory = make(map[string]*gocca.OCCAMemory)
}
