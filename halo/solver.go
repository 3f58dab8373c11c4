package halo

import (
	"context"
	"fmt"

	"github.com/notargets/StencilKernel/comm"
	"github.com/notargets/StencilKernel/grid"
	"github.com/notargets/StencilKernel/partitions"
	"github.com/notargets/StencilKernel/stencil"
	"github.com/notargets/StencilKernel/utils"
	"github.com/sirupsen/logrus"
)

// EvaluatorFactory creates the evaluator used by one band
type EvaluatorFactory func(b partitions.Band, k *stencil.Kernel) (stencil.Evaluator, error)

// HostEvaluators is the EvaluatorFactory used when none is configured
func HostEvaluators(b partitions.Band, k *stencil.Kernel) (stencil.Evaluator, error) {
	return stencil.NewHostEvaluator(b.Dim, k), nil
}

// Config holds the inputs shared by every rank
type Config struct {
	Grid   *grid.Grid // Initial grid, identical on every rank
	Kernel *stencil.Kernel
	// NewEvaluator defaults to HostEvaluators
	NewEvaluator EvaluatorFactory
	Log          logrus.FieldLogger
}

// Validate checks that the grid can be split into size bands. It runs before
// any communication.
func (cfg Config) Validate(size int) error {
	if cfg.Grid == nil {
		return fmt.Errorf("no initial grid")
	}
	if cfg.Kernel == nil {
		return fmt.Errorf("no kernel")
	}
	bb := &partitions.BandBuilder{Dim: cfg.Grid.Dim, NumPartitions: size}
	_, err := bb.BuildBands()
	return err
}

// Solver is one rank's share of the iterative convolution. Every rank holds a
// full copy of the grid; after each Step all copies are identical.
type Solver struct {
	Band      partitions.Band
	Layout    *partitions.BandLayout
	Buffer    *partitions.HaloBuffer
	Connector *utils.HaloConnector
	Kernel    *stencil.Kernel
	Evaluator stencil.Evaluator
	Iteration int

	comm      comm.Communicator
	exchanger *Exchanger
	grid      *grid.Grid
	subgrid   []int32
	log       logrus.FieldLogger
}

// NewSolver builds the band geometry and buffers of c's rank
func NewSolver(c comm.Communicator, cfg Config) (*Solver, error) {
	size, rank := c.Size(), c.Rank()
	if err := cfg.Validate(size); err != nil {
		return nil, err
	}
	p := cfg.Kernel.HalfWidth()

	bb := &partitions.BandBuilder{Dim: cfg.Grid.Dim, NumPartitions: size, HalfWidth: p}
	layout, err := bb.BuildBands()
	if err != nil {
		return nil, err
	}
	buffers, err := bb.BuildHaloBuffers(layout)
	if err != nil {
		return nil, err
	}
	hc, err := utils.NewHaloConnector(size, cfg.Grid.Dim, p)
	if err != nil {
		return nil, err
	}

	newEvaluator := cfg.NewEvaluator
	if newEvaluator == nil {
		newEvaluator = HostEvaluators
	}
	band := layout.Bands[rank]
	ev, err := newEvaluator(band, cfg.Kernel)
	if err != nil {
		return nil, fmt.Errorf("rank %d evaluator: %w", rank, err)
	}

	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Solver{
		Band:      band,
		Layout:    layout,
		Buffer:    buffers[rank],
		Connector: hc,
		Kernel:    cfg.Kernel,
		Evaluator: ev,
		comm:      c,
		exchanger: NewExchanger(c, buffers[rank]),
		grid:      cfg.Grid.Clone(),
		subgrid:   make([]int32, hc.SubGridLen()),
		log:       log.WithField("rank", rank),
	}, nil
}

// Grid returns the rank's current copy of the grid
func (s *Solver) Grid() *grid.Grid {
	return s.grid
}

// IsCoordinator reports whether this rank gathers and redistributes the grid
func (s *Solver) IsCoordinator() bool {
	return s.Band.Rank == 0
}

// Run performs iterations steps, stopping early if ctx is cancelled
func (s *Solver) Run(ctx context.Context, iterations int) error {
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step runs one iteration: extract boundaries, exchange halos, pad global
// edges, assemble the sub-grid, convolve, aggregate at the coordinator and
// broadcast the merged grid
func (s *Solver) Step() error {
	log := s.log.WithField("iteration", s.Iteration)

	s.extract()
	if err := s.exchanger.Exchange(); err != nil {
		return fmt.Errorf("iteration %d: %w", s.Iteration, err)
	}
	s.pad()
	s.assemble()

	band, err := s.Evaluator.ConvolveBand(s.subgrid, s.Band.NRows)
	if err != nil {
		return fmt.Errorf("iteration %d: convolve: %w", s.Iteration, err)
	}
	if err := s.aggregate(band); err != nil {
		return fmt.Errorf("iteration %d: %w", s.Iteration, err)
	}
	if err := s.broadcast(); err != nil {
		return fmt.Errorf("iteration %d: %w", s.Iteration, err)
	}

	log.Debug("step complete")
	s.Iteration++
	return nil
}

// extract copies the rows each neighbor's halo needs into the send buffers.
// A halo deeper than this band reaches past it into the grid copy.
func (s *Solver) extract() {
	for _, rp := range s.Buffer.RemotePartitions {
		pick := s.Connector.GetPickSpan(s.Band.Rank, rp.Rank)
		copy(s.Buffer.Send(rp.Side), s.grid.Data[pick.Offset:pick.End()])
	}
}

// pad zeroes the halo rows beyond the global grid edges. An edge band's halo
// on that side is all padding; a deep halo near an edge is partly padding.
func (s *Solver) pad() {
	clear(s.Buffer.Padding(partitions.Upper))
	clear(s.Buffer.Padding(partitions.Lower))
}

// assemble lays out [halo-top | band | halo-bottom] in the sub-grid buffer
func (s *Solver) assemble() {
	top, mid, bottom := s.Connector.TopPlace(), s.Connector.BandPlace(), s.Connector.BottomPlace()
	copy(s.subgrid[top.Offset:top.End()], s.Buffer.RecvUpper)
	copy(s.subgrid[mid.Offset:mid.End()], s.grid.Rows(s.Band.Start, s.Band.NRows))
	copy(s.subgrid[bottom.Offset:bottom.End()], s.Buffer.RecvLower)
}

// aggregate sends the updated band to the coordinator, which merges all bands
// into a new grid at offsets computed from rank
func (s *Solver) aggregate(band []int32) error {
	if !s.IsCoordinator() {
		if err := s.comm.Send(band, 0, TagBand); err != nil {
			return fmt.Errorf("send band to coordinator: %w", err)
		}
		return nil
	}

	next := grid.NewGrid(s.grid.Dim)
	own := s.Connector.BandPicks[0]
	copy(next.Data[own.Offset:own.End()], band)
	for rank := 1; rank < s.comm.Size(); rank++ {
		span := s.Connector.BandPicks[rank]
		if err := s.comm.Receive(next.Data[span.Offset:span.End()], rank, TagBand); err != nil {
			return fmt.Errorf("gather band of rank %d: %w", rank, err)
		}
	}
	s.grid = next
	return nil
}

// broadcast distributes the coordinator's grid to every other rank with one
// send per rank
func (s *Solver) broadcast() error {
	if !s.IsCoordinator() {
		if err := s.comm.Receive(s.grid.Data, 0, TagGrid); err != nil {
			return fmt.Errorf("receive grid from coordinator: %w", err)
		}
		return nil
	}
	for rank := 1; rank < s.comm.Size(); rank++ {
		if err := s.comm.Send(s.grid.Data, rank, TagGrid); err != nil {
			return fmt.Errorf("send grid to rank %d: %w", rank, err)
		}
	}
	return nil
}

// Close releases evaluator resources such as device memory
func (s *Solver) Close() {
	if f, ok := s.Evaluator.(interface{ Free() }); ok {
		f.Free()
	}
}
