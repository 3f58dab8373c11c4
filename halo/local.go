package halo

import (
	"context"

	"github.com/notargets/StencilKernel/comm"
	"github.com/notargets/StencilKernel/grid"
	"golang.org/x/sync/errgroup"
)

// RunLocal runs procs ranks as goroutines connected by an in-process
// comm.World and returns the coordinator's grid after iterations steps. The
// first rank to fail closes the world so the others unblock and return.
func RunLocal(ctx context.Context, cfg Config, procs, iterations int) (*grid.Grid, error) {
	if err := cfg.Validate(procs); err != nil {
		return nil, err
	}

	world := comm.NewWorld(procs)
	defer world.Close()

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		world.Close()
	}()

	var result *grid.Grid
	for rank := 0; rank < procs; rank++ {
		g.Go(func() error {
			s, err := NewSolver(world.Comm(rank), cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Run(gctx, iterations); err != nil {
				return err
			}
			if s.IsCoordinator() {
				result = s.Grid()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
