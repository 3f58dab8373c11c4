package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/notargets/StencilKernel/comm"
	"github.com/notargets/StencilKernel/config"
	"github.com/notargets/StencilKernel/grid"
	"github.com/notargets/StencilKernel/halo"
	"github.com/notargets/StencilKernel/partitions"
	"github.com/notargets/StencilKernel/runner"
	"github.com/notargets/StencilKernel/stencil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the convolution.",
	Long: `run convolves the all-ones grid with the all-ones kernel for the
configured number of iterations and reports the final grid on rank 0.

With the local transport every rank runs in this process. With the tcp
transport start one process per address, each with its own --rank; the
processes connect to each other and wait up to dial-timeout for late peers.`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromViper(Cfg)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log, err := cfg.Logger()
		if err != nil {
			return err
		}
		log.SetOutput(cmd.ErrOrStderr())

		result, err := Run(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		if result != nil && cfg.Print {
			fmt.Fprintln(cmd.OutOrStdout(), result)
		}
		return nil
	},
}

// Run executes a validated configuration and returns the final grid. Only the
// coordinator has a result; other tcp ranks return nil.
func Run(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*grid.Grid, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	k, err := cfg.Kernel()
	if err != nil {
		return nil, err
	}
	hcfg := halo.Config{
		Grid:         cfg.InitialGrid(),
		Kernel:       k,
		NewEvaluator: evaluatorFactory(cfg),
		Log:          log,
	}

	log.WithFields(logrus.Fields{
		"dim":        cfg.Dim,
		"kernel":     cfg.KernelDim,
		"iterations": cfg.Iterations,
		"ranks":      cfg.Size(),
		"transport":  cfg.Transport,
		"evaluator":  cfg.Evaluator,
	}).Info("starting")
	start := time.Now()

	var result *grid.Grid
	switch cfg.Transport {
	case config.TransportTCP:
		result, err = runNetwork(ctx, cfg, hcfg, log)
	default:
		result, err = halo.RunLocal(ctx, hcfg, cfg.Procs, cfg.Iterations)
	}
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{"elapsed": time.Since(start)}
	if result != nil {
		s := result.Summarize()
		fields["sum"], fields["min"], fields["max"], fields["mean"] = s.Sum, s.Min, s.Max, s.Mean
	}
	log.WithFields(fields).Info("finished")
	return result, nil
}

func runNetwork(ctx context.Context, cfg config.Config, hcfg halo.Config, log logrus.FieldLogger) (*grid.Grid, error) {
	nw, err := comm.NewNetwork(ctx, comm.NetworkConfig{
		Rank:        cfg.Rank,
		Addrs:       cfg.Addrs,
		DialTimeout: cfg.DialTimeout,
		// The grid broadcast is the longest message
		MaxMessageLen: cfg.Dim * cfg.Dim,
		Log:           log,
	})
	if err != nil {
		return nil, err
	}
	defer nw.Close()

	s, err := halo.NewSolver(nw, hcfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err := s.Run(ctx, cfg.Iterations); err != nil {
		return nil, err
	}
	if !s.IsCoordinator() {
		return nil, nil
	}
	return s.Grid(), nil
}

func evaluatorFactory(cfg config.Config) halo.EvaluatorFactory {
	if cfg.Evaluator != config.EvaluatorOCCA {
		return halo.HostEvaluators
	}
	return func(b partitions.Band, k *stencil.Kernel) (stencil.Evaluator, error) {
		return runner.NewBandEvaluator(cfg.Device, b, k)
	}
}
