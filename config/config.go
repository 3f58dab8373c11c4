// Package config holds the run configuration of the stencil command and reads
// it from viper, where values may come from flags, STENCIL_* environment
// variables or a configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/notargets/StencilKernel/comm"
	"github.com/notargets/StencilKernel/grid"
	"github.com/notargets/StencilKernel/partitions"
	"github.com/notargets/StencilKernel/stencil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	TransportLocal = "local"
	TransportTCP   = "tcp"

	EvaluatorHost = "host"
	EvaluatorOCCA = "occa"
)

// EnvPrefix is prepended to configuration keys to form environment variable
// names, e.g. STENCIL_KERNEL_DIM
const EnvPrefix = "STENCIL"

// Config is the complete run configuration
type Config struct {
	Dim        int // Grid dimension D
	KernelDim  int // Kernel dimension K, odd
	Iterations int

	Transport   string
	Procs       int      // Ranks run in-process with the local transport
	Rank        int      // This process's rank with the tcp transport
	Addrs       []string // Listen address of every rank with the tcp transport
	DialTimeout time.Duration

	Evaluator string
	Device    string // OCCA device properties

	LogLevel string
	Print    bool
}

// Defaults returns the reference configuration: a 4x4 grid, a 3x3 kernel and
// one iteration on a single in-process rank
func Defaults() Config {
	return Config{
		Dim:         4,
		KernelDim:   3,
		Iterations:  1,
		Transport:   TransportLocal,
		Procs:       1,
		DialTimeout: comm.DefaultDialTimeout,
		Evaluator:   EvaluatorHost,
		Device:      `{"mode": "Serial"}`,
		LogLevel:    "info",
	}
}

// NewViper returns a viper instance with the defaults registered and
// environment variables enabled
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("dim", d.Dim)
	v.SetDefault("kernel-dim", d.KernelDim)
	v.SetDefault("iterations", d.Iterations)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("procs", d.Procs)
	v.SetDefault("rank", d.Rank)
	v.SetDefault("addrs", []string{})
	v.SetDefault("dial-timeout", d.DialTimeout)
	v.SetDefault("evaluator", d.Evaluator)
	v.SetDefault("device", d.Device)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("print", d.Print)
	return v
}

// FromViper reads a Config from v
func FromViper(v *viper.Viper) (Config, error) {
	var (
		c   Config
		err error
	)
	ints := []struct {
		key string
		dst *int
	}{
		{"dim", &c.Dim},
		{"kernel-dim", &c.KernelDim},
		{"iterations", &c.Iterations},
		{"procs", &c.Procs},
		{"rank", &c.Rank},
	}
	for _, i := range ints {
		if *i.dst, err = cast.ToIntE(v.Get(i.key)); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", i.key, err)
		}
	}
	if c.DialTimeout, err = cast.ToDurationE(v.Get("dial-timeout")); err != nil {
		return Config{}, fmt.Errorf("config dial-timeout: %w", err)
	}
	if c.Print, err = cast.ToBoolE(v.Get("print")); err != nil {
		return Config{}, fmt.Errorf("config print: %w", err)
	}
	if c.Addrs, err = stringList(v.Get("addrs")); err != nil {
		return Config{}, fmt.Errorf("config addrs: %w", err)
	}
	c.Transport = strings.ToLower(cast.ToString(v.Get("transport")))
	c.Evaluator = strings.ToLower(cast.ToString(v.Get("evaluator")))
	c.Device = cast.ToString(v.Get("device"))
	c.LogLevel = cast.ToString(v.Get("log-level"))
	return c, nil
}

// stringList accepts a slice or a comma separated string, as set from an
// environment variable
func stringList(i interface{}) ([]string, error) {
	if s, ok := i.(string); ok {
		var out []string
		for _, f := range strings.Split(s, ",") {
			if f = strings.TrimSpace(f); f != "" {
				out = append(out, f)
			}
		}
		return out, nil
	}
	return cast.ToStringSliceE(i)
}

// Size returns the number of ranks taking part in the run
func (c Config) Size() int {
	if c.Transport == TransportTCP {
		return len(c.Addrs)
	}
	return c.Procs
}

// Validate checks the configuration before any communication takes place
func (c Config) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("grid dimension must be positive, got %d", c.Dim)
	}
	if c.KernelDim <= 0 || c.KernelDim%2 == 0 {
		return fmt.Errorf("%w: got %d", stencil.ErrEvenKernel, c.KernelDim)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	switch c.Transport {
	case TransportLocal:
		if c.Procs <= 0 {
			return fmt.Errorf("procs must be positive, got %d", c.Procs)
		}
	case TransportTCP:
		if len(c.Addrs) == 0 {
			return fmt.Errorf("the tcp transport requires one address per rank")
		}
		if c.Rank < 0 || c.Rank >= len(c.Addrs) {
			return fmt.Errorf("rank %d with %d addresses: %w", c.Rank, len(c.Addrs), comm.ErrRankOutOfRange)
		}
	default:
		return fmt.Errorf("unknown transport %q, want %s or %s", c.Transport, TransportLocal, TransportTCP)
	}
	switch c.Evaluator {
	case EvaluatorHost, EvaluatorOCCA:
	default:
		return fmt.Errorf("unknown evaluator %q, want %s or %s", c.Evaluator, EvaluatorHost, EvaluatorOCCA)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	bb := &partitions.BandBuilder{Dim: c.Dim, NumPartitions: c.Size()}
	_, err := bb.BuildBands()
	return err
}

// Kernel returns the all-ones kernel of dimension KernelDim
func (c Config) Kernel() (*stencil.Kernel, error) {
	return stencil.NewUniformKernel(c.KernelDim)
}

// InitialGrid returns the all-ones grid of dimension Dim
func (c Config) InitialGrid() *grid.Grid {
	return grid.NewFilled(c.Dim, 1)
}

// Logger returns a text logger at LogLevel
func (c Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}
