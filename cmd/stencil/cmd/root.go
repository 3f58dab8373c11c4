// Package cmd implements the stencil command line interface.
package cmd

import (
	"fmt"
	"time"

	"github.com/notargets/StencilKernel/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is the version of the stencil command
const Version = "0.1.0"

// Cfg holds configuration information
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	d := config.Defaults()

	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name:       "config",
			usage:      "config specifies the configuration file location.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "log-level",
			usage:      "log-level is one of panic, fatal, error, warn, info, debug or trace.",
			defaultVal: d.LogLevel,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "dim",
			usage:      "dim is the grid dimension D; the grid has D x D cells.",
			shorthand:  "d",
			defaultVal: d.Dim,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name:       "kernel-dim",
			usage:      "kernel-dim is the kernel dimension K, a positive odd number.",
			shorthand:  "k",
			defaultVal: d.KernelDim,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name:       "iterations",
			usage:      "iterations is the number of convolution steps.",
			shorthand:  "n",
			defaultVal: d.Iterations,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "transport",
			usage: `transport selects how ranks communicate: "local" runs every rank
              as a goroutine of this process, "tcp" runs this process as one
              rank of a world described by addrs.`,
			defaultVal: d.Transport,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name:       "procs",
			usage:      "procs is the number of ranks with the local transport; it must divide dim.",
			shorthand:  "p",
			defaultVal: d.Procs,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name:       "rank",
			usage:      "rank is the rank of this process with the tcp transport.",
			defaultVal: d.Rank,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "addrs",
			usage: `addrs lists the listen address of every rank, in rank order,
              with the tcp transport.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name:       "dial-timeout",
			usage:      "dial-timeout bounds how long to wait for peers to come up with the tcp transport.",
			defaultVal: d.DialTimeout,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name:       "evaluator",
			usage:      `evaluator computes the band convolution: "host" or "occa".`,
			defaultVal: d.Evaluator,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name:       "device",
			usage:      "device holds the OCCA device properties used by the occa evaluator.",
			defaultVal: d.Device,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name:       "print",
			usage:      "print writes the final grid to standard output on the coordinator.",
			defaultVal: d.Print,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = config.NewViper()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 {
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case time.Duration:
				set.DurationP(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}

	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
}

// setConfig reads in the configuration file, if there is one
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("stencil: problem reading configuration file: %w", err)
		}
	}
	return nil
}

// Root is the main command
var Root = &cobra.Command{
	Use:   "stencil",
	Short: "An iterative row-band parallel 2D convolution.",
	Long: `stencil repeatedly convolves a square integer grid with a square odd-sized
kernel. The grid is split into contiguous row bands, one per rank; ranks swap
halo rows with their neighbors, convolve their band, and rank 0 gathers and
redistributes the merged grid after every iteration.

Configuration can be changed with a configuration file (--config), with
command-line arguments, or with environment variables named 'STENCIL_VAR',
where VAR is the upper-case option name with '-' replaced by '_'.`,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("stencil v%s\n", Version)
	},
	DisableAutoGenTag: true,
}
