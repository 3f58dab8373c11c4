package config

import (
	"testing"
	"time"

	"github.com/notargets/StencilKernel/comm"
	"github.com/notargets/StencilKernel/partitions"
	"github.com/notargets/StencilKernel/stencil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsFromViper(t *testing.T) {
	c, err := FromViper(NewViper())
	require.NoError(t, err)
	d := Defaults()
	d.Addrs = nil
	c.Addrs = nil
	assert.Equal(t, d, c)
	assert.NoError(t, c.Validate())
	assert.Equal(t, 1, c.Size())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STENCIL_DIM", "12")
	t.Setenv("STENCIL_KERNEL_DIM", "5")
	t.Setenv("STENCIL_TRANSPORT", "TCP")
	t.Setenv("STENCIL_RANK", "2")
	t.Setenv("STENCIL_ADDRS", "host0:7000, host1:7000,host2:7000")
	t.Setenv("STENCIL_DIAL_TIMEOUT", "5s")
	t.Setenv("STENCIL_PRINT", "true")

	c, err := FromViper(NewViper())
	require.NoError(t, err)
	assert.Equal(t, 12, c.Dim)
	assert.Equal(t, 5, c.KernelDim)
	assert.Equal(t, TransportTCP, c.Transport)
	assert.Equal(t, 2, c.Rank)
	assert.Equal(t, []string{"host0:7000", "host1:7000", "host2:7000"}, c.Addrs)
	assert.Equal(t, 5*time.Second, c.DialTimeout)
	assert.True(t, c.Print)
	assert.Equal(t, 3, c.Size())
	assert.NoError(t, c.Validate())
}

func TestFromViperRejectsBadValues(t *testing.T) {
	v := NewViper()
	v.Set("dim", "four")
	_, err := FromViper(v)
	assert.Error(t, err)

	v = NewViper()
	v.Set("dial-timeout", "soon")
	_, err = FromViper(v)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		target error
	}{
		{"ZeroDim", func(c *Config) { c.Dim = 0 }, nil},
		{"EvenKernel", func(c *Config) { c.KernelDim = 4 }, stencil.ErrEvenKernel},
		{"ZeroIterations", func(c *Config) { c.Iterations = 0 }, nil},
		{"ZeroProcs", func(c *Config) { c.Procs = 0 }, nil},
		{"UnevenPartition", func(c *Config) { c.Procs = 3 }, partitions.ErrUnevenPartition},
		{"UnknownTransport", func(c *Config) { c.Transport = "udp" }, nil},
		{"UnknownEvaluator", func(c *Config) { c.Evaluator = "fpga" }, nil},
		{"BadLogLevel", func(c *Config) { c.LogLevel = "loud" }, nil},
		{"TCPWithoutAddrs", func(c *Config) { c.Transport = TransportTCP }, nil},
		{"TCPRankOutOfRange", func(c *Config) {
			c.Transport = TransportTCP
			c.Addrs = []string{"a:1", "b:1"}
			c.Rank = 2
		}, comm.ErrRankOutOfRange},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Defaults()
			tc.modify(&c)
			err := c.Validate()
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			}
		})
	}

	t.Run("Valid", func(t *testing.T) {
		c := Defaults()
		c.Dim, c.Procs, c.KernelDim = 8, 4, 5
		assert.NoError(t, c.Validate())
	})

	// Halos deeper than a band are filled from the neighbor's grid copy
	t.Run("HaloDeeperThanBand", func(t *testing.T) {
		c := Defaults()
		c.Procs, c.KernelDim = 4, 5
		assert.NoError(t, c.Validate())
		c.Dim, c.Procs, c.KernelDim = 6, 6, 7
		assert.NoError(t, c.Validate())
	})
}

func TestReferenceInputs(t *testing.T) {
	c := Defaults()
	k, err := c.Kernel()
	require.NoError(t, err)
	assert.Equal(t, 3, k.Dim)
	assert.Equal(t, []int32{1, 1, 1, 1, 1, 1, 1, 1, 1}, k.Weights)

	g := c.InitialGrid()
	assert.Equal(t, 16.0, g.Summarize().Sum)

	log, err := c.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
