package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonhayes1987/rlagents/internal/replay"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"missing env id", func(c *Config) { c.EnvID = "" }},
		{"empty obs shape", func(c *Config) { c.ObsShape = nil }},
		{"zero act dimension", func(c *Config) { c.ActShape = []int{0} }},
		{"unknown buffer class", func(c *Config) { c.BufferClass = "RingBuffer" }},
		{"non-positive capacity", func(c *Config) { c.BufferSize = 0 }},
		{"her without goal shape", func(c *Config) { c.HERStrategy = "final" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_PrioritizedFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"beta start above one", func(c *Config) { c.BetaStart = 1.5 }},
		{"non-positive beta iters", func(c *Config) { c.BetaIter = 0 }},
		{"unknown priority mode", func(c *Config) { c.Priority = "uniform" }},
		{"non-positive epsilon", func(c *Config) { c.Epsilon = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.BufferClass = replay.ClassPrioritizedBuffer
			require.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBufferConfig_Mapping(t *testing.T) {
	cfg := Default()
	cfg.BufferClass = replay.ClassPrioritizedBuffer
	cfg.GoalShape = []int{2}

	bc := cfg.BufferConfig()
	assert.Equal(t, replay.ClassPrioritizedBuffer, bc.Class)
	assert.Equal(t, cfg.EnvID, bc.EnvID)
	assert.Equal(t, cfg.BufferSize, bc.Capacity)
	assert.Equal(t, []int{2}, bc.GoalShape)
	assert.Equal(t, cfg.Alpha, bc.Alpha)
	assert.Equal(t, cfg.BetaStart, bc.BetaStart)
	assert.Equal(t, cfg.BetaIter, bc.BetaIters)
	assert.Equal(t, cfg.Priority, bc.Priority)
	assert.Equal(t, cfg.Epsilon, bc.Epsilon)
}
