// Package config holds the replay server configuration.
package config

import (
	"fmt"

	"github.com/jasonhayes1987/rlagents/internal/replay"
)

// Config holds all replay server configuration
type Config struct {
	// Serving
	ListenAddr string `mapstructure:"listen_addr"`

	// Environment shapes; the server has no live environment attached,
	// so the spaces are declared up front.
	EnvID     string `mapstructure:"env_id"`
	ObsShape  []int  `mapstructure:"obs_shape"`
	ActShape  []int  `mapstructure:"act_shape"`
	GoalShape []int  `mapstructure:"goal_shape"`

	// Buffer settings
	BufferClass string  `mapstructure:"buffer_class"`
	BufferSize  int     `mapstructure:"buffer_size"`
	Alpha       float64 `mapstructure:"alpha"`
	BetaStart   float64 `mapstructure:"beta_start"`
	BetaIter    int     `mapstructure:"beta_iter"`
	Priority    string  `mapstructure:"priority"`
	Epsilon     float64 `mapstructure:"epsilon"`

	// Hindsight relabeling; empty strategy disables it.
	HERStrategy  string  `mapstructure:"her_strategy"`
	HERNumGoals  int     `mapstructure:"her_num_goals"`
	HERTolerance float64 `mapstructure:"her_tolerance"`

	Seed int64 `mapstructure:"seed"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		ListenAddr:   ":8080",
		EnvID:        "pendulum",
		ObsShape:     []int{3},
		ActShape:     []int{1},
		BufferClass:  replay.ClassReplayBuffer,
		BufferSize:   100_000,
		Alpha:        0.6,
		BetaStart:    0.4,
		BetaIter:     100_000,
		Priority:     replay.PriorityProportional,
		Epsilon:      1e-6,
		HERNumGoals:  4,
		HERTolerance: 0.05,
		Seed:         1,
		LogLevel:     "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.EnvID == "" {
		return fmt.Errorf("env_id is required")
	}
	if shapeSize(c.ObsShape) == 0 {
		return fmt.Errorf("obs_shape must be non-empty with positive dimensions")
	}
	if shapeSize(c.ActShape) == 0 {
		return fmt.Errorf("act_shape must be non-empty with positive dimensions")
	}
	if c.BufferClass != replay.ClassReplayBuffer && c.BufferClass != replay.ClassPrioritizedBuffer {
		return fmt.Errorf("buffer_class must be %q or %q", replay.ClassReplayBuffer, replay.ClassPrioritizedBuffer)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	if c.BufferClass == replay.ClassPrioritizedBuffer {
		if c.Alpha < 0 {
			return fmt.Errorf("alpha must be non-negative")
		}
		if c.BetaStart <= 0 || c.BetaStart > 1 {
			return fmt.Errorf("beta_start must be in (0, 1]")
		}
		if c.BetaIter <= 0 {
			return fmt.Errorf("beta_iter must be positive")
		}
		if c.Priority != replay.PriorityProportional && c.Priority != replay.PriorityRank {
			return fmt.Errorf("priority must be %q or %q", replay.PriorityProportional, replay.PriorityRank)
		}
		if c.Epsilon <= 0 {
			return fmt.Errorf("epsilon must be positive")
		}
	}
	if c.HERStrategy != "" && len(c.GoalShape) == 0 {
		return fmt.Errorf("her_strategy requires goal_shape")
	}
	return nil
}

// BufferConfig maps the server settings to buffer construction
// parameters.
func (c *Config) BufferConfig() replay.Config {
	return replay.Config{
		Class:     c.BufferClass,
		EnvID:     c.EnvID,
		Capacity:  c.BufferSize,
		GoalShape: c.GoalShape,
		Alpha:     c.Alpha,
		BetaStart: c.BetaStart,
		BetaIters: c.BetaIter,
		Priority:  c.Priority,
		Epsilon:   c.Epsilon,
	}
}

func shapeSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
