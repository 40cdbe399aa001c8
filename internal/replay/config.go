package replay

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jasonhayes1987/rlagents/internal/spaces"
)

// Buffer class names as persisted in configuration.
const (
	ClassReplayBuffer      = "ReplayBuffer"
	ClassPrioritizedBuffer = "PrioritizedReplayBuffer"
)

// Config is the serializable description of a buffer: class name plus
// constructor parameters. The environment is serialized separately (by
// ID here) and raw contents are never persisted.
type Config struct {
	Class     string  `json:"class_name"`
	EnvID     string  `json:"env_id"`
	Capacity  int     `json:"buffer_size"`
	GoalShape []int   `json:"goal_shape,omitempty"`
	Alpha     float64 `json:"alpha,omitempty"`
	BetaStart float64 `json:"beta_start,omitempty"`
	BetaIters int     `json:"beta_iter,omitempty"`
	Priority  string  `json:"priority,omitempty"`
	Epsilon   float64 `json:"epsilon,omitempty"`
}

// FromConfig constructs a buffer of the class the config names.
func FromConfig(env spaces.Env, cfg Config, seed int64, logger zerolog.Logger) (Buffer, error) {
	switch cfg.Class {
	case ClassReplayBuffer:
		return NewReplayBuffer(env, cfg.Capacity, cfg.GoalShape, seed, logger)
	case ClassPrioritizedBuffer:
		return NewPrioritizedBuffer(env, PrioritizedConfig{
			Capacity:  cfg.Capacity,
			GoalShape: cfg.GoalShape,
			Alpha:     cfg.Alpha,
			BetaStart: cfg.BetaStart,
			BetaIters: cfg.BetaIters,
			Priority:  cfg.Priority,
			Epsilon:   cfg.Epsilon,
			Seed:      seed,
		}, logger)
	default:
		return nil, fmt.Errorf("replay: %q is not a known buffer class", cfg.Class)
	}
}
