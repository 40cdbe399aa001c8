// Package metrics emits structured operational metrics for the replay
// service as log events.
package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// Collector for replay buffer operations
type Collector struct {
	logger zerolog.Logger
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// Track transition inserts
func (c *Collector) TransitionsAdded(n, stored, capacity int) {
	c.logger.Info().
		Str("metric", "transitions_added").
		Int("batch", n).
		Int("stored", stored).
		Int("capacity", capacity).
		Msg("Transitions added")
}

// Track sampling
func (c *Collector) BatchSampled(batchSize int, class string, duration time.Duration) {
	c.logger.Info().
		Str("metric", "batch_sampled").
		Int("batch_size", batchSize).
		Str("buffer_class", class).
		Dur("duration", duration).
		Msg("Batch sampled")
}

// Track priority updates
func (c *Collector) PrioritiesUpdated(n int) {
	c.logger.Info().
		Str("metric", "priorities_updated").
		Int("count", n).
		Msg("Priorities updated")
}

// Track hindsight relabeling
func (c *Collector) HindsightStored(steps, withinTolerance int) {
	c.logger.Info().
		Str("metric", "hindsight_stored").
		Int("steps", steps).
		Int("within_tolerance", withinTolerance).
		Msg("Hindsight trajectory stored")
}
