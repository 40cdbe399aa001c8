// Package service wraps a replay buffer with the serving concerns the
// HTTP layer needs: mutual exclusion, run identity, and metrics.
package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jasonhayes1987/rlagents/internal/her"
	"github.com/jasonhayes1987/rlagents/internal/metrics"
	"github.com/jasonhayes1987/rlagents/internal/replay"
)

// ErrNoRelay is returned when a trajectory is posted but hindsight
// relabeling was not configured.
var ErrNoRelay = errors.New("service: hindsight relabeling is not configured")

// Stats is a snapshot of the served buffer.
type Stats struct {
	RunID       string        `json:"run_id"`
	BufferClass string        `json:"buffer_class"`
	EnvID       string        `json:"env_id"`
	Size        int           `json:"size"`
	Capacity    int           `json:"capacity"`
	GoalShaped  bool          `json:"goal_shaped"`
	Uptime      time.Duration `json:"uptime"`
}

// Replay serves a single buffer instance. A single mutex serializes
// add, sample and priority updates: no reader ever sees a partially
// written transition.
type Replay struct {
	mu        sync.Mutex
	runID     string
	buffer    replay.Buffer
	relay     *her.Relay
	collector *metrics.Collector
	started   time.Time
	logger    zerolog.Logger
}

// New wraps buffer for serving. relay may be nil when hindsight
// relabeling is not configured.
func New(buffer replay.Buffer, relay *her.Relay, logger zerolog.Logger) *Replay {
	return &Replay{
		runID:     uuid.New().String(),
		buffer:    buffer,
		relay:     relay,
		collector: metrics.NewCollector(logger),
		started:   time.Now(),
		logger:    logger,
	}
}

// RunID identifies this serving session.
func (s *Replay) RunID() string { return s.runID }

// Add stores a batch of transitions.
func (s *Replay) Add(t replay.Transitions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.buffer.Add(t); err != nil {
		return err
	}
	s.collector.TransitionsAdded(t.Len(), s.buffer.Len(), s.buffer.Capacity())
	return nil
}

// Sample draws a batch for training.
func (s *Replay) Sample(batchSize int) (*replay.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	batch, err := s.buffer.Sample(batchSize)
	if err != nil {
		return nil, err
	}
	s.collector.BatchSampled(len(batch.Indices), s.buffer.Config().Class, time.Since(start))
	return batch, nil
}

// UpdatePriorities feeds TD-error magnitudes back for the sampled
// indices.
func (s *Replay) UpdatePriorities(indices []int, priorities []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.buffer.UpdatePriorities(indices, priorities); err != nil {
		return err
	}
	s.collector.PrioritiesUpdated(len(indices))
	return nil
}

// UpdateBeta advances the importance-sampling anneal schedule.
func (s *Replay) UpdateBeta(iter int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.UpdateBeta(iter)
}

// StoreTrajectory runs hindsight relabeling for a finished episode and
// returns the within-tolerance relabel count.
func (s *Replay) StoreTrajectory(tr her.Trajectory) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.relay == nil {
		return 0, ErrNoRelay
	}
	tolCount, err := s.relay.StoreTrajectory(tr)
	if err != nil {
		return tolCount, err
	}
	s.collector.HindsightStored(tr.Len(), tolCount)
	return tolCount, nil
}

// Reset clears the buffer between independent runs.
func (s *Replay) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.Reset()
}

// Stats returns a snapshot of the served buffer.
func (s *Replay) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.buffer.Config()
	return Stats{
		RunID:       s.runID,
		BufferClass: cfg.Class,
		EnvID:       cfg.EnvID,
		Size:        s.buffer.Len(),
		Capacity:    s.buffer.Capacity(),
		GoalShaped:  len(cfg.GoalShape) > 0,
		Uptime:      time.Since(s.started),
	}
}

// Config returns the buffer's serializable configuration.
func (s *Replay) Config() replay.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Config()
}
