package replay

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/jasonhayes1987/rlagents/internal/spaces"
	"github.com/jasonhayes1987/rlagents/internal/sumtree"
)

// Prioritization strategies.
const (
	PriorityProportional = "proportional"
	PriorityRank         = "rank"
)

// PrioritizedConfig holds the construction parameters of a
// PrioritizedBuffer. Zero fields are replaced by defaults.
type PrioritizedConfig struct {
	Capacity  int
	GoalShape []int
	Alpha     float64 // priority exponent, sharper with higher value
	BetaStart float64 // initial importance-sampling exponent
	BetaIters int     // update calls to anneal beta from start to 1.0
	Priority  string  // "proportional" or "rank"
	Epsilon   float64 // priority floor, keeps every slot sampleable
	Seed      int64
}

func (c *PrioritizedConfig) applyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 100_000
	}
	if c.Alpha == 0 {
		c.Alpha = 0.6
	}
	if c.BetaStart == 0 {
		c.BetaStart = 0.4
	}
	if c.BetaIters == 0 {
		c.BetaIters = 100_000
	}
	if c.Priority == "" {
		c.Priority = PriorityProportional
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-6
	}
}

// PrioritizedBuffer extends the uniform buffer with priority-weighted
// sampling and annealed importance-sampling correction. Proportional
// mode keeps priorities in a sum tree; rank mode keeps a flat priority
// array with a lazily recomputed descending order.
type PrioritizedBuffer struct {
	base *ReplayBuffer

	alpha     float64
	betaStart float64
	beta      float64
	betaIters int
	mode      string
	epsilon   float64

	tree *sumtree.Tree // proportional mode

	priorities  []float64 // rank mode
	sorted      []int     // rank mode, descending by priority
	dirty       bool      // rank mode, sort order invalidated
	maxPriority float64   // rank mode running max of written values

	logger zerolog.Logger
}

// NewPrioritizedBuffer creates a prioritized buffer. An invalid
// priority mode is a configuration error and is rejected here, not at
// first sample.
func NewPrioritizedBuffer(env spaces.Env, cfg PrioritizedConfig, logger zerolog.Logger) (*PrioritizedBuffer, error) {
	cfg.applyDefaults()
	if cfg.Priority != PriorityProportional && cfg.Priority != PriorityRank {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidPriorityMode, cfg.Priority)
	}

	base, err := NewReplayBuffer(env, cfg.Capacity, cfg.GoalShape, cfg.Seed, logger)
	if err != nil {
		return nil, err
	}

	pb := &PrioritizedBuffer{
		base:      base,
		alpha:     cfg.Alpha,
		betaStart: cfg.BetaStart,
		beta:      cfg.BetaStart,
		betaIters: cfg.BetaIters,
		mode:      cfg.Priority,
		epsilon:   cfg.Epsilon,
		logger:    logger,
	}
	if pb.mode == PriorityProportional {
		pb.tree, err = sumtree.New(cfg.Capacity, logger)
		if err != nil {
			return nil, err
		}
	} else {
		pb.priorities = make([]float64, cfg.Capacity)
		pb.dirty = true
	}
	return pb, nil
}

// Len returns the number of valid transitions.
func (pb *PrioritizedBuffer) Len() int { return pb.base.Len() }

// Capacity returns the maximum number of stored transitions.
func (pb *PrioritizedBuffer) Capacity() int { return pb.base.Capacity() }

// Stored returns the monotone total of transitions ever added.
func (pb *PrioritizedBuffer) Stored() int { return pb.base.Stored() }

// GoalShaped reports whether the buffer stores the goal triple.
func (pb *PrioritizedBuffer) GoalShaped() bool { return pb.base.GoalShaped() }

// Beta returns the current importance-sampling exponent.
func (pb *PrioritizedBuffer) Beta() float64 { return pb.beta }

// currentMax is the largest priority written so far, or 1 before the
// first insert so fresh transitions always have sampling mass.
func (pb *PrioritizedBuffer) currentMax() float64 {
	if pb.base.Stored() == 0 {
		return 1.0
	}
	if pb.mode == PriorityProportional {
		return pb.tree.MaxPriority()
	}
	return pb.maxPriority
}

// Add stores a batch and seeds every written slot with the running max
// priority raised to alpha, guaranteeing fresh transitions are sampled
// at least once before their true TD error is known.
func (pb *PrioritizedBuffer) Add(t Transitions) error {
	seed := math.Pow(pb.currentMax(), pb.alpha)

	slots, err := pb.base.write(t)
	if err != nil {
		return err
	}

	if pb.mode == PriorityProportional {
		seeds := make([]float64, len(slots))
		for i := range seeds {
			seeds[i] = seed
		}
		return pb.tree.Update(slots, seeds)
	}

	for _, slot := range slots {
		pb.priorities[slot] = seed
	}
	if seed > pb.maxPriority {
		pb.maxPriority = seed
	}
	pb.dirty = true
	return nil
}

// UpdateBeta linearly anneals beta from betaStart toward 1.0 over
// betaIters update calls, clamped at 1.0.
func (pb *PrioritizedBuffer) UpdateBeta(iter int) {
	progress := math.Min(float64(iter)/float64(pb.betaIters), 1.0)
	pb.beta = pb.betaStart + progress*(1.0-pb.betaStart)
}

// UpdatePriorities replaces stored priorities for the sampled indices
// with max(|p|, epsilon)^alpha. NaN inputs are replaced with 1.0 and
// reported at warning level before the floor is applied; a transient
// NaN from an unstable loss must not halt training.
func (pb *PrioritizedBuffer) UpdatePriorities(indices []int, priorities []float64) error {
	if len(indices) != len(priorities) {
		return fmt.Errorf("replay: got %d indices but %d priorities", len(indices), len(priorities))
	}

	sanitized := 0
	scaled := make([]float64, len(priorities))
	for i, p := range priorities {
		if math.IsNaN(p) {
			p = 1.0
			sanitized++
		}
		scaled[i] = math.Pow(math.Max(math.Abs(p), pb.epsilon), pb.alpha)
	}
	if sanitized > 0 {
		pb.logger.Warn().
			Int("count", sanitized).
			Msg("NaN priorities in update, replaced with 1.0")
	}

	if pb.mode == PriorityProportional {
		return pb.tree.Update(indices, scaled)
	}

	for i, idx := range indices {
		if idx < 0 || idx >= pb.base.Capacity() {
			return fmt.Errorf("replay: priority index %d out of range [0, %d)", idx, pb.base.Capacity())
		}
		pb.priorities[idx] = scaled[i]
		if scaled[i] > pb.maxPriority {
			pb.maxPriority = scaled[i]
		}
	}
	pb.dirty = true
	return nil
}

// sortRanks recomputes the descending priority order over the valid
// range. Recomputed lazily on the first sample after any priority
// write.
func (pb *PrioritizedBuffer) sortRanks(size int) {
	if !pb.dirty && len(pb.sorted) == size {
		return
	}
	vals := make([]float64, size)
	copy(vals, pb.priorities[:size])
	inds := make([]int, size)
	floats.Argsort(vals, inds)
	// Argsort is ascending; ranks run highest priority first.
	for i, j := 0, len(inds)-1; i < j; i, j = i+1, j-1 {
		inds[i], inds[j] = inds[j], inds[i]
	}
	pb.sorted = inds
	pb.dirty = false
}

// Sample draws a priority-weighted batch plus importance weights and
// the sampled indices. Sampling from an empty buffer is an error.
func (pb *PrioritizedBuffer) Sample(batchSize int) (*Batch, error) {
	size := pb.base.Len()
	if size == 0 {
		return nil, ErrEmptyBuffer
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("replay: batch size must be positive, got %d", batchSize)
	}
	if batchSize > size {
		batchSize = size
	}

	indices := make([]int, batchSize)
	weights := make([]float64, batchSize)

	if pb.mode == PriorityProportional {
		// Stratify the draw: one uniform value per equal segment of
		// the priority mass, so a fixed batch covers the whole
		// distribution instead of drawing purely i.i.d.
		total := pb.tree.Total()
		segment := total / float64(batchSize)
		for i := 0; i < batchSize; i++ {
			p := segment*float64(i) + pb.base.rng.Float64()*segment
			idx, priority := pb.tree.Get(p)
			if idx >= size {
				// Exact-boundary descent can land on an unwritten leaf.
				idx = size - 1
			}
			indices[i] = idx
			prob := priority/total + pb.epsilon
			weights[i] = math.Pow(float64(size)*prob, -pb.beta)
		}
	} else {
		pb.sortRanks(size)
		for i := 0; i < batchSize; i++ {
			// Inverse-transform draw on a power law with exponent
			// alpha: P(rank) ~ 1/(rank+1)^alpha.
			u := pb.base.rng.Float64()
			rank := int(math.Pow(u, 1.0/pb.alpha) * float64(size))
			if rank >= size {
				rank = size - 1
			}
			indices[i] = pb.sorted[rank]
			prob := 1.0 / math.Pow(float64(rank+1), pb.alpha)
			weights[i] = math.Pow(float64(size)*prob, -pb.beta)
		}
	}

	// Normalize by the batch max so the largest weight is exactly 1,
	// stabilizing the effective learning rate of the IS correction.
	if maxW := floats.Max(weights); maxW > 0 {
		floats.Scale(1.0/maxW, weights)
	}

	out := pb.base.gather(indices)
	out.Weights = weights
	return out, nil
}

// Reset zeroes storage, priorities and the annealed beta.
func (pb *PrioritizedBuffer) Reset() {
	pb.base.Reset()
	pb.beta = pb.betaStart
	if pb.mode == PriorityProportional {
		pb.tree.Reset()
		return
	}
	zero(pb.priorities)
	pb.sorted = nil
	pb.dirty = true
	pb.maxPriority = 0
}

// Clone returns an empty buffer with the same configuration bound to a
// fresh environment handle.
func (pb *PrioritizedBuffer) Clone() (Buffer, error) {
	return NewPrioritizedBuffer(pb.base.env.Clone(), PrioritizedConfig{
		Capacity:  pb.base.capacity,
		GoalShape: pb.base.goalShape,
		Alpha:     pb.alpha,
		BetaStart: pb.betaStart,
		BetaIters: pb.betaIters,
		Priority:  pb.mode,
		Epsilon:   pb.epsilon,
		Seed:      pb.base.rng.Int63(),
	}, pb.logger)
}

// Config returns the serializable construction parameters.
func (pb *PrioritizedBuffer) Config() Config {
	return Config{
		Class:     ClassPrioritizedBuffer,
		EnvID:     pb.base.env.ID(),
		Capacity:  pb.base.capacity,
		GoalShape: pb.base.goalShape,
		Alpha:     pb.alpha,
		BetaStart: pb.betaStart,
		BetaIters: pb.betaIters,
		Priority:  pb.mode,
		Epsilon:   pb.epsilon,
	}
}
