// Package replay implements fixed-capacity circular experience replay
// buffers: a uniform-sampling base buffer and a prioritized variant
// with proportional (sum tree) and rank-based strategies.
package replay

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/jasonhayes1987/rlagents/internal/spaces"
)

var (
	// ErrEmptyBuffer is returned when sampling before any transition
	// has been added.
	ErrEmptyBuffer = errors.New("replay: cannot sample from empty buffer")

	// ErrMissingGoals is returned when a goal-shaped buffer receives a
	// batch without the full goal triple.
	ErrMissingGoals = errors.New("replay: goal data must be provided when using goals")

	// ErrInvalidPriorityMode is returned at construction for an
	// unrecognized prioritization strategy.
	ErrInvalidPriorityMode = errors.New("replay: priority mode must be \"proportional\" or \"rank\"")
)

// Transitions is a column-wise batch of transitions to insert. All
// columns must have the same length; the goal columns are required
// exactly when the target buffer was constructed with a goal shape.
type Transitions struct {
	States       [][]float64 `json:"states"`
	Actions      [][]float64 `json:"actions"`
	Rewards      []float64   `json:"rewards"`
	NextStates   [][]float64 `json:"next_states"`
	Dones        []bool      `json:"dones"`
	Achieved     [][]float64 `json:"achieved_goals,omitempty"`
	NextAchieved [][]float64 `json:"next_achieved_goals,omitempty"`
	Desired      [][]float64 `json:"desired_goals,omitempty"`
}

// Len returns the batch length.
func (t Transitions) Len() int { return len(t.States) }

func (t Transitions) validate(goalShaped bool) error {
	n := len(t.States)
	if n == 0 {
		return fmt.Errorf("replay: empty transition batch")
	}
	if len(t.Actions) != n || len(t.Rewards) != n || len(t.NextStates) != n || len(t.Dones) != n {
		return fmt.Errorf("replay: ragged transition batch: states=%d actions=%d rewards=%d next_states=%d dones=%d",
			len(t.States), len(t.Actions), len(t.Rewards), len(t.NextStates), len(t.Dones))
	}
	if goalShaped {
		if t.Achieved == nil || t.NextAchieved == nil || t.Desired == nil {
			return ErrMissingGoals
		}
		if len(t.Achieved) != n || len(t.NextAchieved) != n || len(t.Desired) != n {
			return fmt.Errorf("replay: ragged goal columns: achieved=%d next_achieved=%d desired=%d (want %d)",
				len(t.Achieved), len(t.NextAchieved), len(t.Desired), n)
		}
	}
	return nil
}

// Batch is the column set returned by sampling. Weights and Indices are
// populated only by the prioritized buffer; the base buffer returns
// uniform weight 1 for each row.
type Batch struct {
	States       [][]float64 `json:"states"`
	Actions      [][]float64 `json:"actions"`
	Rewards      []float64   `json:"rewards"`
	NextStates   [][]float64 `json:"next_states"`
	Dones        []bool      `json:"dones"`
	Achieved     [][]float64 `json:"achieved_goals,omitempty"`
	NextAchieved [][]float64 `json:"next_achieved_goals,omitempty"`
	Desired      [][]float64 `json:"desired_goals,omitempty"`
	Weights      []float64   `json:"weights"`
	Indices      []int       `json:"indices"`
}

// Buffer is the replay capability the training loop holds. Both buffer
// kinds implement it; UpdatePriorities and UpdateBeta are no-ops on the
// uniform buffer.
type Buffer interface {
	Add(batch Transitions) error
	Sample(batchSize int) (*Batch, error)
	UpdatePriorities(indices []int, priorities []float64) error
	UpdateBeta(iter int)
	Len() int
	Capacity() int
	Reset()
	Clone() (Buffer, error)
	Config() Config
}

// ReplayBuffer is a fixed-capacity circular store of transitions with
// uniform random sampling.
type ReplayBuffer struct {
	env       spaces.Env
	capacity  int
	goalShape []int

	stateSize  int
	actionSize int
	goalSize   int

	states       []float64
	actions      []float64
	rewards      []float64
	nextStates   []float64
	dones        []bool
	achieved     []float64
	nextAchieved []float64
	desired      []float64

	// counter is the monotone transition count; it never wraps. The
	// physical slot for transition n is n % capacity.
	counter int

	rng    *rand.Rand
	logger zerolog.Logger
}

// NewReplayBuffer creates a buffer sized from the environment's spaces.
// goalShape may be nil for non-goal-conditioned tasks.
func NewReplayBuffer(env spaces.Env, capacity int, goalShape []int, seed int64, logger zerolog.Logger) (*ReplayBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("replay: capacity must be positive, got %d", capacity)
	}
	stateSize := env.ObservationSpace().Size()
	actionSize := env.ActionSpace().Size()
	if stateSize == 0 || actionSize == 0 {
		return nil, fmt.Errorf("replay: environment %q has degenerate spaces (state=%d action=%d)",
			env.ID(), stateSize, actionSize)
	}

	b := &ReplayBuffer{
		env:        env,
		capacity:   capacity,
		goalShape:  goalShape,
		stateSize:  stateSize,
		actionSize: actionSize,
		states:     make([]float64, capacity*stateSize),
		actions:    make([]float64, capacity*actionSize),
		rewards:    make([]float64, capacity),
		nextStates: make([]float64, capacity*stateSize),
		dones:      make([]bool, capacity),
		rng:        rand.New(rand.NewSource(seed)),
		logger:     logger,
	}
	if len(goalShape) > 0 {
		b.goalSize = spaces.Space{Shape: goalShape}.Size()
		b.achieved = make([]float64, capacity*b.goalSize)
		b.nextAchieved = make([]float64, capacity*b.goalSize)
		b.desired = make([]float64, capacity*b.goalSize)
	}
	return b, nil
}

// GoalShaped reports whether the buffer stores the goal triple.
func (b *ReplayBuffer) GoalShaped() bool { return b.goalSize > 0 }

// Len returns the number of valid transitions, capped at capacity.
func (b *ReplayBuffer) Len() int {
	if b.counter < b.capacity {
		return b.counter
	}
	return b.capacity
}

// Capacity returns the maximum number of stored transitions.
func (b *ReplayBuffer) Capacity() int { return b.capacity }

// Stored returns the monotone total of transitions ever added.
func (b *ReplayBuffer) Stored() int { return b.counter }

// wrapSlots returns the destination slots for a write of n rows
// starting at the current cursor, split into at most two contiguous
// ranges when the write wraps past the end of the array.
func (b *ReplayBuffer) wrapSlots(n int) []int {
	start := b.counter % b.capacity
	slots := make([]int, 0, n)
	first := n
	if start+first > b.capacity {
		first = b.capacity - start
	}
	for i := 0; i < first; i++ {
		slots = append(slots, start+i)
	}
	for i := 0; i < n-first; i++ {
		slots = append(slots, i)
	}
	return slots
}

// write validates the batch, copies it into the circular columns and
// advances the cursor. It returns the physical slots written so the
// prioritized buffer can seed their priorities.
func (b *ReplayBuffer) write(t Transitions) ([]int, error) {
	if err := t.validate(b.GoalShaped()); err != nil {
		return nil, err
	}
	n := t.Len()
	if n > b.capacity {
		return nil, fmt.Errorf("replay: batch of %d exceeds buffer capacity %d", n, b.capacity)
	}

	slots := b.wrapSlots(n)
	for i, slot := range slots {
		if len(t.States[i]) != b.stateSize || len(t.NextStates[i]) != b.stateSize {
			return nil, fmt.Errorf("replay: state row %d has size %d, want %d", i, len(t.States[i]), b.stateSize)
		}
		if len(t.Actions[i]) != b.actionSize {
			return nil, fmt.Errorf("replay: action row %d has size %d, want %d", i, len(t.Actions[i]), b.actionSize)
		}
		copy(b.states[slot*b.stateSize:], t.States[i])
		copy(b.nextStates[slot*b.stateSize:], t.NextStates[i])
		copy(b.actions[slot*b.actionSize:], t.Actions[i])
		b.rewards[slot] = t.Rewards[i]
		b.dones[slot] = t.Dones[i]

		if b.GoalShaped() {
			if len(t.Achieved[i]) != b.goalSize || len(t.NextAchieved[i]) != b.goalSize || len(t.Desired[i]) != b.goalSize {
				return nil, fmt.Errorf("replay: goal row %d has wrong size, want %d", i, b.goalSize)
			}
			copy(b.achieved[slot*b.goalSize:], t.Achieved[i])
			copy(b.nextAchieved[slot*b.goalSize:], t.NextAchieved[i])
			copy(b.desired[slot*b.goalSize:], t.Desired[i])
		}
	}
	b.counter += n
	return slots, nil
}

// Add appends a batch of transitions, overwriting the oldest slots once
// the buffer is full.
func (b *ReplayBuffer) Add(t Transitions) error {
	_, err := b.write(t)
	return err
}

// gather copies the rows at the given slots into a Batch.
func (b *ReplayBuffer) gather(indices []int) *Batch {
	n := len(indices)
	out := &Batch{
		States:     make([][]float64, n),
		Actions:    make([][]float64, n),
		Rewards:    make([]float64, n),
		NextStates: make([][]float64, n),
		Dones:      make([]bool, n),
		Indices:    indices,
	}
	if b.GoalShaped() {
		out.Achieved = make([][]float64, n)
		out.NextAchieved = make([][]float64, n)
		out.Desired = make([][]float64, n)
	}
	for i, idx := range indices {
		out.States[i] = row(b.states, idx, b.stateSize)
		out.Actions[i] = row(b.actions, idx, b.actionSize)
		out.Rewards[i] = b.rewards[idx]
		out.NextStates[i] = row(b.nextStates, idx, b.stateSize)
		out.Dones[i] = b.dones[idx]
		if b.GoalShaped() {
			out.Achieved[i] = row(b.achieved, idx, b.goalSize)
			out.NextAchieved[i] = row(b.nextAchieved, idx, b.goalSize)
			out.Desired[i] = row(b.desired, idx, b.goalSize)
		}
	}
	return out
}

func row(col []float64, idx, size int) []float64 {
	out := make([]float64, size)
	copy(out, col[idx*size:(idx+1)*size])
	return out
}

// Sample draws batchSize transitions uniformly at random, with
// replacement, from the valid range. batchSize may exceed the number of
// stored transitions.
func (b *ReplayBuffer) Sample(batchSize int) (*Batch, error) {
	size := b.Len()
	if size == 0 {
		return nil, ErrEmptyBuffer
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("replay: batch size must be positive, got %d", batchSize)
	}
	indices := make([]int, batchSize)
	for i := range indices {
		indices[i] = b.rng.Intn(size)
	}
	out := b.gather(indices)
	out.Weights = make([]float64, batchSize)
	for i := range out.Weights {
		out.Weights[i] = 1.0
	}
	return out, nil
}

// UpdatePriorities is a no-op on the uniform buffer; it exists so both
// buffer kinds satisfy the same capability interface.
func (b *ReplayBuffer) UpdatePriorities([]int, []float64) error { return nil }

// UpdateBeta is a no-op on the uniform buffer.
func (b *ReplayBuffer) UpdateBeta(int) {}

// Reset zeroes all storage and the cursor. Used between independent
// runs, never mid-training.
func (b *ReplayBuffer) Reset() {
	zero(b.states)
	zero(b.actions)
	zero(b.rewards)
	zero(b.nextStates)
	for i := range b.dones {
		b.dones[i] = false
	}
	if b.GoalShaped() {
		zero(b.achieved)
		zero(b.nextAchieved)
		zero(b.desired)
	}
	b.counter = 0
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}

// Clone returns an empty buffer with the same configuration bound to a
// fresh environment handle.
func (b *ReplayBuffer) Clone() (Buffer, error) {
	return NewReplayBuffer(b.env.Clone(), b.capacity, b.goalShape, b.rng.Int63(), b.logger)
}

// Config returns the serializable construction parameters. Transition
// contents are never persisted; a reloaded agent starts empty.
func (b *ReplayBuffer) Config() Config {
	return Config{
		Class:     ClassReplayBuffer,
		EnvID:     b.env.ID(),
		Capacity:  b.capacity,
		GoalShape: b.goalShape,
	}
}
