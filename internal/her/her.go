// Package her implements hindsight experience replay goal relabeling:
// a full episode trajectory is replayed with desired goals rewritten to
// goals the agent actually achieved, manufacturing reward signal in
// sparse-reward goal-conditioned tasks.
package her

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/jasonhayes1987/rlagents/internal/replay"
	"github.com/jasonhayes1987/rlagents/internal/spaces"
)

// Strategy selects how relabeled goals are chosen.
type Strategy string

const (
	// StrategyFinal relabels every step with the episode's last
	// achieved goal.
	StrategyFinal Strategy = "final"

	// StrategyFuture relabels each step with achieved goals sampled
	// from random later steps of the same episode.
	StrategyFuture Strategy = "future"

	// StrategyNone disables relabeling; the trajectory store becomes a
	// no-op so callers can share the code path with HER switched off.
	StrategyNone Strategy = "none"
)

// ErrInvalidStrategy is returned at construction for an unrecognized
// relabeling strategy.
var ErrInvalidStrategy = errors.New("her: strategy must be \"final\", \"future\" or \"none\"")

// RewardFunc recomputes the reward for a relabeled transition and
// reports whether the achieved goal landed within tolerance of the new
// desired goal. Supplied by the environment side; the relay never
// inspects it.
type RewardFunc func(env spaces.Env, action, achieved, nextAchieved, desired []float64, tolerance float64) (reward float64, withinTol bool)

// SparseReward is the standard goal-conditioned sparse reward: 0 when
// the next achieved goal lies within Euclidean tolerance of the desired
// goal, -1 otherwise. Servers without a live environment use it as the
// default RewardFunc.
func SparseReward(_ spaces.Env, _, _, nextAchieved, desired []float64, tolerance float64) (float64, bool) {
	var sq float64
	for i := range nextAchieved {
		d := nextAchieved[i] - desired[i]
		sq += d * d
	}
	if math.Sqrt(sq) <= tolerance {
		return 0, true
	}
	return -1, false
}

// Trajectory holds one full episode as parallel columns. Rewards are
// optional: the relay recomputes them against relabeled goals and never
// reads the column, but callers storing the raw episode need it.
type Trajectory struct {
	States       [][]float64
	Actions      [][]float64
	Rewards      []float64
	NextStates   [][]float64
	Dones        []bool
	Achieved     [][]float64
	NextAchieved [][]float64
	Desired      [][]float64
}

// Len returns the number of steps.
func (tr Trajectory) Len() int { return len(tr.States) }

func (tr Trajectory) validate() error {
	n := tr.Len()
	if n == 0 {
		return fmt.Errorf("her: empty trajectory")
	}
	if len(tr.Actions) != n || len(tr.NextStates) != n || len(tr.Dones) != n ||
		len(tr.Achieved) != n || len(tr.NextAchieved) != n || len(tr.Desired) != n {
		return fmt.Errorf("her: ragged trajectory columns (len %d)", n)
	}
	if tr.Rewards != nil && len(tr.Rewards) != n {
		return fmt.Errorf("her: trajectory has %d rewards for %d steps", len(tr.Rewards), n)
	}
	return nil
}

// Relay consumes episode trajectories and inserts relabeled transitions
// into the buffer owned by the caller. Transitions are stored
// non-normalized; normalization is the buffer consumer's concern at
// sample time.
type Relay struct {
	strategy  Strategy
	numGoals  int
	tolerance float64
	reward    RewardFunc
	env       spaces.Env
	buffer    replay.Buffer
	rng       *rand.Rand
	logger    zerolog.Logger
}

// NewRelay builds a relay writing into buffer. numGoals bounds the
// relabeled transitions per step under the future strategy and is
// ignored otherwise.
func NewRelay(env spaces.Env, buffer replay.Buffer, strategy Strategy, numGoals int, tolerance float64, reward RewardFunc, seed int64, logger zerolog.Logger) (*Relay, error) {
	switch strategy {
	case StrategyFinal, StrategyFuture, StrategyNone:
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidStrategy, strategy)
	}
	if strategy != StrategyNone && reward == nil {
		return nil, fmt.Errorf("her: reward function is required for strategy %q", strategy)
	}
	if strategy == StrategyFuture && numGoals <= 0 {
		return nil, fmt.Errorf("her: num goals must be positive for the future strategy, got %d", numGoals)
	}
	return &Relay{
		strategy:  strategy,
		numGoals:  numGoals,
		tolerance: tolerance,
		reward:    reward,
		env:       env,
		buffer:    buffer,
		rng:       rand.New(rand.NewSource(seed)),
		logger:    logger,
	}, nil
}

// Strategy returns the configured relabeling strategy.
func (r *Relay) Strategy() Strategy { return r.strategy }

// StoreTrajectory relabels one episode and stores the results through
// the buffer's normal add path. It returns the count of relabelings
// whose achieved goal fell within tolerance of the new desired goal,
// tallied for observability.
func (r *Relay) StoreTrajectory(tr Trajectory) (int, error) {
	if r.strategy == StrategyNone {
		return 0, nil
	}
	if err := tr.validate(); err != nil {
		return 0, err
	}

	n := tr.Len()
	tolCount := 0

	for idx := 0; idx < n; idx++ {
		switch r.strategy {
		case StrategyFinal:
			desired := tr.NextAchieved[n-1]
			withinTol, err := r.storeRelabeled(tr, idx, desired)
			if err != nil {
				return tolCount, err
			}
			if withinTol {
				tolCount++
			}

		case StrategyFuture:
			for i := 0; i < r.numGoals; i++ {
				// No valid future index remains near the episode tail.
				if idx+i >= n-1 {
					break
				}
				j := idx + 1 + r.rng.Intn(n-idx-1)
				withinTol, err := r.storeRelabeled(tr, idx, tr.NextAchieved[j])
				if err != nil {
					return tolCount, err
				}
				if withinTol {
					tolCount++
				}
			}
		}
	}

	r.logger.Debug().
		Int("steps", n).
		Int("within_tolerance", tolCount).
		Str("strategy", string(r.strategy)).
		Msg("hindsight trajectory stored")
	return tolCount, nil
}

// storeRelabeled recomputes the reward against the new desired goal and
// inserts a single relabeled transition.
func (r *Relay) storeRelabeled(tr Trajectory, idx int, desired []float64) (bool, error) {
	reward, withinTol := r.reward(r.env, tr.Actions[idx], tr.Achieved[idx], tr.NextAchieved[idx], desired, r.tolerance)
	err := r.buffer.Add(replay.Transitions{
		States:       [][]float64{tr.States[idx]},
		Actions:      [][]float64{tr.Actions[idx]},
		Rewards:      []float64{reward},
		NextStates:   [][]float64{tr.NextStates[idx]},
		Dones:        []bool{tr.Dones[idx]},
		Achieved:     [][]float64{tr.Achieved[idx]},
		NextAchieved: [][]float64{tr.NextAchieved[idx]},
		Desired:      [][]float64{desired},
	})
	if err != nil {
		return withinTol, fmt.Errorf("her: storing relabeled step %d: %w", idx, err)
	}
	return withinTol, nil
}
