// Package agent composes the replay core with the opaque model and
// synchronization capabilities an off-policy training loop needs. The
// replay side never inspects model internals; models are numeric
// functions with a gradient surface and a single-step optimizer.
package agent

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jasonhayes1987/rlagents/internal/her"
	"github.com/jasonhayes1987/rlagents/internal/replay"
	"github.com/jasonhayes1987/rlagents/internal/spaces"
)

// Policy is an actor-like model: state (and optional goal) in,
// pre-activation values and a bounded action out.
type Policy interface {
	Forward(state, goal []float64) (preActivation, action []float64, err error)
	Parameters() [][]float64
	ZeroGrad()
	Step()
}

// Critic is a value-like model: state and action (and optional goal)
// in, scalar value out.
type Critic interface {
	Forward(state, action, goal []float64) (float64, error)
	Parameters() [][]float64
	ZeroGrad()
	Step()
}

// Reducer is the cross-worker gradient synchronization capability:
// an in-place all-reduce that sums grads across workers. Sum only; no
// averaging is performed on this side. Each worker keeps a fully
// independent replay buffer, so gradients are the only state that
// crosses process boundaries.
type Reducer interface {
	Reduce(grads []float64) error
}

// LocalReducer is the single-process Reducer: nothing to synchronize.
type LocalReducer struct{}

// Reduce implements Reducer.
func (LocalReducer) Reduce([]float64) error { return nil }

// HERConfig enables hindsight relabeling for goal-conditioned tasks.
type HERConfig struct {
	Strategy  her.Strategy `json:"strategy"`
	NumGoals  int          `json:"num_goals"`
	Tolerance float64      `json:"tolerance"`
}

// Config selects the buffer kind and optional HER wiring via tagged
// configuration rather than a subclass chain.
type Config struct {
	Buffer replay.Config `json:"buffer"`
	HER    *HERConfig    `json:"her,omitempty"`
	Seed   int64         `json:"seed"`
}

// OffPolicy is a generic off-policy agent: a replay-buffer capability
// plus a policy/critic pair and a gradient reducer.
type OffPolicy struct {
	env     spaces.Env
	buffer  replay.Buffer
	relay   *her.Relay
	policy  Policy
	critic  Critic
	reducer Reducer
	logger  zerolog.Logger
}

// NewOffPolicy wires an agent from tagged configuration. rewardFn is
// required exactly when HER is enabled with a relabeling strategy other
// than none.
func NewOffPolicy(env spaces.Env, cfg Config, policy Policy, critic Critic, reducer Reducer, rewardFn her.RewardFunc, logger zerolog.Logger) (*OffPolicy, error) {
	if env == nil {
		return nil, errors.New("agent: environment is required")
	}
	if reducer == nil {
		reducer = LocalReducer{}
	}

	buffer, err := replay.FromConfig(env, cfg.Buffer, cfg.Seed, logger)
	if err != nil {
		return nil, fmt.Errorf("agent: building buffer: %w", err)
	}

	a := &OffPolicy{
		env:     env,
		buffer:  buffer,
		policy:  policy,
		critic:  critic,
		reducer: reducer,
		logger:  logger,
	}

	if cfg.HER != nil {
		a.relay, err = her.NewRelay(env, buffer, cfg.HER.Strategy, cfg.HER.NumGoals, cfg.HER.Tolerance, rewardFn, cfg.Seed, logger)
		if err != nil {
			return nil, fmt.Errorf("agent: building hindsight relay: %w", err)
		}
	}
	return a, nil
}

// Buffer exposes the replay capability to the training loop.
func (a *OffPolicy) Buffer() replay.Buffer { return a.buffer }

// StoreEpisode routes a finished episode into the buffer. With a relay
// configured, hindsight relabeling runs in addition to storing the
// original transitions; it returns the within-tolerance relabel count.
func (a *OffPolicy) StoreEpisode(tr her.Trajectory) (int, error) {
	if tr.Rewards == nil {
		return 0, errors.New("agent: trajectory rewards are required to store the raw episode")
	}
	t := replay.Transitions{
		States:       tr.States,
		Actions:      tr.Actions,
		Rewards:      tr.Rewards,
		NextStates:   tr.NextStates,
		Dones:        tr.Dones,
		Achieved:     tr.Achieved,
		NextAchieved: tr.NextAchieved,
		Desired:      tr.Desired,
	}
	if err := a.buffer.Add(t); err != nil {
		return 0, fmt.Errorf("agent: storing episode: %w", err)
	}
	if a.relay == nil {
		return 0, nil
	}
	return a.relay.StoreTrajectory(tr)
}

// SyncGradients runs the sum-only all-reduce over each parameter
// gradient of the policy and critic, then steps both optimizers.
func (a *OffPolicy) SyncGradients() error {
	for _, model := range []interface {
		Parameters() [][]float64
		Step()
	}{a.policy, a.critic} {
		if model == nil {
			continue
		}
		for _, grads := range model.Parameters() {
			if err := a.reducer.Reduce(grads); err != nil {
				return fmt.Errorf("agent: gradient all-reduce: %w", err)
			}
		}
		model.Step()
	}
	return nil
}
