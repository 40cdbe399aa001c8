package service

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonhayes1987/rlagents/internal/her"
	"github.com/jasonhayes1987/rlagents/internal/replay"
	"github.com/jasonhayes1987/rlagents/internal/spaces"
)

func testEnv() spaces.Env {
	return &spaces.StaticEnv{
		EnvID:       "pendulum",
		Observation: spaces.Space{Shape: []int{3}},
		Action:      spaces.Space{Shape: []int{1}},
	}
}

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func newService(t *testing.T) *Replay {
	t.Helper()
	buf, err := replay.NewReplayBuffer(testEnv(), 8, nil, 1, testLogger())
	require.NoError(t, err)
	return New(buf, nil, testLogger())
}

func single(reward float64) replay.Transitions {
	return replay.Transitions{
		States:     [][]float64{{reward, 0, 0}},
		Actions:    [][]float64{{reward}},
		Rewards:    []float64{reward},
		NextStates: [][]float64{{reward + 1, 0, 0}},
		Dones:      []bool{false},
	}
}

func TestReplay_AddAndSample(t *testing.T) {
	svc := newService(t)

	require.NoError(t, svc.Add(single(1)))
	require.NoError(t, svc.Add(single(2)))

	batch, err := svc.Sample(4)
	require.NoError(t, err)
	assert.Len(t, batch.Indices, 4)
}

func TestReplay_SampleEmpty(t *testing.T) {
	svc := newService(t)

	_, err := svc.Sample(4)
	assert.ErrorIs(t, err, replay.ErrEmptyBuffer)
}

func TestReplay_StoreTrajectoryWithoutRelay(t *testing.T) {
	svc := newService(t)

	_, err := svc.StoreTrajectory(her.Trajectory{})
	assert.ErrorIs(t, err, ErrNoRelay)
}

func TestReplay_StoreTrajectoryWithRelay(t *testing.T) {
	buf, err := replay.NewReplayBuffer(testEnv(), 64, []int{2}, 1, testLogger())
	require.NoError(t, err)

	reward := func(_ spaces.Env, _, _, _, _ []float64, _ float64) (float64, bool) {
		return 0, true
	}
	relay, err := her.NewRelay(testEnv(), buf, her.StrategyFinal, 0, 0.05, reward, 1, testLogger())
	require.NoError(t, err)

	svc := New(buf, relay, testLogger())
	tolCount, err := svc.StoreTrajectory(her.Trajectory{
		States:       [][]float64{{0, 0, 0}},
		Actions:      [][]float64{{0.1}},
		NextStates:   [][]float64{{1, 0, 0}},
		Dones:        []bool{true},
		Achieved:     [][]float64{{0, 0}},
		NextAchieved: [][]float64{{1, 0}},
		Desired:      [][]float64{{9, 9}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tolCount)
	assert.Equal(t, 1, buf.Len())
}

func TestReplay_Stats(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.Add(single(1)))

	stats := svc.Stats()
	assert.Equal(t, svc.RunID(), stats.RunID)
	assert.Equal(t, replay.ClassReplayBuffer, stats.BufferClass)
	assert.Equal(t, "pendulum", stats.EnvID)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 8, stats.Capacity)
	assert.False(t, stats.GoalShaped)
}

func TestReplay_Reset(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.Add(single(1)))

	svc.Reset()
	assert.Equal(t, 0, svc.Stats().Size)
}

func TestReplay_UpdateBetaAnneals(t *testing.T) {
	buf, err := replay.NewPrioritizedBuffer(testEnv(), replay.PrioritizedConfig{
		Capacity:  8,
		Alpha:     0.6,
		BetaStart: 0.4,
		BetaIters: 100,
		Priority:  replay.PriorityProportional,
		Epsilon:   1e-6,
		Seed:      1,
	}, testLogger())
	require.NoError(t, err)

	svc := New(buf, nil, testLogger())
	svc.UpdateBeta(50)
	assert.InDelta(t, 0.7, buf.Beta(), 1e-12)
}
