package replay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProportional(t *testing.T, capacity int, cfg PrioritizedConfig) *PrioritizedBuffer {
	t.Helper()
	cfg.Capacity = capacity
	cfg.Priority = PriorityProportional
	pb, err := NewPrioritizedBuffer(testEnv(), cfg, testLogger())
	require.NoError(t, err)
	return pb
}

func newRank(t *testing.T, capacity int, cfg PrioritizedConfig) *PrioritizedBuffer {
	t.Helper()
	cfg.Capacity = capacity
	cfg.Priority = PriorityRank
	pb, err := NewPrioritizedBuffer(testEnv(), cfg, testLogger())
	require.NoError(t, err)
	return pb
}

func TestPrioritized_InvalidModeRejectedAtConstruction(t *testing.T) {
	_, err := NewPrioritizedBuffer(testEnv(), PrioritizedConfig{
		Capacity: 8,
		Priority: "stochastic",
	}, testLogger())
	assert.ErrorIs(t, err, ErrInvalidPriorityMode)
}

func TestPrioritized_PrioritySeeding(t *testing.T) {
	pb := newProportional(t, 8, PrioritizedConfig{Alpha: 0.5, Seed: 1})

	// Nothing inserted yet: the first transition is seeded 1.0^alpha.
	require.NoError(t, pb.Add(single(0)))
	assert.InDelta(t, 1.0, pb.tree.Total(), 1e-9)

	// Raise the max, then add again: seed must be maxPriority^alpha.
	require.NoError(t, pb.UpdatePriorities([]int{0}, []float64{16.0}))
	require.NoError(t, pb.Add(single(1)))

	maxSeen := pb.tree.MaxPriority()
	_, leaf := pb.tree.Get(pb.tree.Total() - 1e-9)
	assert.InDelta(t, math.Pow(maxSeen, 0.5), leaf, 1e-9)
}

func TestPrioritized_PrioritySeedingRankMode(t *testing.T) {
	pb := newRank(t, 8, PrioritizedConfig{Alpha: 1.0, Seed: 1})

	require.NoError(t, pb.Add(single(0)))
	assert.InDelta(t, 1.0, pb.priorities[0], 1e-9)

	require.NoError(t, pb.UpdatePriorities([]int{0}, []float64{5.0}))
	require.NoError(t, pb.Add(single(1)))
	assert.InDelta(t, 5.0, pb.priorities[1], 1e-9)
}

func TestPrioritized_BetaAnnealing(t *testing.T) {
	pb := newProportional(t, 8, PrioritizedConfig{BetaStart: 0.4, BetaIters: 1000, Seed: 1})

	pb.UpdateBeta(0)
	assert.InDelta(t, 0.4, pb.Beta(), 1e-9)

	pb.UpdateBeta(500)
	assert.InDelta(t, 0.7, pb.Beta(), 1e-9)

	pb.UpdateBeta(1000)
	assert.InDelta(t, 1.0, pb.Beta(), 1e-9)

	// Clamped past the annealing horizon.
	pb.UpdateBeta(5000)
	assert.InDelta(t, 1.0, pb.Beta(), 1e-9)
}

func TestPrioritized_WeightsNormalizedToOne(t *testing.T) {
	for _, mode := range []string{PriorityProportional, PriorityRank} {
		t.Run(mode, func(t *testing.T) {
			pb, err := NewPrioritizedBuffer(testEnv(), PrioritizedConfig{
				Capacity: 32,
				Priority: mode,
				Seed:     3,
			}, testLogger())
			require.NoError(t, err)

			for i := 0; i < 20; i++ {
				require.NoError(t, pb.Add(single(float64(i))))
			}
			priorities := make([]float64, 20)
			indices := make([]int, 20)
			for i := range priorities {
				indices[i] = i
				priorities[i] = float64(i + 1)
			}
			require.NoError(t, pb.UpdatePriorities(indices, priorities))

			batch, err := pb.Sample(8)
			require.NoError(t, err)
			require.Len(t, batch.Weights, 8)

			maxW := batch.Weights[0]
			for _, w := range batch.Weights {
				assert.Greater(t, w, 0.0)
				if w > maxW {
					maxW = w
				}
			}
			assert.InDelta(t, 1.0, maxW, 1e-9)
		})
	}
}

func TestPrioritized_SampleEmptyIsError(t *testing.T) {
	for _, mode := range []string{PriorityProportional, PriorityRank} {
		t.Run(mode, func(t *testing.T) {
			pb, err := NewPrioritizedBuffer(testEnv(), PrioritizedConfig{
				Capacity: 8,
				Priority: mode,
			}, testLogger())
			require.NoError(t, err)

			_, err = pb.Sample(4)
			assert.ErrorIs(t, err, ErrEmptyBuffer)
		})
	}
}

func TestPrioritized_BatchSizeClampedToStored(t *testing.T) {
	pb := newProportional(t, 16, PrioritizedConfig{Seed: 1})
	for i := 0; i < 3; i++ {
		require.NoError(t, pb.Add(single(float64(i))))
	}

	batch, err := pb.Sample(10)
	require.NoError(t, err)
	assert.Len(t, batch.Indices, 3)
	for _, idx := range batch.Indices {
		assert.Less(t, idx, 3)
	}
}

func TestPrioritized_NaNPrioritiesSanitized(t *testing.T) {
	pb := newProportional(t, 8, PrioritizedConfig{Alpha: 0.6, Epsilon: 1e-6, Seed: 1})
	require.NoError(t, pb.Add(single(0)))

	err := pb.UpdatePriorities([]int{0}, []float64{math.NaN()})
	require.NoError(t, err)

	// NaN becomes 1.0, floored at epsilon before the exponent, so the
	// stored priority is at least epsilon^alpha.
	_, leaf := pb.tree.Get(pb.tree.Total() / 2)
	assert.GreaterOrEqual(t, leaf, math.Pow(1e-6, 0.6))
	assert.InDelta(t, 1.0, leaf, 1e-9)
}

func TestPrioritized_NaNPrioritiesSanitizedRankMode(t *testing.T) {
	pb := newRank(t, 8, PrioritizedConfig{Alpha: 0.6, Epsilon: 1e-6, Seed: 1})
	require.NoError(t, pb.Add(single(0)))

	require.NoError(t, pb.UpdatePriorities([]int{0}, []float64{math.NaN()}))
	assert.InDelta(t, 1.0, pb.priorities[0], 1e-9)
}

func TestPrioritized_RankOrderRecomputedAfterUpdate(t *testing.T) {
	pb := newRank(t, 8, PrioritizedConfig{Alpha: 1.0, Seed: 1})
	for i := 0; i < 4; i++ {
		require.NoError(t, pb.Add(single(float64(i))))
	}

	require.NoError(t, pb.UpdatePriorities([]int{0, 1, 2, 3}, []float64{1, 4, 2, 3}))
	_, err := pb.Sample(4)
	require.NoError(t, err)
	assert.False(t, pb.dirty)
	assert.Equal(t, []int{1, 3, 2, 0}, pb.sorted)

	// A priority write invalidates the cached order; the next sample
	// rebuilds it.
	require.NoError(t, pb.UpdatePriorities([]int{0}, []float64{10}))
	assert.True(t, pb.dirty)
	_, err = pb.Sample(4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3, 2}, pb.sorted)
}

func TestPrioritized_PriorityFloorKeepsSlotSampleable(t *testing.T) {
	pb := newProportional(t, 4, PrioritizedConfig{Alpha: 1.0, Epsilon: 1e-6, Seed: 1})
	require.NoError(t, pb.Add(single(0)))

	// A zero TD error must not zero out the sampling probability.
	require.NoError(t, pb.UpdatePriorities([]int{0}, []float64{0}))
	assert.Greater(t, pb.tree.Total(), 0.0)
}

func TestPrioritized_ResetRestoresBeta(t *testing.T) {
	pb := newProportional(t, 8, PrioritizedConfig{BetaStart: 0.4, BetaIters: 100, Seed: 1})
	require.NoError(t, pb.Add(single(0)))
	pb.UpdateBeta(100)
	require.InDelta(t, 1.0, pb.Beta(), 1e-9)

	pb.Reset()
	assert.InDelta(t, 0.4, pb.Beta(), 1e-9)
	assert.Zero(t, pb.Len())
	assert.Zero(t, pb.tree.Total())
}

func TestPrioritized_CloneIsEmptyWithSameConfig(t *testing.T) {
	pb := newRank(t, 8, PrioritizedConfig{Alpha: 0.7, BetaStart: 0.5, BetaIters: 10, Epsilon: 1e-5, Seed: 1})
	require.NoError(t, pb.Add(single(1)))

	clone, err := pb.Clone()
	require.NoError(t, err)
	assert.Zero(t, clone.Len())
	assert.Equal(t, pb.Config(), clone.Config())
}

func TestPrioritized_ConfigRoundTrip(t *testing.T) {
	pb := newProportional(t, 64, PrioritizedConfig{
		Alpha: 0.7, BetaStart: 0.5, BetaIters: 500, Epsilon: 1e-5, Seed: 1,
	})

	rebuilt, err := FromConfig(testEnv(), pb.Config(), 2, testLogger())
	require.NoError(t, err)
	assert.Equal(t, pb.Config(), rebuilt.Config())
	assert.Zero(t, rebuilt.Len())
}
