// Package sumtree implements a fixed-capacity binary sum tree over leaf
// priorities, used for proportional prioritized sampling. Point updates
// and cumulative-priority retrieval are both O(log capacity).
package sumtree

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Tree stores capacity leaf priorities plus their partial sums in a
// flat arena of 2*capacity-1 nodes. Leaves occupy the index range
// [capacity-1, 2*capacity-2]; leaf i maps to data index i-capacity+1.
// Every internal node holds the sum of its two children.
type Tree struct {
	capacity    int
	nodes       []float64
	maxPriority float64
	logger      zerolog.Logger
}

// New creates a tree with the given leaf capacity.
func New(capacity int, logger zerolog.Logger) (*Tree, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("sumtree: capacity must be positive, got %d", capacity)
	}
	return &Tree{
		capacity: capacity,
		nodes:    make([]float64, 2*capacity-1),
		logger:   logger,
	}, nil
}

// Capacity returns the number of leaves.
func (t *Tree) Capacity() int { return t.capacity }

// Total returns the sum of all leaf priorities, stored at the root.
func (t *Tree) Total() float64 { return t.nodes[0] }

// MaxPriority returns the largest priority ever written. It never
// decreases, even when the corresponding leaf is later overwritten.
func (t *Tree) MaxPriority() float64 { return t.maxPriority }

// Update sets the leaves for the given data indices to the given
// priorities and propagates the deltas to every ancestor. When several
// indices in one batch share an ancestor, that ancestor's total delta
// is applied once. NaN priorities are replaced with 1.0 and reported at
// warning level; a transient NaN from an unstable upstream loss must
// not halt training.
func (t *Tree) Update(dataIndices []int, priorities []float64) error {
	if len(dataIndices) != len(priorities) {
		return fmt.Errorf("sumtree: got %d indices but %d priorities", len(dataIndices), len(priorities))
	}
	for _, idx := range dataIndices {
		if idx < 0 || idx >= t.capacity {
			return fmt.Errorf("sumtree: data index %d out of range [0, %d)", idx, t.capacity)
		}
	}

	sanitized := 0
	deltas := make(map[int]float64, len(dataIndices))
	for i, idx := range dataIndices {
		p := priorities[i]
		if math.IsNaN(p) {
			p = 1.0
			sanitized++
		}
		leaf := idx + t.capacity - 1
		delta := p - t.nodes[leaf]
		t.nodes[leaf] = p
		if p > t.maxPriority {
			t.maxPriority = p
		}
		// Accumulate per-ancestor so shared ancestors are touched
		// exactly once per batch.
		for node := leaf; node > 0; {
			node = (node - 1) / 2
			deltas[node] += delta
		}
	}
	for node, d := range deltas {
		t.nodes[node] += d
	}

	if sanitized > 0 {
		t.logger.Warn().
			Int("count", sanitized).
			Msg("NaN priorities in sum tree update, replaced with 1.0")
	}
	return nil
}

// Get resolves a cumulative-priority value p in [0, Total()) to the
// leaf covering it: inverse-CDF sampling over the priority
// distribution. It returns the leaf's data index and stored priority.
// Results are undefined on an empty tree (Total() == 0); callers must
// not sample before any priority has been set.
func (t *Tree) Get(p float64) (int, float64) {
	idx := 0
	for {
		left := 2*idx + 1
		if left >= len(t.nodes) {
			break
		}
		if p <= t.nodes[left] {
			idx = left
		} else {
			p -= t.nodes[left]
			idx = left + 1
		}
	}
	return idx - t.capacity + 1, t.nodes[idx]
}

// Reset zeroes every node and the running max priority.
func (t *Tree) Reset() {
	for i := range t.nodes {
		t.nodes[i] = 0
	}
	t.maxPriority = 0
}
