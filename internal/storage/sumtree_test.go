package storage

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(capacity int, seed int64) *SumTree {
	return NewSumTree(capacity, rand.New(rand.NewSource(seed)))
}

// leafSum recomputes the total mass directly from the leaves.
func leafSum(t *SumTree) float64 {
	sum := 0.0
	for slot := 0; slot < t.capacity; slot++ {
		sum += t.nodes[slot+t.capacity-1]
	}
	return sum
}

// checkSumInvariant verifies every internal node equals the sum of its children.
func checkSumInvariant(t *testing.T, tree *SumTree) {
	t.Helper()
	for idx := 0; idx < tree.capacity-1; idx++ {
		assert.InDelta(t, tree.nodes[2*idx+1]+tree.nodes[2*idx+2], tree.nodes[idx], 1e-9,
			"node %d does not equal the sum of its children", idx)
	}
}

func TestSumTree_UpdateMaintainsSums(t *testing.T) {
	tree := newTestTree(7, 1)

	updates := map[int]float64{0: 3, 2: 1.5, 3: 0.25, 6: 7, 1: 2}
	for slot, priority := range updates {
		tree.Update(slot, priority)
	}

	checkSumInvariant(t, tree)
	assert.InDelta(t, leafSum(tree), tree.Total(), 1e-9)

	// Overwriting a leaf adjusts the total by the delta, not by accumulation.
	tree.Update(6, 0.5)
	checkSumInvariant(t, tree)
	assert.InDelta(t, 3+1.5+0.25+0.5+2, tree.Total(), 1e-9)
}

func TestSumTree_BatchUpdateMatchesSequential(t *testing.T) {
	slots := []int{0, 5, 2, 9, 4, 7, 1}
	priorities := []float64{3, 1, 4, 1, 5, 9, 2.5}

	for _, capacity := range []int{10, 11, 16} {
		batched := newTestTree(capacity, 1)
		sequential := newTestTree(capacity, 1)

		batched.BatchUpdate(slots, priorities)
		for i, slot := range slots {
			sequential.Update(slot, priorities[i])
		}

		require.Len(t, batched.nodes, len(sequential.nodes))
		for idx := range batched.nodes {
			assert.InDelta(t, sequential.nodes[idx], batched.nodes[idx], 1e-9,
				"capacity %d node %d diverged", capacity, idx)
		}
		assert.Equal(t, sequential.FilledLeaves(), batched.FilledLeaves())
		assert.Equal(t, sequential.MaxPriority(), batched.MaxPriority())
	}
}

func TestSumTree_QueryCumulative(t *testing.T) {
	// Power-of-two capacity keeps the bottom row aligned with slot order, so
	// cumulative mass in slot order is exactly what Query walks.
	tree := newTestTree(8, 1)
	priorities := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	slots := []int{0, 1, 2, 3, 4, 5, 6, 7}
	tree.BatchUpdate(slots, priorities)

	cumulative := 0.0
	for slot, p := range priorities {
		// Draws at the lower boundary, mid-mass, and just under the upper
		// boundary must all land in this slot.
		assert.Equal(t, slot, tree.Query(cumulative))
		assert.Equal(t, slot, tree.Query(cumulative+p/2))
		assert.Equal(t, slot, tree.Query(cumulative+p-0.25))
		cumulative += p
	}
	assert.InDelta(t, cumulative, tree.Total(), 1e-9)
}

func TestSumTree_SeedPriorityTracksMax(t *testing.T) {
	tree := newTestTree(4, 1)
	assert.Equal(t, seedPriority, tree.MaxPriority())

	tree.Update(0, 2.5)
	assert.Equal(t, 2.5, tree.MaxPriority())

	// The running max survives the max leaf being overwritten; it seeds new
	// slots, so it must never shrink mid-run.
	tree.Update(0, 0.1)
	assert.Equal(t, 2.5, tree.MaxPriority())
}

func TestSumTree_SampleWeights(t *testing.T) {
	tree := newTestTree(8, 42)
	for slot := 0; slot < 6; slot++ {
		tree.Update(slot, seedPriority)
	}

	t.Run("EqualPrioritiesWeighOne", func(t *testing.T) {
		slots, weights := tree.Sample(4, 0, 6)
		require.Len(t, slots, 4)
		require.Len(t, weights, 4)
		for i, w := range weights {
			assert.InDelta(t, 1.0, w, 1e-9)
			assert.GreaterOrEqual(t, slots[i], 0)
			assert.Less(t, slots[i], 6)
		}
	})

	t.Run("MaxWeightIsOne", func(t *testing.T) {
		tree.Update(2, 4.0)
		_, weights := tree.Sample(100, 0, 6)

		maxWeight := 0.0
		for _, w := range weights {
			assert.LessOrEqual(t, w, 1.0+1e-9)
			if w > maxWeight {
				maxWeight = w
			}
		}
		assert.InDelta(t, 1.0, maxWeight, 1e-9)
	})
}

func TestSumTree_BetaAnneals(t *testing.T) {
	tree := newTestTree(4, 7)
	tree.Update(0, 1)
	tree.Update(1, 2)

	assert.InDelta(t, defaultBeta, tree.Beta(), 1e-9)
	tree.Sample(2, 0, 2)
	assert.InDelta(t, defaultBeta+betaStep, tree.Beta(), 1e-9)

	tree.beta = 0.9995
	tree.Sample(2, 0, 2)
	assert.Equal(t, 1.0, tree.Beta())

	tree.Sample(2, 0, 2)
	assert.Equal(t, 1.0, tree.Beta(), "beta must cap at 1")
}

func TestSumTree_ScoreToPriority(t *testing.T) {
	tree := newTestTree(4, 1)

	floor := math.Pow(priorityEpsilon, defaultAlpha)
	assert.InDelta(t, floor, tree.ScoreToPriority(0), 1e-12)

	// Sign is irrelevant; only the magnitude of the score matters.
	assert.Equal(t, tree.ScoreToPriority(2), tree.ScoreToPriority(-2))

	ceiling := math.Pow(priorityCeiling+priorityEpsilon, defaultAlpha)
	assert.InDelta(t, ceiling, tree.ScoreToPriority(1e9), 1e-12)

	// Non-finite scores fall back to finite priorities.
	assert.InDelta(t, floor, tree.ScoreToPriority(math.NaN()), 1e-12)
	assert.InDelta(t, ceiling, tree.ScoreToPriority(math.Inf(1)), 1e-12)
	assert.InDelta(t, ceiling, tree.ScoreToPriority(math.Inf(-1)), 1e-12)
}

func TestSumTree_UniformWhenAlphaZero(t *testing.T) {
	tree := newTestTree(16, 99)
	tree.alpha = 0

	scores := []float64{0.01, 12, 3, 0.5, 100, 7, 0.2, 1}
	for slot, score := range scores {
		tree.Update(slot, tree.ScoreToPriority(score))
	}

	iterations := 800
	counts := make([]int, 8)
	for i := 0; i < iterations; i++ {
		slots, _ := tree.Sample(5, 0, 8)
		for _, slot := range slots {
			counts[slot]++
		}
	}

	// Chi-square goodness of fit against uniform; 24.32 is the 0.001 critical
	// value at 7 degrees of freedom.
	expected := float64(iterations*5) / 8
	statistic := 0.0
	for _, c := range counts {
		diff := float64(c) - expected
		statistic += diff * diff / expected
	}
	assert.Less(t, statistic, 24.32, "alpha=0 sampling deviates from uniform: counts %v", counts)
}

func TestSumTree_ProportionalSampling(t *testing.T) {
	tree := newTestTree(4, 123)
	priorities := []float64{0.1, 1.0, 2.4}
	for slot, p := range priorities {
		tree.Update(slot, p)
	}

	iterations := 2000
	counts := make([]int, 3)
	for i := 0; i < iterations; i++ {
		slots, _ := tree.Sample(1, 0, 3)
		counts[slots[0]]++
	}

	total := 0.1 + 1.0 + 2.4
	tolerance := float64(iterations) * 0.05
	for slot, p := range priorities {
		expected := float64(iterations) * p / total
		assert.InDeltaf(t, expected, float64(counts[slot]), tolerance,
			"unexpected sampling frequency for slot %d", slot)
	}
}
