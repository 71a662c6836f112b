package storage

import (
	"math"
	"math/rand"
)

const (
	// defaultAlpha controls how strongly sampling favors high-score transitions
	// (0 is uniform, 1 is fully proportional to the raw score).
	defaultAlpha = 0.6
	// defaultBeta is the starting importance-weight exponent; it anneals toward 1.
	defaultBeta = 0.4
	// betaStep is added to beta on every sample call until beta reaches 1.
	betaStep = 0.001
	// priorityEpsilon keeps every written slot samplable even after a zero score.
	priorityEpsilon = 1e-6
	// priorityCeiling clamps raw scores so a single outlier cannot dominate the mass.
	priorityCeiling = 10.0
	// seedPriority is the priority mass assigned to slots before any feedback arrives.
	seedPriority = 1.0
)

// SumTree is a complete binary tree over a fixed number of leaves, one per
// buffer slot, where each internal node caches the sum of its children and the
// root holds the total priority mass. It answers weighted-random slot draws in
// O(log capacity) without materializing a cumulative array.
//
// Backing storage is a flat array of 2*capacity-1 nodes with the leaves in the
// last capacity positions: leaf(slot) = slot + capacity - 1, parent(i) =
// (i-1)/2, children(i) = 2i+1 and 2i+2. The tree is exposed only through the
// update/query contract so the sum invariant cannot be broken from outside.
type SumTree struct {
	capacity int
	nodes    []float64
	// filled counts leaves that have ever received a priority; slots are written
	// in append order so this is the upper bound of the valid range.
	filled int
	// maxSeen is the running maximum priority; new slots are seeded with it so
	// fresh transitions sample at least as often as the best-known ones.
	maxSeen float64
	alpha   float64
	beta    float64
	rng     *rand.Rand
}

// NewSumTree creates an empty tree over capacity leaves. Capacity must be
// positive; the owning store validates this at construction.
func NewSumTree(capacity int, rng *rand.Rand) *SumTree {
	return &SumTree{
		capacity: capacity,
		nodes:    make([]float64, 2*capacity-1),
		maxSeen:  seedPriority,
		alpha:    defaultAlpha,
		beta:     defaultBeta,
		rng:      rng,
	}
}

// Update overwrites the priority of one slot and restores the sum invariant by
// propagating the delta through every ancestor up to the root.
func (t *SumTree) Update(slot int, priority float64) {
	if slot >= t.filled {
		t.filled = slot + 1
	}
	if priority > t.maxSeen {
		t.maxSeen = priority
	}
	idx := slot + t.capacity - 1
	delta := priority - t.nodes[idx]
	t.nodes[idx] = priority
	for idx != 0 {
		idx = (idx - 1) / 2
		t.nodes[idx] += delta
	}
}

// BatchUpdate overwrites the priorities of many slots at once, then recomputes
// the touched ancestors level by level instead of re-propagating per leaf. The
// result is identical to calling Update once per pair in any order.
func (t *SumTree) BatchUpdate(slots []int, priorities []float64) {
	if len(slots) == 0 {
		return
	}
	touched := make(map[int]struct{}, len(slots))
	for i, slot := range slots {
		p := priorities[i]
		if slot >= t.filled {
			t.filled = slot + 1
		}
		if p > t.maxSeen {
			t.maxSeen = p
		}
		idx := slot + t.capacity - 1
		t.nodes[idx] = p
		if idx > 0 {
			touched[(idx-1)/2] = struct{}{}
		}
	}
	// With 2*capacity-1 nodes every internal node has exactly two children, so
	// each pass can recompute a node from its children alone. A node whose
	// children span two levels is revisited until its children settle.
	for len(touched) > 0 {
		next := make(map[int]struct{}, len(touched))
		for idx := range touched {
			t.nodes[idx] = t.nodes[2*idx+1] + t.nodes[2*idx+2]
			if idx > 0 {
				next[(idx-1)/2] = struct{}{}
			}
		}
		touched = next
	}
}

// Query maps a draw v in [0, Total()) to a slot index by descending from the
// root: within the left child's mass go left, otherwise subtract it and go
// right. The returned slot satisfies the cumulative-mass contract: the mass of
// all leaves before it is <= v, and the mass including it is > v.
func (t *SumTree) Query(v float64) int {
	idx := 0
	for {
		left := 2*idx + 1
		if left >= len(t.nodes) {
			break
		}
		if v < t.nodes[left] {
			idx = left
		} else {
			v -= t.nodes[left]
			idx = left + 1
		}
	}
	return idx - (t.capacity - 1)
}

// Sample draws batchSize slots proportionally to their priority, restricted to
// [lo, hi), and returns them with importance-sampling weights. Draw i is taken
// uniformly from the i-th of batchSize equal strata of the total mass, so a
// batch can never collapse onto the zero end of the range. Weights are
// (priority / minimum valid priority)^(-beta) which puts the maximum weight at
// exactly 1; beta anneals by betaStep per call, capped at 1.
func (t *SumTree) Sample(batchSize, lo, hi int) ([]int, []float64) {
	t.beta = math.Min(1, t.beta+betaStep)

	stratum := t.nodes[0] / float64(batchSize)
	slots := make([]int, batchSize)
	for i := range slots {
		v := (t.rng.Float64() + float64(i)) * stratum
		slot := t.Query(v)
		// Floating-point drift in the descent can land one leaf outside the
		// valid range; clamp rather than sample an unwritten slot.
		if slot < lo {
			slot = lo
		}
		if slot >= hi {
			slot = hi - 1
		}
		slots[i] = slot
	}

	minValid := math.Inf(1)
	for slot := lo; slot < hi; slot++ {
		if p := t.nodes[slot+t.capacity-1]; p < minValid {
			minValid = p
		}
	}
	if !(minValid > 0) || math.IsInf(minValid, 1) {
		minValid = priorityEpsilon
	}

	weights := make([]float64, batchSize)
	for i, slot := range slots {
		w := math.Pow(t.nodes[slot+t.capacity-1]/minValid, -t.beta)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			w = 1
		}
		weights[i] = w
	}
	return slots, weights
}

// ScoreToPriority converts a raw training score (typically a td-error) into a
// tree priority: (|score| clamped to the ceiling, plus a small floor)^alpha.
// Non-finite scores are replaced by finite fallbacks instead of poisoning the
// mass.
func (t *SumTree) ScoreToPriority(raw float64) float64 {
	a := math.Abs(raw)
	if math.IsNaN(a) {
		a = 0
	}
	if a > priorityCeiling {
		a = priorityCeiling
	}
	return math.Pow(a+priorityEpsilon, t.alpha)
}

// Total returns the priority mass held at the root.
func (t *SumTree) Total() float64 {
	return t.nodes[0]
}

// MaxPriority returns the running maximum priority, used to seed new slots.
func (t *SumTree) MaxPriority() float64 {
	return t.maxSeen
}

// FilledLeaves returns how many leaves have ever received a priority.
func (t *SumTree) FilledLeaves() int {
	return t.filled
}

// Beta returns the current importance-weight exponent.
func (t *SumTree) Beta() float64 {
	return t.beta
}
