package storage

import (
	"fmt"
	"math/rand"
	"time"
)

// Config holds the construction parameters of a single store. Placement is an
// opaque tag describing where the buffers notionally live; it is fixed at
// construction and never interpreted by the store itself.
type Config struct {
	Capacity    int
	StateShape  []int
	ActionDim   int
	Prioritized bool
	Placement   string
	// Seed fixes the sampling RNG for reproducible runs; 0 means seed from the
	// clock.
	Seed int64
}

// StateDim returns the flattened state width.
func (c Config) StateDim() int {
	dim := 1
	for _, d := range c.StateShape {
		dim *= d
	}
	return dim
}

// OtherDim returns the width of the "other" record: reward, mask, action.
func (c Config) OtherDim() int {
	return 2 + c.ActionDim
}

// Validate checks the configuration. Invalid values are fatal at construction,
// never silently corrected.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if len(c.StateShape) == 0 {
		return fmt.Errorf("state shape is required")
	}
	for _, d := range c.StateShape {
		if d <= 0 {
			return fmt.Errorf("state shape dims must be positive, got %v", c.StateShape)
		}
	}
	if c.ActionDim <= 0 {
		return fmt.Errorf("action dim must be positive, got %d", c.ActionDim)
	}
	return nil
}

// sameLayout reports whether two configs describe interchangeable stores.
func sameLayout(a, b Config) bool {
	return a.Capacity == b.Capacity &&
		a.StateDim() == b.StateDim() &&
		a.ActionDim == b.ActionDim &&
		a.Prioritized == b.Prioritized
}

// Batch is one sampled batch in columnar layout: row i of a field lives at
// [i*dim, (i+1)*dim). NextStates pairs row i with the transition written
// immediately after it. Weights is nil unless priority sampling is enabled,
// and Indices carries the slot ids needed to route feedback back to the tree.
type Batch struct {
	Rewards    []float32 `json:"rewards"`
	Masks      []float32 `json:"masks"`
	Actions    []float32 `json:"actions"`
	States     []float32 `json:"states"`
	NextStates []float32 `json:"next_states,omitempty"`
	Indices    []int     `json:"indices,omitempty"`
	Weights    []float32 `json:"weights,omitempty"`
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	return len(b.Rewards)
}

// Stats is a point-in-time snapshot of one store.
type Stats struct {
	Len          int     `json:"len"`
	Capacity     int     `json:"capacity"`
	Full         bool    `json:"full"`
	Prioritized  bool    `json:"prioritized"`
	Placement    string  `json:"placement"`
	PriorityMass float64 `json:"priority_mass,omitempty"`
	MaxPriority  float64 `json:"max_priority,omitempty"`
	Beta         float64 `json:"beta,omitempty"`
}

// TransitionStore is a fixed-capacity circular store of transitions backed by
// two flat arenas: states of capacity*stateDim floats and "other" records of
// capacity*(2+actionDim) floats, where an other row is [reward, mask,
// action...]. Once the write cursor wraps, each append evicts the
// logically-oldest slot.
//
// The store assumes a single producer appending in trajectory order and no
// sampling concurrent with writes; callers interleave append and sample phases
// and serialize externally. That ordering is what makes "next state of slot i
// is slot (i+1) mod length" hold.
type TransitionStore struct {
	cfg       Config
	capacity  int
	stateDim  int
	actionDim int
	otherDim  int

	states []float32
	other  []float32

	cursor int
	isFull bool
	nowLen int

	tree *SumTree
	rng  *rand.Rand
}

// NewTransitionStore creates an empty store at the configured capacity.
func NewTransitionStore(cfg Config) (*TransitionStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	s := &TransitionStore{
		cfg:       cfg,
		capacity:  cfg.Capacity,
		stateDim:  cfg.StateDim(),
		actionDim: cfg.ActionDim,
		otherDim:  cfg.OtherDim(),
		states:    make([]float32, cfg.Capacity*cfg.StateDim()),
		other:     make([]float32, cfg.Capacity*cfg.OtherDim()),
		rng:       rng,
	}
	if cfg.Prioritized {
		s.tree = NewSumTree(cfg.Capacity, rng)
	}
	return s, nil
}

// Append writes one transition at the cursor and advances it, evicting the
// oldest slot once the store is full. With priority sampling enabled the new
// slot is seeded at the running maximum priority.
func (s *TransitionStore) Append(state, other []float32) error {
	if len(state) != s.stateDim {
		return fmt.Errorf("state length %d does not match state dim %d", len(state), s.stateDim)
	}
	if len(other) != s.otherDim {
		return fmt.Errorf("other length %d does not match other dim %d", len(other), s.otherDim)
	}

	copy(s.states[s.cursor*s.stateDim:(s.cursor+1)*s.stateDim], state)
	copy(s.other[s.cursor*s.otherDim:(s.cursor+1)*s.otherDim], other)
	if s.tree != nil {
		s.tree.Update(s.cursor, s.tree.MaxPriority())
	}

	s.cursor++
	if s.cursor >= s.capacity {
		s.cursor = 0
		s.isFull = true
	}
	return nil
}

// Extend writes a batch of transitions arriving in trajectory order, splitting
// across the wraparound boundary when the batch does not fit before the end of
// the arena. The result is identical to appending the rows one at a time.
func (s *TransitionStore) Extend(states, others []float32) error {
	if len(states)%s.stateDim != 0 {
		return fmt.Errorf("states length %d is not a multiple of state dim %d", len(states), s.stateDim)
	}
	k := len(states) / s.stateDim
	if len(others) != k*s.otherDim {
		return fmt.Errorf("mismatched lengths: %d state rows vs %d other values", k, len(others))
	}
	if k == 0 {
		return nil
	}

	// A batch larger than the capacity only keeps its newest rows; skipping the
	// doomed rows and moving the cursor as if they were written keeps the final
	// layout identical to k sequential appends.
	if k > s.capacity {
		drop := k - s.capacity
		states = states[drop*s.stateDim:]
		others = others[drop*s.otherDim:]
		s.cursor = (s.cursor + drop) % s.capacity
		s.isFull = true
		k = s.capacity
	}

	start := s.cursor
	if s.cursor+k <= s.capacity {
		copy(s.states[s.cursor*s.stateDim:], states)
		copy(s.other[s.cursor*s.otherDim:], others)
		if s.cursor+k == s.capacity {
			s.isFull = true
		}
		s.cursor = (s.cursor + k) % s.capacity
	} else {
		tail := s.capacity - s.cursor
		copy(s.states[s.cursor*s.stateDim:], states[:tail*s.stateDim])
		copy(s.other[s.cursor*s.otherDim:], others[:tail*s.otherDim])
		copy(s.states, states[tail*s.stateDim:])
		copy(s.other, others[tail*s.otherDim:])
		s.isFull = true
		s.cursor = k - tail
	}

	if s.tree != nil {
		slots := make([]int, k)
		priorities := make([]float64, k)
		seed := s.tree.MaxPriority()
		for i := range slots {
			slots[i] = (start + i) % s.capacity
			priorities[i] = seed
		}
		s.tree.BatchUpdate(slots, priorities)
	}
	return nil
}

// UpdateNowLen refreshes the usable length after a producer finishes writing:
// the full capacity once the cursor has wrapped, otherwise the cursor itself.
// Sampling runs it automatically so a partially-filled store never draws from
// unwritten slots.
func (s *TransitionStore) UpdateNowLen() int {
	if s.isFull {
		s.nowLen = s.capacity
	} else {
		s.nowLen = s.cursor
	}
	return s.nowLen
}

// Len returns the usable length as of the last UpdateNowLen.
func (s *TransitionStore) Len() int {
	return s.nowLen
}

// Capacity returns the configured slot count.
func (s *TransitionStore) Capacity() int {
	return s.capacity
}

// Full reports whether the cursor has wrapped at least once.
func (s *TransitionStore) Full() bool {
	return s.isFull
}

// Placement returns the opaque placement tag the store was created with.
func (s *TransitionStore) Placement() string {
	return s.cfg.Placement
}

// Sample draws batchSize transitions with replacement. Without priority
// sampling the draw is uniform over the valid slots; with it, slot selection
// is delegated to the sum tree and the batch carries importance weights.
func (s *TransitionStore) Sample(batchSize int) (*Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	n := s.UpdateNowLen()
	if n == 0 {
		return nil, ErrEmptyBuffer
	}

	var (
		indices []int
		weights []float64
	)
	if s.tree != nil {
		indices, weights = s.tree.Sample(batchSize, 0, n)
	} else {
		indices = make([]int, batchSize)
		for i := range indices {
			indices[i] = s.rng.Intn(n)
		}
	}
	return s.gather(indices, weights, n), nil
}

func (s *TransitionStore) gather(indices []int, weights []float64, n int) *Batch {
	k := len(indices)
	b := &Batch{
		Rewards:    make([]float32, k),
		Masks:      make([]float32, k),
		Actions:    make([]float32, k*s.actionDim),
		States:     make([]float32, k*s.stateDim),
		NextStates: make([]float32, k*s.stateDim),
		Indices:    append([]int(nil), indices...),
	}
	for i, slot := range indices {
		row := slot * s.otherDim
		b.Rewards[i] = s.other[row]
		b.Masks[i] = s.other[row+1]
		copy(b.Actions[i*s.actionDim:(i+1)*s.actionDim], s.other[row+2:row+s.otherDim])
		copy(b.States[i*s.stateDim:(i+1)*s.stateDim], s.states[slot*s.stateDim:(slot+1)*s.stateDim])
		next := (slot + 1) % n
		copy(b.NextStates[i*s.stateDim:(i+1)*s.stateDim], s.states[next*s.stateDim:(next+1)*s.stateDim])
	}
	if weights != nil {
		b.Weights = make([]float32, k)
		for i, w := range weights {
			b.Weights[i] = float32(w)
		}
	}
	return b
}

// All returns every valid transition in slot order, without next-states or
// weights. On-policy consumers drain the store this way before resetting it.
func (s *TransitionStore) All() *Batch {
	n := s.UpdateNowLen()
	b := &Batch{
		Rewards: make([]float32, n),
		Masks:   make([]float32, n),
		Actions: make([]float32, n*s.actionDim),
		States:  make([]float32, n*s.stateDim),
	}
	for slot := 0; slot < n; slot++ {
		row := slot * s.otherDim
		b.Rewards[slot] = s.other[row]
		b.Masks[slot] = s.other[row+1]
		copy(b.Actions[slot*s.actionDim:(slot+1)*s.actionDim], s.other[row+2:row+s.otherDim])
		copy(b.States[slot*s.stateDim:(slot+1)*s.stateDim], s.states[slot*s.stateDim:(slot+1)*s.stateDim])
	}
	return b
}

// RecordFeedback converts raw per-sample scores into priorities and writes
// them back to the slots of the most recent sample. A no-op when priority
// sampling is disabled.
func (s *TransitionStore) RecordFeedback(slotIDs []int, scores []float32) error {
	if s.tree == nil {
		return nil
	}
	if len(slotIDs) != len(scores) {
		return fmt.Errorf("mismatched lengths: %d slot IDs vs %d scores", len(slotIDs), len(scores))
	}
	for _, id := range slotIDs {
		if id < 0 || id >= s.capacity {
			return fmt.Errorf("slot id %d out of range [0,%d)", id, s.capacity)
		}
	}
	priorities := make([]float64, len(scores))
	for i, score := range scores {
		priorities[i] = s.tree.ScoreToPriority(float64(score))
	}
	s.tree.BatchUpdate(slotIDs, priorities)
	return nil
}

// Reset empties the store for a fresh collection round. The tree is rebuilt
// rather than kept, since stale mass on evicted slots would skew sampling.
func (s *TransitionStore) Reset() {
	s.cursor = 0
	s.isFull = false
	s.nowLen = 0
	if s.tree != nil {
		s.tree = NewSumTree(s.capacity, s.rng)
	}
}

// Stats reports the store's current occupancy and priority state.
func (s *TransitionStore) Stats() Stats {
	st := Stats{
		Len:         s.UpdateNowLen(),
		Capacity:    s.capacity,
		Full:        s.isFull,
		Prioritized: s.tree != nil,
		Placement:   s.cfg.Placement,
	}
	if s.tree != nil {
		st.PriorityMass = s.tree.Total()
		st.MaxPriority = s.tree.MaxPriority()
		st.Beta = s.tree.Beta()
	}
	return st
}
