package storage

import (
	"fmt"
)

// ShardedBuffer owns one TransitionStore per collection worker, all configured
// identically. Each shard keeps the single-producer append contract with its
// own worker; the coordinator only fans sampling out and feedback back in, and
// performs no cross-shard synchronization of its own.
type ShardedBuffer struct {
	cfg    Config
	shards []*TransitionStore
}

// NewShardedBuffer creates workerCount identically-configured shards. When a
// seed is fixed, each shard is offset from it so shards do not draw identical
// index sequences.
func NewShardedBuffer(cfg Config, workerCount int) (*ShardedBuffer, error) {
	if workerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workerCount)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shard config: %w", err)
	}
	shards := make([]*TransitionStore, workerCount)
	for i := range shards {
		shardCfg := cfg
		if shardCfg.Seed != 0 {
			shardCfg.Seed = cfg.Seed + int64(i)
		}
		store, err := NewTransitionStore(shardCfg)
		if err != nil {
			return nil, err
		}
		shards[i] = store
	}
	return &ShardedBuffer{cfg: cfg, shards: shards}, nil
}

// ShardCount returns the number of shards.
func (b *ShardedBuffer) ShardCount() int {
	return len(b.shards)
}

// Shard returns the store owned by worker i.
func (b *ShardedBuffer) Shard(i int) (*TransitionStore, error) {
	if i < 0 || i >= len(b.shards) {
		return nil, fmt.Errorf("%w: shard %d of %d", ErrUnknownShard, i, len(b.shards))
	}
	return b.shards[i], nil
}

// AppendShard routes one transition to worker i's store.
func (b *ShardedBuffer) AppendShard(i int, state, other []float32) error {
	shard, err := b.Shard(i)
	if err != nil {
		return err
	}
	return shard.Append(state, other)
}

// ExtendShard routes a batch of transitions to worker i's store.
func (b *ShardedBuffer) ExtendShard(i int, states, others []float32) error {
	shard, err := b.Shard(i)
	if err != nil {
		return err
	}
	return shard.Extend(states, others)
}

// Sample draws batchSize/shardCount transitions from every shard and
// concatenates each field in shard order. The batch size must divide evenly;
// an indivisible request fails instead of producing a lopsided batch.
//
// Returned indices are shard-relative. Feedback routing relies on the caller
// preserving this order between Sample and RecordFeedback; reordering silently
// mis-attributes priorities.
func (b *ShardedBuffer) Sample(batchSize int) (*Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if batchSize%len(b.shards) != 0 {
		return nil, fmt.Errorf("%w: batch size %d across %d shards", ErrIndivisibleBatch, batchSize, len(b.shards))
	}
	sub := batchSize / len(b.shards)

	stateDim := b.cfg.StateDim()
	out := &Batch{
		Rewards:    make([]float32, 0, batchSize),
		Masks:      make([]float32, 0, batchSize),
		Actions:    make([]float32, 0, batchSize*b.cfg.ActionDim),
		States:     make([]float32, 0, batchSize*stateDim),
		NextStates: make([]float32, 0, batchSize*stateDim),
		Indices:    make([]int, 0, batchSize),
	}
	if b.cfg.Prioritized {
		out.Weights = make([]float32, 0, batchSize)
	}
	for _, shard := range b.shards {
		part, err := shard.Sample(sub)
		if err != nil {
			return nil, err
		}
		out.Rewards = append(out.Rewards, part.Rewards...)
		out.Masks = append(out.Masks, part.Masks...)
		out.Actions = append(out.Actions, part.Actions...)
		out.States = append(out.States, part.States...)
		out.NextStates = append(out.NextStates, part.NextStates...)
		out.Indices = append(out.Indices, part.Indices...)
		if part.Weights != nil {
			out.Weights = append(out.Weights, part.Weights...)
		}
	}
	return out, nil
}

// RecordFeedback splits a concatenated batch of scores back into equal chunks
// in sampling order and routes chunk i to shard i. A no-op when priority
// sampling is disabled.
func (b *ShardedBuffer) RecordFeedback(slotIDs []int, scores []float32) error {
	if !b.cfg.Prioritized {
		return nil
	}
	if len(slotIDs) != len(scores) {
		return fmt.Errorf("mismatched lengths: %d slot IDs vs %d scores", len(slotIDs), len(scores))
	}
	if len(slotIDs)%len(b.shards) != 0 {
		return fmt.Errorf("%w: feedback length %d across %d shards", ErrIndivisibleBatch, len(slotIDs), len(b.shards))
	}
	chunk := len(slotIDs) / len(b.shards)
	for i, shard := range b.shards {
		lo := i * chunk
		if err := shard.RecordFeedback(slotIDs[lo:lo+chunk], scores[lo:lo+chunk]); err != nil {
			return fmt.Errorf("shard %d: %w", i, err)
		}
	}
	return nil
}

// UpdateNowLen refreshes every shard's usable length and returns the sum.
func (b *ShardedBuffer) UpdateNowLen() int {
	total := 0
	for _, shard := range b.shards {
		total += shard.UpdateNowLen()
	}
	return total
}

// Len returns the summed usable length across shards.
func (b *ShardedBuffer) Len() int {
	total := 0
	for _, shard := range b.shards {
		total += shard.Len()
	}
	return total
}

// All concatenates every shard's valid transitions in shard order.
func (b *ShardedBuffer) All() *Batch {
	out := &Batch{}
	for _, shard := range b.shards {
		part := shard.All()
		out.Rewards = append(out.Rewards, part.Rewards...)
		out.Masks = append(out.Masks, part.Masks...)
		out.Actions = append(out.Actions, part.Actions...)
		out.States = append(out.States, part.States...)
	}
	return out
}

// Reset empties every shard.
func (b *ShardedBuffer) Reset() {
	for _, shard := range b.shards {
		shard.Reset()
	}
}

// Stats reports per-shard statistics in shard order.
func (b *ShardedBuffer) Stats() []Stats {
	stats := make([]Stats, len(b.shards))
	for i, shard := range b.shards {
		stats[i] = shard.Stats()
	}
	return stats
}

// Restore replaces every shard with stores decoded from persisted artifacts.
// The swap is all-or-nothing: the replacements are validated for count and
// layout before any live shard is touched.
func (b *ShardedBuffer) Restore(stores []*TransitionStore) error {
	if len(stores) != len(b.shards) {
		return fmt.Errorf("restore needs %d stores, got %d", len(b.shards), len(stores))
	}
	for i, store := range stores {
		if store == nil {
			return fmt.Errorf("restore store %d is nil", i)
		}
		if !sameLayout(store.cfg, b.cfg) {
			return fmt.Errorf("restore store %d layout does not match buffer config", i)
		}
	}
	copy(b.shards, stores)
	return nil
}
