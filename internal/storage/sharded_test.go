package storage

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillShard gives shard i recognizable state values in the base*100 range.
func fillShard(t *testing.T, buffer *ShardedBuffer, shard, count int) {
	t.Helper()
	base := float32((shard + 1) * 100)
	for i := 0; i < count; i++ {
		f := base + float32(i)
		err := buffer.AppendShard(shard, []float32{f}, []float32{f, 0.99, f})
		require.NoError(t, err)
	}
}

func TestShardedBuffer_SampleSplitsEvenly(t *testing.T) {
	buffer, err := NewShardedBuffer(testConfig(8), 2)
	require.NoError(t, err)
	fillShard(t, buffer, 0, 4)
	fillShard(t, buffer, 1, 4)

	batch, err := buffer.Sample(4)
	require.NoError(t, err)
	require.Equal(t, 4, batch.Len())

	// Shard order is preserved: the first half of every field comes from
	// shard 0, the second half from shard 1.
	for i := 0; i < 2; i++ {
		assert.GreaterOrEqual(t, batch.States[i], float32(100))
		assert.Less(t, batch.States[i], float32(200))
	}
	for i := 2; i < 4; i++ {
		assert.GreaterOrEqual(t, batch.States[i], float32(200))
		assert.Less(t, batch.States[i], float32(300))
	}
	for _, slot := range batch.Indices {
		assert.GreaterOrEqual(t, slot, 0)
		assert.Less(t, slot, 4, "indices are shard-relative")
	}
	assert.Nil(t, batch.Weights)

	_, err = buffer.Sample(3)
	assert.ErrorIs(t, err, ErrIndivisibleBatch)
}

func TestShardedBuffer_FeedbackRouting(t *testing.T) {
	cfg := testConfig(8)
	cfg.Prioritized = true
	buffer, err := NewShardedBuffer(cfg, 2)
	require.NoError(t, err)
	fillShard(t, buffer, 0, 3)
	fillShard(t, buffer, 1, 3)

	batch, err := buffer.Sample(2)
	require.NoError(t, err)
	require.Len(t, batch.Indices, 2)
	require.Len(t, batch.Weights, 2)

	// Chunk 0 of the feedback lands on shard 0, chunk 1 on shard 1.
	require.NoError(t, buffer.RecordFeedback(batch.Indices, []float32{5, 0.1}))

	high := math.Pow(5+priorityEpsilon, defaultAlpha)
	low := math.Pow(0.1+priorityEpsilon, defaultAlpha)
	stats := buffer.Stats()
	assert.InDelta(t, 2*seedPriority+high, stats[0].PriorityMass, 1e-9)
	assert.InDelta(t, 2*seedPriority+low, stats[1].PriorityMass, 1e-9)
}

func TestShardedBuffer_FeedbackValidation(t *testing.T) {
	cfg := testConfig(8)
	cfg.Prioritized = true
	buffer, err := NewShardedBuffer(cfg, 2)
	require.NoError(t, err)
	fillShard(t, buffer, 0, 2)
	fillShard(t, buffer, 1, 2)

	err = buffer.RecordFeedback([]int{0, 1}, []float32{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched lengths")

	err = buffer.RecordFeedback([]int{0, 1, 0}, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrIndivisibleBatch)

	// Uniform buffers ignore feedback entirely.
	uniform, err := NewShardedBuffer(testConfig(8), 2)
	require.NoError(t, err)
	assert.NoError(t, uniform.RecordFeedback([]int{0}, []float32{1, 2}))
}

func TestShardedBuffer_ShardRouting(t *testing.T) {
	buffer, err := NewShardedBuffer(testConfig(8), 3)
	require.NoError(t, err)

	fillShard(t, buffer, 0, 2)
	require.NoError(t, buffer.ExtendShard(2, []float32{1, 2}, []float32{1, 0.99, 1, 2, 0.99, 2}))

	assert.Equal(t, 4, buffer.UpdateNowLen())
	stats := buffer.Stats()
	assert.Equal(t, 2, stats[0].Len)
	assert.Equal(t, 0, stats[1].Len)
	assert.Equal(t, 2, stats[2].Len)

	err = buffer.AppendShard(5, []float32{1}, []float32{1, 0.99, 1})
	assert.ErrorIs(t, err, ErrUnknownShard)
	_, err = buffer.Shard(-1)
	assert.ErrorIs(t, err, ErrUnknownShard)

	// Sampling with one shard still empty fails fast rather than padding.
	_, err = buffer.Sample(3)
	assert.ErrorIs(t, err, ErrEmptyBuffer)
}

func TestShardedBuffer_ConstructionValidation(t *testing.T) {
	_, err := NewShardedBuffer(testConfig(8), 0)
	assert.Error(t, err)

	_, err = NewShardedBuffer(Config{Capacity: 0, StateShape: []int{1}, ActionDim: 1}, 2)
	assert.Error(t, err)
}

func TestShardedBuffer_AllAndReset(t *testing.T) {
	buffer, err := NewShardedBuffer(testConfig(8), 2)
	require.NoError(t, err)
	fillShard(t, buffer, 0, 2)
	fillShard(t, buffer, 1, 3)

	all := buffer.All()
	require.Equal(t, 5, all.Len())
	assert.Equal(t, []float32{100, 101, 200, 201, 202}, all.States)

	buffer.Reset()
	assert.Equal(t, 0, buffer.UpdateNowLen())
	_, err = buffer.Sample(2)
	assert.ErrorIs(t, err, ErrEmptyBuffer)
}

func TestShardedBuffer_RestoreReplacesShards(t *testing.T) {
	cfg := testConfig(4)
	buffer, err := NewShardedBuffer(cfg, 2)
	require.NoError(t, err)
	fillShard(t, buffer, 0, 3)
	fillShard(t, buffer, 1, 2)

	// One artifact per shard.
	artifacts := make([]*bytes.Buffer, 2)
	for i := range artifacts {
		artifacts[i] = &bytes.Buffer{}
		shard, err := buffer.Shard(i)
		require.NoError(t, err)
		require.NoError(t, shard.Save(artifacts[i]))
	}

	restored, err := NewShardedBuffer(cfg, 2)
	require.NoError(t, err)
	scratch := make([]*TransitionStore, 2)
	for i := range scratch {
		store, err := NewTransitionStore(cfg)
		require.NoError(t, err)
		require.NoError(t, store.Load(artifacts[i]))
		scratch[i] = store
	}
	require.NoError(t, restored.Restore(scratch))

	assert.Equal(t, buffer.All(), restored.All())
	assert.Equal(t, 5, restored.UpdateNowLen())

	// Count and layout mismatches are rejected before any shard is touched.
	assert.Error(t, restored.Restore(scratch[:1]))

	otherCfg := cfg
	otherCfg.Capacity = 8
	misfit, err := NewTransitionStore(otherCfg)
	require.NoError(t, err)
	assert.Error(t, restored.Restore([]*TransitionStore{scratch[0], misfit}))
}
