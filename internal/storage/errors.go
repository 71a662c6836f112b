package storage

import "errors"

var (
	// ErrEmptyBuffer indicates sampling was requested before any transition was written.
	ErrEmptyBuffer = errors.New("empty buffer")
	// ErrIndivisibleBatch indicates a batch size that cannot be split evenly across shards.
	ErrIndivisibleBatch = errors.New("batch size not divisible by shard count")
	// ErrUnknownShard indicates a shard index outside the configured range.
	ErrUnknownShard = errors.New("unknown shard")
	// ErrCorruptArtifact indicates a persisted artifact failed validation during load.
	ErrCorruptArtifact = errors.New("corrupt artifact")
)
