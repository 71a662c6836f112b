package events

import "context"

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishBufferStatus(ctx context.Context, payload BufferStatusEvent) error
	PublishSnapshotStatus(ctx context.Context, payload SnapshotStatusEvent) error
}

// BufferStatusEvent is emitted whenever a shard's contents change, and by
// the health monitor when a shard's writer goes quiet.
type BufferStatusEvent struct {
	Shard       int     `json:"shard"`
	Len         int     `json:"len"`
	Capacity    int     `json:"capacity"`
	Full        bool    `json:"full"`
	Stale       bool    `json:"stale,omitempty"`
	IdleSeconds float64 `json:"idle_seconds,omitempty"`
}

// SnapshotStatusEvent tracks snapshot save/load outcomes.
type SnapshotStatusEvent struct {
	Op        string   `json:"op"`
	Artifacts []string `json:"artifacts,omitempty"`
	Len       int      `json:"len"`
	Error     string   `json:"error,omitempty"`
}

// NoopPublisher logs nothing; useful for tests.
type NoopPublisher struct{}

// PublishBufferStatus satisfies Publisher.
func (NoopPublisher) PublishBufferStatus(context.Context, BufferStatusEvent) error { return nil }

// PublishSnapshotStatus satisfies Publisher.
func (NoopPublisher) PublishSnapshotStatus(context.Context, SnapshotStatusEvent) error { return nil }
