package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartridge/experience/internal/events"
	"github.com/cartridge/experience/internal/metrics"
	"github.com/cartridge/experience/internal/snapshot"
	"github.com/cartridge/experience/internal/storage"
)

// ErrUnknownTicket is returned when feedback references a ticket that was
// never issued or has aged out of the ticket log.
var ErrUnknownTicket = errors.New("unknown ticket")

// ticketLimit bounds how many outstanding sample tickets are remembered.
const ticketLimit = 64

const artifactNameFormat = "shard-%04d"

// Replay bridges transport to the sharded buffer. The storage layer is
// single-writer by contract, so every operation here runs under one mutex.
type Replay struct {
	mu        sync.Mutex
	cfg       storage.Config
	buffer    *storage.ShardedBuffer
	snaps     snapshot.Store
	tickets   *ticketLog
	publisher events.Publisher
	lastWrite []time.Time
	logger    zerolog.Logger
}

// NewReplay constructs the service over a freshly allocated buffer. cfg
// describes a single shard; shards of them are created.
func NewReplay(cfg storage.Config, shards int, snaps snapshot.Store, publisher events.Publisher, logger zerolog.Logger) (*Replay, error) {
	buffer, err := storage.NewShardedBuffer(cfg, shards)
	if err != nil {
		return nil, err
	}
	return &Replay{
		cfg:       cfg,
		buffer:    buffer,
		snaps:     snaps,
		tickets:   newTicketLog(ticketLimit),
		publisher: publisher,
		lastWrite: make([]time.Time, shards),
		logger:    logger,
	}, nil
}

// ExtendResult reports the rows landed by one extend call.
type ExtendResult struct {
	Shard int `json:"shard"`
	Added int `json:"added"`
	Len   int `json:"len"`
}

// SampleResult pairs a batch with the ticket later feedback can reference.
// Ticket is empty for uniform buffers, which take no feedback.
type SampleResult struct {
	Ticket string         `json:"ticket,omitempty"`
	Batch  *storage.Batch `json:"batch"`
}

// FeedbackResult reports how many priorities were rewritten.
type FeedbackResult struct {
	Updated int `json:"updated"`
}

// StatsResult aggregates buffer statistics across shards.
type StatsResult struct {
	Len         int             `json:"len"`
	Capacity    int             `json:"capacity"`
	Prioritized bool            `json:"prioritized"`
	Shards      []storage.Stats `json:"shards"`
}

// SnapshotResult lists the artifacts touched by a save or load.
type SnapshotResult struct {
	Artifacts []string `json:"artifacts"`
	Len       int      `json:"len"`
}

// Extend lands a row-major batch of transitions on one shard.
func (s *Replay) Extend(ctx context.Context, shard int, states, others []float32) (ExtendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.buffer.ExtendShard(shard, states, others); err != nil {
		return ExtendResult{}, err
	}
	added := len(states) / s.cfg.StateDim()
	total := s.buffer.UpdateNowLen()
	s.lastWrite[shard] = time.Now()

	metrics.TransitionsAppended.WithLabelValues(strconv.Itoa(shard)).Add(float64(added))
	stats := s.buffer.Stats()
	s.observeShardGauges(stats)

	event := events.BufferStatusEvent{
		Shard:    shard,
		Len:      stats[shard].Len,
		Capacity: stats[shard].Capacity,
		Full:     stats[shard].Full,
	}
	if err := s.publisher.PublishBufferStatus(ctx, event); err != nil {
		s.logger.Error().Err(err).Int("shard", shard).Msg("failed to publish buffer status event")
	}

	s.logger.Debug().
		Int("shard", shard).
		Int("added", added).
		Int("len", total).
		Msg("transitions appended")

	return ExtendResult{Shard: shard, Added: added, Len: total}, nil
}

// Sample draws a batch spread evenly across shards. For prioritized buffers
// the result carries a ticket bound to the batch's slot ids.
func (s *Replay) Sample(ctx context.Context, batchSize int) (SampleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	batch, err := s.buffer.Sample(batchSize)
	if err != nil {
		return SampleResult{}, err
	}
	metrics.SampleDuration.Observe(time.Since(start).Seconds())

	mode := "uniform"
	result := SampleResult{Batch: batch}
	if s.cfg.Prioritized {
		mode = "prioritized"
		result.Ticket = uuid.New().String()
		s.tickets.put(result.Ticket, batch.Indices)
	}
	metrics.SamplesTotal.WithLabelValues(mode).Inc()

	s.logger.Debug().
		Int("batch_size", batchSize).
		Str("ticket", result.Ticket).
		Msg("batch sampled")

	return result, nil
}

// Feedback rewrites priorities for a sampled batch, addressed either by the
// ticket from Sample or by explicit slot ids. A ticket survives a malformed
// request and is consumed only once its feedback lands.
func (s *Replay) Feedback(ctx context.Context, ticket string, slotIDs []int, scores []float32) (FeedbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket != "" {
		ids, ok := s.tickets.get(ticket)
		if !ok {
			return FeedbackResult{}, fmt.Errorf("%w: %s", ErrUnknownTicket, ticket)
		}
		if len(scores) != len(ids) {
			return FeedbackResult{}, fmt.Errorf("mismatched lengths: %d slot IDs vs %d scores", len(ids), len(scores))
		}
		slotIDs = ids
	}

	if err := s.buffer.RecordFeedback(slotIDs, scores); err != nil {
		return FeedbackResult{}, err
	}
	if ticket != "" {
		s.tickets.drop(ticket)
	}

	updated := 0
	if s.cfg.Prioritized {
		updated = len(slotIDs)
		metrics.PriorityUpdates.Add(float64(updated))
		s.observeShardGauges(s.buffer.Stats())
	}

	s.logger.Debug().Int("updated", updated).Msg("priorities updated")
	return FeedbackResult{Updated: updated}, nil
}

// Stats reports aggregate and per-shard buffer statistics.
func (s *Replay) Stats(ctx context.Context) StatsResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	shards := s.buffer.Stats()
	result := StatsResult{Prioritized: s.cfg.Prioritized, Shards: shards}
	for _, st := range shards {
		result.Len += st.Len
		result.Capacity += st.Capacity
	}
	return result
}

// SnapshotSave persists every shard as one artifact in the snapshot store.
func (s *Replay) SnapshotSave(ctx context.Context) (SnapshotResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := SnapshotResult{Len: s.buffer.UpdateNowLen()}
	for i := 0; i < s.buffer.ShardCount(); i++ {
		name := fmt.Sprintf(artifactNameFormat, i)
		if err := s.saveShard(ctx, i, name); err != nil {
			metrics.SnapshotOps.WithLabelValues("save", "error").Inc()
			s.logger.Error().Err(err).Str("artifact", name).Msg("snapshot save failed")
			s.publishSnapshotStatus(ctx, "save", nil, 0, err)
			return SnapshotResult{}, err
		}
		result.Artifacts = append(result.Artifacts, name)
	}
	metrics.SnapshotOps.WithLabelValues("save", "success").Inc()
	s.publishSnapshotStatus(ctx, "save", result.Artifacts, result.Len, nil)

	s.logger.Info().
		Int("len", result.Len).
		Strs("artifacts", result.Artifacts).
		Msg("snapshot saved")

	return result, nil
}

func (s *Replay) saveShard(ctx context.Context, shard int, name string) error {
	store, err := s.buffer.Shard(shard)
	if err != nil {
		return err
	}
	w, err := s.snaps.Create(ctx, name)
	if err != nil {
		return err
	}
	if err := store.Save(w); err != nil {
		// Skip Close so a partial artifact is never published.
		return err
	}
	return w.Close()
}

// SnapshotLoad restores every shard from the snapshot store. The live buffer
// is replaced only after every artifact has decoded cleanly; any failure
// leaves the buffer as it was.
func (s *Replay) SnapshotLoad(ctx context.Context) (SnapshotResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.buffer.ShardCount()
	scratch := make([]*storage.TransitionStore, count)
	artifacts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf(artifactNameFormat, i)
		store, err := s.loadShard(ctx, name)
		if err != nil {
			metrics.SnapshotOps.WithLabelValues("load", "error").Inc()
			s.logger.Error().Err(err).Str("artifact", name).Msg("snapshot load failed")
			s.publishSnapshotStatus(ctx, "load", nil, 0, err)
			return SnapshotResult{}, err
		}
		scratch[i] = store
		artifacts = append(artifacts, name)
	}
	if err := s.buffer.Restore(scratch); err != nil {
		metrics.SnapshotOps.WithLabelValues("load", "error").Inc()
		s.publishSnapshotStatus(ctx, "load", nil, 0, err)
		return SnapshotResult{}, err
	}

	// Slot ids issued before the restore no longer name the same rows.
	s.tickets.reset()

	total := s.buffer.UpdateNowLen()
	metrics.SnapshotOps.WithLabelValues("load", "success").Inc()
	s.observeShardGauges(s.buffer.Stats())
	s.publishSnapshotStatus(ctx, "load", artifacts, total, nil)

	s.logger.Info().
		Int("len", total).
		Strs("artifacts", artifacts).
		Msg("snapshot loaded")

	return SnapshotResult{Artifacts: artifacts, Len: total}, nil
}

func (s *Replay) loadShard(ctx context.Context, name string) (*storage.TransitionStore, error) {
	r, err := s.snaps.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	store, err := storage.NewTransitionStore(s.cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Load(r); err != nil {
		return nil, err
	}
	return store, nil
}

// Snapshots lists the artifact names currently held by the snapshot store.
func (s *Replay) Snapshots(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snaps.List(ctx)
}

// ShardActivity returns the wall-clock time of each shard's last write; a
// zero time means the shard has never been written.
func (s *Replay) ShardActivity() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]time.Time, len(s.lastWrite))
	copy(out, s.lastWrite)
	return out
}

func (s *Replay) publishSnapshotStatus(ctx context.Context, op string, artifacts []string, n int, opErr error) {
	event := events.SnapshotStatusEvent{Op: op, Artifacts: artifacts, Len: n}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if err := s.publisher.PublishSnapshotStatus(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("failed to publish snapshot status event")
	}
}

// observeShardGauges refreshes the per-shard gauges; callers hold mu.
func (s *Replay) observeShardGauges(stats []storage.Stats) {
	for i, st := range stats {
		label := strconv.Itoa(i)
		metrics.BufferTransitions.WithLabelValues(label).Set(float64(st.Len))
		metrics.PriorityMass.WithLabelValues(label).Set(st.PriorityMass)
	}
}
