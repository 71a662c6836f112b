package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/experience/internal/events"
	"github.com/cartridge/experience/internal/service"
	"github.com/cartridge/experience/internal/storage"
)

// Config holds health monitoring configuration
type Config struct {
	CheckInterval time.Duration
	StaleAfter    time.Duration
}

// Monitor runs background checks over shard write activity
type Monitor struct {
	svc       *service.Replay
	publisher events.Publisher
	config    Config
	logger    zerolog.Logger
	now       func() time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor(svc *service.Replay, publisher events.Publisher, config Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		svc:       svc,
		publisher: publisher,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Start begins the health monitoring loop
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("check_interval", m.config.CheckInterval).
		Dur("stale_after", m.config.StaleAfter).
		Msg("Starting health monitor")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Health monitor stopped")
			return
		case <-ticker.C:
			m.checkStaleWriters(ctx)
		}
	}
}

func (m *Monitor) checkStaleWriters(ctx context.Context) {
	now := m.now()
	activity := m.svc.ShardActivity()
	stats := m.svc.Stats(ctx)

	for shard, last := range activity {
		// A shard that has never been written is idle, not stale.
		if last.IsZero() {
			continue
		}
		idle := now.Sub(last)
		if idle < m.config.StaleAfter {
			continue
		}
		m.markStale(ctx, shard, stats.Shards[shard], last, idle)
	}
}

func (m *Monitor) markStale(ctx context.Context, shard int, st storage.Stats, last time.Time, idle time.Duration) {
	m.logger.Warn().
		Int("shard", shard).
		Time("last_write", last).
		Dur("idle", idle).
		Msg("Marking shard writer as stale")

	event := events.BufferStatusEvent{
		Shard:       shard,
		Len:         st.Len,
		Capacity:    st.Capacity,
		Full:        st.Full,
		Stale:       true,
		IdleSeconds: idle.Seconds(),
	}

	if err := m.publisher.PublishBufferStatus(ctx, event); err != nil {
		m.logger.Error().Err(err).Int("shard", shard).Msg("Failed to publish stale event")
	}
}
