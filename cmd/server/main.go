package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartridge/experience/internal/config"
	"github.com/cartridge/experience/internal/events"
	"github.com/cartridge/experience/internal/health"
	httpServer "github.com/cartridge/experience/internal/http"
	"github.com/cartridge/experience/internal/service"
	"github.com/cartridge/experience/internal/snapshot"
	"github.com/cartridge/experience/internal/storage"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "experience",
	Short: "Cartridge Experience Replay Service",
	Long: `Experience replay service that buffers transitions from actors and
serves sampled batches to learners.

Transitions live in fixed-capacity ring shards. Sampling is uniform or
proportional to learner priority feedback, and the whole buffer can be
saved to and restored from a snapshot store.`,
	Run: runServer,
}

func init() {
	cfg = config.Default()

	// Server settings
	rootCmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	rootCmd.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")

	// Buffer layout
	rootCmd.Flags().IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "Total transition capacity across all shards")
	rootCmd.Flags().IntVar(&cfg.StateDim, "state-dim", cfg.StateDim, "Flattened state vector length")
	rootCmd.Flags().IntVar(&cfg.ActionDim, "action-dim", cfg.ActionDim, "Action vector length")
	rootCmd.Flags().IntVar(&cfg.Shards, "shards", cfg.Shards, "Number of writer shards")
	rootCmd.Flags().BoolVar(&cfg.Prioritized, "prioritized", cfg.Prioritized, "Enable prioritized sampling")
	rootCmd.Flags().StringVar(&cfg.Placement, "placement", cfg.Placement, "Opaque placement tag reported in stats")

	// Sampling
	rootCmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "RNG seed (0 seeds from the clock)")

	// Snapshots
	rootCmd.Flags().StringVar(&cfg.SnapshotBackend, "snapshot-backend", cfg.SnapshotBackend, "Snapshot backend (file, badger or postgres)")
	rootCmd.Flags().StringVar(&cfg.SnapshotDir, "snapshot-dir", cfg.SnapshotDir, "Snapshot directory or database path")
	rootCmd.Flags().StringVar(&cfg.SnapshotDSN, "snapshot-dsn", cfg.SnapshotDSN, "PostgreSQL DSN for the postgres backend")

	// Events
	rootCmd.Flags().StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL (empty disables event publishing)")
	rootCmd.Flags().StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "Base NATS subject for buffer events")

	// Health monitoring
	rootCmd.Flags().DurationVar(&cfg.CheckInterval, "check-interval", cfg.CheckInterval, "Shard health check interval (0 disables)")
	rootCmd.Flags().DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "Idle time before a shard writer counts as stale")

	// Logging
	rootCmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	// Bind flags to viper for environment variable support
	viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("REPLAY")
	viper.AutomaticEnv()
}

func runServer(cmd *cobra.Command, args []string) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	snaps, err := newSnapshotStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open snapshot store")
	}
	defer snaps.Close()

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		nc, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		publisher = nc
	}

	storageCfg := storage.Config{
		Capacity:    cfg.Capacity / cfg.Shards,
		StateShape:  []int{cfg.StateDim},
		ActionDim:   cfg.ActionDim,
		Prioritized: cfg.Prioritized,
		Placement:   cfg.Placement,
		Seed:        cfg.Seed,
	}
	svc, err := service.NewReplay(storageCfg, cfg.Shards, snaps, publisher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build replay buffer")
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	if cfg.CheckInterval > 0 {
		mon := health.NewMonitor(svc, publisher, health.Config{
			CheckInterval: cfg.CheckInterval,
			StaleAfter:    cfg.StaleAfter,
		}, logger)
		go mon.Start(monitorCtx)
	}

	h := httpServer.NewServer(svc, logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Int("shards", cfg.Shards).
			Int("capacity", cfg.Capacity).
			Bool("prioritized", cfg.Prioritized).
			Str("snapshot_backend", cfg.SnapshotBackend).
			Msg("replay HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	<-done
	logger.Info().Msg("replay server stopped")
}

func newSnapshotStore(cfg *config.Config) (snapshot.Store, error) {
	switch cfg.SnapshotBackend {
	case "badger":
		return snapshot.NewBadgerStore(cfg.SnapshotDir)
	case "postgres":
		return snapshot.NewPostgresStore(cfg.SnapshotDSN)
	default:
		return snapshot.NewFileStore(cfg.SnapshotDir)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
