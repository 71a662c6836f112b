package config

import (
	"fmt"
	"time"
)

// Config holds all replay server configuration
type Config struct {
	// HTTP server
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Buffer layout
	Capacity    int    `mapstructure:"capacity"`
	StateDim    int    `mapstructure:"state_dim"`
	ActionDim   int    `mapstructure:"action_dim"`
	Shards      int    `mapstructure:"shards"`
	Prioritized bool   `mapstructure:"prioritized"`
	Placement   string `mapstructure:"placement"`

	// Sampling
	Seed int64 `mapstructure:"seed"`

	// Snapshots
	SnapshotBackend string `mapstructure:"snapshot_backend"`
	SnapshotDir     string `mapstructure:"snapshot_dir"`
	SnapshotDSN     string `mapstructure:"snapshot_dsn"`

	// Events
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`

	// Health monitoring
	CheckInterval time.Duration `mapstructure:"check_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Addr:            ":8090",
		ShutdownTimeout: 30 * time.Second,
		Capacity:        1 << 20,
		StateDim:        4,
		ActionDim:       1,
		Shards:          1,
		Prioritized:     true,
		Placement:       "cpu",
		Seed:            0, // time-seeded
		SnapshotBackend: "file",
		SnapshotDir:     "snapshots",
		NATSSubject:     "experience.buffer",
		CheckInterval:   30 * time.Second,
		StaleAfter:      5 * time.Minute,
		LogLevel:        "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if c.StateDim <= 0 {
		return fmt.Errorf("state_dim must be positive")
	}
	if c.ActionDim <= 0 {
		return fmt.Errorf("action_dim must be positive")
	}
	if c.Shards <= 0 {
		return fmt.Errorf("shards must be positive")
	}
	if c.Capacity%c.Shards != 0 {
		return fmt.Errorf("capacity %d must divide evenly across %d shards", c.Capacity, c.Shards)
	}
	switch c.SnapshotBackend {
	case "file", "badger":
		if c.SnapshotDir == "" {
			return fmt.Errorf("snapshot_dir is required")
		}
	case "postgres":
		if c.SnapshotDSN == "" {
			return fmt.Errorf("snapshot_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("snapshot_backend must be file, badger or postgres, got %q", c.SnapshotBackend)
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats_subject is required when nats_url is set")
	}
	return nil
}
