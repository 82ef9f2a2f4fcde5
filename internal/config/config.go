// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package config

import "time"

// Config is the root configuration for the replay server.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Engine  EngineConfig  `koanf:"engine"`
	Store   StoreConfig   `koanf:"store"`
	Catalog CatalogConfig `koanf:"catalog"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig controls the WebSocket gateway and HTTP sidecar listener.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// EngineConfig controls the Replay Engine's pacing and retention behavior.
type EngineConfig struct {
	// BatchInterval is the wall-clock tick period between dispatched batches.
	BatchInterval time.Duration `koanf:"batch_interval"`
	// BufferDuration is the amount of logical session time the Replay Session
	// keeps pre-fetched ahead of playback.
	BufferDuration time.Duration `koanf:"buffer_duration"`
	// BufferLowWatermark is validated to lie in (0,1) but is not read by the
	// Replay Engine, which schedules a refill once less than a fixed 10s of
	// buffered time remains regardless of this value.
	BufferLowWatermark float64 `koanf:"buffer_low_watermark"`
	// StateRetention is how long a DisconnectedState snapshot is kept before
	// being evicted.
	StateRetention time.Duration `koanf:"state_retention"`
	// Sessions is the static catalog of replayable sessions known at startup.
	Sessions []SessionDefinition `koanf:"sessions"`
}

// SessionDefinition is a single entry in the static session catalog.
type SessionDefinition struct {
	Key       string    `koanf:"key"`
	Name      string    `koanf:"name"`
	DateStart time.Time `koanf:"date_start"`
	DateEnd   time.Time `koanf:"date_end"`
}

// StoreConfig addresses the append-only stream store backing the Store Adapter.
type StoreConfig struct {
	// URL is the NATS server address the Store Adapter dials.
	URL string `koanf:"url"`
	// Embedded runs an in-process NATS server with JetStream enabled, rather
	// than dialing an external one.
	Embedded bool `koanf:"embedded"`
	// StoreDir is the JetStream file-store directory (embedded mode only).
	StoreDir string `koanf:"store_dir"`
	// MaxMemory and MaxStore bound the embedded JetStream account limits.
	MaxMemory int64 `koanf:"max_memory"`
	MaxStore  int64 `koanf:"max_store"`
	// ReadTimeout bounds a single range-read call to the store.
	ReadTimeout time.Duration `koanf:"read_timeout"`
	// CircuitBreaker tunes the breaker wrapping store reads.
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors the settings gobreaker.Settings exposes.
type CircuitBreakerConfig struct {
	Name             string        `koanf:"name"`
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// CatalogConfig addresses the Session Catalog's durable metadata store.
type CatalogConfig struct {
	// Path is the DuckDB database file backing the catalog.
	Path string `koanf:"path"`
	// RefreshInterval controls how often session location/car counts and
	// duration are best-effort refreshed from the store in the background.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// LoggingConfig controls the zerolog-based logging layer.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// MetricsConfig holds the metrics.enabled and metrics.path keys. They are
// loaded but not read: the HTTP router always serves Prometheus metrics
// at /metrics.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}
