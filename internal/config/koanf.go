// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a config file is searched for, in
// priority order. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/replay-server/config.yaml",
	"/etc/replay-server/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults, applied before the config
// file and environment variable layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8420,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Engine: EngineConfig{
			BatchInterval:      100 * time.Millisecond,
			BufferDuration:     30 * time.Second,
			BufferLowWatermark: 0.25,
			StateRetention:     5 * time.Minute,
		},
		Store: StoreConfig{
			URL:         "nats://127.0.0.1:4222",
			Embedded:    true,
			StoreDir:    "/data/nats/jetstream",
			MaxMemory:   1 << 30,
			MaxStore:    10 << 30,
			ReadTimeout: 2 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Name:             "store-adapter",
				MaxRequests:      1,
				Interval:         0,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Catalog: CatalogConfig{
			Path:            "/data/replay-catalog.duckdb",
			RefreshInterval: 1 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration using Koanf with layered sources:
//  1. Defaults: built-in sensible defaults.
//  2. Config file: optional YAML config file, if present.
//  3. Environment variables: override any setting.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches CONFIG_PATH then DefaultConfigPaths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps REPLAY_-prefixed environment variables to koanf
// dotted paths, e.g. REPLAY_SERVER_PORT -> server.port.
func envTransformFunc(key string) string {
	const prefix = "REPLAY_"
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	trimmed := strings.TrimPrefix(key, prefix)
	return strings.ToLower(strings.ReplaceAll(trimmed, "_", "."))
}
