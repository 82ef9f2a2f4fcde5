// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid, got error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return defaultConfig()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "port too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "empty host",
			mutate:  func(c *Config) { c.Server.Host = "" },
			wantErr: true,
		},
		{
			name:    "zero batch interval",
			mutate:  func(c *Config) { c.Engine.BatchInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero buffer duration",
			mutate:  func(c *Config) { c.Engine.BufferDuration = 0 },
			wantErr: true,
		},
		{
			name:    "watermark out of range",
			mutate:  func(c *Config) { c.Engine.BufferLowWatermark = 1.5 },
			wantErr: true,
		},
		{
			name: "duplicate session key",
			mutate: func(c *Config) {
				c.Engine.Sessions = []SessionDefinition{
					{Key: "a", Name: "A"},
					{Key: "a", Name: "A again"},
				}
			},
			wantErr: true,
		},
		{
			name: "session end before start",
			mutate: func(c *Config) {
				now := time.Now()
				c.Engine.Sessions = []SessionDefinition{
					{Key: "a", DateStart: now, DateEnd: now.Add(-time.Hour)},
				}
			},
			wantErr: true,
		},
		{
			name:    "empty store url",
			mutate:  func(c *Config) { c.Store.URL = "" },
			wantErr: true,
		},
		{
			name:    "empty catalog path",
			mutate:  func(c *Config) { c.Catalog.Path = "" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"REPLAY_SERVER_PORT", "server.port"},
		{"REPLAY_STORE_URL", "store.url"},
		{"REPLAY_ENGINE_BATCH_INTERVAL", "engine.batch.interval"},
		{"UNRELATED_VAR", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.key); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestFindConfigFileNoneExist(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	if got := findConfigFile(); got != "" {
		t.Errorf("findConfigFile() = %q, want empty when nothing exists", got)
	}
}
