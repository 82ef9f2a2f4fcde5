// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package config

import (
	"fmt"
)

// Validate checks the configuration for internally inconsistent or unusable
// values. It is run at the end of every load path.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}

	if c.Engine.BatchInterval <= 0 {
		return fmt.Errorf("engine.batch_interval must be positive, got %s", c.Engine.BatchInterval)
	}
	if c.Engine.BufferDuration <= 0 {
		return fmt.Errorf("engine.buffer_duration must be positive, got %s", c.Engine.BufferDuration)
	}
	if c.Engine.BufferLowWatermark <= 0 || c.Engine.BufferLowWatermark >= 1 {
		return fmt.Errorf("engine.buffer_low_watermark must be in (0,1), got %f", c.Engine.BufferLowWatermark)
	}
	if c.Engine.StateRetention <= 0 {
		return fmt.Errorf("engine.state_retention must be positive, got %s", c.Engine.StateRetention)
	}

	seen := make(map[string]bool, len(c.Engine.Sessions))
	for _, s := range c.Engine.Sessions {
		if s.Key == "" {
			return fmt.Errorf("engine.sessions: entry with empty key")
		}
		if seen[s.Key] {
			return fmt.Errorf("engine.sessions: duplicate key %q", s.Key)
		}
		seen[s.Key] = true
		if !s.DateEnd.IsZero() && s.DateEnd.Before(s.DateStart) {
			return fmt.Errorf("engine.sessions[%s]: date_end before date_start", s.Key)
		}
	}

	if c.Store.URL == "" {
		return fmt.Errorf("store.url must not be empty")
	}
	if c.Store.ReadTimeout <= 0 {
		return fmt.Errorf("store.read_timeout must be positive, got %s", c.Store.ReadTimeout)
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path must not be empty")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("logging.level %q is not a recognized level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be \"json\" or \"console\"", c.Logging.Format)
	}

	return nil
}
