// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package config loads and validates the replay server's configuration
// using a layered Koanf pipeline: built-in defaults, an optional YAML file,
// then REPLAY_-prefixed environment variables, in increasing precedence.
//
// # Quick Start
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Configuration File
//
// An optional YAML file is searched for at CONFIG_PATH, then
// config.DefaultConfigPaths, in order:
//
//	server:
//	  port: 8420
//	engine:
//	  batch_interval: 200ms
//	  buffer_duration: 10s
//	  sessions:
//	    - key: monza-2024-qualifying
//	      name: Monza 2024 Qualifying
//	      date_start: 2024-09-01T13:00:00Z
//	      date_end: 2024-09-01T14:00:00Z
//
// # Environment Variables
//
// A field can be overridden with a REPLAY_-prefixed environment variable
// in which every underscore stands for a dot, e.g. REPLAY_SERVER_PORT
// (server.port) or REPLAY_STORE_URL (store.url). Because every underscore
// becomes a dot, keys that themselves contain an underscore (such as
// engine.batch_interval) cannot be set this way: REPLAY_ENGINE_BATCH_INTERVAL
// maps to engine.batch.interval.
package config
