// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package main is the entry point for the replay server.
//
// The server replays previously recorded telemetry (car position and
// car data samples) to subscribed WebSocket clients at a controllable
// pace, backed by a NATS JetStream append-only store and a DuckDB
// session catalog.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2, layered over environment variables and a config file
//  2. Logging: zerolog, configured from the loaded config
//  3. Store: an embedded (or external) NATS JetStream connection and the Store Adapter
//  4. Catalog: the DuckDB-backed Session Catalog, seeded from static config
//  5. Disconnected-state store: BadgerDB, for session snapshots across empty sessions
//  6. Replay Engine: owns per-session tickers and buffer refills
//  7. Client Session Manager: the WebSocket gateway's Manager, wired as the Engine's batch sink
//  8. HTTP sidecar: chi router exposing the REST mutation-alias surface, metrics, and the upgrade route
//
// The catalog-refresh and disconnected-state-cleanup loops, the embedded
// NATS server (when enabled) and the HTTP/WebSocket listener are
// registered with a suture supervision tree so a crash in one layer
// doesn't take down the others. The Engine's per-session tickers and the
// per-connection read/write pumps are plain goroutines outside the tree.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting new WebSocket connections and HTTP requests, waits for the
// supervision tree to drain, then closes the catalog and disconnected
// state store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raceline-dev/replay-server/internal/api"
	"github.com/raceline-dev/replay-server/internal/catalog"
	"github.com/raceline-dev/replay-server/internal/config"
	"github.com/raceline-dev/replay-server/internal/logging"
	"github.com/raceline-dev/replay-server/internal/replay"
	"github.com/raceline-dev/replay-server/internal/store"
	"github.com/raceline-dev/replay-server/internal/supervisor"
	"github.com/raceline-dev/replay-server/internal/supervisor/services"
	ws "github.com/raceline-dev/replay-server/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().Msg("starting replay server with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogLogger := logging.NewSupervisorLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	var embedded *store.EmbeddedServer
	if cfg.Store.Embedded {
		embedded, err = store.NewEmbeddedServer(cfg.Store)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to start embedded NATS server")
		}
		logging.Info().Str("url", embedded.ClientURL()).Msg("embedded NATS JetStream server ready")
	}

	nc, js, err := store.Connect(cfg.Store, embedded)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	adapter := store.New(js, cfg.Store)

	cat, err := catalog.Open(cfg.Catalog, cfg.Engine.Sessions, adapter)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open session catalog")
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing catalog")
		}
	}()

	disconnected, err := replay.NewBadgerDisconnectedStore()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open disconnected-state store")
	}
	defer func() {
		if err := disconnected.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing disconnected-state store")
		}
	}()

	engine := replay.NewEngine(cat, adapter, disconnected, cfg.Engine, nil)
	manager := ws.NewManager(engine, cat)
	engine.SetSink(manager)

	router := api.NewRouter(cat, engine, manager)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree.AddDataService(services.NewLoopService("catalog-refresh", func(ctx context.Context) {
		cat.StartRefreshLoop(ctx, cfg.Catalog.RefreshInterval)
	}))
	tree.AddDataService(services.NewLoopService("disconnected-state-cleanup", func(ctx context.Context) {
		disconnected.StartCleanupRoutine(ctx, time.Minute, cfg.Engine.StateRetention)
	}))

	if embedded != nil {
		tree.AddMessagingService(services.NewEmbeddedStoreService(embedded, 10*time.Second))
	}

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP/WebSocket listener added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	manager.Shutdown()
	logging.Info().Msg("replay server stopped gracefully")
}
