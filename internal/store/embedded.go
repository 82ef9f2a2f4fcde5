// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package store

import (
	"context"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/raceline-dev/replay-server/internal/config"
)

// EmbeddedServer wraps a single-process NATS server with JetStream
// enabled, for deployments without an external NATS cluster.
type EmbeddedServer struct {
	server    *natsserver.Server
	clientURL string
}

// NewEmbeddedServer starts an embedded NATS+JetStream server using the
// given store configuration. It blocks until the server is ready for
// connections or 30 seconds elapse.
func NewEmbeddedServer(cfg config.StoreConfig) (*EmbeddedServer, error) {
	opts := &natsserver.Options{
		ServerName:         "replay-store",
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		DontListen:         false,
		MaxPayload:         8 * 1024 * 1024,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	ns.ConfigureLogger()

	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within timeout")
	}

	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for in-process clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// IsRunning reports whether the embedded server is still accepting
// connections, for the supervision layer's health checks.
func (s *EmbeddedServer) IsRunning() bool {
	return s.server.ReadyForConnections(0)
}

// Shutdown stops the embedded server and waits for it to finish shutting
// down. ctx is checked once, after the stop is issued: if it is already
// done, Shutdown returns ctx.Err() without waiting; a ctx cancelled
// during the wait does not end the wait.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.server.WaitForShutdown()
		return nil
	}
}

// Connect dials either the embedded server's client URL or an external
// NATS URL, depending on configuration, and returns a JetStream context.
func Connect(cfg config.StoreConfig, embedded *EmbeddedServer) (*nats.Conn, nats.JetStreamContext, error) {
	url := cfg.URL
	if cfg.Embedded && embedded != nil {
		url = embedded.ClientURL()
	}

	nc, err := nats.Connect(url, nats.Name("replay-server"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}
