// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package services

import (
	"context"
	"time"
)

// EmbeddedStore matches the lifecycle of store.EmbeddedServer: it is
// already running by the time it's handed to this service, and only
// needs a graceful Shutdown on supervisor stop.
type EmbeddedStore interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// EmbeddedStoreService supervises an already-started embedded NATS
// JetStream server: it blocks until the supervisor tree asks it to
// stop, then shuts the server down.
type EmbeddedStoreService struct {
	store           EmbeddedStore
	shutdownTimeout time.Duration
}

// NewEmbeddedStoreService wraps store for supervision.
func NewEmbeddedStoreService(store EmbeddedStore, shutdownTimeout time.Duration) *EmbeddedStoreService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EmbeddedStoreService{store: store, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *EmbeddedStoreService) Serve(ctx context.Context) error {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.store.Shutdown(shutdownCtx)
}

// String implements fmt.Stringer.
func (s *EmbeddedStoreService) String() string { return "embedded-store" }
