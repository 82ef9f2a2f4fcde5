// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raceline-dev/replay-server/internal/middleware"
	"github.com/raceline-dev/replay-server/internal/models"
)

// CatalogReader is the subset of *catalog.Catalog the sidecar reads.
type CatalogReader interface {
	List() []models.SessionInfo
	Get(sessionKey string) (models.SessionInfo, bool)
	Exists(sessionKey string) bool
	Refresh(ctx context.Context, sessionKey string) (models.SessionInfo, bool)
}

// Engine is the subset of *replay.Engine the mutation-alias endpoints
// drive (the same surface the websocket gateway uses, SPEC_FULL §6.3's
// "mutation aliases").
type Engine interface {
	Play(sessionKey string, startTime *time.Time) (models.ReplayStateSnapshot, error)
	Pause(sessionKey string) (models.ReplayStateSnapshot, error)
	Stop(sessionKey string) (models.ReplayStateSnapshot, error)
	Seek(sessionKey string, target time.Time) (models.ReplayStateSnapshot, error)
	SetSpeed(sessionKey string, multiplier float64) (models.ReplayStateSnapshot, error)
	GetState(sessionKey string) *models.ReplayStateSnapshot
}

// WebSocketMounter mounts the gateway's upgrade handler onto the
// sidecar's router so both surfaces share one listener.
type WebSocketMounter interface {
	Handler() http.HandlerFunc
}

// Router builds the sidecar's chi.Router.
type Router struct {
	catalog CatalogReader
	engine  Engine
	ws      WebSocketMounter
	handler *Handler
}

// NewRouter constructs the sidecar Router.
func NewRouter(catalog CatalogReader, engine Engine, ws WebSocketMounter) *Router {
	return &Router{
		catalog: catalog,
		engine:  engine,
		ws:      ws,
		handler: &Handler{catalog: catalog, engine: engine},
	}
}

// Setup builds the full route tree, adapted from the teacher's
// SetupChi (internal/api/chi_router.go): a global middleware stack
// applied with r.Use(), followed by route groups.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))
	r.Use(middleware.Prometheus)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", router.handler.Health)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", router.handler.ListSessions)
		r.Get("/{key}", router.handler.GetSession)
		r.Get("/{key}/status", router.handler.GetStatus)
		r.Post("/{key}/refresh", router.handler.Refresh)

		r.Post("/{key}/play", router.handler.Play)
		r.Post("/{key}/pause", router.handler.Pause)
		r.Post("/{key}/stop", router.handler.Stop)
		r.Post("/{key}/seek", router.handler.Seek)
		r.Post("/{key}/speed", router.handler.Speed)
	})

	if router.ws != nil {
		r.Get("/ws/telemetry/{sessionKey}", router.ws.Handler())
	}

	return r
}
