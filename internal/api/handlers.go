// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raceline-dev/replay-server/internal/models"
	"github.com/raceline-dev/replay-server/internal/replay"
)

// Handler holds the sidecar's HTTP handlers (SPEC_FULL §6.3).
type Handler struct {
	catalog CatalogReader
	engine  Engine
}

// Health reports a simple liveness signal.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.catalog.List()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	writeOK(w, views)
}

// GetSession handles GET /api/sessions/{key}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	info, ok := h.catalog.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, string(replay.KindUnknownSession), "unknown session")
		return
	}
	writeOK(w, toSessionView(info))
}

// GetStatus handles GET /api/sessions/{key}/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.catalog.Exists(key) {
		writeError(w, http.StatusNotFound, string(replay.KindUnknownSession), "unknown session")
		return
	}
	snap := h.engine.GetState(key)
	if snap == nil {
		writeOK(w, nil)
		return
	}
	writeOK(w, snap)
}

// Refresh handles POST /api/sessions/{key}/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	info, ok := h.catalog.Refresh(r.Context(), key)
	if !ok {
		writeError(w, http.StatusNotFound, string(replay.KindUnknownSession), "unknown session")
		return
	}
	writeOK(w, toSessionView(info))
}

// Play handles POST /api/sessions/{key}/play, a mutation alias for
// clients that cannot hold a websocket connection open.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		StartTime *string `json:"startTime,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	var startTime *time.Time
	if body.StartTime != nil {
		t, err := time.Parse(time.RFC3339Nano, *body.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(replay.KindInvalidTime), "startTime must be ISO-8601 UTC")
			return
		}
		startTime = &t
	}

	h.mutate(w, func() (models.ReplayStateSnapshot, error) { return h.engine.Play(key, startTime) })
}

// Pause handles POST /api/sessions/{key}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	h.mutate(w, func() (models.ReplayStateSnapshot, error) { return h.engine.Pause(key) })
}

// Stop handles POST /api/sessions/{key}/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	h.mutate(w, func() (models.ReplayStateSnapshot, error) { return h.engine.Stop(key) })
}

// Seek handles POST /api/sessions/{key}/seek.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		TargetTime string `json:"targetTime"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	target, err := time.Parse(time.RFC3339Nano, body.TargetTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(replay.KindInvalidTime), "targetTime must be ISO-8601 UTC")
		return
	}

	h.mutate(w, func() (models.ReplayStateSnapshot, error) { return h.engine.Seek(key, target) })
}

// Speed handles POST /api/sessions/{key}/speed.
func (h *Handler) Speed(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		Speed float64 `json:"speed"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	h.mutate(w, func() (models.ReplayStateSnapshot, error) { return h.engine.SetSpeed(key, body.Speed) })
}

func (h *Handler) mutate(w http.ResponseWriter, op func() (models.ReplayStateSnapshot, error)) {
	snap, err := op()
	if err != nil {
		kind := replay.ClassifyError(err)
		writeError(w, kind.HTTPStatus(), string(kind), replay.PublicMessage(err))
		return
	}
	writeOK(w, snap)
}

func toSessionView(info models.SessionInfo) sessionView {
	view := sessionView{
		SessionKey:    info.SessionKey,
		Name:          info.Name,
		DateStart:     info.DateStart.UTC().Format(isoFormat),
		DateEnd:       info.DateEnd.UTC().Format(isoFormat),
		DurationMs:    info.DurationMs,
		LocationCount: info.LocationCount,
		CarCount:      info.CarCount,
	}
	if info.RefreshedAt != nil {
		formatted := info.RefreshedAt.UTC().Format(isoFormat)
		view.RefreshedAt = &formatted
	}
	return view
}
