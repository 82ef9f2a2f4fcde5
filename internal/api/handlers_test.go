// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raceline-dev/replay-server/internal/models"
	"github.com/raceline-dev/replay-server/internal/replay"
)

type fakeCatalog struct {
	sessions map[string]models.SessionInfo
}

func (f *fakeCatalog) List() []models.SessionInfo {
	out := make([]models.SessionInfo, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeCatalog) Get(key string) (models.SessionInfo, bool) {
	s, ok := f.sessions[key]
	return s, ok
}

func (f *fakeCatalog) Exists(key string) bool {
	_, ok := f.sessions[key]
	return ok
}

func (f *fakeCatalog) Refresh(ctx context.Context, key string) (models.SessionInfo, bool) {
	s, ok := f.sessions[key]
	return s, ok
}

type fakeEngine struct {
	state   *models.ReplayStateSnapshot
	err     error
	lastKey string
}

func (f *fakeEngine) Play(key string, startTime *time.Time) (models.ReplayStateSnapshot, error) {
	f.lastKey = key
	return f.result()
}

func (f *fakeEngine) Pause(key string) (models.ReplayStateSnapshot, error) {
	f.lastKey = key
	return f.result()
}

func (f *fakeEngine) Stop(key string) (models.ReplayStateSnapshot, error) {
	f.lastKey = key
	return f.result()
}

func (f *fakeEngine) Seek(key string, target time.Time) (models.ReplayStateSnapshot, error) {
	f.lastKey = key
	return f.result()
}

func (f *fakeEngine) SetSpeed(key string, multiplier float64) (models.ReplayStateSnapshot, error) {
	f.lastKey = key
	return f.result()
}

func (f *fakeEngine) GetState(key string) *models.ReplayStateSnapshot {
	return f.state
}

func (f *fakeEngine) result() (models.ReplayStateSnapshot, error) {
	if f.err != nil {
		return models.ReplayStateSnapshot{}, f.err
	}
	if f.state != nil {
		return *f.state, nil
	}
	return models.ReplayStateSnapshot{SessionKey: "monza-2024-q1"}, nil
}

func newTestRouter(catalog *fakeCatalog, engine *fakeEngine) http.Handler {
	r := NewRouter(catalog, engine, nil)
	return r.Setup()
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandler_GetSession(t *testing.T) {
	start := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)

	tests := []struct {
		name       string
		sessionKey string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "known session",
			sessionKey: "monza-2024-q1",
			wantStatus: http.StatusOK,
			wantBody:   `"sessionKey":"monza-2024-q1"`,
		},
		{
			name:       "unknown session",
			sessionKey: "nonexistent",
			wantStatus: http.StatusNotFound,
			wantBody:   `"UnknownSession"`,
		},
	}

	catalog := &fakeCatalog{sessions: map[string]models.SessionInfo{
		"monza-2024-q1": {SessionKey: "monza-2024-q1", Name: "Monza Q1", DateStart: start, DateEnd: end},
	}}
	handler := &Handler{catalog: catalog, engine: &fakeEngine{}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+tt.sessionKey, nil)
			req = withChiParam(req, "key", tt.sessionKey)
			rec := httptest.NewRecorder()

			handler.GetSession(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want substring %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandler_Play_InvalidStartTime(t *testing.T) {
	handler := &Handler{catalog: &fakeCatalog{sessions: map[string]models.SessionInfo{}}, engine: &fakeEngine{}}

	body := strings.NewReader(`{"startTime":"not-a-timestamp"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/monza-2024-q1/play", body)
	req = withChiParam(req, "key", "monza-2024-q1")
	rec := httptest.NewRecorder()

	handler.Play(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "InvalidTime") {
		t.Fatalf("body = %q, want InvalidTime error code", rec.Body.String())
	}
}

func TestHandler_Play_EngineError(t *testing.T) {
	handler := &Handler{
		catalog: &fakeCatalog{sessions: map[string]models.SessionInfo{}},
		engine:  &fakeEngine{err: replay.ErrNoActiveSession},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/monza-2024-q1/play", nil)
	req = withChiParam(req, "key", "monza-2024-q1")
	rec := httptest.NewRecorder()

	handler.Play(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandler_Speed_Mutates(t *testing.T) {
	engine := &fakeEngine{}
	handler := &Handler{catalog: &fakeCatalog{sessions: map[string]models.SessionInfo{}}, engine: engine}

	body := strings.NewReader(`{"speed":2.5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/monza-2024-q1/speed", body)
	req = withChiParam(req, "key", "monza-2024-q1")
	rec := httptest.NewRecorder()

	handler.Speed(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if engine.lastKey != "monza-2024-q1" {
		t.Fatalf("engine called with key %q, want monza-2024-q1", engine.lastKey)
	}
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(&fakeCatalog{sessions: map[string]models.SessionInfo{}}, &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %q, want status ok", rec.Body.String())
	}
}

func TestRouter_ListSessions(t *testing.T) {
	start := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	router := newTestRouter(&fakeCatalog{sessions: map[string]models.SessionInfo{
		"monza-2024-q1": {SessionKey: "monza-2024-q1", Name: "Monza Q1", DateStart: start, DateEnd: start.Add(time.Hour)},
	}}, &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "monza-2024-q1") {
		t.Fatalf("body = %q, want session key present", rec.Body.String())
	}
}
