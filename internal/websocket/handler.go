// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package websocket

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raceline-dev/replay-server/internal/logging"
	"github.com/raceline-dev/replay-server/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler returns the http.HandlerFunc for SPEC_FULL §6.1's
// ws://host:port/ws/telemetry/{sessionKey} route. It is mounted by the
// HTTP sidecar's chi router.
func (m *Manager) Handler() http.HandlerFunc {
	logger := logging.NewReplayLogger("gateway")
	return func(w http.ResponseWriter, r *http.Request) {
		sessionKey := chi.URLParam(r, "sessionKey")
		if sessionKey == "" || !m.catalog.Exists(sessionKey) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "session_key", sessionKey, "error", err.Error())
			return
		}

		metrics.TrackConnectedClient(true)
		client := NewClient(m, m.engine, conn, sessionKey)
		client.Start()
	}
}
