// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package websocket

import (
	"sort"
	"sync"

	"github.com/raceline-dev/replay-server/internal/logging"
	"github.com/raceline-dev/replay-server/internal/metrics"
	"github.com/raceline-dev/replay-server/internal/models"
)

// Manager is the Client Session Manager (SPEC_FULL §4.E): it owns one
// broadcast fan-out set per sessionKey, adapted from the teacher's
// single global Hub (internal/websocket/hub.go) into a per-session
// Hub. It implements replay.BatchSink so the Engine's per-session
// ticker can fan a batch out without knowing about websockets.
type Manager struct {
	engine  Engine
	catalog SessionValidator
	logger  *logging.ReplayLogger

	mu       sync.RWMutex
	sessions map[string]map[*Client]bool
}

// NewManager constructs a Client Session Manager.
func NewManager(engine Engine, catalog SessionValidator) *Manager {
	return &Manager{
		engine:   engine,
		catalog:  catalog,
		logger:   logging.NewReplayLogger("gateway"),
		sessions: make(map[string]map[*Client]bool),
	}
}

// Engine exposes the Manager's Engine, e.g. for the HTTP sidecar to
// share the same Engine instance.
func (m *Manager) Engine() Engine { return m.engine }

// Catalog exposes the Manager's SessionValidator.
func (m *Manager) Catalog() SessionValidator { return m.catalog }

func (m *Manager) addClient(c *Client) {
	m.mu.Lock()
	set, ok := m.sessions[c.sessionKey]
	if !ok {
		set = make(map[*Client]bool)
		m.sessions[c.sessionKey] = set
	}
	set[c] = true
	count := len(set)
	m.mu.Unlock()
	metrics.SetSubscribedClients(c.sessionKey, count)
}

// removeClient unregisters c. If c had subscribed, the Engine is told
// this client left (SPEC_FULL §4.E: "On disconnect: ... call
// onClientLeft").
func (m *Manager) removeClient(c *Client) {
	m.mu.Lock()
	set, ok := m.sessions[c.sessionKey]
	wasMember := ok && set[c]
	var remaining int
	if wasMember {
		delete(set, c)
		remaining = len(set)
		if remaining == 0 {
			delete(m.sessions, c.sessionKey)
		}
	}
	m.mu.Unlock()

	if !wasMember {
		return
	}
	metrics.SetSubscribedClients(c.sessionKey, remaining)
	m.engine.OnClientLeft(c.sessionKey)
}

// clientsFor returns a deterministically ordered snapshot of the
// clients subscribed to sessionKey (teacher's sort-by-id pattern from
// broadcastToClients, scoped per session).
func (m *Manager) clientsFor(sessionKey string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.sessions[sessionKey]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

func (m *Manager) fanOut(sessionKey string, frame Frame) {
	for _, c := range m.clientsFor(sessionKey) {
		select {
		case c.send <- frame:
		default:
			metrics.RecordFrameDropped(frame.Type)
			m.logger.Warn("outbound channel full, dropping frame for session", "session_key", sessionKey, "frame_type", frame.Type)
		}
	}
}

// Broadcast implements replay.BatchSink.
func (m *Manager) Broadcast(sessionKey string, batch *models.TelemetryBatch) {
	m.fanOut(sessionKey, telemetryBatchFrame(batch))
}

// NotifyCompleted implements replay.BatchSink.
func (m *Manager) NotifyCompleted(sessionKey string) {
	m.fanOut(sessionKey, playbackCompleteFrame())
}

// ClientCount returns the number of subscribed clients for sessionKey,
// for observability.
func (m *Manager) ClientCount(sessionKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[sessionKey])
}

// Shutdown sends ERROR(server shutting down) to every client in a
// session's fan-out set (clients that sent SUBSCRIBE or PLAY) and closes
// their send channels. Connections that never subscribed are not in any
// set, so they are neither sent the ERROR frame nor closed here.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionKey, set := range m.sessions {
		clients := make([]*Client, 0, len(set))
		for c := range set {
			clients = append(clients, c)
		}
		sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
		for _, c := range clients {
			select {
			case c.send <- errorFrame("server shutting down"):
			default:
			}
			close(c.send)
		}
		delete(m.sessions, sessionKey)
	}
}
