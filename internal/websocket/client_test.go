// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raceline-dev/replay-server/internal/models"
)

func setupTestServer(t *testing.T, m *Manager) (*httptest.Server, string) {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/ws/telemetry/{sessionKey}", m.Handler())
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/telemetry/9140"
	return server, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return frame
}

func TestClientReceivesInitialReplayState(t *testing.T) {
	engine := newFakeEngine()
	m := NewManager(engine, &fakeValidator{known: map[string]bool{"9140": true}})
	_, url := setupTestServer(t, m)

	conn := dial(t, url)
	frame := readFrame(t, conn)
	if frame.Type != EventReplayState {
		t.Errorf("first frame type = %q, want %q", frame.Type, EventReplayState)
	}
}

func TestClientSubscribeAcksAndRegisters(t *testing.T) {
	engine := newFakeEngine()
	m := NewManager(engine, &fakeValidator{known: map[string]bool{"9140": true}})
	_, url := setupTestServer(t, m)

	conn := dial(t, url)
	readFrame(t, conn) // initial REPLAY_STATE

	if err := conn.WriteJSON(InboundFrame{Type: CommandSubscribe}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != EventSubscribed {
		t.Errorf("frame.Type = %q, want %q", frame.Type, EventSubscribed)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.ClientCount("9140") == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if m.ClientCount("9140") != 1 {
		t.Error("expected manager to register the subscribed client")
	}
}

func TestClientUnknownSessionRejected(t *testing.T) {
	engine := newFakeEngine()
	m := NewManager(engine, &fakeValidator{known: map[string]bool{}})

	r := chi.NewRouter()
	r.Get("/ws/telemetry/{sessionKey}", m.Handler())
	s := httptest.NewServer(r)
	defer s.Close()

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/telemetry/unknown"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail for an unknown session")
	}
	if resp != nil && resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestClientPlayDispatchesToEngine(t *testing.T) {
	engine := newFakeEngine()
	m := NewManager(engine, &fakeValidator{known: map[string]bool{"9140": true}})
	_, url := setupTestServer(t, m)

	conn := dial(t, url)
	readFrame(t, conn) // initial REPLAY_STATE

	if err := conn.WriteJSON(InboundFrame{Type: CommandPlay}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != EventReplayState {
		t.Errorf("frame.Type = %q, want %q", frame.Type, EventReplayState)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.ClientCount("9140") == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if m.ClientCount("9140") != 1 {
		t.Error("expected PLAY without a prior SUBSCRIBE to register the client with the manager")
	}

	m.Broadcast("9140", &models.TelemetryBatch{})
	batch := readFrame(t, conn)
	if batch.Type != EventTelemetryBatch {
		t.Errorf("frame.Type = %q, want %q (PLAY-only client should receive broadcasts)", batch.Type, EventTelemetryBatch)
	}
}

func TestClientMalformedSeekReturnsError(t *testing.T) {
	engine := newFakeEngine()
	m := NewManager(engine, &fakeValidator{known: map[string]bool{"9140": true}})
	_, url := setupTestServer(t, m)

	conn := dial(t, url)
	readFrame(t, conn) // initial REPLAY_STATE

	if err := conn.WriteJSON(InboundFrame{Type: CommandSeek}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != EventError {
		t.Errorf("frame.Type = %q, want %q", frame.Type, EventError)
	}
}

func TestClientUnknownCommandReturnsError(t *testing.T) {
	engine := newFakeEngine()
	m := NewManager(engine, &fakeValidator{known: map[string]bool{"9140": true}})
	_, url := setupTestServer(t, m)

	conn := dial(t, url)
	readFrame(t, conn) // initial REPLAY_STATE

	if err := conn.WriteJSON(InboundFrame{Type: "NOT_A_COMMAND"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != EventError {
		t.Errorf("frame.Type = %q, want %q", frame.Type, EventError)
	}
}
