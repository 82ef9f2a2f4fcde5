// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package websocket

import (
	"github.com/goccy/go-json"

	"github.com/raceline-dev/replay-server/internal/models"
)

// Inbound command frame types (client -> server), per SPEC_FULL §6.2.
const (
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandPlay        = "PLAY"
	CommandPause       = "PAUSE"
	CommandStop        = "STOP"
	CommandSeek        = "SEEK"
	CommandSpeed       = "SPEED"
	CommandGetState    = "GET_STATE"
)

// Outbound event frame types (server -> client), per SPEC_FULL §6.2.
const (
	EventSubscribed       = "SUBSCRIBED"
	EventUnsubscribed     = "UNSUBSCRIBED"
	EventReplayState      = "REPLAY_STATE"
	EventTelemetryBatch   = "TELEMETRY_BATCH"
	EventPlaybackComplete = "PLAYBACK_COMPLETE"
	EventError            = "ERROR"
)

// Frame is the envelope for an outbound (server -> client) frame:
// `type` plus an opaque `data` object whose shape depends on type.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// InboundFrame is the envelope for a client -> server frame. Data is
// decoded lazily via decodeData once Type identifies its shape.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// decodeData unmarshals an InboundFrame's Data into T. An absent Data
// field decodes as T's zero value (ok=true); callers whose payload has
// required fields validate those themselves. ok=false only on a
// malformed (present but unparseable) payload.
func decodeData[T any](frame InboundFrame) (T, bool) {
	var out T
	if len(frame.Data) == 0 {
		return out, true
	}
	if err := json.Unmarshal(frame.Data, &out); err != nil {
		return out, false
	}
	return out, true
}

// PlayData is the SPEC_FULL §6.2 PLAY command payload.
type PlayData struct {
	StartTime *string `json:"startTime,omitempty"`
}

// SeekData is the SPEC_FULL §6.2 SEEK command payload.
type SeekData struct {
	TargetTime string `json:"targetTime"`
}

// SpeedData is the SPEC_FULL §6.2 SPEED command payload.
type SpeedData struct {
	Speed float64 `json:"speed"`
}

// ErrorData is the SPEC_FULL §6.2 ERROR event payload.
type ErrorData struct {
	Message string `json:"message"`
}

// SubscribedData is the SPEC_FULL §6.2 SUBSCRIBED event payload.
type SubscribedData struct {
	SessionKey string `json:"sessionKey"`
}

// ReplayStateData is the SPEC_FULL §6.2 REPLAY_STATE event payload.
type ReplayStateData struct {
	SessionKey  string              `json:"sessionKey"`
	Status      models.PlaybackStatus `json:"status"`
	CurrentTime string              `json:"currentTime"`
	StartTime   string              `json:"startTime"`
	EndTime     string              `json:"endTime"`
	Speed       models.SpeedPayload `json:"speed"`
	DurationMs  int64               `json:"durationMs"`
	ElapsedMs   int64               `json:"elapsedMs"`
}

func replayStateData(snapshot models.ReplayStateSnapshot) ReplayStateData {
	return ReplayStateData{
		SessionKey:  snapshot.SessionKey,
		Status:      snapshot.Status,
		CurrentTime: snapshot.CurrentTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		StartTime:   snapshot.StartTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		EndTime:     snapshot.EndTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Speed:       snapshot.Speed,
		DurationMs:  snapshot.DurationMs,
		ElapsedMs:   snapshot.ElapsedMs,
	}
}

func replayStateFrame(snapshot models.ReplayStateSnapshot) Frame {
	return Frame{Type: EventReplayState, Data: replayStateData(snapshot)}
}

func nullReplayStateFrame() Frame {
	return Frame{Type: EventReplayState, Data: nil}
}

func telemetryBatchFrame(batch *models.TelemetryBatch) Frame {
	return Frame{Type: EventTelemetryBatch, Data: batch}
}

func subscribedFrame(sessionKey string) Frame {
	return Frame{Type: EventSubscribed, Data: SubscribedData{SessionKey: sessionKey}}
}

func unsubscribedFrame() Frame {
	return Frame{Type: EventUnsubscribed, Data: nil}
}

func playbackCompleteFrame() Frame {
	return Frame{Type: EventPlaybackComplete, Data: nil}
}

func errorFrame(message string) Frame {
	return Frame{Type: EventError, Data: ErrorData{Message: message}}
}
