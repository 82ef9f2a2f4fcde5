// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package store

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestLocationStreamKey(t *testing.T) {
	if got, want := LocationStreamKey("9140"), "telemetry:location:9140"; got != want {
		t.Errorf("LocationStreamKey() = %q, want %q", got, want)
	}
}

func TestCarStreamKey(t *testing.T) {
	if got, want := CarStreamKey("9140"), "telemetry:cardata:9140"; got != want {
		t.Errorf("CarStreamKey() = %q, want %q", got, want)
	}
}

func TestStreamSubjectTranslatesColons(t *testing.T) {
	if got, want := streamSubject("telemetry:location:9140"), "telemetry.location.9140"; got != want {
		t.Errorf("streamSubject() = %q, want %q", got, want)
	}
}

func TestParseTimestampRFC3339(t *testing.T) {
	raw := json.RawMessage(`"2024-05-12T14:00:00.500Z"`)
	ts, ok := parseTimestamp(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ts.Hour() != 14 || ts.Minute() != 0 {
		t.Errorf("unexpected parsed timestamp: %v", ts)
	}
}

func TestParseTimestampUnixMillis(t *testing.T) {
	raw := json.RawMessage(`1715522400500`)
	if _, ok := parseTimestamp(raw); !ok {
		t.Fatal("expected ok=true for unix millis timestamp")
	}
}

func TestParseTimestampMalformedDegradesToFalse(t *testing.T) {
	raw := json.RawMessage(`"not-a-timestamp"`)
	if _, ok := parseTimestamp(raw); ok {
		t.Error("expected ok=false for malformed timestamp")
	}
}

func TestParseIntDegraded(t *testing.T) {
	tests := []struct {
		name string
		raw  json.RawMessage
		want int
	}{
		{"int", json.RawMessage(`5`), 5},
		{"float", json.RawMessage(`5.7`), 5},
		{"numeric string", json.RawMessage(`"5"`), 5},
		{"malformed", json.RawMessage(`"not-a-number"`), 0},
		{"empty", json.RawMessage(``), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseIntDegraded(tt.raw); got != tt.want {
				t.Errorf("parseIntDegraded(%s) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseFloatDegraded(t *testing.T) {
	tests := []struct {
		name string
		raw  json.RawMessage
		want float64
	}{
		{"float", json.RawMessage(`5.5`), 5.5},
		{"numeric string", json.RawMessage(`"5.5"`), 5.5},
		{"malformed", json.RawMessage(`"nope"`), 0},
		{"empty", json.RawMessage(``), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseFloatDegraded(tt.raw); got != tt.want {
				t.Errorf("parseFloatDegraded(%s) = %f, want %f", tt.raw, got, tt.want)
			}
		})
	}
}
