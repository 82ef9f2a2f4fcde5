// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package replay

import (
	"testing"
	"time"

	"github.com/raceline-dev/replay-server/internal/models"
)

func testInfo() models.SessionInfo {
	start := time.Date(2024, 5, 12, 14, 0, 0, 0, time.UTC)
	return models.SessionInfo{
		SessionKey: "9140",
		Name:       "Monza",
		DateStart:  start,
		DateEnd:    start.Add(time.Hour),
	}
}

func TestSessionConsumeSplitsOnBoundary(t *testing.T) {
	info := testInfo()
	s := newSession(info, info.DateStart, models.Speed1x)

	gen := s.generationSnapshot()
	locs := []models.LocationSample{
		{SessionKey: "9140", DriverNumber: 1, Timestamp: info.DateStart, X: 1, Y: 1},
		{SessionKey: "9140", DriverNumber: 1, Timestamp: info.DateStart.Add(200 * time.Millisecond), X: 2, Y: 2},
		{SessionKey: "9140", DriverNumber: 1, Timestamp: info.DateStart.Add(500 * time.Millisecond), X: 3, Y: 3},
	}
	if ok := s.append(gen, locs, nil, info.DateStart.Add(time.Second)); !ok {
		t.Fatal("append() = false, want true")
	}

	in, _ := s.consume(info.DateStart, info.DateStart.Add(300*time.Millisecond))
	if len(in) != 2 {
		t.Fatalf("consume() returned %d samples, want 2", len(in))
	}

	remaining, _ := s.consume(info.DateStart.Add(300*time.Millisecond), info.DateStart.Add(time.Second))
	if len(remaining) != 1 {
		t.Fatalf("consume() returned %d remaining samples, want 1", len(remaining))
	}
}

func TestSessionAppendDiscardsStaleGeneration(t *testing.T) {
	info := testInfo()
	s := newSession(info, info.DateStart, models.Speed1x)

	staleGen := s.generationSnapshot()
	s.clear() // bumps generation

	ok := s.append(staleGen, []models.LocationSample{{Timestamp: info.DateStart, DriverNumber: 1}}, nil, info.DateStart.Add(time.Second))
	if ok {
		t.Error("append() with stale generation = true, want false")
	}

	in, _ := s.consume(info.DateStart, info.DateStart.Add(time.Second))
	if len(in) != 0 {
		t.Errorf("expected stale refill to be discarded, got %d samples", len(in))
	}
}

func TestSessionAppendDedupesByTimestampAndDriver(t *testing.T) {
	info := testInfo()
	s := newSession(info, info.DateStart, models.Speed1x)
	gen := s.generationSnapshot()

	sample := models.LocationSample{SessionKey: "9140", DriverNumber: 1, Timestamp: info.DateStart, X: 1, Y: 1}
	if !s.append(gen, []models.LocationSample{sample}, nil, info.DateStart.Add(time.Second)) {
		t.Fatal("first append failed")
	}
	if !s.append(gen, []models.LocationSample{sample, {SessionKey: "9140", DriverNumber: 2, Timestamp: info.DateStart, X: 9, Y: 9}}, nil, info.DateStart.Add(time.Second)) {
		t.Fatal("second append failed")
	}

	in, _ := s.consume(info.DateStart, info.DateStart.Add(time.Second))
	if len(in) != 2 {
		t.Fatalf("consume() returned %d samples, want 2 (duplicate suppressed)", len(in))
	}
}

func TestSessionBufferRemainingMs(t *testing.T) {
	info := testInfo()
	s := newSession(info, info.DateStart, models.Speed1x)

	if got := s.bufferRemainingMs(); got != 0 {
		t.Errorf("bufferRemainingMs() with unset bufferEnd = %d, want 0", got)
	}

	gen := s.generationSnapshot()
	s.append(gen, nil, nil, info.DateStart.Add(10*time.Second))
	if got := s.bufferRemainingMs(); got != 10_000 {
		t.Errorf("bufferRemainingMs() = %d, want 10000", got)
	}
}

func TestSessionClearBumpsGeneration(t *testing.T) {
	info := testInfo()
	s := newSession(info, info.DateStart, models.Speed1x)

	before := s.generationSnapshot()
	after := s.clear()
	if after != before+1 {
		t.Errorf("clear() generation = %d, want %d", after, before+1)
	}
	if got := s.bufferRemainingMs(); got != 0 {
		t.Errorf("bufferRemainingMs() after clear = %d, want 0", got)
	}
}

func TestSessionSnapshotReflectsSpeedAndElapsed(t *testing.T) {
	info := testInfo()
	s := newSession(info, info.DateStart.Add(30*time.Minute), models.Speed5x)
	s.status = models.StatusPlaying

	snap := s.snapshot()
	if snap.Speed.Multiplier != 5 {
		t.Errorf("Speed.Multiplier = %v, want 5", snap.Speed.Multiplier)
	}
	if snap.ElapsedMs != (30 * time.Minute).Milliseconds() {
		t.Errorf("ElapsedMs = %d, want %d", snap.ElapsedMs, (30 * time.Minute).Milliseconds())
	}
	if snap.DurationMs != time.Hour.Milliseconds() {
		t.Errorf("DurationMs = %d, want %d", snap.DurationMs, time.Hour.Milliseconds())
	}
}
