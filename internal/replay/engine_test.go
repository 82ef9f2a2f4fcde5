// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raceline-dev/replay-server/internal/config"
	"github.com/raceline-dev/replay-server/internal/models"
)

type fakeCatalog struct {
	sessions map[string]models.SessionInfo
}

func (c *fakeCatalog) Get(key string) (models.SessionInfo, bool) {
	s, ok := c.sessions[key]
	return s, ok
}

type fakeStore struct {
	mu        sync.Mutex
	locations []models.LocationSample
	cars      []models.CarSample
	calls     int
}

func (f *fakeStore) ReadLocations(ctx context.Context, sessionKey string, from, to time.Time) []models.LocationSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []models.LocationSample
	for _, l := range f.locations {
		if !l.Timestamp.Before(from) && l.Timestamp.Before(to) {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeStore) ReadCarData(ctx context.Context, sessionKey string, from, to time.Time) []models.CarSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CarSample
	for _, c := range f.cars {
		if !c.Timestamp.Before(from) && c.Timestamp.Before(to) {
			out = append(out, c)
		}
	}
	return out
}

type fakeDisconnectedStore struct {
	mu     sync.Mutex
	states map[string]models.DisconnectedState
}

func newFakeDisconnectedStore() *fakeDisconnectedStore {
	return &fakeDisconnectedStore{states: make(map[string]models.DisconnectedState)}
}

func (f *fakeDisconnectedStore) Get(key string) (models.DisconnectedState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[key]
	return s, ok
}

func (f *fakeDisconnectedStore) Put(state models.DisconnectedState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[state.SessionKey] = state
	return nil
}

func (f *fakeDisconnectedStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, key)
	return nil
}

type fakeSink struct {
	mu        sync.Mutex
	batches   []*models.TelemetryBatch
	completed []string
}

func (f *fakeSink) Broadcast(sessionKey string, batch *models.TelemetryBatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
}

func (f *fakeSink) NotifyCompleted(sessionKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, sessionKey)
}

func testEngine() (*Engine, *fakeCatalog, *fakeStore, *fakeDisconnectedStore, *fakeSink) {
	info := testInfo()
	catalog := &fakeCatalog{sessions: map[string]models.SessionInfo{info.SessionKey: info}}
	store := &fakeStore{
		locations: []models.LocationSample{
			{SessionKey: info.SessionKey, DriverNumber: 1, Timestamp: info.DateStart, X: 0, Y: 0},
			{SessionKey: info.SessionKey, DriverNumber: 1, Timestamp: info.DateStart.Add(100 * time.Millisecond), X: 1, Y: 1},
		},
	}
	disconnected := newFakeDisconnectedStore()
	sink := &fakeSink{}
	cfg := config.EngineConfig{
		BatchInterval:      time.Hour, // prevent the real ticker firing during tests
		BufferDuration:     10 * time.Second,
		BufferLowWatermark: 0.25,
		StateRetention:     5 * time.Minute,
	}
	return NewEngine(catalog, store, disconnected, cfg, sink), catalog, store, disconnected, sink
}

func TestEnginePlayUnknownSession(t *testing.T) {
	e, _, _, _, _ := testEngine()
	if _, err := e.Play("unknown", nil); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Play(unknown) err = %v, want ErrUnknownSession", err)
	}
}

func TestEnginePlayCreatesSessionAndRefillsSync(t *testing.T) {
	e, _, store, _, _ := testEngine()

	snap, err := e.Play("9140", nil)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if snap.Status != models.StatusPlaying {
		t.Errorf("Status = %v, want PLAYING", snap.Status)
	}
	if store.calls == 0 {
		t.Error("expected synchronous refill on session creation")
	}

	e.Stop("9140")
}

func TestEnginePlayInvalidStartTime(t *testing.T) {
	e, _, _, _, _ := testEngine()
	bad := testInfo().DateEnd.Add(time.Hour)
	if _, err := e.Play("9140", &bad); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("Play() err = %v, want ErrInvalidTime", err)
	}
}

func TestEngineSuspendAndResumeFromDisconnectedState(t *testing.T) {
	e, _, _, disconnected, _ := testEngine()

	if _, err := e.Play("9140", nil); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	e.Subscribe("9140")
	e.SetSpeed("9140", 5)

	e.OnClientLeft("9140")

	if _, ok := disconnected.Get("9140"); !ok {
		t.Fatal("expected a DisconnectedState after last subscriber left")
	}

	snap, err := e.Play("9140", nil)
	if err != nil {
		t.Fatalf("resume Play() error = %v", err)
	}
	if snap.Speed.Multiplier != 5 {
		t.Errorf("resumed Speed.Multiplier = %v, want 5 (carried from disconnected state)", snap.Speed.Multiplier)
	}
	if _, ok := disconnected.Get("9140"); ok {
		t.Error("expected disconnected state to be consumed on resume")
	}

	e.Stop("9140")
}

func TestEnginePauseNoActiveSession(t *testing.T) {
	e, _, _, _, _ := testEngine()
	if _, err := e.Pause("9140"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Pause() err = %v, want ErrNoActiveSession", err)
	}
}

func TestEngineStopDropsSession(t *testing.T) {
	e, _, _, _, _ := testEngine()
	e.Play("9140", nil)

	snap, err := e.Stop("9140")
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if snap.Status != models.StatusStopped {
		t.Errorf("Status = %v, want STOPPED", snap.Status)
	}
	if _, err := e.Pause("9140"); !errors.Is(err, ErrNoActiveSession) {
		t.Error("expected session to be dropped after Stop()")
	}
}

func TestEngineSeekValidatesBounds(t *testing.T) {
	e, _, _, _, _ := testEngine()
	e.Play("9140", nil)
	defer e.Stop("9140")

	outOfRange := testInfo().DateEnd.Add(time.Minute)
	if _, err := e.Seek("9140", outOfRange); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("Seek() err = %v, want ErrInvalidTime", err)
	}

	target := testInfo().DateStart.Add(30 * time.Minute)
	snap, err := e.Seek("9140", target)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if !snap.CurrentTime.Equal(target) {
		t.Errorf("CurrentTime = %v, want %v", snap.CurrentTime, target)
	}
}

func TestEngineSetSpeedInvalidMultiplier(t *testing.T) {
	e, _, _, _, _ := testEngine()
	e.Play("9140", nil)
	defer e.Stop("9140")

	if _, err := e.SetSpeed("9140", 3); !errors.Is(err, ErrInvalidSpeed) {
		t.Errorf("SetSpeed(3) err = %v, want ErrInvalidSpeed", err)
	}
}

func TestEngineGetStateFromDisconnected(t *testing.T) {
	e, _, _, _, _ := testEngine()
	e.Play("9140", nil)
	e.Subscribe("9140")
	e.OnClientLeft("9140")

	snap := e.GetState("9140")
	if snap == nil {
		t.Fatal("GetState() = nil, want synthesized snapshot from disconnected state")
	}
	if snap.Status != models.StatusPaused {
		t.Errorf("Status = %v, want PAUSED", snap.Status)
	}
}

func TestEngineGetStateUnknown(t *testing.T) {
	e, _, _, _, _ := testEngine()
	if snap := e.GetState("nope"); snap != nil {
		t.Errorf("GetState(nope) = %v, want nil", snap)
	}
}

func TestEngineNextBatchNotPlaying(t *testing.T) {
	e, _, _, _, _ := testEngine()
	e.Play("9140", nil)
	e.Pause("9140")

	batch, err := e.NextBatch("9140")
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if batch != nil {
		t.Error("NextBatch() while paused should return nil batch")
	}
}

func TestEngineNextBatchCompletesAtEnd(t *testing.T) {
	e, catalog, _, _, _ := testEngine()
	info := catalog.sessions["9140"]
	e.Play("9140", &info.DateEnd)

	batch, err := e.NextBatch("9140")
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if batch != nil {
		t.Error("NextBatch() at DateEnd should return nil batch")
	}

	snap := e.GetState("9140")
	if snap != nil {
		t.Error("expected session to be dropped on completion")
	}
}

func TestEngineNextBatchDeliversAndAdvances(t *testing.T) {
	e, _, _, _, _ := testEngine()
	e.cfg.BatchInterval = 200 * time.Millisecond
	e.Play("9140", nil)
	defer e.Stop("9140")

	batch, err := e.NextBatch("9140")
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if batch == nil {
		t.Fatal("NextBatch() = nil, want a batch")
	}
	if len(batch.Locations) == 0 {
		t.Error("expected at least one location sample in the first batch")
	}
	if !batch.BatchTimestamp.Equal(testInfo().DateStart) {
		t.Errorf("BatchTimestamp = %v, want %v", batch.BatchTimestamp, testInfo().DateStart)
	}
	wantCurrent := testInfo().DateStart.Add(200 * time.Millisecond)
	if snap := e.GetState("9140"); snap == nil || !snap.CurrentTime.Equal(wantCurrent) {
		t.Errorf("CurrentTime after first batch = %v, want %v", snap, wantCurrent)
	}
}

func TestEngineSubscribeTracksLastLeaver(t *testing.T) {
	e, _, _, disconnected, _ := testEngine()
	e.Play("9140", nil)

	e.Subscribe("9140")
	e.Subscribe("9140")

	e.OnClientLeft("9140")
	if _, ok := disconnected.Get("9140"); ok {
		t.Error("should not suspend session while a subscriber remains")
	}

	e.OnClientLeft("9140")
	if _, ok := disconnected.Get("9140"); !ok {
		t.Error("should suspend session once the last subscriber leaves")
	}
}
