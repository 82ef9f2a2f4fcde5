// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package replay

import (
	"context"
	"sync"
	"time"

	"github.com/raceline-dev/replay-server/internal/config"
	"github.com/raceline-dev/replay-server/internal/logging"
	"github.com/raceline-dev/replay-server/internal/metrics"
	"github.com/raceline-dev/replay-server/internal/models"
)

// refillLowWatermarkMs is the buffer-remaining threshold below which a
// tick schedules an asynchronous refill (SPEC_FULL §4.D.2 step 6).
const refillLowWatermarkMs = 10_000

// StoreReader is the subset of the Store Adapter the Engine needs to
// refill a session's buffer.
type StoreReader interface {
	ReadLocations(ctx context.Context, sessionKey string, startTime, endTime time.Time) []models.LocationSample
	ReadCarData(ctx context.Context, sessionKey string, startTime, endTime time.Time) []models.CarSample
}

// CatalogReader is the subset of the Session Catalog the Engine needs to
// validate a session and resolve its bounds.
type CatalogReader interface {
	Get(sessionKey string) (models.SessionInfo, bool)
}

// DisconnectedStore persists DisconnectedState snapshots across the last
// subscriber leaving a session and a later resumption.
type DisconnectedStore interface {
	Get(sessionKey string) (models.DisconnectedState, bool)
	Put(state models.DisconnectedState) error
	Delete(sessionKey string) error
}

// BatchSink receives the results of the Engine's per-session ticker: the
// Client Session Manager implements this to fan a batch out to every
// subscriber of a session.
type BatchSink interface {
	Broadcast(sessionKey string, batch *models.TelemetryBatch)
	NotifyCompleted(sessionKey string)
}

// Engine is the Replay Engine (SPEC_FULL §4.D): it owns every active
// ReplaySession and drives each one's ticker.
type Engine struct {
	catalog      CatalogReader
	store        StoreReader
	disconnected DisconnectedStore
	cfg          config.EngineConfig
	sink         BatchSink
	logger       *logging.ReplayLogger

	mu     sync.RWMutex
	active map[string]*session

	subMu       sync.Mutex
	subscribers map[string]int
}

// NewEngine constructs a Replay Engine. sink may be nil for tests that
// only exercise state transitions, not dispatch.
func NewEngine(catalog CatalogReader, store StoreReader, disconnected DisconnectedStore, cfg config.EngineConfig, sink BatchSink) *Engine {
	return &Engine{
		catalog:      catalog,
		store:        store,
		disconnected: disconnected,
		cfg:          cfg,
		sink:         sink,
		logger:       logging.NewReplayLogger("engine"),
		active:       make(map[string]*session),
		subscribers:  make(map[string]int),
	}
}

// SetSink wires the batch sink after construction, for callers that
// need the Engine to build the sink (the Client Session Manager takes
// the Engine as a constructor argument).
func (e *Engine) SetSink(sink BatchSink) {
	e.sink = sink
}

func (e *Engine) getSession(key string) (*session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.active[key]
	return s, ok
}

func (e *Engine) setSession(key string, s *session) {
	e.mu.Lock()
	e.active[key] = s
	count := len(e.active)
	e.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))
}

func (e *Engine) deleteSession(key string) {
	e.mu.Lock()
	delete(e.active, key)
	count := len(e.active)
	e.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))
}

// Play implements SPEC_FULL §4.D.1's play operation.
func (e *Engine) Play(key string, startTime *time.Time) (models.ReplayStateSnapshot, error) {
	info, ok := e.catalog.Get(key)
	if !ok {
		return models.ReplayStateSnapshot{}, ErrUnknownSession
	}

	if s, exists := e.getSession(key); exists {
		s.mu.Lock()
		s.status = models.StatusPlaying
		s.mu.Unlock()
		e.ensureTicker(key, s)
		return s.snapshot(), nil
	}

	var from time.Time
	speed := models.Speed1x
	resuming := false

	switch {
	case startTime != nil:
		t := *startTime
		if t.Before(info.DateStart) || t.After(info.DateEnd) {
			return models.ReplayStateSnapshot{}, ErrInvalidTime
		}
		from = t
	default:
		if ds, ok := e.disconnected.Get(key); ok && !ds.IsExpired(e.cfg.StateRetention, time.Now()) {
			from = ds.CurrentTime
			speed = ds.Speed
			resuming = true
		} else {
			from = info.DateStart
		}
	}

	s := newSession(info, from, speed)
	e.setSession(key, s)
	e.refillSync(key, s, from)

	s.mu.Lock()
	s.status = models.StatusPlaying
	s.mu.Unlock()

	if resuming {
		_ = e.disconnected.Delete(key)
		e.logger.LogSessionResumed(key, from.Format(time.RFC3339))
	} else {
		e.logger.LogSessionCreated(key, from.Format(time.RFC3339))
	}

	e.startTicker(key, s)
	return s.snapshot(), nil
}

// Pause implements SPEC_FULL §4.D.1's pause operation.
func (e *Engine) Pause(key string) (models.ReplayStateSnapshot, error) {
	s, ok := e.getSession(key)
	if !ok {
		return models.ReplayStateSnapshot{}, ErrNoActiveSession
	}
	e.stopTickerFor(s)
	s.mu.Lock()
	s.status = models.StatusPaused
	s.mu.Unlock()
	return s.snapshot(), nil
}

// Stop implements SPEC_FULL §4.D.1's stop operation.
func (e *Engine) Stop(key string) (models.ReplayStateSnapshot, error) {
	s, ok := e.getSession(key)
	if !ok {
		return models.ReplayStateSnapshot{}, ErrNoActiveSession
	}
	e.stopTickerFor(s)
	s.mu.Lock()
	s.status = models.StatusStopped
	s.mu.Unlock()
	snap := s.snapshot()
	e.deleteSession(key)
	return snap, nil
}

// Seek implements SPEC_FULL §4.D.1's seek operation.
func (e *Engine) Seek(key string, target time.Time) (models.ReplayStateSnapshot, error) {
	s, ok := e.getSession(key)
	if !ok {
		return models.ReplayStateSnapshot{}, ErrNoActiveSession
	}
	if target.Before(s.info.DateStart) || target.After(s.info.DateEnd) {
		return models.ReplayStateSnapshot{}, ErrInvalidTime
	}

	s.mu.Lock()
	s.currentTime = target
	s.mu.Unlock()
	s.clear()

	e.refillSync(key, s, target)
	return s.snapshot(), nil
}

// SetSpeed implements SPEC_FULL §4.D.1's setSpeed operation.
func (e *Engine) SetSpeed(key string, multiplier float64) (models.ReplayStateSnapshot, error) {
	speed, ok := models.ParseSpeed(multiplier)
	if !ok {
		return models.ReplayStateSnapshot{}, ErrInvalidSpeed
	}
	s, ok := e.getSession(key)
	if !ok {
		return models.ReplayStateSnapshot{}, ErrNoActiveSession
	}

	s.mu.Lock()
	s.speed = speed
	playing := s.status == models.StatusPlaying
	s.mu.Unlock()

	if playing {
		e.restartTicker(key, s)
	}
	return s.snapshot(), nil
}

// GetState implements SPEC_FULL §4.D.1's getState operation.
func (e *Engine) GetState(key string) *models.ReplayStateSnapshot {
	if s, ok := e.getSession(key); ok {
		snap := s.snapshot()
		return &snap
	}

	ds, ok := e.disconnected.Get(key)
	if !ok || ds.IsExpired(e.cfg.StateRetention, time.Now()) {
		return nil
	}
	info, ok := e.catalog.Get(key)
	if !ok {
		return nil
	}
	return &models.ReplayStateSnapshot{
		SessionKey:  key,
		Status:      models.StatusPaused,
		CurrentTime: ds.CurrentTime,
		StartTime:   info.DateStart,
		EndTime:     info.DateEnd,
		Speed:       models.SpeedPayload{Multiplier: ds.Speed.Multiplier()},
		DurationMs:  info.DateEnd.Sub(info.DateStart).Milliseconds(),
		ElapsedMs:   ds.CurrentTime.Sub(info.DateStart).Milliseconds(),
	}
}

// NextBatch implements SPEC_FULL §4.D.1/§4.D.2's nextBatch operation: it
// pulls the batch for the next tick window, advancing currentTime and
// triggering a refill if necessary. Returns (nil, nil) when the session
// is not playing or has just completed.
func (e *Engine) NextBatch(key string) (*models.TelemetryBatch, error) {
	s, ok := e.getSession(key)
	if !ok {
		return nil, nil
	}

	s.mu.Lock()

	if s.status != models.StatusPlaying {
		s.mu.Unlock()
		return nil, nil
	}

	if !s.currentTime.Before(s.info.DateEnd) {
		s.status = models.StatusCompleted
		s.mu.Unlock()
		e.stopTickerFor(s)
		e.deleteSession(key)
		metrics.RecordPlaybackCompletion(key)
		if e.sink != nil {
			e.sink.NotifyCompleted(key)
		}
		return nil, nil
	}

	windowMs := time.Duration(float64(e.cfg.BatchInterval) * s.speed.Multiplier())
	windowEnd := s.currentTime.Add(windowMs)
	if windowEnd.After(s.info.DateEnd) {
		windowEnd = s.info.DateEnd
	}

	locOut, locRest := splitLocations(s.locBuffer, s.currentTime, windowEnd)
	carOut, carRest := splitCars(s.carBuffer, s.currentTime, windowEnd)
	s.locBuffer = locRest
	s.carBuffer = carRest

	batchTimestamp := s.currentTime
	s.currentTime = windowEnd
	remainingMs := s.bufferRemainingMsLocked()

	s.mu.Unlock()

	batch := &models.TelemetryBatch{BatchTimestamp: batchTimestamp, Locations: locOut, Cars: carOut}
	e.logger.LogBatchDispatched(key, len(locOut), len(carOut), batchTimestamp.Format(time.RFC3339Nano))

	if remainingMs < refillLowWatermarkMs {
		e.triggerAsyncRefill(key, s)
	}

	return batch, nil
}

// Subscribe registers a new subscriber for key, used by the Client
// Session Manager on connect/SUBSCRIBE.
func (e *Engine) Subscribe(key string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subscribers[key]++
}

// OnClientLeft implements SPEC_FULL §4.D.1's onClientLeft operation: if
// this was the last subscriber for key, the Engine suspends the session
// into a DisconnectedState.
func (e *Engine) OnClientLeft(key string) {
	e.subMu.Lock()
	e.subscribers[key]--
	remaining := e.subscribers[key]
	if remaining <= 0 {
		delete(e.subscribers, key)
	}
	e.subMu.Unlock()

	if remaining > 0 {
		return
	}

	s, ok := e.getSession(key)
	if !ok {
		return
	}

	e.stopTickerFor(s)

	s.mu.Lock()
	snapshot := models.DisconnectedState{
		SessionKey:     key,
		CurrentTime:    s.currentTime,
		Speed:          s.speed,
		DisconnectedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	if err := e.disconnected.Put(snapshot); err != nil {
		e.logger.Warn("failed to persist disconnected state", "session_key", key, "error", err.Error())
	}
	e.deleteSession(key)
	e.logger.LogSessionSuspended(key, snapshot.CurrentTime.Format(time.RFC3339))
}

func (e *Engine) ensureTicker(key string, s *session) {
	s.mu.Lock()
	running := s.stopTicker != nil
	s.mu.Unlock()
	if !running {
		e.startTicker(key, s)
	}
}

func (e *Engine) startTicker(key string, s *session) {
	ticker := time.NewTicker(e.cfg.BatchInterval)
	done := make(chan struct{})

	s.mu.Lock()
	s.stopTicker = sync.OnceFunc(func() { close(done) })
	s.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.runTick(key, s)
			}
		}
	}()
}

func (e *Engine) restartTicker(key string, s *session) {
	e.stopTickerFor(s)
	e.startTicker(key, s)
}

func (e *Engine) stopTickerFor(s *session) {
	s.mu.Lock()
	stop := s.stopTicker
	s.stopTicker = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// runTick is the per-session ticker callback: it computes exactly one
// batch and fans it out via the BatchSink, per the ticker-ownership
// decision in DESIGN.md. A panic here is caught and logged so the
// ticker goroutine survives (SPEC_FULL §7).
func (e *Engine) runTick(key string, s *session) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tick panic recovered", "session_key", key, "panic", r)
		}
	}()

	start := time.Now()
	defer func() { metrics.RecordTick(time.Since(start)) }()

	batch, err := e.NextBatch(key)
	if err != nil {
		e.logger.Error("nextBatch failed", "session_key", key, "error", err.Error())
		return
	}
	if batch == nil {
		return
	}
	metrics.RecordBatchDispatched(key)
	if e.sink != nil {
		e.sink.Broadcast(key, batch)
	}
}

func (e *Engine) refillSync(key string, s *session, from time.Time) {
	if !s.tryStartRefill() {
		return
	}
	defer s.finishRefill()
	e.doRefill(key, s, from)
}

func (e *Engine) triggerAsyncRefill(key string, s *session) {
	if !s.tryStartRefill() {
		return
	}
	go func() {
		defer s.finishRefill()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("refill panic recovered", "session_key", key, "panic", r)
			}
		}()
		s.mu.Lock()
		from := s.currentTime
		s.mu.Unlock()
		e.doRefill(key, s, from)
	}()
}

func (e *Engine) doRefill(key string, s *session, from time.Time) {
	gen := s.generationSnapshot()

	to := from.Add(e.cfg.BufferDuration)
	if to.After(s.info.DateEnd) {
		to = s.info.DateEnd
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	locs := e.store.ReadLocations(ctx, key, from, to)
	cars := e.store.ReadCarData(ctx, key, from, to)
	elapsed := time.Since(start)

	if ok := s.append(gen, locs, cars, to); !ok {
		metrics.RecordBufferRefill("discarded", elapsed)
		e.logger.LogRefillDiscarded(key, gen, s.generationSnapshot())
		return
	}
	metrics.RecordBufferRefill("ok", elapsed)
	e.logger.LogBufferRefill(key, len(locs), len(cars), elapsed.Milliseconds())
}
