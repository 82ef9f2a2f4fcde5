// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package replay implements the Replay Session state container and the
// Replay Engine that drives it: the playback state machine, pre-fetch
// buffering, paced batch dispatch, and disconnected-session retention.
package replay

import (
	"sort"
	"sync"
	"time"

	"github.com/raceline-dev/replay-server/internal/models"
)

// session is the per-sessionKey mutable state container (SPEC_FULL
// §4.C). All field access is guarded by mu; the Engine never reaches
// into a session's fields directly.
type session struct {
	mu sync.Mutex

	sessionKey string
	info       models.SessionInfo

	currentTime time.Time
	speed       models.PlaybackSpeed
	status      models.PlaybackStatus

	locBuffer []models.LocationSample
	carBuffer []models.CarSample
	bufferEnd time.Time // zero value means "unset"

	// generation is incremented by clear(); an in-flight refill compares
	// the generation it started with against the current generation
	// before splicing results in, discarding itself on mismatch
	// (SPEC_FULL §5, §9).
	generation uint64

	// refillInFlight coalesces concurrent refill triggers: at most one
	// refill runs per session at a time.
	refillInFlight bool

	stopTicker func()
}

func newSession(info models.SessionInfo, startTime time.Time, speed models.PlaybackSpeed) *session {
	return &session{
		sessionKey:  info.SessionKey,
		info:        info,
		currentTime: startTime,
		speed:       speed,
		status:      models.StatusIdle,
	}
}

// generationSnapshot returns the current generation for a caller about
// to start an async refill, under the session lock.
func (s *session) generationSnapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// tryStartRefill claims the single in-flight refill slot, returning
// false if a refill is already running.
func (s *session) tryStartRefill() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refillInFlight {
		return false
	}
	s.refillInFlight = true
	return true
}

// finishRefill releases the in-flight refill slot.
func (s *session) finishRefill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refillInFlight = false
}

// consume returns all buffered samples in [from, to) and removes them
// from the buffer, ordered ascending by timestamp within each channel.
func (s *session) consume(from, to time.Time) ([]models.LocationSample, []models.CarSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locOut, locRest := splitLocations(s.locBuffer, from, to)
	carOut, carRest := splitCars(s.carBuffer, from, to)
	s.locBuffer = locRest
	s.carBuffer = carRest
	return locOut, carOut
}

func splitLocations(buf []models.LocationSample, from, to time.Time) (in, rest []models.LocationSample) {
	in = make([]models.LocationSample, 0, len(buf))
	rest = make([]models.LocationSample, 0, len(buf))
	for _, s := range buf {
		if !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			in = append(in, s)
		} else {
			rest = append(rest, s)
		}
	}
	return in, rest
}

func splitCars(buf []models.CarSample, from, to time.Time) (in, rest []models.CarSample) {
	in = make([]models.CarSample, 0, len(buf))
	rest = make([]models.CarSample, 0, len(buf))
	for _, s := range buf {
		if !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			in = append(in, s)
		} else {
			rest = append(rest, s)
		}
	}
	return in, rest
}

// append extends the buffers with new samples (deduplicating against
// existing entries by timestamp+driverNumber, per SPEC_FULL §4.C) and
// advances bufferEnd. It is a no-op if gen no longer matches the
// session's current generation (a stale refill).
func (s *session) append(gen uint64, locations []models.LocationSample, cars []models.CarSample, newBufferEnd time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}

	s.locBuffer = mergeLocations(s.locBuffer, locations)
	s.carBuffer = mergeCars(s.carBuffer, cars)
	if s.bufferEnd.IsZero() || newBufferEnd.After(s.bufferEnd) {
		s.bufferEnd = newBufferEnd
	}
	return true
}

func mergeLocations(existing, incoming []models.LocationSample) []models.LocationSample {
	seen := make(map[locationKey]struct{}, len(existing))
	for _, s := range existing {
		seen[locationKey{s.Timestamp.UnixNano(), s.DriverNumber}] = struct{}{}
	}
	out := existing
	for _, s := range incoming {
		k := locationKey{s.Timestamp.UnixNano(), s.DriverNumber}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func mergeCars(existing, incoming []models.CarSample) []models.CarSample {
	seen := make(map[locationKey]struct{}, len(existing))
	for _, s := range existing {
		seen[locationKey{s.Timestamp.UnixNano(), s.DriverNumber}] = struct{}{}
	}
	out := existing
	for _, s := range incoming {
		k := locationKey{s.Timestamp.UnixNano(), s.DriverNumber}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

type locationKey struct {
	tsNano       int64
	driverNumber int
}

// clear drops both buffers and bufferEnd, and bumps the generation so
// any in-flight refill discards its result on completion. Returns the
// new generation.
func (s *session) clear() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locBuffer = nil
	s.carBuffer = nil
	s.bufferEnd = time.Time{}
	s.generation++
	return s.generation
}

// bufferRemainingMs returns bufferEnd - currentTime, clamped at 0.
func (s *session) bufferRemainingMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferRemainingMsLocked()
}

func (s *session) bufferRemainingMsLocked() int64 {
	if s.bufferEnd.IsZero() {
		return 0
	}
	remaining := s.bufferEnd.Sub(s.currentTime).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *session) snapshot() models.ReplayStateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.ReplayStateSnapshot{
		SessionKey:  s.sessionKey,
		Status:      s.status,
		CurrentTime: s.currentTime,
		StartTime:   s.info.DateStart,
		EndTime:     s.info.DateEnd,
		Speed:       models.SpeedPayload{Multiplier: s.speed.Multiplier()},
		DurationMs:  s.info.DateEnd.Sub(s.info.DateStart).Milliseconds(),
		ElapsedMs:   s.currentTime.Sub(s.info.DateStart).Milliseconds(),
	}
}
