// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package models

import "time"

// SessionInfo describes a replayable session's identity and bounds.
// Counts are best-effort and may be absent if the store has not yet
// been probed.
type SessionInfo struct {
	SessionKey    string     `json:"sessionKey"`
	Name          string     `json:"name"`
	DateStart     time.Time  `json:"dateStart"`
	DateEnd       time.Time  `json:"dateEnd"`
	DurationMs    *int64     `json:"durationMs,omitempty"`
	LocationCount *int64     `json:"locationCount,omitempty"`
	CarCount      *int64     `json:"carCount,omitempty"`
	RefreshedAt   *time.Time `json:"refreshedAt,omitempty"`
}

// Duration returns DateEnd - DateStart.
func (s SessionInfo) Duration() time.Duration {
	return s.DateEnd.Sub(s.DateStart)
}

// PlaybackSpeed is a closed enumeration of supported real-time
// multipliers.
type PlaybackSpeed int

const (
	Speed1x  PlaybackSpeed = 1
	Speed2x  PlaybackSpeed = 2
	Speed5x  PlaybackSpeed = 5
	Speed10x PlaybackSpeed = 10
)

// ParseSpeed validates a requested multiplier against the closed
// enumeration {1, 2, 5, 10}.
func ParseSpeed(multiplier float64) (PlaybackSpeed, bool) {
	switch multiplier {
	case 1:
		return Speed1x, true
	case 2:
		return Speed2x, true
	case 5:
		return Speed5x, true
	case 10:
		return Speed10x, true
	default:
		return 0, false
	}
}

// Multiplier returns the speed as a float64 ratio of logical time to
// wall-clock time.
func (s PlaybackSpeed) Multiplier() float64 {
	return float64(s)
}

// PlaybackStatus is the per-session playback state machine's current
// state.
type PlaybackStatus string

const (
	StatusIdle      PlaybackStatus = "IDLE"
	StatusPlaying   PlaybackStatus = "PLAYING"
	StatusPaused    PlaybackStatus = "PAUSED"
	StatusStopped   PlaybackStatus = "STOPPED"
	StatusCompleted PlaybackStatus = "COMPLETED"
)

// DisconnectedState is the snapshot preserved after a session's last
// subscriber leaves, so playback can resume where it left off within
// the retention window.
type DisconnectedState struct {
	SessionKey      string
	CurrentTime     time.Time
	Speed           PlaybackSpeed
	DisconnectedAt  time.Time
}

// IsExpired reports whether this snapshot has outlived retention,
// measured from disconnectedAt.
func (d DisconnectedState) IsExpired(retention time.Duration, now time.Time) bool {
	return now.Sub(d.DisconnectedAt) > retention
}

// ReplayStateSnapshot is the REPLAY_STATE wire event payload: a
// point-in-time view of a session's playback state, whether backed by a
// live ReplaySession or a synthesized view of a DisconnectedState.
type ReplayStateSnapshot struct {
	SessionKey  string         `json:"sessionKey"`
	Status      PlaybackStatus `json:"status"`
	CurrentTime time.Time      `json:"currentTime"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime"`
	Speed       SpeedPayload   `json:"speed"`
	DurationMs  int64          `json:"durationMs"`
	ElapsedMs   int64          `json:"elapsedMs"`
}

// SpeedPayload is the nested {multiplier} object carried on
// ReplayStateSnapshot.
type SpeedPayload struct {
	Multiplier float64 `json:"multiplier"`
}
