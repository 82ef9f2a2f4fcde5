// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package websocket

import (
	"time"

	"github.com/raceline-dev/replay-server/internal/models"
)

// Engine is the subset of *replay.Engine the Client Session Manager
// drives. Defined here (rather than importing *replay.Engine directly)
// so the gateway only depends on the operation surface it actually
// calls.
type Engine interface {
	Play(sessionKey string, startTime *time.Time) (models.ReplayStateSnapshot, error)
	Pause(sessionKey string) (models.ReplayStateSnapshot, error)
	Stop(sessionKey string) (models.ReplayStateSnapshot, error)
	Seek(sessionKey string, target time.Time) (models.ReplayStateSnapshot, error)
	SetSpeed(sessionKey string, multiplier float64) (models.ReplayStateSnapshot, error)
	GetState(sessionKey string) *models.ReplayStateSnapshot
	Subscribe(sessionKey string)
	OnClientLeft(sessionKey string)
}

// SessionValidator is the subset of *catalog.Catalog used to check, at
// WebSocket upgrade time, that the URL's sessionKey names a known session.
type SessionValidator interface {
	Exists(sessionKey string) bool
}
