// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package models

// ClientSession identifies one logical WebSocket connection subscribed
// to a replay session. The outbound queue and streaming-loop lifecycle
// live on the gateway's Client type; this struct is the
// transport-independent identity the Engine reasons about.
type ClientSession struct {
	ConnectionID string
	SessionKey   string
}
