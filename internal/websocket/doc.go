// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package websocket implements the Client Session Manager (SPEC_FULL
// §4.E): the per-connection command dispatcher and the per-session
// broadcast fan-out that delivers TELEMETRY_BATCH frames computed by
// the Replay Engine's ticker.
//
// # Connection lifecycle
//
// A connection's sessionKey is fixed by its URL path
// (ws://host:port/ws/telemetry/{sessionKey}) at accept time. On
// connect the client is sent a REPLAY_STATE frame (possibly null), then
// SUBSCRIBE (or PLAY) starts delivery and UNSUBSCRIBE stops it without
// closing the connection. Unsubscribing or disconnecting a subscribed
// client calls Engine.OnClientLeft so the last subscriber leaving a
// session suspends it into a DisconnectedState.
//
// # Fan-out, not per-client polling
//
// Manager owns one client set per sessionKey rather than one global
// Hub. The Engine computes each tick's batch exactly once and hands it
// to Manager.Broadcast, which fans it out to every subscribed *Client
// using the teacher's non-blocking-send/drop-on-full broadcast pattern.
package websocket
