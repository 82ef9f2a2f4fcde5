// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package metrics provides Prometheus instrumentation for the Replay
// Engine, the Store Adapter, and the HTTP/WebSocket surfaces.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Replay Engine metrics.

	BatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_batches_dispatched_total",
			Help: "Total number of TELEMETRY_BATCH frames dispatched by the Replay Engine.",
		},
		[]string{"session_key"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replay_tick_duration_seconds",
			Help:    "Wall-clock duration of one Replay Engine tick (window compute + fan-out).",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_active_sessions",
			Help: "Current number of sessions with an active Replay Session (any status).",
		},
	)

	PlaybackCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_playback_completions_total",
			Help: "Total number of sessions that reached PLAYBACK_COMPLETE.",
		},
		[]string{"session_key"},
	)

	// Buffer refill metrics.

	BufferRefillDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replay_buffer_refill_duration_seconds",
			Help:    "Duration of a Store Adapter read performed to refill a session's pre-fetch buffer.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"}, // "ok", "discarded", "error"
	)

	BufferRefillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_buffer_refills_total",
			Help: "Total number of buffer refill attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	// Disconnected-state retention metrics.

	DisconnectedStatesStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_disconnected_states",
			Help: "Current number of DisconnectedState snapshots retained in BadgerDB.",
		},
	)

	DisconnectedStatesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replay_disconnected_states_expired_total",
			Help: "Total number of DisconnectedState snapshots evicted by the cleanup routine.",
		},
	)

	// WebSocket gateway metrics.

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_connected_clients",
			Help: "Current number of open websocket connections.",
		},
	)

	SubscribedClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replay_subscribed_clients",
			Help: "Current number of clients subscribed to a session's telemetry stream.",
		},
		[]string{"session_key"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_frames_dropped_total",
			Help: "Total number of outbound frames dropped because a client's send queue was full.",
		},
		[]string{"frame_type"},
	)

	// HTTP sidecar metrics.

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_api_requests_total",
			Help: "Total number of HTTP sidecar requests, labeled by method, path, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replay_api_request_duration_seconds",
			Help:    "Duration of HTTP sidecar requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_api_active_requests",
			Help: "Current number of in-flight HTTP sidecar requests.",
		},
	)

	// Store Adapter / circuit breaker metrics.

	StoreReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replay_store_read_duration_seconds",
			Help:    "Duration of a Store Adapter range read against JetStream.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)

	StoreCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_store_circuit_state",
			Help: "Store Adapter circuit breaker state: 0=closed, 1=half-open, 2=open.",
		},
	)

	CatalogRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_catalog_refreshes_total",
			Help: "Total number of Session Catalog background refresh attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)
)

// RecordBatchDispatched records one TELEMETRY_BATCH dispatch for sessionKey.
func RecordBatchDispatched(sessionKey string) {
	BatchesDispatched.WithLabelValues(sessionKey).Inc()
}

// RecordTick records the wall-clock duration of one Replay Engine tick.
func RecordTick(duration time.Duration) {
	TickDuration.Observe(duration.Seconds())
}

// RecordPlaybackCompletion records that sessionKey reached PLAYBACK_COMPLETE.
func RecordPlaybackCompletion(sessionKey string) {
	PlaybackCompletions.WithLabelValues(sessionKey).Inc()
}

// RecordBufferRefill records a buffer refill attempt's outcome and duration.
func RecordBufferRefill(outcome string, duration time.Duration) {
	BufferRefillsTotal.WithLabelValues(outcome).Inc()
	BufferRefillDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetDisconnectedStateCount sets the current DisconnectedState gauge.
func SetDisconnectedStateCount(count int) {
	DisconnectedStatesStored.Set(float64(count))
}

// RecordDisconnectedStatesExpired adds n expired entries to the counter.
func RecordDisconnectedStatesExpired(n int) {
	DisconnectedStatesExpired.Add(float64(n))
}

// TrackConnectedClient increments or decrements the connected-clients gauge.
func TrackConnectedClient(inc bool) {
	if inc {
		ConnectedClients.Inc()
	} else {
		ConnectedClients.Dec()
	}
}

// SetSubscribedClients sets the per-session subscribed-client gauge.
func SetSubscribedClients(sessionKey string, count int) {
	SubscribedClients.WithLabelValues(sessionKey).Set(float64(count))
}

// RecordFrameDropped records one dropped outbound frame of the given type.
func RecordFrameDropped(frameType string) {
	FramesDropped.WithLabelValues(frameType).Inc()
}

// TrackActiveRequest increments or decrements the in-flight API request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAPIRequest records one completed HTTP sidecar request.
func RecordAPIRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStoreRead records one Store Adapter range read.
func RecordStoreRead(stream string, duration time.Duration) {
	StoreReadDuration.WithLabelValues(stream).Observe(duration.Seconds())
}

// SetStoreCircuitState reflects the Store Adapter's circuit breaker state.
func SetStoreCircuitState(state int) {
	StoreCircuitState.Set(float64(state))
}

// RecordCatalogRefresh records one Session Catalog background refresh attempt.
func RecordCatalogRefresh(outcome string) {
	CatalogRefreshes.WithLabelValues(outcome).Inc()
}
