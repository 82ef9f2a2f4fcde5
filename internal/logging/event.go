// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ReplayLogger provides specialized, component-scoped logging for the replay
// engine and its collaborators. It wraps the global logger with a fixed
// "component" field and exposes domain-specific convenience methods so call
// sites read as replay vocabulary instead of ad-hoc field lists.
type ReplayLogger struct {
	logger zerolog.Logger
}

// NewReplayLogger creates a logger configured for a named replay component
// (e.g. "engine", "store", "gateway"), using the global logger as the base.
func NewReplayLogger(component string) *ReplayLogger {
	return &ReplayLogger{
		logger: With().Str("component", component).Logger(),
	}
}

// NewReplayLoggerWithLogger creates a ReplayLogger with a custom base logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value (copy-on-write semantics)
func NewReplayLoggerWithLogger(logger zerolog.Logger, component string) *ReplayLogger {
	return &ReplayLogger{
		logger: logger.With().Str("component", component).Logger(),
	}
}

// WithFields returns a new ReplayLogger with additional default fields.
func (r *ReplayLogger) WithFields(fields map[string]interface{}) *ReplayLogger {
	ctx := r.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &ReplayLogger{logger: ctx.Logger()}
}

// Debug logs a debug message.
func (r *ReplayLogger) Debug(msg string, fields ...interface{}) {
	event := r.logger.Debug()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Info logs an info message.
func (r *ReplayLogger) Info(msg string, fields ...interface{}) {
	event := r.logger.Info()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Warn logs a warning message.
func (r *ReplayLogger) Warn(msg string, fields ...interface{}) {
	event := r.logger.Warn()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Error logs an error message.
func (r *ReplayLogger) Error(msg string, fields ...interface{}) {
	event := r.logger.Error()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// InfoContext logs an info message with correlation/request IDs from ctx.
func (r *ReplayLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := r.loggerWithContext(ctx)
	event := logger.Info()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// WarnContext logs a warning message with correlation/request IDs from ctx.
func (r *ReplayLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := r.loggerWithContext(ctx)
	event := logger.Warn()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// ErrorContext logs an error message with correlation/request IDs from ctx.
func (r *ReplayLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := r.loggerWithContext(ctx)
	event := logger.Error()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

func (r *ReplayLogger) loggerWithContext(ctx context.Context) zerolog.Logger {
	logCtx := r.logger.With()

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}

	return logCtx.Logger()
}

// addFieldPairs adds key-value pairs to a zerolog event.
func addFieldPairs(e *zerolog.Event, fields []interface{}) *zerolog.Event {
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			e = e.Interface(key, fields[i+1])
		}
	}
	return e
}

// ============================================================
// Domain-specific replay logging methods
// ============================================================

// LogSessionCreated logs creation of a new ReplaySession.
func (r *ReplayLogger) LogSessionCreated(sessionKey string, startTime string) {
	r.Info("replay session created",
		"session_key", sessionKey,
		"start_time", startTime,
	)
}

// LogStatusTransition logs a playback status change.
func (r *ReplayLogger) LogStatusTransition(sessionKey, from, to string) {
	r.Info("playback status transition",
		"session_key", sessionKey,
		"from", from,
		"to", to,
	)
}

// LogBatchDispatched logs a telemetry batch handed to the manager.
func (r *ReplayLogger) LogBatchDispatched(sessionKey string, locations, cars int, batchTimestamp string) {
	r.Debug("telemetry batch dispatched",
		"session_key", sessionKey,
		"locations", locations,
		"cars", cars,
		"batch_timestamp", batchTimestamp,
	)
}

// LogBufferRefill logs a buffer refill outcome.
func (r *ReplayLogger) LogBufferRefill(sessionKey string, locations, cars int, durationMs int64) {
	r.Debug("buffer refill completed",
		"session_key", sessionKey,
		"locations", locations,
		"cars", cars,
		"duration_ms", durationMs,
	)
}

// LogRefillDiscarded logs a stale refill result discarded due to a
// generation mismatch (the session was seeked/cleared while the refill
// was in flight).
func (r *ReplayLogger) LogRefillDiscarded(sessionKey string, expectedGen, gotGen uint64) {
	r.Debug("stale buffer refill discarded",
		"session_key", sessionKey,
		"expected_generation", expectedGen,
		"refill_generation", gotGen,
	)
}

// LogClientDisconnected logs a subscriber leaving a session.
func (r *ReplayLogger) LogClientDisconnected(sessionKey, connectionID string, remainingSubscribers int) {
	r.Info("client disconnected",
		"session_key", sessionKey,
		"connection_id", connectionID,
		"remaining_subscribers", remainingSubscribers,
	)
}

// LogSessionSuspended logs a ReplaySession being dropped in favor of a
// DisconnectedState snapshot.
func (r *ReplayLogger) LogSessionSuspended(sessionKey string, currentTime string) {
	r.Info("replay session suspended",
		"session_key", sessionKey,
		"current_time", currentTime,
	)
}

// LogSessionResumed logs a ReplaySession resuming from a DisconnectedState.
func (r *ReplayLogger) LogSessionResumed(sessionKey string, currentTime string) {
	r.Info("replay session resumed",
		"session_key", sessionKey,
		"current_time", currentTime,
	)
}

// LogStoreReadFailed logs a store adapter read failure that degraded to an
// empty result set.
func (r *ReplayLogger) LogStoreReadFailed(streamKey string, err error) {
	logger := r.logger
	logger.Warn().Str("stream_key", streamKey).Err(err).Msg("store read failed, returning empty result")
}
