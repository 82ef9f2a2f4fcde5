// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// contextKey namespaces the values this package stashes on a
// context.Context, separate from any key a handler or the replay
// engine might use.
type contextKey string

const (
	// correlationIDKey tags a chain of calls that starts at one HTTP
	// request or WebSocket connection, even as it crosses into
	// catalog/engine/store calls that don't carry the original request.
	correlationIDKey contextKey = "correlation_id"

	// requestIDKey identifies a single HTTP request, assigned by the
	// request-ID middleware.
	requestIDKey contextKey = "request_id"

	loggerKey contextKey = "logger"
)

// GenerateCorrelationID returns a short, human-scannable ID (the first
// 8 hex characters of a UUID) suitable for grepping across a session's
// log lines.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// GenerateRequestID returns a full UUID, unique enough to dedupe
// request logs across replay-server instances behind a load balancer.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithCorrelationID attaches id to ctx.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID attaches a freshly generated correlation ID.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns ctx's correlation ID, or "" if none
// was attached (e.g. a background loop not tied to any request).
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID attaches id to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithNewRequestID attaches a freshly generated request ID.
func ContextWithNewRequestID(ctx context.Context) context.Context {
	return ContextWithRequestID(ctx, GenerateRequestID())
}

// RequestIDFromContext returns ctx's request ID, or "" if none was attached.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithLogger attaches a pre-built logger to ctx, letting a
// handler hand a request-scoped logger down through plain functions
// that only take a context.Context.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger attached to ctx, or the global
// logger if none was attached.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return Logger()
}

// Ctx returns a logger with correlation_id/request_id fields populated
// from ctx. Handlers and the WebSocket gateway use this instead of the
// bare global logger so a session's request boundary stays visible in
// every line it produces.
//
//	logging.Ctx(ctx).Info().Str("session_key", key).Msg("subscribed")
func Ctx(ctx context.Context) *zerolog.Logger {
	contextLogger := LoggerFromContext(ctx).With().Logger()

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		contextLogger = contextLogger.With().Str("correlation_id", correlationID).Logger()
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		contextLogger = contextLogger.With().Str("request_id", requestID).Logger()
	}

	return &contextLogger
}

// CtxWith is Ctx but returns a builder, for attaching extra fields
// before calling .Logger().
//
//	logger := logging.CtxWith(ctx).Str("session_key", key).Logger()
func CtxWith(ctx context.Context) zerolog.Context {
	logCtx := LoggerFromContext(ctx).With()

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}

	return logCtx
}

// CtxDebug, CtxInfo, CtxWarn and CtxError start an event at the given
// level on Ctx(ctx), i.e. shorthand for Ctx(ctx).Debug() and so on.
func CtxDebug(ctx context.Context) *zerolog.Event { return Ctx(ctx).Debug() }
func CtxInfo(ctx context.Context) *zerolog.Event  { return Ctx(ctx).Info() }
func CtxWarn(ctx context.Context) *zerolog.Event  { return Ctx(ctx).Warn() }
func CtxError(ctx context.Context) *zerolog.Event { return Ctx(ctx).Error() }

// CtxErr is shorthand for Ctx(ctx).Err(err).
func CtxErr(ctx context.Context, err error) *zerolog.Event {
	return Ctx(ctx).Err(err)
}

// WithComponent returns a logger tagged with a "component" field, e.g.
// "catalog" or "store". [NewReplayLogger] builds on this for the
// replay engine's own call sites.
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}

// WithService tags a logger with a "service" field, for deployments
// where replay-server's logs are aggregated alongside other services.
func WithService(service string) zerolog.Logger {
	return With().Str("service", service).Logger()
}
