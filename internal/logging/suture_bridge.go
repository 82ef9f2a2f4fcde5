// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// SupervisorLogBridge is an slog.Handler backed by zerolog. The suture
// supervision tree (internal/supervisor) only accepts an *slog.Logger
// for its event hook, so this bridge lets the tree's restart/backoff
// events land in the same zerolog stream as everything else instead of
// opening a second, uncorrelated log sink.
type SupervisorLogBridge struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	groups []string
}

// NewSupervisorLogBridge builds a bridge over the global logger.
func NewSupervisorLogBridge() *SupervisorLogBridge {
	return &SupervisorLogBridge{logger: Logger()}
}

// NewSupervisorLogBridgeWithLogger builds a bridge over a specific logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSupervisorLogBridgeWithLogger(logger zerolog.Logger) *SupervisorLogBridge {
	return &SupervisorLogBridge{logger: logger}
}

// Enabled reports whether the bridge forwards records at the given level.
func (h *SupervisorLogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= slogToZerologLevel(level)
}

// Handle forwards one slog.Record as a zerolog event.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface
func (h *SupervisorLogBridge) Handle(_ context.Context, record slog.Record) error {
	var event *zerolog.Event
	switch record.Level {
	case slog.LevelDebug:
		event = h.logger.Debug()
	case slog.LevelInfo:
		event = h.logger.Info()
	case slog.LevelWarn:
		event = h.logger.Warn()
	case slog.LevelError:
		event = h.logger.Error()
	default:
		event = h.logger.Info()
	}

	for _, attr := range h.attrs {
		event = addAttr(event, attr, h.groups)
	}
	record.Attrs(func(attr slog.Attr) bool {
		event = addAttr(event, attr, h.groups)
		return true
	})

	event.Msg(record.Message)
	return nil
}

// WithAttrs returns a bridge carrying the given attributes on every record.
func (h *SupervisorLogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	copy(merged[len(h.attrs):], attrs)
	return &SupervisorLogBridge{logger: h.logger, attrs: merged, groups: h.groups}
}

// WithGroup returns a bridge that nests subsequent attributes under name.
func (h *SupervisorLogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, len(h.groups)+1)
	copy(groups, h.groups)
	groups[len(h.groups)] = name
	return &SupervisorLogBridge{logger: h.logger, attrs: h.attrs, groups: groups}
}

// addAttr translates one slog attribute onto a zerolog event, flattening
// group nesting into dotted field names (sutureslog emits a handful of
// flat attrs per event, so this never recurses deeply in practice).
func addAttr(event *zerolog.Event, attr slog.Attr, groups []string) *zerolog.Event {
	key := attr.Key
	for i := len(groups) - 1; i >= 0; i-- {
		key = groups[i] + "." + key
	}

	switch attr.Value.Kind() {
	case slog.KindString:
		return event.Str(key, attr.Value.String())
	case slog.KindInt64:
		return event.Int64(key, attr.Value.Int64())
	case slog.KindUint64:
		return event.Uint64(key, attr.Value.Uint64())
	case slog.KindFloat64:
		return event.Float64(key, attr.Value.Float64())
	case slog.KindBool:
		return event.Bool(key, attr.Value.Bool())
	case slog.KindDuration:
		return event.Dur(key, attr.Value.Duration())
	case slog.KindTime:
		return event.Time(key, attr.Value.Time())
	case slog.KindGroup:
		for _, ga := range attr.Value.Group() {
			event = addAttr(event, ga, append(groups, attr.Key))
		}
		return event
	default:
		return event.Interface(key, attr.Value.Any())
	}
}

// slogToZerologLevel maps an slog.Level onto the nearest zerolog.Level.
func slogToZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelDebug:
		return zerolog.TraceLevel
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// NewSupervisorLogger returns the *slog.Logger passed to sutureslog.Handler
// when wiring the supervision tree in cmd/server, so supervisor restarts
// and service failures are logged through the same zerolog pipeline.
func NewSupervisorLogger() *slog.Logger {
	return slog.New(NewSupervisorLogBridge())
}

// NewSupervisorLoggerWithLevel is NewSupervisorLogger with an explicit
// minimum level, independent of the global logger's configured level.
func NewSupervisorLoggerWithLevel(level string) *slog.Logger {
	logger := Logger().Level(parseLevel(level))
	return slog.New(NewSupervisorLogBridgeWithLogger(logger))
}
