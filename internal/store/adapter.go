// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package store implements the Store Adapter contract over a NATS
// JetStream-backed append-only stream store.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/raceline-dev/replay-server/internal/config"
	"github.com/raceline-dev/replay-server/internal/logging"
	"github.com/raceline-dev/replay-server/internal/metrics"
	"github.com/raceline-dev/replay-server/internal/models"
)

// locationRecord and carRecord mirror the wire shape of records stored
// under the telemetry:location:<key> and telemetry:cardata:<key>
// streams (SPEC_FULL §6.4).
type locationRecord struct {
	DriverNumber json.RawMessage `json:"driver_number"`
	X            json.RawMessage `json:"x"`
	Y            json.RawMessage `json:"y"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

type carRecord struct {
	DriverNumber json.RawMessage `json:"driver_number"`
	Speed        json.RawMessage `json:"speed"`
	RPM          json.RawMessage `json:"rpm"`
	Gear         json.RawMessage `json:"gear"`
	Throttle     json.RawMessage `json:"throttle"`
	Brake        json.RawMessage `json:"brake"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

// Adapter reads telemetry records from JetStream streams. It never
// blocks indefinitely and never returns a partial result on error: a
// connectivity failure degrades to an empty slice.
type Adapter struct {
	js      nats.JetStreamContext
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[interface{}]
	logger  *logging.ReplayLogger
}

// New creates a Store Adapter bound to an already-connected JetStream
// context.
func New(js nats.JetStreamContext, cfg config.StoreConfig) *Adapter {
	settings := gobreaker.Settings{
		Name:        cfg.CircuitBreaker.Name,
		MaxRequests: cfg.CircuitBreaker.MaxRequests,
		Interval:    cfg.CircuitBreaker.Interval,
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitBreaker.FailureThreshold
		},
	}
	return &Adapter{
		js:      js,
		timeout: cfg.ReadTimeout,
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
		logger:  logging.NewReplayLogger("store"),
	}
}

// locationStreamName and carStreamName translate the fixed key naming
// (telemetry:location:<sessionKey>) into a legal JetStream stream name
// (colons are not permitted; dots are the JetStream-native separator).
func locationStreamName(sessionKey string) string {
	return streamSubject("telemetry.location." + sessionKey)
}

func carStreamName(sessionKey string) string {
	return streamSubject("telemetry.cardata." + sessionKey)
}

func streamSubject(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

// LocationStreamKey returns the fixed store key for a session's location
// stream (SPEC_FULL §4.A): telemetry:location:<sessionKey>.
func LocationStreamKey(sessionKey string) string {
	return "telemetry:location:" + sessionKey
}

// CarStreamKey returns the fixed store key for a session's car-data
// stream: telemetry:cardata:<sessionKey>.
func CarStreamKey(sessionKey string) string {
	return "telemetry:cardata:" + sessionKey
}

// ReadLocations returns all LocationSamples for sessionKey with
// timestamp in [startTime, endTime).
func (a *Adapter) ReadLocations(ctx context.Context, sessionKey string, startTime, endTime time.Time) []models.LocationSample {
	stream := locationStreamName(sessionKey)
	start := time.Now()
	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.readLocationsRaw(ctx, stream, sessionKey, startTime, endTime)
	})
	metrics.RecordStoreRead(stream, time.Since(start))
	metrics.SetStoreCircuitState(int(a.breaker.State()))
	if err != nil {
		a.logger.LogStoreReadFailed(stream, err)
		return []models.LocationSample{}
	}
	samples, _ := result.([]models.LocationSample)
	return samples
}

// ReadCarData returns all CarSamples for sessionKey with timestamp in
// [startTime, endTime).
func (a *Adapter) ReadCarData(ctx context.Context, sessionKey string, startTime, endTime time.Time) []models.CarSample {
	stream := carStreamName(sessionKey)
	start := time.Now()
	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.readCarDataRaw(ctx, stream, sessionKey, startTime, endTime)
	})
	metrics.RecordStoreRead(stream, time.Since(start))
	metrics.SetStoreCircuitState(int(a.breaker.State()))
	if err != nil {
		a.logger.LogStoreReadFailed(stream, err)
		return []models.CarSample{}
	}
	samples, _ := result.([]models.CarSample)
	return samples
}

func (a *Adapter) readLocationsRaw(ctx context.Context, stream, sessionKey string, startTime, endTime time.Time) ([]models.LocationSample, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sub, err := a.js.SubscribeSync(stream+".>",
		nats.BindStream(stream),
		nats.DeliverByStartTimePolicy,
		nats.StartTime(startTime),
		nats.AckNone(),
		nats.OrderedConsumer(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", stream, err)
	}
	defer sub.Unsubscribe()

	out := make([]models.LocationSample, 0, 64)
	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				break
			}
			return nil, fmt.Errorf("read %s: %w", stream, err)
		}

		var rec locationRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			continue
		}
		ts, ok := parseTimestamp(rec.Timestamp)
		if !ok {
			a.logger.Warn("dropping record with unparseable timestamp", "stream", stream)
			continue
		}
		if !ts.Before(endTime) {
			break
		}
		if ts.Before(startTime) {
			continue
		}

		out = append(out, models.LocationSample{
			SessionKey:   sessionKey,
			DriverNumber: parseIntDegraded(rec.DriverNumber),
			Timestamp:    ts,
			X:            parseFloatDegraded(rec.X),
			Y:            parseFloatDegraded(rec.Y),
		})
	}
	return out, nil
}

func (a *Adapter) readCarDataRaw(ctx context.Context, stream, sessionKey string, startTime, endTime time.Time) ([]models.CarSample, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sub, err := a.js.SubscribeSync(stream+".>",
		nats.BindStream(stream),
		nats.DeliverByStartTimePolicy,
		nats.StartTime(startTime),
		nats.AckNone(),
		nats.OrderedConsumer(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", stream, err)
	}
	defer sub.Unsubscribe()

	out := make([]models.CarSample, 0, 64)
	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				break
			}
			return nil, fmt.Errorf("read %s: %w", stream, err)
		}

		var rec carRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			continue
		}
		ts, ok := parseTimestamp(rec.Timestamp)
		if !ok {
			a.logger.Warn("dropping record with unparseable timestamp", "stream", stream)
			continue
		}
		if !ts.Before(endTime) {
			break
		}
		if ts.Before(startTime) {
			continue
		}

		out = append(out, models.CarSample{
			SessionKey:   sessionKey,
			DriverNumber: parseIntDegraded(rec.DriverNumber),
			Timestamp:    ts,
			Speed:        parseIntDegraded(rec.Speed),
			RPM:          parseIntDegraded(rec.RPM),
			Gear:         parseIntDegraded(rec.Gear),
			Throttle:     parseIntDegraded(rec.Throttle),
			Brake:        parseIntDegraded(rec.Brake),
		})
	}
	return out, nil
}

// StreamLength returns the message count for streamKey, 0 on failure.
func (a *Adapter) StreamLength(streamKey string) int64 {
	info, err := a.js.StreamInfo(streamSubject(streamKey))
	if err != nil {
		return 0
	}
	return int64(info.State.Msgs)
}

// StreamExists reports whether streamKey names a stream in the store.
func (a *Adapter) StreamExists(streamKey string) bool {
	_, err := a.js.StreamInfo(streamSubject(streamKey))
	return err == nil
}

// FirstTimestamp returns the timestamp of the stream's first message, or
// nil if the stream is empty or unreachable.
func (a *Adapter) FirstTimestamp(ctx context.Context, streamKey string) *time.Time {
	return a.boundaryTimestamp(ctx, streamKey, nats.DeliverAllPolicy)
}

// LastTimestamp returns the timestamp of the stream's last message, or
// nil if the stream is empty or unreachable.
func (a *Adapter) LastTimestamp(ctx context.Context, streamKey string) *time.Time {
	return a.boundaryTimestamp(ctx, streamKey, nats.DeliverLastPolicy)
}

func (a *Adapter) boundaryTimestamp(ctx context.Context, streamKey string, policy nats.DeliverPolicy) *time.Time {
	stream := streamSubject(streamKey)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sub, err := a.js.SubscribeSync(stream+".>",
		nats.BindStream(stream),
		policy,
		nats.AckNone(),
	)
	if err != nil {
		return nil
	}
	defer sub.Unsubscribe()

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil
	}

	var generic struct {
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(msg.Data, &generic); err != nil {
		return nil
	}
	ts, ok := parseTimestamp(generic.Timestamp)
	if !ok {
		return nil
	}
	return &ts
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
	}
	var unixMs int64
	if err := json.Unmarshal(raw, &unixMs); err == nil {
		return time.UnixMilli(unixMs).UTC(), true
	}
	return time.Time{}, false
}

func parseIntDegraded(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var i int
	if err := json.Unmarshal(raw, &i); err == nil {
		return i
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
	}
	return 0
}

func parseFloatDegraded(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
