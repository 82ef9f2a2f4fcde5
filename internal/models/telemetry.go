// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package models defines the data transferred between the Store Adapter,
// the Replay Engine, and the wire codec.
package models

import "time"

// LocationSample is a single car-position record. Immutable once emitted
// by the ingestion producer.
type LocationSample struct {
	SessionKey   string    `json:"-"`
	DriverNumber int       `json:"driverNumber"`
	Timestamp    time.Time `json:"timestamp"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
}

// CarSample is a single car-performance record. Immutable once emitted by
// the ingestion producer.
type CarSample struct {
	SessionKey   string    `json:"-"`
	DriverNumber int       `json:"driverNumber"`
	Timestamp    time.Time `json:"timestamp"`
	Speed        int       `json:"speed"`
	RPM          int       `json:"rpm"`
	Gear         int       `json:"gear"`
	Throttle     int       `json:"throttle"`
	Brake        int       `json:"brake"`
}

// TelemetryBatch is the payload of a TELEMETRY_BATCH event: all samples in
// a single half-open tick window, ordered ascending by timestamp within
// each channel.
type TelemetryBatch struct {
	BatchTimestamp time.Time        `json:"batchTimestamp"`
	Locations      []LocationSample `json:"locations"`
	Cars           []CarSample      `json:"carData"`
}
