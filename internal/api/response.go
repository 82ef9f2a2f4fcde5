// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package api implements the HTTP sidecar (SPEC_FULL §6.3): read-only
// session introspection plus mutation aliases for clients that cannot
// hold a websocket connection open.
package api

import (
	"net/http"

	"github.com/goccy/go-json"
)

// response is the standardized envelope for every sidecar endpoint.
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, response{Success: false, Error: &apiError{Code: code, Message: message}})
}

// decodeBody decodes a JSON request body into dst, writing a BadFrame
// error response and returning false on failure. An empty body decodes
// to the zero value of dst, since every mutation alias has optional or
// defaultable fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BadFrame", "malformed request body")
		return false
	}
	return true
}

// sessionView is the read-only shape returned by /api/sessions and
// /api/sessions/{key}.
type sessionView struct {
	SessionKey    string  `json:"sessionKey"`
	Name          string  `json:"name"`
	DateStart     string  `json:"dateStart"`
	DateEnd       string  `json:"dateEnd"`
	DurationMs    *int64  `json:"durationMs,omitempty"`
	LocationCount *int64  `json:"locationCount,omitempty"`
	CarCount      *int64  `json:"carCount,omitempty"`
	RefreshedAt   *string `json:"refreshedAt,omitempty"`
}

const isoFormat = "2006-01-02T15:04:05.000Z07:00"
