// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

// Package catalog implements the Session Catalog: the known-sessions
// registry seeded from static configuration at startup and mirrored
// into DuckDB so lazily-refreshed counts survive a restart.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/raceline-dev/replay-server/internal/config"
	"github.com/raceline-dev/replay-server/internal/logging"
	"github.com/raceline-dev/replay-server/internal/metrics"
	"github.com/raceline-dev/replay-server/internal/models"
	"github.com/raceline-dev/replay-server/internal/store"
)

// StreamInspector is the subset of the Store Adapter the catalog needs
// to probe for data presence and counts.
type StreamInspector interface {
	StreamExists(streamKey string) bool
	StreamLength(streamKey string) int64
}

// Catalog is the read-mostly registry of replayable sessions.
type Catalog struct {
	db    *sql.DB
	store StreamInspector

	mu       sync.RWMutex
	sessions map[string]models.SessionInfo

	logger *logging.ReplayLogger
}

// Open connects to the catalog's DuckDB file, creates its schema if
// absent, and seeds the in-memory map from configuration.
func Open(cfg config.CatalogConfig, seed []config.SessionDefinition, inspector StreamInspector) (*Catalog, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog database %s: %w", cfg.Path, err)
	}

	c := &Catalog{
		db:       db,
		store:    inspector,
		sessions: make(map[string]models.SessionInfo, len(seed)),
		logger:   logging.NewReplayLogger("catalog"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	for _, s := range seed {
		c.sessions[s.Key] = models.SessionInfo{
			SessionKey: s.Key,
			Name:       s.Name,
			DateStart:  s.DateStart,
			DateEnd:    s.DateEnd,
		}
	}

	if err := c.loadPersistedCounts(ctx); err != nil {
		c.logger.Warn("failed to load persisted session counts", "error", err.Error())
	}

	return c, nil
}

func (c *Catalog) createTable(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT PRIMARY KEY,
			location_count BIGINT,
			car_count BIGINT,
			duration_ms BIGINT,
			refreshed_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create catalog schema: %w", err)
		}
	}
	return nil
}

func (c *Catalog) loadPersistedCounts(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `SELECT session_key, location_count, car_count, duration_ms, refreshed_at FROM sessions`)
	if err != nil {
		return err
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	for rows.Next() {
		var (
			key           string
			locationCount sql.NullInt64
			carCount      sql.NullInt64
			durationMs    sql.NullInt64
			refreshedAt   sql.NullTime
		)
		if err := rows.Scan(&key, &locationCount, &carCount, &durationMs, &refreshedAt); err != nil {
			return err
		}
		info, ok := c.sessions[key]
		if !ok {
			continue
		}
		if locationCount.Valid {
			info.LocationCount = &locationCount.Int64
		}
		if carCount.Valid {
			info.CarCount = &carCount.Int64
		}
		if durationMs.Valid {
			info.DurationMs = &durationMs.Int64
		}
		if refreshedAt.Valid {
			info.RefreshedAt = &refreshedAt.Time
		}
		c.sessions[key] = info
	}
	return rows.Err()
}

// List returns every known session.
func (c *Catalog) List() []models.SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// Get returns a session by key, or false if unknown.
func (c *Catalog) Get(sessionKey string) (models.SessionInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionKey]
	return s, ok
}

// Exists reports whether sessionKey is a known session.
func (c *Catalog) Exists(sessionKey string) bool {
	_, ok := c.Get(sessionKey)
	return ok
}

// HasData reports whether the session's location stream exists in the
// store.
func (c *Catalog) HasData(sessionKey string) bool {
	return c.store.StreamExists(store.LocationStreamKey(sessionKey))
}

// Refresh recomputes locationCount, carCount, and durationMs for
// sessionKey from the store and persists the result, replacing the
// in-memory entry atomically. Returns false if sessionKey is unknown.
func (c *Catalog) Refresh(ctx context.Context, sessionKey string) (models.SessionInfo, bool) {
	c.mu.RLock()
	info, ok := c.sessions[sessionKey]
	c.mu.RUnlock()
	if !ok {
		return models.SessionInfo{}, false
	}

	locationCount := c.store.StreamLength(store.LocationStreamKey(sessionKey))
	carCount := c.store.StreamLength(store.CarStreamKey(sessionKey))
	durationMs := info.DateEnd.Sub(info.DateStart).Milliseconds()
	now := time.Now().UTC()

	info.LocationCount = &locationCount
	info.CarCount = &carCount
	info.DurationMs = &durationMs
	info.RefreshedAt = &now

	c.mu.Lock()
	c.sessions[sessionKey] = info
	c.mu.Unlock()

	if err := c.persist(ctx, sessionKey, locationCount, carCount, durationMs, now); err != nil {
		c.logger.Warn("failed to persist refreshed session counts", "session_key", sessionKey, "error", err.Error())
		metrics.RecordCatalogRefresh("error")
	} else {
		metrics.RecordCatalogRefresh("ok")
	}

	return info, true
}

func (c *Catalog) persist(ctx context.Context, sessionKey string, locationCount, carCount, durationMs int64, refreshedAt time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sessions (session_key, location_count, car_count, duration_ms, refreshed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_key) DO UPDATE SET
			location_count = EXCLUDED.location_count,
			car_count = EXCLUDED.car_count,
			duration_ms = EXCLUDED.duration_ms,
			refreshed_at = EXCLUDED.refreshed_at
	`, sessionKey, locationCount, carCount, durationMs, refreshedAt)
	return err
}

// Close closes the underlying DuckDB connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// StartRefreshLoop runs Refresh for every known session on interval
// until ctx is cancelled. Intended to be run as a supervised background
// service.
func (c *Catalog) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range c.List() {
				c.Refresh(ctx, s.SessionKey)
			}
		}
	}
}
