// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/raceline-dev/replay-server/internal/logging"
	"github.com/raceline-dev/replay-server/internal/metrics"
	"github.com/raceline-dev/replay-server/internal/models"
)

const disconnectedKeyPrefix = "disconnected:"

// BadgerDisconnectedStore is the Engine's DisconnectedStore (SPEC_FULL
// §4.D.4), holding the last playback position for a session with no
// remaining subscribers. It runs BadgerDB in in-memory mode: the
// retention window is measured in minutes, so surviving a process
// restart is not required and durability would only add I/O cost.
type BadgerDisconnectedStore struct {
	db     *badger.DB
	logger *logging.ReplayLogger
}

// NewBadgerDisconnectedStore opens an in-memory BadgerDB instance for
// disconnected-state retention.
func NewBadgerDisconnectedStore() (*BadgerDisconnectedStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open disconnected state store: %w", err)
	}
	return &BadgerDisconnectedStore{db: db, logger: logging.NewReplayLogger("disconnected_state")}, nil
}

// Get returns the DisconnectedState for sessionKey, if any.
func (s *BadgerDisconnectedStore) Get(sessionKey string) (models.DisconnectedState, bool) {
	var state models.DisconnectedState
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(disconnectedKeyPrefix + sessionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		s.logger.Warn("disconnected state lookup failed", "session_key", sessionKey, "error", err.Error())
		return models.DisconnectedState{}, false
	}
	return state, found
}

// Put persists state, replacing any existing entry for its SessionKey.
func (s *BadgerDisconnectedStore) Put(state models.DisconnectedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal disconnected state: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(disconnectedKeyPrefix+state.SessionKey), data)
	}); err != nil {
		return err
	}
	metrics.SetDisconnectedStateCount(s.count())
	return nil
}

// count returns the number of DisconnectedState entries currently
// stored, for the observability gauge.
func (s *BadgerDisconnectedStore) count() int {
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(disconnectedKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Delete removes the DisconnectedState for sessionKey, if any.
func (s *BadgerDisconnectedStore) Delete(sessionKey string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(disconnectedKeyPrefix + sessionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	metrics.SetDisconnectedStateCount(s.count())
	return nil
}

// CleanupExpired removes every DisconnectedState older than retention.
func (s *BadgerDisconnectedStore) CleanupExpired(retention time.Duration) (int, error) {
	now := time.Now()
	var expired []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(disconnectedKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var state models.DisconnectedState
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			})
			if err != nil {
				continue
			}
			if state.IsExpired(retention, now) {
				expired = append(expired, state.SessionKey)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan disconnected states: %w", err)
	}

	count := 0
	for _, key := range expired {
		if err := s.Delete(key); err != nil {
			s.logger.Warn("failed to purge expired disconnected state", "session_key", key, "error", err.Error())
			continue
		}
		count++
	}
	if count > 0 {
		metrics.RecordDisconnectedStatesExpired(count)
	}
	return count, nil
}

// StartCleanupRoutine runs CleanupExpired on interval until ctx is
// cancelled. Intended to be run as a supervised background service.
func (s *BadgerDisconnectedStore) StartCleanupRoutine(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.CleanupExpired(retention); err == nil && n > 0 {
				s.logger.Debug("purged expired disconnected states", "count", n)
			}
		}
	}
}

// Close releases the underlying BadgerDB instance.
func (s *BadgerDisconnectedStore) Close() error {
	return s.db.Close()
}
