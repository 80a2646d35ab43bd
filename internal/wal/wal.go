// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("wal: closed")

	// ErrNotFound is returned when an entry id has no pending entry.
	ErrNotFound = errors.New("wal: entry not found")

	// ErrNilPayload is returned when Write is given nil.
	ErrNilPayload = errors.New("wal: payload cannot be nil")

	// ErrEmptyID is returned when an operation is given an empty entry id.
	ErrEmptyID = errors.New("wal: entry ID cannot be empty")
)

// Entry is one stored payload with its delivery bookkeeping.
type Entry struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`

	CreatedAt     time.Time `json:"created_at"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`

	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// UnmarshalPayload decodes the payload into v.
func (e *Entry) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Stats is a point-in-time view of the outbox.
type Stats struct {
	PendingCount   int64 `json:"pending"`
	ConfirmedCount int64 `json:"confirmed"`
	TotalWrites    int64 `json:"total_writes"`
	TotalConfirms  int64 `json:"total_confirms"`
	TotalRetries   int64 `json:"total_retries"`
}

const (
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"
)

// BadgerWAL stores entries in BadgerDB.
type BadgerWAL struct {
	db     *badger.DB
	config Config

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open validates cfg and opens (or creates) the database at cfg.Path.
func Open(cfg Config) (*BadgerWAL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WAL config: %w", err)
	}
	if cfg.GCRatio == 0 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	w := &BadgerWAL{db: db, config: cfg}
	stats := w.Stats()
	metrics.WALPending.Set(float64(stats.PendingCount))

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Int64("pending", stats.PendingCount).
		Msg("WAL opened")
	return w, nil
}

func (w *BadgerWAL) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	return nil
}

// Write stores payload as a new pending entry and returns its id.
func (w *BadgerWAL) Write(_ context.Context, payload any) (string, error) {
	if err := w.checkOpen(); err != nil {
		return "", err
	}
	if payload == nil {
		return "", ErrNilPayload
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	entry := &Entry{
		ID:        uuid.New().String(),
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(prefixPending+entry.ID), data)
		if w.config.EntryTTL > 0 {
			e = e.WithTTL(w.config.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("write to BadgerDB: %w", err)
	}

	w.totalWrites.Add(1)
	metrics.RecordWAL("write")
	metrics.WALPending.Inc()
	return entry.ID, nil
}

// readPending loads the pending entry for id inside txn.
func readPending(txn *badger.Txn, id string) (*Entry, error) {
	item, err := txn.Get([]byte(prefixPending + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending entry: %w", err)
	}
	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Confirm moves a pending entry to the confirmed prefix.
func (w *BadgerWAL) Confirm(_ context.Context, id string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyID
	}

	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := readPending(txn, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		entry.Confirmed = true
		entry.ConfirmedAt = &now

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal confirmed entry: %w", err)
		}
		if err := txn.Set([]byte(prefixConfirmed+id), data); err != nil {
			return fmt.Errorf("set confirmed entry: %w", err)
		}
		return txn.Delete([]byte(prefixPending + id))
	})
	if err != nil {
		return err
	}

	w.totalConfirms.Add(1)
	metrics.RecordWAL("confirm")
	metrics.WALPending.Dec()
	return nil
}

// GetPending returns every unconfirmed entry from one snapshot, oldest
// write first within badger's key order.
func (w *BadgerWAL) GetPending(ctx context.Context) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("WAL failed to unmarshal entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// UpdateAttempt records a failed delivery attempt on a pending entry.
func (w *BadgerWAL) UpdateAttempt(_ context.Context, id, lastError string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyID
	}

	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := readPending(txn, id)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		e := badger.NewEntry([]byte(prefixPending+id), data)
		if w.config.EntryTTL > 0 {
			remaining := w.config.EntryTTL - time.Since(entry.CreatedAt)
			if remaining < time.Second {
				remaining = time.Second
			}
			e = e.WithTTL(remaining)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return err
	}
	w.totalRetries.Add(1)
	metrics.RecordWAL("retry")
	return nil
}

// DeleteEntry removes an entry under either prefix. A missing entry is
// not an error.
func (w *BadgerWAL) DeleteEntry(_ context.Context, id string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyID
	}

	var wasPending bool
	err := w.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + id)
		if _, err := txn.Get(key); err == nil {
			wasPending = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get pending entry: %w", err)
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete pending entry: %w", err)
		}
		return txn.Delete([]byte(prefixConfirmed + id))
	})
	if err != nil {
		return err
	}
	if wasPending {
		metrics.WALPending.Dec()
	}
	return nil
}

// Compact deletes confirmed entries and runs value log GC. It returns the
// number of entries removed.
func (w *BadgerWAL) Compact(_ context.Context) (int, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixConfirmed)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan confirmed entries: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := w.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("delete confirmed entries: %w", err)
	}

	for {
		err := w.db.RunValueLogGC(w.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			logging.Warn().Err(err).Msg("WAL value log GC failed")
			break
		}
	}
	return len(keys), nil
}

// Stats counts entries under both prefixes.
func (w *BadgerWAL) Stats() Stats {
	stats := Stats{
		TotalWrites:   w.totalWrites.Load(),
		TotalConfirms: w.totalConfirms.Load(),
		TotalRetries:  w.totalRetries.Load(),
	}
	if w.checkOpen() != nil {
		return stats
	}

	if err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		pending := []byte(prefixPending)
		for it.Seek(pending); it.ValidForPrefix(pending); it.Next() {
			stats.PendingCount++
		}
		confirmed := []byte(prefixConfirmed)
		for it.Seek(confirmed); it.ValidForPrefix(confirmed); it.Next() {
			stats.ConfirmedCount++
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("WAL failed to count entries")
	}
	return stats
}

// Config returns the configuration the WAL was opened with.
func (w *BadgerWAL) Config() Config {
	return w.config
}

// Close closes the database, giving up after CloseTimeout.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	timeout := w.config.CloseTimeout
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- w.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("WAL closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}
