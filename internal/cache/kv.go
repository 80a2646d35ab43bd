// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrConflict is returned by KVStore.Update when concurrent writers kept
// winning the revision check for every attempt.
var ErrConflict = errors.New("cache: concurrent update conflict")

// KVConfig configures a KVStore.
type KVConfig struct {
	// Prefix namespaces the keys of this store inside the bucket, so
	// several record kinds can share one bucket.
	Prefix string

	// Timeout bounds each bucket operation. Default: 5s
	Timeout time.Duration

	// MaxAttempts bounds the read-modify-write attempts of one Update.
	// Default: 16
	MaxAttempts int
}

// KVStore is a Store on a JetStream key-value bucket. Every node of a
// cluster that opens the same bucket and prefix sees the same records, and
// Update is a compare-and-set on the entry revision, so the atomicity
// MemoryStore gives within one process holds across processes.
type KVStore[V any] struct {
	kv      jetstream.KeyValue
	prefix  string
	timeout time.Duration
	max     int

	hits      atomic.Int64
	misses    atomic.Int64
	writes    atomic.Int64
	conflicts atomic.Int64
}

var _ Store[int64, struct{}] = (*KVStore[struct{}])(nil)

// NewKVStore returns a store over kv.
func NewKVStore[V any](kv jetstream.KeyValue, cfg KVConfig) (*KVStore[V], error) {
	if kv == nil {
		return nil, errors.New("cache: key-value bucket is required")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("cache: key prefix is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 16
	}
	return &KVStore[V]{
		kv:      kv,
		prefix:  cfg.Prefix + ".",
		timeout: cfg.Timeout,
		max:     cfg.MaxAttempts,
	}, nil
}

func (s *KVStore[V]) key(id int64) string {
	return s.prefix + strconv.FormatInt(id, 10)
}

func (s *KVStore[V]) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func isMissing(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// load reads and decodes one entry. A timed-out lookup counts as not
// found, wrapped so the cause stays visible.
func (s *KVStore[V]) load(ctx context.Context, id int64) (V, uint64, error) {
	var v V
	entry, err := s.kv.Get(ctx, s.key(id))
	switch {
	case isMissing(err):
		s.misses.Add(1)
		return v, 0, ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		s.misses.Add(1)
		return v, 0, fmt.Errorf("%w: %w", ErrNotFound, err)
	case err != nil:
		return v, 0, fmt.Errorf("get %s: %w", s.key(id), err)
	}
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		return v, 0, fmt.Errorf("decode %s: %w", s.key(id), err)
	}
	s.hits.Add(1)
	return v, entry.Revision(), nil
}

// Get implements Store.
func (s *KVStore[V]) Get(id int64) (V, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	v, _, err := s.load(ctx, id)
	return v, err
}

// Put implements Store.
func (s *KVStore[V]) Put(id int64, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key(id), err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := s.kv.Put(ctx, s.key(id), data); err != nil {
		return fmt.Errorf("put %s: %w", s.key(id), err)
	}
	s.writes.Add(1)
	return nil
}

// PutIfAbsent implements Store.
func (s *KVStore[V]) PutIfAbsent(id int64, value V) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", s.key(id), err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	_, err = s.kv.Create(ctx, s.key(id), data)
	switch {
	case err == nil:
		s.writes.Add(1)
		return true, nil
	case errors.Is(err, jetstream.ErrKeyExists):
		return false, nil
	default:
		return false, fmt.Errorf("create %s: %w", s.key(id), err)
	}
}

// Keys implements Store.
func (s *KVStore[V]) Keys() ([]int64, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var ids []int64
	for key := range lister.Keys() {
		rest, ok := strings.CutPrefix(key, s.prefix)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Remove implements Store.
func (s *KVStore[V]) Remove(id int64) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.kv.Delete(ctx, s.key(id)); err != nil && !isMissing(err) {
		return fmt.Errorf("delete %s: %w", s.key(id), err)
	}
	return nil
}

// Update implements Store. Each attempt reads the entry, applies fn to the
// decoded copy and writes it back conditioned on the revision it read; a
// lost race is retried from a fresh read.
func (s *KVStore[V]) Update(id int64, fn func(*V) error) (V, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	for attempt := 0; attempt < s.max; attempt++ {
		v, rev, err := s.load(ctx, id)
		if err != nil {
			return v, err
		}
		stored := v
		if err := fn(&v); err != nil {
			return stored, err
		}

		data, err := json.Marshal(v)
		if err != nil {
			return stored, fmt.Errorf("encode %s: %w", s.key(id), err)
		}
		_, err = s.kv.Update(ctx, s.key(id), data, rev)
		if err == nil {
			s.writes.Add(1)
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stored, fmt.Errorf("update %s: %w", s.key(id), ctxErr)
		}
		if !errors.Is(err, jetstream.ErrKeyExists) && !s.revisionMoved(ctx, id, rev) {
			return stored, fmt.Errorf("update %s: %w", s.key(id), err)
		}
		s.conflicts.Add(1)
	}
	var zero V
	return zero, fmt.Errorf("%w: %s after %d attempts", ErrConflict, s.key(id), s.max)
}

// revisionMoved reports whether the entry changed since rev, which is how
// a failed conditional write is told apart from a broker error.
func (s *KVStore[V]) revisionMoved(ctx context.Context, id int64, rev uint64) bool {
	entry, err := s.kv.Get(ctx, s.key(id))
	return err == nil && entry.Revision() != rev
}

// GetStats returns a snapshot of the lookup counters. Conflicts counts
// lost revision checks.
func (s *KVStore[V]) GetStats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Writes:    s.writes.Load(),
		Conflicts: s.conflicts.Load(),
	}
}
