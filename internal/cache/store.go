// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

// Package cache provides the keyed record stores that hold alive timers,
// state tags and comm-fault tags.
//
// Stores hold values, not pointers. Get returns a copy, so a reader can
// never observe a half-applied mutation; writers that need
// read-modify-write semantics use Update. MemoryStore runs Update under its
// write lock and serves one process; KVStore runs it as a revision-checked
// write on a JetStream bucket and is shared by every node of a cluster.
package cache

import (
	"cmp"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("cache: key not found")

// Store is a concurrent keyed record store with latest-write-wins semantics.
type Store[K cmp.Ordered, V any] interface {
	// Get returns a copy of the value stored under key.
	Get(key K) (V, error)

	// Put stores value under key, replacing any previous value.
	Put(key K, value V) error

	// PutIfAbsent stores value only when key is missing and reports
	// whether it did.
	PutIfAbsent(key K, value V) (bool, error)

	// Keys returns a sorted snapshot of the keys.
	Keys() ([]K, error)

	// Remove deletes key. Removing an absent key is a no-op.
	Remove(key K) error

	// Update applies fn to the stored value atomically and stores the
	// result unless fn returns an error. It returns the value as stored.
	// fn may run more than once when concurrent writers conflict, so it
	// must derive everything it reports from its argument.
	Update(key K, fn func(*V) error) (V, error)
}

// Stats tracks lookup outcomes.
type Stats struct {
	Hits      int64
	Misses    int64
	Writes    int64
	Conflicts int64
}

// MemoryStore is the in-process Store implementation.
type MemoryStore[K cmp.Ordered, V any] struct {
	mu      sync.RWMutex
	entries map[K]V

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore[K cmp.Ordered, V any]() *MemoryStore[K, V] {
	return &MemoryStore[K, V]{entries: make(map[K]V)}
}

// Get implements Store.
func (s *MemoryStore[K, V]) Get(key K) (V, error) {
	s.mu.RLock()
	v, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		var zero V
		return zero, ErrNotFound
	}
	s.hits.Add(1)
	return v, nil
}

// Put implements Store.
func (s *MemoryStore[K, V]) Put(key K, value V) error {
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()
	s.writes.Add(1)
	return nil
}

// PutIfAbsent implements Store.
func (s *MemoryStore[K, V]) PutIfAbsent(key K, value V) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = value
	s.writes.Add(1)
	return true, nil
}

// Keys implements Store.
func (s *MemoryStore[K, V]) Keys() ([]K, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.entries)), nil
}

// Remove implements Store.
func (s *MemoryStore[K, V]) Remove(key K) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Update implements Store. fn must not call back into the same store.
func (s *MemoryStore[K, V]) Update(key K, fn func(*V) error) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries[key]
	if !ok {
		s.misses.Add(1)
		var zero V
		return zero, ErrNotFound
	}
	if err := fn(&v); err != nil {
		return s.entries[key], err
	}
	s.entries[key] = v
	s.writes.Add(1)
	return v, nil
}

// Len returns the number of entries.
func (s *MemoryStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetStats returns a snapshot of the lookup counters.
func (s *MemoryStore[K, V]) GetStats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Writes: s.writes.Load(),
	}
}
