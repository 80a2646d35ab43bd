// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// MemoryLock implements Lock for a single process. Each named lock is a
// one-slot channel so Acquire can honor ctx cancellation.
type MemoryLock struct {
	mu     sync.Mutex
	locks  map[string]chan struct{}
	values map[string][]byte
}

// NewMemoryLock returns an empty MemoryLock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		locks:  make(map[string]chan struct{}),
		values: make(map[string][]byte),
	}
}

func (m *MemoryLock) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.locks[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.locks[key] = s
	}
	return s
}

// Acquire implements Lock.
func (m *MemoryLock) Acquire(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	select {
	case m.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release implements Lock.
func (m *MemoryLock) Release(_ context.Context, key string) error {
	select {
	case <-m.slot(key):
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrLockNotHeld, key)
	}
}

// HasKey implements Lock.
func (m *MemoryLock) HasKey(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok, nil
}

// Get implements Lock.
func (m *MemoryLock) Get(_ context.Context, key string, dst any) error {
	m.mu.Lock()
	data, ok := m.values[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return json.Unmarshal(data, dst)
}

// Put implements Lock.
func (m *MemoryLock) Put(_ context.Context, key string, v any) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	m.mu.Lock()
	m.values[key] = data
	m.mu.Unlock()
	return nil
}
