// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// errSimulated is returned by a MockService while it has failures left.
var errSimulated = errors.New("simulated failure")

// MockService is a scriptable suture.Service for tree tests.
type MockService struct {
	name   string
	starts atomic.Int32
	stops  atomic.Int32

	mu        sync.Mutex
	err       error
	failsLeft int
}

// NewMockService returns a service that runs until its context ends.
func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

// Serve implements suture.Service.
func (m *MockService) Serve(ctx context.Context) error {
	m.starts.Add(1)
	defer m.stops.Add(1)

	m.mu.Lock()
	err := m.err
	fail := m.failsLeft > 0
	if fail {
		m.failsLeft--
	}
	m.mu.Unlock()

	switch {
	case fail:
		return errSimulated
	case err != nil:
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

// SetError makes Serve return err immediately.
func (m *MockService) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// SetFailCount makes the next n calls to Serve fail.
func (m *MockService) SetFailCount(n int) {
	m.mu.Lock()
	m.failsLeft = n
	m.mu.Unlock()
}

// StartCount returns how many times Serve was entered.
func (m *MockService) StartCount() int32 { return m.starts.Load() }

// StopCount returns how many times Serve returned.
func (m *MockService) StopCount() int32 { return m.stops.Load() }

func (m *MockService) String() string { return m.name }
