// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package sender

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/daqwatch/internal/logging"
)

// AliveTicker calls send once on Start and then every interval.
type AliveTicker struct {
	interval time.Duration
	send     func(ctx context.Context) error

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewAliveTicker returns a stopped ticker.
func NewAliveTicker(interval time.Duration, send func(ctx context.Context) error) *AliveTicker {
	return &AliveTicker{interval: interval, send: send}
}

// Start launches the ticker goroutine. It ends on Stop or when ctx is done.
func (a *AliveTicker) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("sender: alive ticker already running")
	}
	if a.interval <= 0 {
		return errors.New("sender: alive interval must be positive")
	}
	a.running = true
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(ctx, a.stop, a.done)
	return nil
}

func (a *AliveTicker) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		// A ticker ended by its context can be started again.
		a.mu.Lock()
		if a.done == done {
			a.running = false
		}
		a.mu.Unlock()
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if err := a.send(ctx); err != nil {
			logging.Warn().Err(err).Str("component", "alive-ticker").Msg("Failed to send alive")
		}
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the ticker and waits for it to exit.
func (a *AliveTicker) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	stop, done := a.stop, a.done
	a.mu.Unlock()

	close(stop)
	<-done
}

// IsRunning reports whether the ticker goroutine is active.
func (a *AliveTicker) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
