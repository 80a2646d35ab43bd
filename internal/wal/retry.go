// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package wal

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

// Publisher redelivers a stored entry.
type Publisher interface {
	PublishEntry(ctx context.Context, entry *Entry) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, entry *Entry) error

// PublishEntry calls f.
func (f PublisherFunc) PublishEntry(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// RetryResult counts the outcomes of one pass over the pending entries.
type RetryResult struct {
	Succeeded  int
	Failed     int
	Expired    int
	MaxRetried int
	Skipped    int
}

const maxBackoff = 5 * time.Minute

// RetryLoop periodically republishes pending entries and compacts
// confirmed ones.
type RetryLoop struct {
	wal       *BadgerWAL
	publisher Publisher
	config    Config

	// inflight guards against a pass overlapping a direct delivery of
	// the same entry.
	inflight sync.Map

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRetryLoop returns a stopped loop over w.
func NewRetryLoop(w *BadgerWAL, publisher Publisher) *RetryLoop {
	return &RetryLoop{wal: w, publisher: publisher, config: w.Config()}
}

// Start launches the loop goroutine. Starting a running loop is a no-op.
func (r *RetryLoop) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.run(loopCtx, r.done)

	logging.Info().
		Dur("interval", r.config.RetryInterval).
		Int("max_retries", r.config.MaxRetries).
		Msg("WAL retry loop started")
	return nil
}

// Stop cancels the loop and waits for the current pass to end.
func (r *RetryLoop) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	logging.Info().Msg("WAL retry loop stopped")
}

// IsRunning reports whether the loop goroutine is active.
func (r *RetryLoop) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RetryLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		if r.done == done {
			r.running = false
		}
		r.mu.Unlock()
	}()

	retry := time.NewTicker(r.config.RetryInterval)
	defer retry.Stop()

	compactEvery := r.config.CompactInterval
	if compactEvery <= 0 {
		compactEvery = time.Hour
	}
	compact := time.NewTicker(compactEvery)
	defer compact.Stop()

	// Entries left by a previous run are retried right away.
	r.RetryPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
			r.RetryPending(ctx)
		case <-compact.C:
			n, err := r.wal.Compact(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("WAL compaction failed")
			} else if n > 0 {
				logging.Debug().Int("removed", n).Msg("WAL compacted")
			}
		}
	}
}

// Claim marks id as being delivered. It returns false when another
// delivery of the same entry is in progress.
func (r *RetryLoop) Claim(id string) bool {
	_, loaded := r.inflight.LoadOrStore(id, struct{}{})
	return !loaded
}

// Release ends a claim taken with Claim.
func (r *RetryLoop) Release(id string) {
	r.inflight.Delete(id)
}

// RetryPending makes one pass over the pending entries.
func (r *RetryLoop) RetryPending(ctx context.Context) RetryResult {
	var res RetryResult

	entries, err := r.wal.GetPending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("WAL retry: failed to get pending entries")
		return res
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !r.Claim(entry.ID) {
			res.Skipped++
			continue
		}
		r.process(ctx, entry, &res)
		r.Release(entry.ID)
	}

	if res.Succeeded+res.Failed+res.Expired+res.MaxRetried > 0 {
		logging.Info().
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Int("expired", res.Expired).
			Int("max_retried", res.MaxRetried).
			Msg("WAL retry complete")
	}
	return res
}

func (r *RetryLoop) process(ctx context.Context, entry *Entry, res *RetryResult) {
	if r.config.EntryTTL > 0 && time.Since(entry.CreatedAt) > r.config.EntryTTL {
		r.drop(ctx, entry, "expired")
		res.Expired++
		return
	}
	if entry.Attempts >= r.config.MaxRetries {
		r.drop(ctx, entry, "max_retries")
		res.MaxRetried++
		return
	}
	if !r.readyForRetry(entry) {
		res.Skipped++
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := r.publisher.PublishEntry(pubCtx, entry)
	cancel()
	if err != nil {
		logging.Warn().
			Err(err).
			Str("entry_id", entry.ID).
			Int("attempt", entry.Attempts+1).
			Msg("WAL retry: failed to publish entry")
		if uerr := r.wal.UpdateAttempt(ctx, entry.ID, err.Error()); uerr != nil {
			logging.Error().Err(uerr).Str("entry_id", entry.ID).Msg("WAL retry: failed to update attempt")
		}
		res.Failed++
		return
	}

	if err := r.wal.Confirm(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to confirm entry")
		res.Failed++
		return
	}
	res.Succeeded++
}

func (r *RetryLoop) drop(ctx context.Context, entry *Entry, reason string) {
	logging.Warn().
		Str("entry_id", entry.ID).
		Str("reason", reason).
		Int("attempts", entry.Attempts).
		Str("last_error", entry.LastError).
		Msg("WAL retry: dropping entry")
	if err := r.wal.DeleteEntry(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to delete entry")
	}
	metrics.RecordWAL(reason)
}

func (r *RetryLoop) readyForRetry(entry *Entry) bool {
	if entry.LastAttemptAt.IsZero() {
		return true
	}
	return time.Since(entry.LastAttemptAt) >= Backoff(r.config.RetryBackoff, entry.Attempts)
}

// Backoff returns base * 2^attempts, capped at five minutes.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts > 50 {
		return maxBackoff
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	if d < 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
