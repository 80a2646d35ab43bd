// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

var (
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("buffer: closed")

	// ErrFull is returned by Push when a bounded buffer rejects overflow.
	ErrFull = errors.New("buffer: full")
)

// flushTimeout bounds one automatic flush. Automatic flushes never use a
// caller's context, which may be canceled long before the batch is handed
// off.
const flushTimeout = 30 * time.Second

// Item is what a Buffer holds.
type Item interface {
	// BufferKey identifies the item for coalescing.
	BufferKey() int64

	// Expired reports whether the item is past its time to live at now.
	Expired(now time.Time) bool
}

// Handler receives one flushed batch. It runs outside the buffer mutex
// and is never called concurrently for the same buffer.
type Handler[T Item] func(ctx context.Context, batch []T) error

// DuplicatePolicy decides what happens to a pushed item whose key is
// already pending.
type DuplicatePolicy int

const (
	// DuplicatesAllowed keeps every item.
	DuplicatesAllowed DuplicatePolicy = iota

	// DuplicatesCoalesce replaces the pending item in place, so the newer
	// value keeps the earlier position.
	DuplicatesCoalesce
)

// OverflowPolicy applies when Capacity is reached.
type OverflowPolicy int

const (
	OverflowDropOldest OverflowPolicy = iota
	OverflowReject
)

// ParseOverflow maps the configuration names drop_oldest and reject.
func ParseOverflow(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop_oldest":
		return OverflowDropOldest, nil
	case "reject":
		return OverflowReject, nil
	default:
		return 0, fmt.Errorf("buffer: unknown overflow policy %q", s)
	}
}

// Config configures a Buffer.
type Config[T Item] struct {
	// Name labels logs and metrics.
	Name string

	// MinWindow is the minimum gap between size-triggered flushes.
	MinWindow time.Duration

	// MaxDelay bounds how long the oldest pending item waits.
	MaxDelay time.Duration

	// HighWaterMark is the pending count that triggers a flush.
	HighWaterMark int

	// MaxBatchSize splits a flush into batches; 0 flushes everything as
	// one batch.
	MaxBatchSize int

	Duplicates DuplicatePolicy

	// Capacity bounds the pending items; 0 is unbounded.
	Capacity int
	Overflow OverflowPolicy

	Handler Handler[T]

	// Now is the clock for TTL checks and triggers; nil means time.Now.
	Now func() time.Time
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Pushed  int64
	Dropped int64
	Flushed int64
	Batches int64
	Pending int
}

// Buffer batches items by time and by size. Push never blocks; a single
// goroutine fires the triggers and Flush hands batches to the handler in
// push order.
type Buffer[T Item] struct {
	cfg Config[T]
	log zerolog.Logger

	mu        sync.Mutex
	pending   []T
	queued    []time.Time // enqueue time of pending[i]
	index     map[int64]int
	lastFlush time.Time
	closed    bool

	// flushMu serializes flushes so batches leave in order.
	flushMu sync.Mutex

	enabled   atomic.Bool
	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	pushed  atomic.Int64
	dropped atomic.Int64
	flushed atomic.Int64
	batches atomic.Int64
}

// New validates cfg, starts the flush goroutine and returns an enabled
// buffer.
func New[T Item](cfg Config[T]) (*Buffer[T], error) {
	if cfg.Handler == nil {
		return nil, errors.New("buffer: handler required")
	}
	if cfg.MaxDelay <= 0 {
		return nil, errors.New("buffer: max delay must be positive")
	}
	if cfg.HighWaterMark <= 0 {
		return nil, errors.New("buffer: high water mark must be positive")
	}
	if cfg.MinWindow < 0 || cfg.MinWindow > cfg.MaxDelay {
		return nil, fmt.Errorf("buffer: min window %s must be within [0, %s]", cfg.MinWindow, cfg.MaxDelay)
	}
	if cfg.Capacity < 0 || cfg.MaxBatchSize < 0 {
		return nil, errors.New("buffer: capacity and batch size must not be negative")
	}
	if cfg.Name == "" {
		cfg.Name = "buffer"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	b := &Buffer[T]{
		cfg:   cfg,
		log:   logging.WithComponent("buffer").With().Str("buffer", cfg.Name).Logger(),
		index: make(map[int64]int),
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	b.enabled.Store(true)
	go b.loop()
	return b, nil
}

// Push queues v. It returns ErrClosed after Close and ErrFull when a full
// buffer uses OverflowReject.
func (b *Buffer[T]) Push(v T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	if b.cfg.Duplicates == DuplicatesCoalesce {
		if i, ok := b.index[v.BufferKey()]; ok {
			b.pending[i] = v
			b.mu.Unlock()
			b.pushed.Add(1)
			metrics.ValuesPushed.WithLabelValues(b.cfg.Name).Inc()
			return nil
		}
	}

	if b.cfg.Capacity > 0 && len(b.pending) >= b.cfg.Capacity {
		if b.cfg.Overflow == OverflowReject {
			b.mu.Unlock()
			b.countDropped(1, "rejected")
			return ErrFull
		}
		b.dropOldestLocked()
	}

	b.pending = append(b.pending, v)
	b.queued = append(b.queued, b.cfg.Now())
	n := len(b.pending)
	if b.cfg.Duplicates == DuplicatesCoalesce {
		b.index[v.BufferKey()] = n - 1
	}
	b.mu.Unlock()

	b.pushed.Add(1)
	metrics.ValuesPushed.WithLabelValues(b.cfg.Name).Inc()
	metrics.BufferPending.WithLabelValues(b.cfg.Name).Set(float64(n))

	if n == 1 || n == b.cfg.HighWaterMark {
		b.wake()
	}
	return nil
}

func (b *Buffer[T]) dropOldestLocked() {
	var zero T
	b.pending[0] = zero
	b.pending = b.pending[1:]
	b.queued = b.queued[1:]
	if b.cfg.Duplicates == DuplicatesCoalesce {
		clear(b.index)
		for i, p := range b.pending {
			b.index[p.BufferKey()] = i
		}
	}
	b.countDropped(1, "overflow")
}

func (b *Buffer[T]) countDropped(n int, reason string) {
	b.dropped.Add(int64(n))
	metrics.ValuesDropped.WithLabelValues(b.cfg.Name, reason).Add(float64(n))
}

func (b *Buffer[T]) wake() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// Enable turns the automatic triggers on.
func (b *Buffer[T]) Enable() {
	b.enabled.Store(true)
	b.wake()
}

// Disable turns the automatic triggers off. Pending items stay queued
// until Enable, Flush or Close.
func (b *Buffer[T]) Disable() {
	b.enabled.Store(false)
	b.wake()
}

// Enabled reports whether automatic flushing is on.
func (b *Buffer[T]) Enabled() bool {
	return b.enabled.Load()
}

// Len returns the number of pending items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// nextFlush reports whether a trigger has fired at now, and otherwise how
// long until one could. ok is false when nothing is pending or the buffer
// is disabled.
func (b *Buffer[T]) nextFlush(now time.Time) (due bool, wait time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled.Load() || len(b.pending) == 0 {
		return false, 0, false
	}

	timeDue := b.queued[0].Add(b.cfg.MaxDelay)
	if len(b.pending) >= b.cfg.HighWaterMark {
		sizeDue := b.lastFlush.Add(b.cfg.MinWindow)
		if sizeDue.Before(timeDue) {
			timeDue = sizeDue
		}
	}
	if !now.Before(timeDue) {
		return true, 0, true
	}
	return false, timeDue.Sub(now), true
}

func (b *Buffer[T]) loop() {
	defer close(b.done)

	for {
		due, wait, ok := b.nextFlush(b.cfg.Now())
		if due {
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := b.Flush(ctx); err != nil {
				b.log.Error().Err(err).Msg("Automatic flush failed")
			}
			cancel()
			continue
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if ok {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-b.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-b.kick:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Flush hands every pending item to the handler now. Expired items are
// dropped; the rest leave in push order, in batches of at most
// MaxBatchSize. A failing batch is logged and not re-queued.
func (b *Buffer[T]) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	now := b.cfg.Now()
	b.mu.Lock()
	items := b.pending
	b.pending, b.queued = nil, nil
	clear(b.index)
	b.lastFlush = now
	b.mu.Unlock()
	metrics.BufferPending.WithLabelValues(b.cfg.Name).Set(0)

	if len(items) == 0 {
		return nil
	}

	live := items[:0]
	expired := 0
	for _, v := range items {
		if v.Expired(now) {
			expired++
			continue
		}
		live = append(live, v)
	}
	if expired > 0 {
		b.countDropped(expired, "expired")
		b.log.Warn().Int("count", expired).Msg("Dropped expired values")
	}

	size := b.cfg.MaxBatchSize
	if size <= 0 {
		size = len(live)
	}

	var errs []error
	for start := 0; start < len(live); start += size {
		end := min(start+size, len(live))
		batch := live[start:end]

		if err := b.cfg.Handler(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("batch %d-%d: %w", start, end, err))
			b.log.Error().Err(err).Int("size", len(batch)).Msg("Batch handler failed")
			continue
		}
		b.flushed.Add(int64(len(batch)))
		b.batches.Add(1)
		metrics.RecordFlush(b.cfg.Name, len(batch))
	}

	b.log.Debug().Int("count", len(live)).Int("expired", expired).Msg("Buffer flushed")
	return errors.Join(errs...)
}

// Close stops the flush goroutine and flushes what is still pending.
// Later calls return the result of the first.
func (b *Buffer[T]) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		close(b.stop)
		<-b.done

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		b.closeErr = b.Flush(ctx)
		b.log.Debug().Msg("Buffer closed")
	})
	return b.closeErr
}

// Stats returns the counters.
func (b *Buffer[T]) Stats() Stats {
	return Stats{
		Pushed:  b.pushed.Load(),
		Dropped: b.dropped.Load(),
		Flushed: b.flushed.Load(),
		Batches: b.batches.Load(),
		Pending: b.Len(),
	}
}
