// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package wal

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type testBatch struct {
	ID     string  `json:"id"`
	Values []int64 `json:"values"`
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "wal")
	cfg.SyncWrites = false
	cfg.RetryInterval = 20 * time.Millisecond
	cfg.RetryBackoff = 0
	cfg.MaxRetries = 3
	cfg.EntryTTL = time.Hour
	cfg.ValueLogFileSize = 16 * 1024 * 1024
	return cfg
}

func openTestWAL(t *testing.T) *BadgerWAL {
	t.Helper()
	w, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no path", func(c *Config) { c.Path = "" }, true},
		{"zero interval", func(c *Config) { c.RetryInterval = 0 }, true},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }, true},
		{"one compactor", func(c *Config) { c.NumCompactors = 1 }, true},
		{"tiny memtable", func(c *Config) { c.MemTableSize = 1024 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteConfirmCompact(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	id, err := w.Write(ctx, testBatch{ID: "b1", Values: []int64{1, 2, 3}})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	pending, err := w.GetPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("GetPending() = %d entries, %v", len(pending), err)
	}
	var got testBatch
	if err := pending[0].UnmarshalPayload(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "b1" || len(got.Values) != 3 {
		t.Errorf("payload = %+v", got)
	}

	if err := w.Confirm(ctx, id); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if err := w.Confirm(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Confirm() error = %v, want ErrNotFound", err)
	}

	stats := w.Stats()
	if stats.PendingCount != 0 || stats.ConfirmedCount != 1 || stats.TotalWrites != 1 || stats.TotalConfirms != 1 {
		t.Errorf("stats = %+v", stats)
	}

	n, err := w.Compact(ctx)
	if err != nil || n != 1 {
		t.Errorf("Compact() = %d, %v; want 1", n, err)
	}
	if stats := w.Stats(); stats.ConfirmedCount != 0 {
		t.Errorf("confirmed after compaction = %d", stats.ConfirmedCount)
	}
}

func TestWriteErrors(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	if _, err := w.Write(ctx, nil); !errors.Is(err, ErrNilPayload) {
		t.Errorf("Write(nil) error = %v", err)
	}
	if err := w.Confirm(ctx, ""); !errors.Is(err, ErrEmptyID) {
		t.Errorf("Confirm(\"\") error = %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(ctx, testBatch{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close error = %v", err)
	}
	if _, err := w.GetPending(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("GetPending after Close error = %v", err)
	}
}

func TestPendingSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	w, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(ctx, testBatch{ID: "kept"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w, err = Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	pending, err := w.GetPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending after reopen = %d, %v", len(pending), err)
	}
}

func TestRetryPendingRedelivers(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	if _, err := w.Write(ctx, testBatch{ID: "retry-me"}); err != nil {
		t.Fatal(err)
	}

	var fail atomic.Bool
	fail.Store(true)
	var delivered atomic.Int32
	loop := NewRetryLoop(w, PublisherFunc(func(_ context.Context, e *Entry) error {
		if fail.Load() {
			return errors.New("broker down")
		}
		delivered.Add(1)
		return nil
	}))

	res := loop.RetryPending(ctx)
	if res.Failed != 1 {
		t.Fatalf("first pass = %+v, want one failure", res)
	}
	pending, _ := w.GetPending(ctx)
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError != "broker down" {
		t.Fatalf("pending after failure = %+v", pending)
	}

	fail.Store(false)
	res = loop.RetryPending(ctx)
	if res.Succeeded != 1 || delivered.Load() != 1 {
		t.Fatalf("second pass = %+v, delivered %d", res, delivered.Load())
	}
	if pending, _ := w.GetPending(ctx); len(pending) != 0 {
		t.Errorf("pending after success = %d", len(pending))
	}
}

func TestRetryDropsAfterMaxRetries(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	if _, err := w.Write(ctx, testBatch{ID: "doomed"}); err != nil {
		t.Fatal(err)
	}
	loop := NewRetryLoop(w, PublisherFunc(func(context.Context, *Entry) error {
		return errors.New("rejected")
	}))

	for i := 0; i < 3; i++ {
		loop.RetryPending(ctx)
	}
	res := loop.RetryPending(ctx)
	if res.MaxRetried != 1 {
		t.Errorf("final pass = %+v, want the entry dropped", res)
	}
	if pending, _ := w.GetPending(ctx); len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestRetrySkipsClaimedEntry(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	id, err := w.Write(ctx, testBatch{ID: "busy"})
	if err != nil {
		t.Fatal(err)
	}
	loop := NewRetryLoop(w, PublisherFunc(func(context.Context, *Entry) error {
		t.Error("claimed entry was published")
		return nil
	}))

	if !loop.Claim(id) {
		t.Fatal("Claim() = false on a free entry")
	}
	if res := loop.RetryPending(ctx); res.Skipped != 1 {
		t.Errorf("pass = %+v, want one skip", res)
	}
	loop.Release(id)
}

func TestRetryLoopStartStop(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	if _, err := w.Write(ctx, testBatch{ID: "bg"}); err != nil {
		t.Fatal(err)
	}
	delivered := make(chan string, 1)
	loop := NewRetryLoop(w, PublisherFunc(func(_ context.Context, e *Entry) error {
		select {
		case delivered <- e.ID:
		default:
		}
		return nil
	}))

	if err := loop.Start(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("pending entry not redelivered")
	}
	loop.Stop()
	if loop.IsRunning() {
		t.Error("loop still running after Stop")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{20, maxBackoff},
		{100, maxBackoff},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, tt.attempts); got != tt.want {
			t.Errorf("Backoff(1s, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestRetryLoopEndsWithContext(t *testing.T) {
	loop := NewRetryLoop(openTestWAL(t), PublisherFunc(func(context.Context, *Entry) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	if err := loop.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for loop.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if loop.IsRunning() {
		t.Error("loop still running after its context was canceled")
	}
}
