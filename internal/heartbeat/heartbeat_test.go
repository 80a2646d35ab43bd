// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/daqwatch/internal/cluster"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newNode(t *testing.T, id string, lock cluster.Lock, clk *clock) *Manager {
	t.Helper()
	m, err := NewManager(Config{NodeID: id, Interval: 10 * time.Second, Now: clk.Now}, lock)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestOneNodeSendsPerInterval(t *testing.T) {
	lock := cluster.NewMemoryLock()
	clk := &clock{now: time.Unix(1000, 0)}
	a := newNode(t, "a", lock, clk)
	b := newNode(t, "b", lock, clk)

	var got []Heartbeat
	var mu sync.Mutex
	record := ListenerFunc(func(hb Heartbeat) {
		mu.Lock()
		got = append(got, hb)
		mu.Unlock()
	})
	a.Register(record)
	b.Register(record)
	b.Register(ListenerFunc(func(Heartbeat) { panic("listener exploded") }))

	before := testutil.ToFloat64(metrics.HeartbeatsSent)
	ctx := context.Background()

	if _, sent, err := a.Tick(ctx); err != nil || !sent {
		t.Fatalf("a.Tick() sent = %v, err = %v", sent, err)
	}
	if _, sent, err := b.Tick(ctx); err != nil || sent {
		t.Fatalf("b.Tick() in the same interval sent = %v, err = %v", sent, err)
	}

	clk.Advance(10 * time.Second)
	hb, sent, err := b.Tick(ctx)
	if err != nil || !sent {
		t.Fatalf("b.Tick() next interval sent = %v, err = %v", sent, err)
	}
	if hb.Sequence != 2 || hb.NodeID != "b" {
		t.Errorf("heartbeat = %+v, want sequence 2 from b", hb)
	}

	if len(got) != 2 {
		t.Errorf("listeners saw %d heartbeats, want 2", len(got))
	}
	if delta := testutil.ToFloat64(metrics.HeartbeatsSent) - before; delta != 2 {
		t.Errorf("heartbeats metric delta = %v, want 2", delta)
	}
	if last, ok := b.Last(); !ok || last.Sequence != 2 {
		t.Errorf("b.Last() = %+v, %v", last, ok)
	}
}

func TestTickLockTimeout(t *testing.T) {
	lock := cluster.NewMemoryLock()
	clk := &clock{now: time.Unix(1000, 0)}
	m, err := NewManager(Config{NodeID: "a", Interval: time.Second, LockTimeout: 20 * time.Millisecond, Now: clk.Now}, lock)
	if err != nil {
		t.Fatal(err)
	}

	if err := lock.Acquire(context.Background(), LockKey); err != nil {
		t.Fatal(err)
	}
	if _, sent, err := m.Tick(context.Background()); err == nil || sent {
		t.Errorf("Tick() with lock held elsewhere sent = %v, err = %v", sent, err)
	}
}

func TestStartStop(t *testing.T) {
	m, err := NewManager(Config{NodeID: "a", Interval: 20 * time.Millisecond}, cluster.NewMemoryLock())
	if err != nil {
		t.Fatal(err)
	}
	beats := make(chan Heartbeat, 8)
	m.Register(ListenerFunc(func(hb Heartbeat) {
		select {
		case beats <- hb:
		default:
		}
	}))

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}
	select {
	case <-beats:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat sent")
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if m.IsRunning() {
		t.Error("still running after Stop")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{Interval: time.Second}, nil); err == nil {
		t.Error("nil lock accepted")
	}
	if _, err := NewManager(Config{}, cluster.NewMemoryLock()); err == nil {
		t.Error("zero interval accepted")
	}
}

func TestRestartAfterContextCancel(t *testing.T) {
	m, err := NewManager(Config{NodeID: "a", Interval: time.Hour}, cluster.NewMemoryLock())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for m.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.IsRunning() {
		t.Fatal("still running after its context was canceled")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() after cancel error = %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
}
