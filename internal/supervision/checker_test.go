// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/daqwatch/internal/broker"
	"github.com/tomtom215/daqwatch/internal/cache"
	"github.com/tomtom215/daqwatch/internal/cluster"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

func testCheckerConfig() CheckerConfig {
	cfg := DefaultCheckerConfig()
	cfg.LockTimeout = 5 * time.Second
	return cfg
}

func timersWith(clock *fakeClock, n int, interval time.Duration) *AliveTimers {
	timers := NewAliveTimers(cache.NewMemoryStore[int64, AliveTimer](), DefaultSignalPolicy(), clock.Now)
	for i := 1; i <= n; i++ {
		timers.Add(AliveTimer{ID: int64(i), SupervisedID: int64(i), SupervisedType: SupervisedEquipment, Interval: interval})
	}
	return timers
}

// node is one simulated server: its own manager and checker over
// whatever the backend shares between nodes.
type node struct {
	manager *Manager
	checker *Checker
}

// nodeBackend returns the lock and stores of n nodes.
type nodeBackend func(t *testing.T, n int) ([]cluster.Lock, []Stores)

func memoryBackend(_ *testing.T, n int) ([]cluster.Lock, []Stores) {
	lock, stores := cluster.NewMemoryLock(), MemoryStores()
	locks, all := make([]cluster.Lock, n), make([]Stores, n)
	for i := range locks {
		locks[i], all[i] = lock, stores
	}
	return locks, all
}

// natsBackend gives every node its own connection, lock and stores; only
// the bucket is shared.
func natsBackend(t *testing.T, n int) ([]cluster.Lock, []Stores) {
	t.Helper()
	srv, err := broker.StartEmbeddedServer(broker.ServerConfig{Host: "127.0.0.1", Port: -1, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start embedded NATS: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	locks, all := make([]cluster.Lock, n), make([]Stores, n)
	for i := range locks {
		nc, js, err := broker.Connect(broker.ConnConfig{URL: srv.ClientURL(), Name: fmt.Sprintf("node-%d", i)})
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(nc.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		l, err := cluster.NewNATSLock(ctx, js, cluster.NATSConfig{
			Bucket:       "checker-test",
			Holder:       fmt.Sprintf("node-%d", i),
			LeaseTTL:     10 * time.Second,
			PollInterval: 5 * time.Millisecond,
		})
		if err != nil {
			cancel()
			t.Fatalf("NewNATSLock: %v", err)
		}
		kv, err := js.KeyValue(ctx, "checker-test")
		cancel()
		if err != nil {
			t.Fatalf("open bucket: %v", err)
		}
		stores, err := KVStores(kv, 5*time.Second)
		if err != nil {
			t.Fatalf("KVStores: %v", err)
		}
		locks[i], all[i] = l, stores
	}
	return locks, all
}

var clusterBackends = map[string]nodeBackend{
	"memory": memoryBackend,
	"nats":   natsBackend,
}

func startNodes(t *testing.T, backend nodeBackend, n int, clock *fakeClock) []node {
	t.Helper()
	locks, stores := backend(t, n)
	nodes := make([]node, n)
	for i := range nodes {
		m := NewManager(ManagerConfig{Now: clock.Now, Stores: stores[i]})
		nodes[i] = node{
			manager: m,
			checker: NewChecker(testCheckerConfig(), locks[i], m.Timers(), m, &alarmRecorder{}, clock.Now),
		}
	}
	return nodes
}

// configureAll applies the same topology on every node, as each server
// does at boot.
func configureAll(t *testing.T, nodes []node, entities ...Supervised) {
	t.Helper()
	for i, n := range nodes {
		for _, e := range entities {
			if err := n.manager.Configure(e); err != nil {
				t.Fatalf("node %d: Configure(%d): %v", i, e.AliveTimerID(), err)
			}
		}
	}
}

// tickConcurrently ticks every node at once and returns how many scanned.
func tickConcurrently(t *testing.T, nodes []node) int {
	t.Helper()
	var scanned atomic.Int32
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := n.checker.Tick(context.Background())
			if err != nil {
				t.Errorf("Tick() error = %v", err)
				return
			}
			if !res.Skipped {
				scanned.Add(1)
			}
		}()
	}
	wg.Wait()
	return int(scanned.Load())
}

func equipmentSet(n int, interval time.Duration) []Supervised {
	out := make([]Supervised, n)
	for i := range out {
		id := int64(i + 1)
		out[i] = Equipment{ID: id, ProcessID: 99, AliveTagID: id, Interval: interval}
	}
	return out
}

func TestCheckerSingleFlight(t *testing.T) {
	for name, backend := range clusterBackends {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			clock.Set(1_000_000)
			nodes := startNodes(t, backend, 5, clock)
			configureAll(t, nodes, equipmentSet(10, 10*time.Second)...)

			if got := tickConcurrently(t, nodes); got != 1 {
				t.Fatalf("scans in first window = %d, want 1", got)
			}

			clock.Advance(5 * time.Second)
			if got := tickConcurrently(t, nodes); got != 0 {
				t.Fatalf("scans inside guard window = %d, want 0", got)
			}

			clock.Advance(5 * time.Second)
			if got := tickConcurrently(t, nodes); got != 1 {
				t.Fatalf("scans in next window = %d, want 1", got)
			}
		})
	}
}

// Whichever node scans, every node must see the expiry.
func TestClusterNodesAgreeOnExpiry(t *testing.T) {
	proc := Process{ID: 7, Name: "P_TEST", AliveTagID: 1221, Interval: 10 * time.Second, StateTag: 1220}

	for name, backend := range clusterBackends {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			clock.Set(50)
			nodes := startNodes(t, backend, 2, clock)
			configureAll(t, nodes, proc)

			for i, n := range nodes {
				if _, _, err := n.manager.ProcessSignal(1221, at(50)); err != nil {
					t.Fatalf("node %d: ProcessSignal: %v", i, err)
				}
			}
			for i, n := range nodes {
				if tag, _ := n.manager.StateTag(1220); tag.Status != StatusRunning {
					t.Fatalf("node %d: status = %s after alive, want RUNNING", i, tag.Status)
				}
			}

			scans := 0
			for ms := int64(10_000); ms <= 120_000; ms += 10_000 {
				clock.Set(ms)
				for i, n := range nodes {
					res, err := n.checker.Tick(context.Background())
					if err != nil {
						t.Fatalf("node %d: Tick at %d: %v", i, ms, err)
					}
					if !res.Skipped {
						scans++
					}
				}
			}
			if scans != 12 {
				t.Errorf("scans = %d, want one per window", scans)
			}

			for i, n := range nodes {
				tag, err := n.manager.StateTag(1220)
				if err != nil {
					t.Fatalf("node %d: StateTag: %v", i, err)
				}
				if tag.Status != StatusDown {
					t.Errorf("node %d: status = %s, want DOWN", i, tag.Status)
				}
				timer, _ := n.manager.AliveTimer(1221)
				if timer.Active {
					t.Errorf("node %d: timer still active", i)
				}
			}
		})
	}
}

func TestCheckerAggregateWarningDebounce(t *testing.T) {
	clock := newFakeClock()
	timers := timersWith(clock, 51, time.Hour)
	alarms := &alarmRecorder{}

	cfg := testCheckerConfig()
	cfg.GuardWindow = 0
	c := NewChecker(cfg, cluster.NewMemoryLock(), timers, nil, alarms, clock.Now)
	ctx := context.Background()

	// Never-started timers count as down.
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Second)
		if res, _ := c.Tick(ctx); res.Down != 51 {
			t.Fatalf("down = %d, want 51", res.Down)
		}
	}
	if warns, _ := alarms.counts(); warns != 1 {
		t.Fatalf("warnings = %d, want exactly 1", warns)
	}
	if !c.WarningActive() || testutil.ToFloat64(metrics.WarningActive) != 1 {
		t.Fatal("warning not active")
	}
	if alarms.warns[0] != "Over 50 DAQ/Equipment are currently down." {
		t.Errorf("warning = %q", alarms.warns[0])
	}

	ids, _ := timers.IDs()
	for _, id := range ids {
		timers.ProcessSignal(id, clock.Now())
	}

	for tick := 1; tick < cfg.SwitchOffTicks; tick++ {
		clock.Advance(10 * time.Second)
		c.Tick(ctx)
		if _, clears := alarms.counts(); clears != 0 {
			t.Fatalf("warning cleared after %d ticks, want %d", tick, cfg.SwitchOffTicks)
		}
	}
	clock.Advance(10 * time.Second)
	c.Tick(ctx)
	if _, clears := alarms.counts(); clears != 1 {
		t.Fatalf("clears = %d after %d ticks, want 1", clears, cfg.SwitchOffTicks)
	}
	if c.WarningActive() {
		t.Error("warning still active")
	}
}

func TestCheckerSurvivesHandlerPanic(t *testing.T) {
	clock := newFakeClock()
	timers := timersWith(clock, 2, 10*time.Second)
	ids, _ := timers.IDs()
	for _, id := range ids {
		timers.ProcessSignal(id, clock.Now())
	}

	var calls atomic.Int32
	handler := ExpiryFunc(func(_ context.Context, id int64) {
		calls.Add(1)
		if id == 1 {
			panic("boom")
		}
	})

	cfg := testCheckerConfig()
	cfg.GuardWindow = 0
	c := NewChecker(cfg, cluster.NewMemoryLock(), timers, handler, &alarmRecorder{}, clock.Now)

	clock.Advance(time.Minute)
	res, err := c.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(res.Expired) != 2 || calls.Load() != 2 {
		t.Errorf("expired = %v, handler calls = %d; want both handled", res.Expired, calls.Load())
	}
}

type panickingSource struct{}

func (panickingSource) IDs() ([]int64, error) { panic("store exploded") }

func (panickingSource) Expire(int64, time.Time) (AliveTimer, bool, error) {
	return AliveTimer{}, false, nil
}

func TestCheckerRecoversScanPanic(t *testing.T) {
	clock := newFakeClock()
	lock := cluster.NewMemoryLock()
	c := NewChecker(testCheckerConfig(), lock, panickingSource{}, nil, &alarmRecorder{}, clock.Now)

	res, err := c.Tick(context.Background())
	if !errors.Is(err, ErrTickPanicked) || !res.Skipped {
		t.Fatalf("Tick() = %+v, %v; want skipped with ErrTickPanicked", res, err)
	}

	// The lock must have been released while unwinding.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := lock.Acquire(ctx, LastCheckKey); err != nil {
		t.Fatalf("lock still held after panic: %v", err)
	}
}

func TestCheckerLockTimeoutSkipsTick(t *testing.T) {
	clock := newFakeClock()
	lock := cluster.NewMemoryLock()
	if err := lock.Acquire(context.Background(), LastCheckKey); err != nil {
		t.Fatal(err)
	}

	cfg := testCheckerConfig()
	cfg.LockTimeout = 20 * time.Millisecond
	c := NewChecker(cfg, lock, timersWith(clock, 1, time.Second), nil, nil, clock.Now)

	res, err := c.Tick(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) || !res.Skipped {
		t.Errorf("Tick() = %+v, %v; want skipped on deadline", res, err)
	}
}

func TestCheckerInitRunsOnce(t *testing.T) {
	lock := cluster.NewMemoryLock()
	c := NewChecker(testCheckerConfig(), lock, timersWith(newFakeClock(), 0, time.Second), nil, nil, nil)
	ctx := context.Background()

	if err := c.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := lock.Put(ctx, LastCheckKey, int64(555)); err != nil {
		t.Fatal(err)
	}
	if err := c.Init(ctx); err != nil {
		t.Fatal(err)
	}

	var last int64
	if err := lock.Get(ctx, LastCheckKey, &last); err != nil || last != 555 {
		t.Errorf("last check = %d, %v; second Init must not reset it", last, err)
	}
}

func TestCheckerStartStop(t *testing.T) {
	cfg := testCheckerConfig()
	cfg.InitialDelay = 0
	cfg.ScanInterval = 10 * time.Millisecond
	cfg.GuardWindow = 0
	c := NewChecker(cfg, cluster.NewMemoryLock(), timersWith(newFakeClock(), 3, time.Second), nil, nil, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Scans() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Scans() < 2 {
		t.Fatalf("scans = %d, want at least 2", c.Scans())
	}

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if c.IsRunning() {
		t.Error("still running after Stop")
	}
}

type failingSource struct{ err error }

func (f failingSource) IDs() ([]int64, error) { return nil, f.err }

func (failingSource) Expire(int64, time.Time) (AliveTimer, bool, error) {
	return AliveTimer{}, false, nil
}

func TestCheckerStoreErrorSkipsTick(t *testing.T) {
	clock := newFakeClock()
	clock.Set(1_000_000)
	lock := cluster.NewMemoryLock()
	c := NewChecker(testCheckerConfig(), lock, failingSource{err: errors.New("bucket offline")}, nil, nil, clock.Now)

	res, err := c.Tick(context.Background())
	if !errors.Is(err, ErrTimerList) || !res.Skipped {
		t.Fatalf("Tick() = %+v, %v; want skipped with ErrTimerList", res, err)
	}

	// A skipped tick must not claim the window.
	var last int64
	if err := lock.Get(context.Background(), LastCheckKey, &last); err == nil && last != 0 {
		t.Errorf("last check = %d, want unset", last)
	}
}

func TestCheckerRestartsAfterContextCancel(t *testing.T) {
	cfg := testCheckerConfig()
	cfg.InitialDelay = time.Hour
	cfg.ScanInterval = time.Second
	c := NewChecker(cfg, cluster.NewMemoryLock(), timersWith(newFakeClock(), 1, time.Second), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for c.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.IsRunning() {
		t.Fatal("still running after its context was canceled")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() after cancel error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
}
