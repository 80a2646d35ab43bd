// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/daqwatch/internal/broker"
)

// lockFactory returns a Lock for simulated node i. All locks returned by
// one factory share state, as cluster nodes would.
type lockFactory func(t *testing.T, node int) Lock

func memoryFactory(t *testing.T) lockFactory {
	t.Helper()
	shared := NewMemoryLock()
	return func(*testing.T, int) Lock { return shared }
}

func startJetStream(t *testing.T) jetstream.JetStream {
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

	nc, js, err := broker.Connect(broker.ConnConfig{URL: srv.ClientURL(), Name: t.Name()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return js
}

func natsFactory(t *testing.T) lockFactory {
	t.Helper()
	js := startJetStream(t)
	return func(t *testing.T, node int) Lock {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l, err := NewNATSLock(ctx, js, NATSConfig{
			Bucket:       "test-cluster",
			Holder:       fmt.Sprintf("node-%d", node),
			LeaseTTL:     10 * time.Second,
			PollInterval: 5 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("NewNATSLock: %v", err)
		}
		return l
	}
}

func TestLockBackends(t *testing.T) {
	backends := []struct {
		name    string
		factory func(t *testing.T) lockFactory
	}{
		{"memory", memoryFactory},
		{"nats", natsFactory},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			t.Run("exclusive", func(t *testing.T) { testExclusive(t, b.factory(t)) })
			t.Run("release not held", func(t *testing.T) { testReleaseNotHeld(t, b.factory(t)) })
			t.Run("shared values", func(t *testing.T) { testSharedValues(t, b.factory(t)) })
			t.Run("invalid key", func(t *testing.T) { testInvalidKey(t, b.factory(t)) })
			t.Run("mutual exclusion across nodes", func(t *testing.T) { testCounter(t, b.factory(t)) })
		})
	}
}

func testExclusive(t *testing.T, newLock lockFactory) {
	a, b := newLock(t, 1), newLock(t, 2)
	ctx := context.Background()

	if err := a.Acquire(ctx, "scan"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := b.Acquire(short, "scan"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire() error = %v, want DeadlineExceeded", err)
	}

	if err := a.Release(ctx, "scan"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := b.Acquire(ctx, "scan"); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	if err := b.Release(ctx, "scan"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func testReleaseNotHeld(t *testing.T, newLock lockFactory) {
	if err := newLock(t, 1).Release(context.Background(), "never-acquired"); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("Release() error = %v, want ErrLockNotHeld", err)
	}
}

func testSharedValues(t *testing.T, newLock lockFactory) {
	writer, reader := newLock(t, 1), newLock(t, 2)
	ctx := context.Background()

	ok, err := reader.HasKey(ctx, "checker.init")
	if err != nil || ok {
		t.Fatalf("HasKey(missing) = %v, %v", ok, err)
	}
	var missing int64
	if err := reader.Get(ctx, "checker.last-check", &missing); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	if err := writer.Put(ctx, "checker.init", true); err != nil {
		t.Fatal(err)
	}
	if err := writer.Put(ctx, "checker.last-check", int64(1700000000123)); err != nil {
		t.Fatal(err)
	}

	ok, err = reader.HasKey(ctx, "checker.init")
	if err != nil || !ok {
		t.Fatalf("HasKey() = %v, %v, want true", ok, err)
	}
	var flag bool
	if err := reader.Get(ctx, "checker.init", &flag); err != nil || !flag {
		t.Errorf("Get(init) = %v, %v", flag, err)
	}
	var last int64
	if err := reader.Get(ctx, "checker.last-check", &last); err != nil || last != 1700000000123 {
		t.Errorf("Get(last-check) = %d, %v", last, err)
	}
}

func testInvalidKey(t *testing.T, newLock lockFactory) {
	l := newLock(t, 1)
	for _, key := range []string{"", "has space", ".leading", "trailing.", "star*"} {
		if err := l.Acquire(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Acquire(%q) error = %v, want ErrInvalidKey", key, err)
		}
		if err := l.Put(context.Background(), key, 1); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func testCounter(t *testing.T, newLock lockFactory) {
	const nodes, rounds = 4, 10
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := newLock(t, 0).Put(ctx, "counter", 0); err != nil {
		t.Fatal(err)
	}

	locks := make([]Lock, nodes)
	for i := range locks {
		locks[i] = newLock(t, i)
	}

	var wg sync.WaitGroup
	errs := make(chan error, nodes*rounds)
	for i := 0; i < nodes; i++ {
		wg.Add(1)
		go func(l Lock) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				errs <- WithLock(ctx, l, "counter-lock", func(ctx context.Context) error {
					var n int
					if err := l.Get(ctx, "counter", &n); err != nil {
						return err
					}
					return l.Put(ctx, "counter", n+1)
				})
			}
		}(locks[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("WithLock() error = %v", err)
		}
	}

	var n int
	if err := locks[0].Get(ctx, "counter", &n); err != nil {
		t.Fatal(err)
	}
	if n != nodes*rounds {
		t.Errorf("counter = %d, want %d (lost updates mean the lock is not exclusive)", n, nodes*rounds)
	}
}

func TestNATSLockTakesOverExpiredLease(t *testing.T) {
	newLock := natsFactory(t)
	dead := newLock(t, 1).(*NATSLock)
	live := newLock(t, 2).(*NATSLock)
	ctx := context.Background()

	if err := dead.Acquire(ctx, "scan"); err != nil {
		t.Fatal(err)
	}

	// The live node's clock runs past the dead holder's lease.
	live.now = func() time.Time { return time.Now().Add(time.Minute) }

	acquireCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := live.Acquire(acquireCtx, "scan"); err != nil {
		t.Fatalf("Acquire() over expired lease error = %v", err)
	}

	// The stale holder's conditional delete must not remove the new lease.
	if err := dead.Release(ctx, "scan"); err == nil {
		t.Error("Release() by stale holder succeeded, want revision mismatch")
	}

	third := newLock(t, 3)
	short, cancel2 := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel2()
	if err := third.Acquire(short, "scan"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("third Acquire() error = %v, want lock still held by live node", err)
	}

	if err := live.Release(ctx, "scan"); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}
