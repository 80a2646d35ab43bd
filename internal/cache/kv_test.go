// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package cache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/daqwatch/internal/broker"
)

func openBucket(t *testing.T) jetstream.KeyValue {
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "test-cache", History: 1})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	return kv
}

func newKVStore(t *testing.T, kv jetstream.KeyValue, prefix string) *KVStore[record] {
	t.Helper()
	s, err := NewKVStore[record](kv, KVConfig{Prefix: prefix})
	if err != nil {
		t.Fatalf("NewKVStore: %v", err)
	}
	return s
}

func TestKVStoreBasics(t *testing.T) {
	kv := openBucket(t)
	s := newKVStore(t, kv, "timer")
	other := newKVStore(t, kv, "statetag")

	if _, err := s.Get(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	for k, name := range map[int64]string{3: "c", 1: "a", 2: "b"} {
		if err := s.Put(k, record{Name: name}); err != nil {
			t.Fatalf("Put(%d): %v", k, err)
		}
	}
	if err := other.Put(9, record{Name: "z"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(2)
	if err != nil || got.Name != "b" {
		t.Errorf("Get(2) = %+v, %v, want b", got, err)
	}
	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if !slices.Equal(keys, []int64{1, 2, 3}) {
		t.Errorf("Keys() = %v, want [1 2 3] without the other prefix", keys)
	}

	if err := s.Remove(2); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(2); err != nil {
		t.Errorf("Remove(absent) error = %v", err)
	}
	if _, err := s.Get(2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(removed) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Update(2, func(*record) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(removed) error = %v, want ErrNotFound", err)
	}
}

func TestKVStorePutIfAbsent(t *testing.T) {
	s := newKVStore(t, openBucket(t), "timer")

	created, err := s.PutIfAbsent(5, record{Name: "first"})
	if err != nil || !created {
		t.Fatalf("PutIfAbsent(new) = %v, %v, want true", created, err)
	}
	created, err = s.PutIfAbsent(5, record{Name: "second"})
	if err != nil || created {
		t.Fatalf("PutIfAbsent(existing) = %v, %v, want false", created, err)
	}
	if got, _ := s.Get(5); got.Name != "first" {
		t.Errorf("Get(5).Name = %q, want first", got.Name)
	}

	// A deleted key is absent again.
	if err := s.Remove(5); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	created, err = s.PutIfAbsent(5, record{Name: "third"})
	if err != nil || !created {
		t.Errorf("PutIfAbsent(after remove) = %v, %v, want true", created, err)
	}
}

func TestKVStoreUpdateErrorKeepsStored(t *testing.T) {
	s := newKVStore(t, openBucket(t), "timer")
	if err := s.Put(1, record{Name: "a", Count: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	boom := errors.New("rejected")
	got, err := s.Update(1, func(r *record) error {
		r.Count = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v, want %v", err, boom)
	}
	if got.Count != 1 {
		t.Errorf("returned Count = %d, want 1", got.Count)
	}
	if stored, _ := s.Get(1); stored.Count != 1 {
		t.Errorf("stored Count = %d, want 1", stored.Count)
	}
}

// Two stores on one bucket stand in for two cluster nodes; every increment
// must land exactly once.
func TestKVStoreConcurrentUpdatesAcrossStores(t *testing.T) {
	kv := openBucket(t)
	nodes := []*KVStore[record]{
		newKVStore(t, kv, "timer"),
		newKVStore(t, kv, "timer"),
	}
	for _, n := range nodes {
		n.max = 1000
	}
	if err := nodes[0].Put(1, record{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const perNode = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*perNode)
	for _, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perNode {
				if _, err := n.Update(1, func(r *record) error {
					r.Count++
					return nil
				}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Update: %v", err)
	}

	got, err := nodes[1].Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Count != 2*perNode {
		t.Errorf("Count = %d, want %d", got.Count, 2*perNode)
	}
}

func TestNewKVStoreValidates(t *testing.T) {
	if _, err := NewKVStore[record](nil, KVConfig{Prefix: "timer"}); err == nil {
		t.Error("NewKVStore(nil bucket) error = nil")
	}
	if _, err := NewKVStore[record](openBucket(t), KVConfig{}); err == nil {
		t.Error("NewKVStore(no prefix) error = nil")
	}
}
