// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/daqwatch/internal/broker"
	"github.com/tomtom215/daqwatch/internal/config"
	"github.com/tomtom215/daqwatch/internal/supervision"
)

func TestMemoryBackendNeedsNoBroker(t *testing.T) {
	cfg := &config.Config{Cluster: config.ClusterConfig{Backend: "memory"}}
	stores, err := newSupervisionStores(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stores.Timers == nil || stores.StateTags == nil || stores.CommFaults == nil {
		t.Errorf("stores = %+v, want all set", stores)
	}

	cfg.Cluster.Backend = "nats"
	if _, err := newSupervisionStores(context.Background(), cfg, nil); err == nil {
		t.Error("nats backend without a connection succeeded")
	}
}

func TestNATSBackendSharesRecords(t *testing.T) {
	srv, err := broker.StartEmbeddedServer(broker.ServerConfig{Host: "127.0.0.1", Port: -1, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start embedded NATS: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	cfg := &config.Config{Cluster: config.ClusterConfig{
		Backend:      "nats",
		Bucket:       "server-test",
		StoreTimeout: 5 * time.Second,
		LeaseTTL:     10 * time.Second,
		PollInterval: 5 * time.Millisecond,
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	managers := make([]*supervision.Manager, 2)
	for i := range managers {
		nc, js, err := broker.Connect(broker.ConnConfig{URL: srv.ClientURL(), Name: fmt.Sprintf("node-%d", i)})
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(nc.Close)

		if _, err := newClusterLock(ctx, cfg, fmt.Sprintf("node-%d", i), js); err != nil {
			t.Fatalf("newClusterLock: %v", err)
		}
		stores, err := newSupervisionStores(ctx, cfg, js)
		if err != nil {
			t.Fatalf("newSupervisionStores: %v", err)
		}
		managers[i] = supervision.NewManager(supervision.ManagerConfig{Stores: stores})
		if _, err := configureTopology(managers[i], testTopology()); err != nil {
			t.Fatalf("node %d: configureTopology: %v", i, err)
		}
	}

	if _, _, err := managers[0].ProcessSignal(1221, time.Now()); err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	tag, err := managers[1].StateTag(1222)
	if err != nil {
		t.Fatal(err)
	}
	if tag.Status != supervision.StatusRunning {
		t.Errorf("status on the other node = %s, want RUNNING", tag.Status)
	}
}
