// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/daqwatch/internal/cache"
)

// Key prefixes of the supervision records in a shared bucket.
const (
	TimerPrefix     = "timer"
	StateTagPrefix  = "statetag"
	CommFaultPrefix = "commfault"
)

// Stores holds the record stores behind a Manager. Nodes whose managers
// use stores over one shared bucket supervise as a single cluster: an
// expiry written by the scanning node is what every node reads.
type Stores struct {
	Timers     cache.Store[int64, AliveTimer]
	StateTags  cache.Store[int64, StateTag]
	CommFaults cache.Store[int64, CommFaultTag]
}

// MemoryStores returns fresh in-process stores.
func MemoryStores() Stores {
	return Stores{
		Timers:     cache.NewMemoryStore[int64, AliveTimer](),
		StateTags:  cache.NewMemoryStore[int64, StateTag](),
		CommFaults: cache.NewMemoryStore[int64, CommFaultTag](),
	}
}

// KVStores returns stores over kv. timeout bounds each bucket operation.
func KVStores(kv jetstream.KeyValue, timeout time.Duration) (Stores, error) {
	timers, err := cache.NewKVStore[AliveTimer](kv, cache.KVConfig{Prefix: TimerPrefix, Timeout: timeout})
	if err != nil {
		return Stores{}, fmt.Errorf("alive timer store: %w", err)
	}
	stateTags, err := cache.NewKVStore[StateTag](kv, cache.KVConfig{Prefix: StateTagPrefix, Timeout: timeout})
	if err != nil {
		return Stores{}, fmt.Errorf("state tag store: %w", err)
	}
	commFaults, err := cache.NewKVStore[CommFaultTag](kv, cache.KVConfig{Prefix: CommFaultPrefix, Timeout: timeout})
	if err != nil {
		return Stores{}, fmt.Errorf("commfault store: %w", err)
	}
	return Stores{Timers: timers, StateTags: stateTags, CommFaults: commFaults}, nil
}
