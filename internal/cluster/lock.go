// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

// Package cluster provides named mutual exclusion and a small shared
// key/value store that every cooperating server node sees.
//
// Two backends implement Lock:
//
//   - MemoryLock serializes goroutines of one process. It is the
//     single-node backend and the reference for tests.
//   - NATSLock stores leases and values in a JetStream key-value bucket,
//     so acquisition is exclusive across processes and hosts.
//
// Callers must not assume values survive a lock backend restart unless
// the backend is durable (JetStream file storage is).
package cluster

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Get for a key that was never Put.
	ErrKeyNotFound = errors.New("cluster: key not found")

	// ErrLockNotHeld is returned by Release for a lock this node does not hold.
	ErrLockNotHeld = errors.New("cluster: lock not held")

	// ErrInvalidKey is returned for keys outside [-/_=.a-zA-Z0-9].
	ErrInvalidKey = errors.New("cluster: invalid key")
)

// Lock is a cluster-visible mutex plus shared map.
type Lock interface {
	// Acquire blocks until the named lock is granted or ctx is done.
	Acquire(ctx context.Context, key string) error

	// Release gives up a lock obtained by Acquire.
	Release(ctx context.Context, key string) error

	// HasKey reports whether a shared value exists under key.
	HasKey(ctx context.Context, key string) (bool, error)

	// Get decodes the shared value under key into dst.
	Get(ctx context.Context, key string, dst any) error

	// Put stores v under key.
	Put(ctx context.Context, key string, v any) error
}

// WithLock runs fn while holding key. The release uses a fresh context so
// that a canceled ctx still frees the lock.
func WithLock(ctx context.Context, l Lock, key string, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, key); err != nil {
		return err
	}
	defer func() {
		_ = l.Release(context.WithoutCancel(ctx), key)
	}()
	return fn(ctx)
}

func validKey(key string) bool {
	if key == "" || key[0] == '.' || key[len(key)-1] == '.' {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '/', c == '_', c == '=', c == '.':
		default:
			return false
		}
	}
	return true
}
