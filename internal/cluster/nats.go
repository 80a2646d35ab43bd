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
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/logging"
)

const (
	lockPrefix  = "lock."
	valuePrefix = "value."
)

// NATSConfig configures a NATSLock.
type NATSConfig struct {
	// Bucket is the JetStream KV bucket, created if missing.
	Bucket string

	// Holder identifies this node in lease records.
	Holder string

	// LeaseTTL bounds how long a crashed holder blocks others.
	LeaseTTL time.Duration

	// PollInterval is the wait between attempts while a lock is taken.
	PollInterval time.Duration
}

// lease is the record stored under a lock key. Revision-checked writes
// make take-over of an expired lease race free.
type lease struct {
	Holder  string    `json:"holder"`
	Expires time.Time `json:"expires"`
}

// NATSLock implements Lock on a JetStream key-value bucket.
type NATSLock struct {
	kv   jetstream.KeyValue
	cfg  NATSConfig
	now  func() time.Time
	mu   sync.Mutex
	held map[string]uint64
	log  zerolog.Logger
}

// NewNATSLock opens (or creates) the bucket and returns a lock bound to it.
func NewNATSLock(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) (*NATSLock, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("cluster: bucket name is required")
	}
	if cfg.Holder == "" {
		return nil, errors.New("cluster: holder id is required")
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "DAQWatch cluster locks and shared supervision state",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("open KV bucket %s: %w", cfg.Bucket, err)
	}

	return &NATSLock{
		kv:   kv,
		cfg:  cfg,
		now:  time.Now,
		held: make(map[string]uint64),
		log: logging.WithComponent("cluster-lock").With().
			Str("bucket", cfg.Bucket).
			Str("holder", cfg.Holder).
			Logger(),
	}, nil
}

// Acquire implements Lock. It polls until the lease is created, or until
// an expired lease left by a dead holder is replaced.
func (l *NATSLock) Acquire(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	lockKey := lockPrefix + key

	for {
		record, err := json.Marshal(lease{Holder: l.cfg.Holder, Expires: l.now().Add(l.cfg.LeaseTTL)})
		if err != nil {
			return fmt.Errorf("encode lease: %w", err)
		}

		rev, err := l.kv.Create(ctx, lockKey, record)
		if err == nil {
			l.markHeld(key, rev)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("acquire %q: %w", key, err)
		}

		acquired, err := l.takeOverExpired(ctx, key, lockKey, record)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if acquired {
			return nil
		}

		t := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *NATSLock) takeOverExpired(ctx context.Context, key, lockKey string, record []byte) (bool, error) {
	entry, err := l.kv.Get(ctx, lockKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		// Released between Create and Get; retry Create immediately.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect lock %q: %w", key, err)
	}

	var cur lease
	if err := json.Unmarshal(entry.Value(), &cur); err != nil {
		return false, fmt.Errorf("decode lease %q: %w", key, err)
	}
	if l.now().Before(cur.Expires) {
		return false, nil
	}

	rev, err := l.kv.Update(ctx, lockKey, record, entry.Revision())
	if err != nil {
		// Another node took it over first.
		return false, nil
	}
	l.log.Warn().Str("key", key).Str("previous_holder", cur.Holder).Msg("Took over expired lock lease")
	l.markHeld(key, rev)
	return true, nil
}

func (l *NATSLock) markHeld(key string, rev uint64) {
	l.mu.Lock()
	l.held[key] = rev
	l.mu.Unlock()
}

// Release implements Lock. The delete is conditioned on the revision this
// node wrote, so a lease taken over after expiry is never removed.
func (l *NATSLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	rev, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrLockNotHeld, key)
	}

	if err := l.kv.Delete(ctx, lockPrefix+key, jetstream.LastRevision(rev)); err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	return nil
}

// HasKey implements Lock.
func (l *NATSLock) HasKey(ctx context.Context, key string) (bool, error) {
	_, err := l.kv.Get(ctx, valuePrefix+key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return false, nil
	default:
		return false, fmt.Errorf("lookup %q: %w", key, err)
	}
}

// Get implements Lock.
func (l *NATSLock) Get(ctx context.Context, key string, dst any) error {
	entry, err := l.kv.Get(ctx, valuePrefix+key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("get %q: %w", key, err)
	}
	return json.Unmarshal(entry.Value(), dst)
}

// Put implements Lock.
func (l *NATSLock) Put(ctx context.Context, key string, v any) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if _, err := l.kv.Put(ctx, valuePrefix+key, data); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}
