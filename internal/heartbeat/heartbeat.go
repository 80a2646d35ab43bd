// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

// Package heartbeat emits the server heartbeat clients use to tell that
// supervision is running. In a cluster exactly one node sends each beat:
// nodes coordinate through a cluster.Lock and the shared timestamp of the
// last beat.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/cluster"
	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

// Cluster keys.
const (
	LockKey = "daqwatch.heartbeat.lock"
	LastKey = "daqwatch.heartbeat.last"
)

// Heartbeat is one emitted beat.
type Heartbeat struct {
	NodeID   string        `json:"node_id"`
	Sequence int64         `json:"sequence"`
	Time     time.Time     `json:"time"`
	Interval time.Duration `json:"interval"`
}

// Listener receives heartbeats on the sending node.
type Listener interface {
	OnHeartbeat(hb Heartbeat)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(hb Heartbeat)

// OnHeartbeat implements Listener.
func (f ListenerFunc) OnHeartbeat(hb Heartbeat) { f(hb) }

// Config configures a Manager.
type Config struct {
	NodeID   string
	Interval time.Duration

	// LockTimeout bounds lock acquisition for one tick. Defaults to half
	// the interval.
	LockTimeout time.Duration

	Now func() time.Time
}

type lastBeat struct {
	NodeID   string `json:"node_id"`
	Sequence int64  `json:"sequence"`
	UnixMs   int64  `json:"unix_ms"`
}

// Manager sends heartbeats at a fixed interval.
type Manager struct {
	cfg  Config
	lock cluster.Lock
	log  zerolog.Logger

	mu        sync.RWMutex
	listeners []Listener
	last      Heartbeat
	hasLast   bool

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager returns a stopped manager.
func NewManager(cfg Config, lock cluster.Lock) (*Manager, error) {
	if lock == nil {
		return nil, errors.New("heartbeat: lock required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("heartbeat: interval must be positive")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = cfg.Interval / 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:  cfg,
		lock: lock,
		log:  logging.WithComponent("heartbeat").With().Str("node_id", cfg.NodeID).Logger(),
	}, nil
}

// Register adds a listener.
func (m *Manager) Register(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Tick sends one heartbeat unless another node sent one within the last
// half interval. It reports whether this node sent.
func (m *Manager) Tick(ctx context.Context) (Heartbeat, bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, m.cfg.LockTimeout)
	defer cancel()
	if err := m.lock.Acquire(lockCtx, LockKey); err != nil {
		return Heartbeat{}, false, fmt.Errorf("acquire heartbeat lock: %w", err)
	}

	hb, sent, err := m.beat(ctx)
	if rerr := m.lock.Release(context.WithoutCancel(ctx), LockKey); rerr != nil {
		m.log.Warn().Err(rerr).Msg("Failed to release heartbeat lock")
	}
	if err != nil || !sent {
		return hb, false, err
	}

	metrics.HeartbeatsSent.Inc()
	m.mu.Lock()
	m.last, m.hasLast = hb, true
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		m.notify(l, hb)
	}
	return hb, true, nil
}

func (m *Manager) beat(ctx context.Context) (Heartbeat, bool, error) {
	now := m.cfg.Now()

	var prev lastBeat
	err := m.lock.Get(ctx, LastKey, &prev)
	if err != nil && !errors.Is(err, cluster.ErrKeyNotFound) {
		return Heartbeat{}, false, fmt.Errorf("read last heartbeat: %w", err)
	}
	if err == nil && now.UnixMilli()-prev.UnixMs < (m.cfg.Interval/2).Milliseconds() {
		return Heartbeat{}, false, nil
	}

	hb := Heartbeat{
		NodeID:   m.cfg.NodeID,
		Sequence: prev.Sequence + 1,
		Time:     now,
		Interval: m.cfg.Interval,
	}
	if err := m.lock.Put(ctx, LastKey, lastBeat{
		NodeID:   hb.NodeID,
		Sequence: hb.Sequence,
		UnixMs:   now.UnixMilli(),
	}); err != nil {
		return Heartbeat{}, false, fmt.Errorf("store heartbeat: %w", err)
	}
	return hb, true, nil
}

func (m *Manager) notify(l Listener, hb Heartbeat) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("Heartbeat listener panicked")
		}
	}()
	l.OnHeartbeat(hb)
}

// Last returns the most recent heartbeat sent by this node.
func (m *Manager) Last() (Heartbeat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.hasLast
}

// Start runs Tick every interval until Stop or ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return errors.New("heartbeat: already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.run(loopCtx, m.done)

	m.log.Info().Dur("interval", m.cfg.Interval).Msg("Heartbeat started")
	return nil
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		m.runMu.Lock()
		if m.done == done {
			m.running = false
		}
		m.runMu.Unlock()
	}()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.log.Warn().Err(err).Msg("Heartbeat tick failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the loop and waits for it.
func (m *Manager) Stop() error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()

	cancel()
	<-done
	m.log.Info().Msg("Heartbeat stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (m *Manager) IsRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}
