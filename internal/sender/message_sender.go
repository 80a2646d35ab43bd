// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package sender

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/buffer"
	"github.com/tomtom215/daqwatch/internal/logging"
)

// Config configures a MessageSender.
type Config struct {
	ProcessID   int64
	ProcessName string

	AliveTagID    int64
	AliveInterval time.Duration

	// MaxMessageSize caps the values in one Update.
	MaxMessageSize int

	MinWindow     time.Duration
	MaxDelay      time.Duration
	HighWaterMark int
	Capacity      int
	Overflow      buffer.OverflowPolicy

	// SendTimeout bounds one direct send of a HIGH or HIGHEST value.
	SendTimeout time.Duration

	Now func() time.Time
}

// MessageSender is the DAQ-side entry point for outbound values. HIGH and
// HIGHEST values go straight to the distributor; LOW values are batched in
// one buffer for guaranteed delivery and one for the rest.
type MessageSender struct {
	cfg        Config
	dist       *Distributor
	persistent *buffer.Buffer[Value]
	transient  *buffer.Buffer[Value]
	alive      *AliveTicker
	closed     atomic.Bool
	log        zerolog.Logger
}

// NewMessageSender builds both buffers and the alive ticker.
func NewMessageSender(cfg Config, dist *Distributor) (*MessageSender, error) {
	if dist == nil {
		return nil, errors.New("sender: distributor required")
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &MessageSender{
		cfg:  cfg,
		dist: dist,
		log: logging.WithComponent("message-sender").With().
			Int64("process_id", cfg.ProcessID).
			Str("process", cfg.ProcessName).
			Logger(),
	}

	var err error
	if m.persistent, err = m.newBuffer("persistent", true); err != nil {
		return nil, err
	}
	if m.transient, err = m.newBuffer("transient", false); err != nil {
		_ = m.persistent.Close()
		return nil, err
	}
	if cfg.AliveTagID != 0 && cfg.AliveInterval > 0 {
		m.alive = NewAliveTicker(cfg.AliveInterval, m.SendAlive)
	}
	return m, nil
}

func (m *MessageSender) newBuffer(name string, persistent bool) (*buffer.Buffer[Value], error) {
	buf, err := buffer.New(buffer.Config[Value]{
		Name:          name,
		MinWindow:     m.cfg.MinWindow,
		MaxDelay:      m.cfg.MaxDelay,
		HighWaterMark: m.cfg.HighWaterMark,
		MaxBatchSize:  m.cfg.MaxMessageSize,
		Capacity:      m.cfg.Capacity,
		Overflow:      m.cfg.Overflow,
		Now:           m.cfg.Now,
		Handler: func(ctx context.Context, batch []Value) error {
			m.dist.DistributeBatch(ctx, m.update(batch, persistent))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", name, err)
	}
	return buf, nil
}

func (m *MessageSender) update(batch []Value, persistent bool) *Update {
	values := make([]Value, len(batch))
	copy(values, batch)
	return &Update{
		ID:          uuid.NewString(),
		ProcessID:   m.cfg.ProcessID,
		ProcessName: m.cfg.ProcessName,
		Persistent:  persistent,
		Values:      values,
		CreatedAt:   m.cfg.Now(),
	}
}

// AddValue routes v by priority. A zero ProducedAt is stamped with now.
func (m *MessageSender) AddValue(ctx context.Context, v Value) error {
	if m.closed.Load() {
		return buffer.ErrClosed
	}
	if v.ProducedAt.IsZero() {
		v.ProducedAt = m.cfg.Now()
	}

	if v.Priority >= PriorityHigh {
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		defer cancel()
		m.dist.Distribute(sendCtx, v)
		return nil
	}
	if v.GuaranteedDelivery {
		return m.persistent.Push(v)
	}
	return m.transient.Push(v)
}

// SendAlive emits the process alive tag. It is never guaranteed and
// expires after two intervals, so a stale alive is never delivered.
func (m *MessageSender) SendAlive(ctx context.Context) error {
	now := m.cfg.Now()
	if err := m.AddValue(ctx, Value{
		ID:         m.cfg.AliveTagID,
		Name:       m.cfg.ProcessName + ":ALIVE",
		Value:      now.UnixMilli(),
		Priority:   PriorityHighest,
		TimeToLive: 2 * m.cfg.AliveInterval,
		ProducedAt: now,
		ControlTag: true,
	}); err != nil {
		return err
	}
	m.log.Debug().Int64("alive_tag_id", m.cfg.AliveTagID).Msg("Alive sent")
	return nil
}

// SendCommFault emits a commfault tag for equipment handled by this
// process.
func (m *MessageSender) SendCommFault(ctx context.Context, id int64, value bool, desc string) error {
	return m.AddValue(ctx, Value{
		ID:               id,
		Value:            value,
		Priority:         PriorityHighest,
		TimeToLive:       TTLForever,
		ControlTag:       true,
		ValueDescription: desc,
	})
}

// Start begins sending alive signals, if an alive tag is configured.
func (m *MessageSender) Start(ctx context.Context) error {
	if m.alive == nil {
		return nil
	}
	return m.alive.Start(ctx)
}

// Stop pauses alive generation. The buffers stay open and Start resumes.
func (m *MessageSender) Stop() {
	if m.alive != nil {
		m.alive.Stop()
	}
}

// Close stops the alive ticker, disables both buffers and closes them,
// which flushes what is pending.
func (m *MessageSender) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.Stop()
	m.persistent.Disable()
	m.transient.Disable()
	err := errors.Join(m.persistent.Close(), m.transient.Close())
	m.log.Info().Msg("Message sender closed")
	return err
}

// BufferStats returns the counters of the persistent and transient buffers.
func (m *MessageSender) BufferStats() (persistent, transient buffer.Stats) {
	return m.persistent.Stats(), m.transient.Stats()
}
