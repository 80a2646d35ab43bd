// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/logging"
)

// ProcessAnnouncer publishes the lifecycle of one DAQ process so the
// servers can move its state tag through STARTUP, RUNNING and STOPPED.
type ProcessAnnouncer struct {
	pub   message.Publisher
	topic string
	id    int64
	name  string
	now   func() time.Time
	log   zerolog.Logger
}

// NewProcessAnnouncer returns an announcer for process id on topic. The
// publisher stays owned by the caller.
func NewProcessAnnouncer(pub message.Publisher, topic string, id int64, name string) *ProcessAnnouncer {
	return &ProcessAnnouncer{
		pub:   pub,
		topic: topic,
		id:    id,
		name:  name,
		now:   time.Now,
		log:   logging.WithComponent("process-announcer"),
	}
}

// Start announces that the process has started.
func (a *ProcessAnnouncer) Start(ctx context.Context) error {
	return a.announce(ctx, KindProcessStart, "")
}

// Resume announces that the process is running again after a broker
// outage, without a restart.
func (a *ProcessAnnouncer) Resume(ctx context.Context, desc string) error {
	return a.announce(ctx, KindProcessResume, desc)
}

// Stop announces an orderly shutdown.
func (a *ProcessAnnouncer) Stop(ctx context.Context) error {
	return a.announce(ctx, KindProcessStop, "")
}

func (a *ProcessAnnouncer) announce(ctx context.Context, kind, desc string) error {
	if a.pub == nil {
		return errors.New("transport: publisher required")
	}
	msg, err := EncodeProcessLifecycle(kind, ProcessLifecycle{
		ProcessID:   a.id,
		ProcessName: a.name,
		Time:        a.now(),
		Description: desc,
	})
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := a.pub.Publish(a.topic, msg); err != nil {
		return fmt.Errorf("publish %s for process %d: %w", kind, a.id, err)
	}
	a.log.Info().Int64("process_id", a.id).Str("process", a.name).Str("kind", kind).Msg("Process lifecycle announced")
	return nil
}
