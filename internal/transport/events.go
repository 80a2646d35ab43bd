// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package transport

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/daqwatch/internal/heartbeat"
	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/supervision"
)

// EventPublisher republishes supervision events and heartbeats to
// clients. It implements supervision.Listener and heartbeat.Listener.
type EventPublisher struct {
	pub            message.Publisher
	eventTopic     string
	heartbeatTopic string
	log            zerolog.Logger
	errLog         rate.Sometimes
}

var (
	_ supervision.Listener = (*EventPublisher)(nil)
	_ heartbeat.Listener   = (*EventPublisher)(nil)
)

// NewEventPublisher publishes events to eventTopic and heartbeats to
// heartbeatTopic.
func NewEventPublisher(pub message.Publisher, eventTopic, heartbeatTopic string) *EventPublisher {
	return &EventPublisher{
		pub:            pub,
		eventTopic:     eventTopic,
		heartbeatTopic: heartbeatTopic,
		log:            logging.WithComponent("event-publisher"),
		errLog:         rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

// OnSupervisionEvent implements supervision.Listener.
func (p *EventPublisher) OnSupervisionEvent(ev supervision.Event) {
	p.publish(p.eventTopic, KindEvent, ev)
}

// OnHeartbeat implements heartbeat.Listener.
func (p *EventPublisher) OnHeartbeat(hb heartbeat.Heartbeat) {
	p.publish(p.heartbeatTopic, KindHeartbeat, hb)
}

func (p *EventPublisher) publish(topic, kind string, v any) {
	msg, err := NewJSONMessage("", kind, v)
	if err == nil {
		err = p.pub.Publish(topic, msg)
	}
	if err != nil {
		p.errLog.Do(func() {
			p.log.Error().Err(err).Str("topic", topic).Str("kind", kind).Msg("Failed to publish")
		})
	}
}
