// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package transport

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/daqwatch/internal/broker"
)

// NATSConfig describes a watermill connection to NATS. Values and events
// travel on core NATS subjects; guaranteed delivery is provided by the
// outbox on the sending side, not by JetStream.
type NATSConfig struct {
	Conn broker.ConnConfig

	// QueueGroup load-balances subscribers sharing it. Empty means every
	// subscriber sees every message.
	QueueGroup string

	SubscribersCount int
	CloseTimeout     time.Duration
	AckWaitTimeout   time.Duration
}

// NewNATSPublisher opens a watermill publisher on core NATS.
func NewNATSPublisher(cfg NATSConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if logger == nil {
		logger = NewLogger()
	}
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.Conn.URL,
		NatsOptions: broker.Options(cfg.Conn),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return pub, nil
}

// NewNATSSubscriber opens a watermill subscriber on core NATS.
func NewNATSSubscriber(cfg NATSConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if logger == nil {
		logger = NewLogger()
	}
	if cfg.SubscribersCount <= 0 {
		cfg.SubscribersCount = 1
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}
	if cfg.AckWaitTimeout <= 0 {
		cfg.AckWaitTimeout = 30 * time.Second
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.Conn.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      broker.Options(cfg.Conn),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	return sub, nil
}
