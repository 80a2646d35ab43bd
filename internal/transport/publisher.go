// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/daqwatch/internal/sender"
)

// SenderConfig configures a WatermillSender.
type SenderConfig struct {
	// Name identifies the sender in stats and metrics.
	Name string

	// Topic is the subject values are published to.
	Topic string

	Breaker BreakerConfig
}

// WatermillSender implements sender.TransportSender over a watermill
// publisher, behind a circuit breaker.
type WatermillSender struct {
	name    string
	topic   string
	pub     message.Publisher
	breaker *gobreaker.CircuitBreaker[interface{}]
}

var _ sender.TransportSender = (*WatermillSender)(nil)

// NewWatermillSender wraps pub. The publisher stays owned by the caller.
func NewWatermillSender(cfg SenderConfig, pub message.Publisher) (*WatermillSender, error) {
	if pub == nil {
		return nil, errors.New("transport: publisher required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("transport: topic required")
	}
	if cfg.Name == "" {
		cfg.Name = "watermill"
	}
	return &WatermillSender{
		name:    cfg.Name,
		topic:   cfg.Topic,
		pub:     pub,
		breaker: newBreaker(cfg.Name, cfg.Breaker),
	}, nil
}

// Name implements sender.TransportSender.
func (s *WatermillSender) Name() string { return s.name }

// Send implements sender.TransportSender.
func (s *WatermillSender) Send(ctx context.Context, v sender.Value) error {
	msg, err := EncodeValue(v)
	if err != nil {
		return err
	}
	return s.publish(ctx, msg)
}

// SendBatch implements sender.TransportSender.
func (s *WatermillSender) SendBatch(ctx context.Context, u *sender.Update) error {
	msg, err := EncodeUpdate(u)
	if err != nil {
		return err
	}
	return s.publish(ctx, msg)
}

// BreakerState reports the breaker state for the status API.
func (s *WatermillSender) BreakerState() string {
	return s.breaker.State().String()
}

func (s *WatermillSender) publish(ctx context.Context, msg *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.SetContext(ctx)
	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.pub.Publish(s.topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, mapBreakerErr(err))
	}
	return nil
}
