// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/daqwatch/internal/transport"
)

// SubscriberFactory opens a fresh subscriber for each run of the service.
type SubscriberFactory func() (message.Subscriber, error)

// InboundConfig configures an InboundService.
type InboundConfig struct {
	Name      string
	Topic     string
	Router    transport.RouterConfig
	Logger    watermill.LoggerAdapter
	Subscribe SubscriberFactory
	Handler   message.NoPublishHandlerFunc
}

// InboundService consumes DAQ values from the broker. A watermill router
// cannot be restarted once closed, so every Serve builds a new subscriber
// and router and tears both down on exit.
type InboundService struct {
	cfg InboundConfig

	startedOnce sync.Once
	started     chan struct{}
}

// NewInboundService validates cfg and returns the service.
func NewInboundService(cfg InboundConfig) (*InboundService, error) {
	if cfg.Subscribe == nil || cfg.Handler == nil {
		return nil, errors.New("services: inbound subscriber factory and handler required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("services: inbound topic required")
	}
	if cfg.Name == "" {
		cfg.Name = "inbound-router"
	}
	return &InboundService{cfg: cfg, started: make(chan struct{})}, nil
}

// Serve implements suture.Service.
func (s *InboundService) Serve(ctx context.Context) error {
	sub, err := s.cfg.Subscribe()
	if err != nil {
		return fmt.Errorf("open subscriber: %w", err)
	}
	defer sub.Close()

	router, err := transport.NewRouter(s.cfg.Router, s.cfg.Logger)
	if err != nil {
		return err
	}
	router.AddConsumerHandler(s.cfg.Name, s.cfg.Topic, sub, s.cfg.Handler)

	go func() {
		select {
		case <-router.Running():
			s.startedOnce.Do(func() { close(s.started) })
		case <-ctx.Done():
		}
	}()

	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("inbound router: %w", err)
	}
	return ctx.Err()
}

// Started is closed once the first router has subscribed.
func (s *InboundService) Started() <-chan struct{} {
	return s.started
}

// String implements fmt.Stringer.
func (s *InboundService) String() string {
	return s.cfg.Name
}
