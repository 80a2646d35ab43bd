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

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
	"github.com/tomtom215/daqwatch/internal/supervision"
)

// ControlProcessor receives control tag values and process lifecycle
// announcements. supervision.Manager implements it.
type ControlProcessor interface {
	ProcessControlValue(id int64, ts time.Time, value any, desc string) (supervision.Event, error)
	StartProcess(processID int64, ts time.Time) (supervision.Event, error)
	ResumeProcess(processID int64, ts time.Time, desc string) (supervision.Event, error)
	StopProcess(processID int64, ts time.Time) (supervision.Event, error)
}

// InboundHandler decodes DAQ messages and routes control tags into
// supervision.
type InboundHandler struct {
	control ControlProcessor
	log     zerolog.Logger
}

// NewInboundHandler returns a handler feeding control.
func NewInboundHandler(control ControlProcessor) *InboundHandler {
	return &InboundHandler{control: control, log: logging.WithComponent("inbound")}
}

// Handle is a message.NoPublishHandlerFunc. A malformed message is logged
// and acknowledged; redelivering it would fail the same way.
func (h *InboundHandler) Handle(msg *message.Message) error {
	if IsLifecycleKind(msg.Metadata.Get(MetadataKind)) {
		return h.handleLifecycle(msg)
	}

	values, err := DecodeValues(msg)
	if err != nil {
		h.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable message")
		return nil
	}

	process := msg.Metadata.Get(MetadataProcess)
	for _, v := range values {
		if !v.ControlTag {
			metrics.ValuesReceived.WithLabelValues("data").Inc()
			continue
		}
		metrics.ValuesReceived.WithLabelValues("control").Inc()
		if _, err := h.control.ProcessControlValue(v.ID, v.ProducedAt, v.Value, v.ValueDescription); err != nil {
			if errors.Is(err, supervision.ErrUnknownTag) || errors.Is(err, supervision.ErrUnknownTimer) {
				h.log.Warn().Err(err).Int64("tag_id", v.ID).Str("process", process).Msg("Control value for unknown tag")
				continue
			}
			return fmt.Errorf("process control tag %d: %w", v.ID, err)
		}
	}
	return nil
}

func (h *InboundHandler) handleLifecycle(msg *message.Message) error {
	kind, p, err := DecodeProcessLifecycle(msg)
	if err != nil {
		h.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable lifecycle message")
		return nil
	}

	switch kind {
	case KindProcessStart:
		_, err = h.control.StartProcess(p.ProcessID, p.Time)
	case KindProcessResume:
		_, err = h.control.ResumeProcess(p.ProcessID, p.Time, p.Description)
	case KindProcessStop:
		_, err = h.control.StopProcess(p.ProcessID, p.Time)
	}
	metrics.ValuesReceived.WithLabelValues("lifecycle").Inc()

	if errors.Is(err, supervision.ErrUnknownProcess) {
		h.log.Warn().Err(err).Int64("process_id", p.ProcessID).Str("kind", kind).Msg("Lifecycle message for unknown process")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s process %d: %w", kind, p.ProcessID, err)
	}
	h.log.Info().
		Int64("process_id", p.ProcessID).
		Str("process", p.ProcessName).
		Str("kind", kind).
		Msg("Process lifecycle applied")
	return nil
}

// RouterConfig tunes the inbound watermill router.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultRouterConfig retries a failing handler three times.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		RetryMultiplier:      2,
	}
}

// Router wraps a watermill router with recovery and retry middleware.
type Router struct {
	router *message.Router
}

// NewRouter builds a router. Handlers are added before Run.
func NewRouter(cfg RouterConfig, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = NewLogger()
	}
	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	r.AddMiddleware(middleware.Recoverer)
	if cfg.RetryMaxRetries > 0 {
		retry := middleware.Retry{
			MaxRetries:      cfg.RetryMaxRetries,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
			Multiplier:      cfg.RetryMultiplier,
			Logger:          logger,
		}
		r.AddMiddleware(retry.Middleware)
	}
	return &Router{router: r}, nil
}

// AddConsumerHandler subscribes handler to topic.
func (r *Router) AddConsumerHandler(name, topic string, sub message.Subscriber, handler message.NoPublishHandlerFunc) {
	r.router.AddConsumerHandler(name, topic, sub, handler)
}

// Run blocks until ctx is done or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

// Close stops the handlers and waits up to CloseTimeout.
func (r *Router) Close() error {
	return r.router.Close()
}
