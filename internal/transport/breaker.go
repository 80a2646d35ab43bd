// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package transport

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/daqwatch/internal/logging"
)

// ErrCircuitOpen is returned instead of publishing while the breaker is
// open or saturated in half-open state.
var ErrCircuitOpen = errors.New("transport: circuit breaker open")

// BreakerConfig tunes the circuit breaker around a publisher.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures uint32

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32
}

// DefaultBreakerConfig opens after five failures for thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, MaxRequests: 1}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	log := logging.WithComponent("breaker")
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
}

// mapBreakerErr converts gobreaker rejections to ErrCircuitOpen.
func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
