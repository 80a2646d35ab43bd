// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package sender

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

// TransportSender delivers values to one destination.
type TransportSender interface {
	Name() string
	Send(ctx context.Context, v Value) error
	SendBatch(ctx context.Context, u *Update) error
}

// SenderStats counts the outcomes of one sender.
type SenderStats struct {
	Name      string `json:"name"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
}

type target struct {
	sender    TransportSender
	successes atomic.Int64
	failures  atomic.Int64

	// errLog throttles failure logging of a sender that is down.
	errLog rate.Sometimes
}

// Distributor fans each value or batch out to every sender. A failing or
// panicking sender never affects the others, and nothing is retried: a
// batch counts as consumed once every sender was tried.
type Distributor struct {
	targets []*target
	log     zerolog.Logger
}

// NewDistributor returns a distributor calling the senders in order.
func NewDistributor(senders ...TransportSender) *Distributor {
	d := &Distributor{log: logging.WithComponent("distributor")}
	for _, s := range senders {
		d.targets = append(d.targets, &target{
			sender: s,
			errLog: rate.Sometimes{First: 3, Interval: 30 * time.Second},
		})
	}
	return d
}

// Distribute sends one value to every sender.
func (d *Distributor) Distribute(ctx context.Context, v Value) {
	for _, t := range d.targets {
		d.call(t, func() error { return t.sender.Send(ctx, v) })
	}
}

// DistributeBatch sends one update to every sender.
func (d *Distributor) DistributeBatch(ctx context.Context, u *Update) {
	for _, t := range d.targets {
		d.call(t, func() error { return t.sender.SendBatch(ctx, u) })
	}
}

func (d *Distributor) call(t *target, fn func() error) {
	name := t.sender.Name()
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sender panicked: %v", r)
			}
		}()
		return fn()
	}()
	metrics.RecordDelivery(name, time.Since(start), err)

	if err == nil {
		t.successes.Add(1)
		return
	}
	failures := t.failures.Add(1)
	t.errLog.Do(func() {
		d.log.Error().Err(err).Str("sender", name).Int64("failures", failures).Msg("Transport sender failed")
	})
}

// Stats returns per-sender counters in configuration order.
func (d *Distributor) Stats() []SenderStats {
	out := make([]SenderStats, len(d.targets))
	for i, t := range d.targets {
		out[i] = SenderStats{
			Name:      t.sender.Name(),
			Successes: t.successes.Load(),
			Failures:  t.failures.Load(),
		}
	}
	return out
}
