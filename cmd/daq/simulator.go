// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package main

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/config"
	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/sender"
)

// valueSink is the part of sender.MessageSender the simulator drives.
type valueSink interface {
	AddValue(ctx context.Context, v sender.Value) error
	SendCommFault(ctx context.Context, id int64, value bool, desc string) error
}

// simulatorConfig shapes the synthetic load.
type simulatorConfig struct {
	Equipment []config.EquipmentConfig

	// DataTags is the number of synthetic data tags, numbered from
	// FirstDataTag.
	DataTags     int
	FirstDataTag int64

	// ValueInterval is the period of one sweep over the data tags.
	ValueInterval time.Duration

	// GuaranteedEvery marks every nth data tag for guaranteed delivery.
	GuaranteedEvery int

	// FaultProbability is the chance per sweep that an equipment drops
	// its alive and reports a commfault.
	FaultProbability float64

	Seed uint64
}

type equipmentState struct {
	cfg       config.EquipmentConfig
	lastAlive time.Time
	faulted   bool
}

// simulator emits equipment alive tags, synthetic data values and the
// occasional commfault, the way a DAQ driver in front of real hardware
// would.
type simulator struct {
	cfg       simulatorConfig
	sink      valueSink
	rng       *rand.Rand
	equipment []*equipmentState
	log       zerolog.Logger
}

func newSimulator(cfg simulatorConfig, sink valueSink) *simulator {
	if cfg.ValueInterval <= 0 {
		cfg.ValueInterval = time.Second
	}
	s := &simulator{
		cfg:  cfg,
		sink: sink,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		log:  logging.WithComponent("daq-simulator"),
	}
	for _, e := range cfg.Equipment {
		s.equipment = append(s.equipment, &equipmentState{cfg: e})
	}
	return s
}

// Run sweeps every ValueInterval until ctx is done.
func (s *simulator) Run(ctx context.Context) error {
	for _, eq := range s.equipment {
		s.reportCommFault(ctx, eq, true, "equipment connected")
	}

	ticker := time.NewTicker(s.cfg.ValueInterval)
	defer ticker.Stop()
	for {
		s.Sweep(ctx, time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep emits one round of values as of now.
func (s *simulator) Sweep(ctx context.Context, now time.Time) {
	for _, eq := range s.equipment {
		s.sweepEquipment(ctx, eq, now)
	}

	for i := 0; i < s.cfg.DataTags; i++ {
		v := sender.Value{
			ID:         s.cfg.FirstDataTag + int64(i),
			Value:      s.rng.NormFloat64()*5 + 20,
			Priority:   sender.PriorityLow,
			TimeToLive: 10 * s.cfg.ValueInterval,
			ProducedAt: now,
		}
		if s.cfg.GuaranteedEvery > 0 && i%s.cfg.GuaranteedEvery == 0 {
			v.GuaranteedDelivery = true
			v.TimeToLive = sender.TTLForever
		}
		if err := s.sink.AddValue(ctx, v); err != nil {
			s.log.Warn().Err(err).Int64("tag_id", v.ID).Msg("Data value not queued")
			return
		}
	}
}

func (s *simulator) sweepEquipment(ctx context.Context, eq *equipmentState, now time.Time) {
	if eq.faulted {
		// A faulted device recovers on the next sweep.
		eq.faulted = false
		s.reportCommFault(ctx, eq, true, "equipment reconnected")
	} else if s.cfg.FaultProbability > 0 && s.rng.Float64() < s.cfg.FaultProbability {
		eq.faulted = true
		s.reportCommFault(ctx, eq, false, "simulated communication loss")
		return
	}

	if now.Sub(eq.lastAlive) < eq.cfg.AliveInterval {
		return
	}
	s.sendAlive(ctx, eq.cfg.AliveTagID, eq.cfg.Name, eq.cfg.AliveInterval, now)
	for _, sub := range eq.cfg.SubEquipment {
		s.sendAlive(ctx, sub.AliveTagID, sub.Name, sub.AliveInterval, now)
	}
	eq.lastAlive = now
}

func (s *simulator) sendAlive(ctx context.Context, id int64, name string, interval time.Duration, now time.Time) {
	err := s.sink.AddValue(ctx, sender.Value{
		ID:         id,
		Name:       name + ":ALIVE",
		Value:      now.UnixMilli(),
		Priority:   sender.PriorityHighest,
		TimeToLive: 2 * interval,
		ProducedAt: now,
		ControlTag: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Int64("alive_tag_id", id).Msg("Equipment alive not sent")
	}
}

func (s *simulator) reportCommFault(ctx context.Context, eq *equipmentState, ok bool, desc string) {
	ids := []int64{eq.cfg.CommFaultTagID}
	for _, sub := range eq.cfg.SubEquipment {
		ids = append(ids, sub.CommFaultTagID)
	}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if err := s.sink.SendCommFault(ctx, id, ok, desc); err != nil {
			s.log.Warn().Err(err).Int64("commfault_tag_id", id).Msg("CommFault not sent")
		}
	}
	s.log.Info().Str("equipment", eq.cfg.Name).Bool("ok", ok).Msg(desc)
}
