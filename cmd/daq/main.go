// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

/*
Command daq simulates a DAQ process in front of the DAQWatch server.

It announces the process start to the servers, resumes it after a broker
reconnect and announces the stop on shutdown. In between it sends the
process alive tag through the MessageSender alive ticker, equipment and
sub-equipment alive tags and commfaults for the equipment the configured
topology assigns to sender.process_id, and a sweep of synthetic data
values. LOW values are batched; guaranteed ones go through the badger
outbox when wal.enabled is set.

	daqwatch-daq --data-tags 200 --value-interval 500ms --fault-probability 0.01
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/daqwatch/internal/broker"
	"github.com/tomtom215/daqwatch/internal/buffer"
	"github.com/tomtom215/daqwatch/internal/config"
	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/sender"
	"github.com/tomtom215/daqwatch/internal/supervisor"
	"github.com/tomtom215/daqwatch/internal/supervisor/services"
	"github.com/tomtom215/daqwatch/internal/transport"
	"github.com/tomtom215/daqwatch/internal/wal"
)

var simFlags = simulatorConfig{
	DataTags:        50,
	FirstDataTag:    100000,
	ValueInterval:   time.Second,
	GuaranteedEvery: 10,
}

var rootCmd = &cobra.Command{
	Use:   "daqwatch-daq",
	Short: "simulate a DAQ process sending alive tags and values",
	Long: `
  Runs one simulated DAQ process. Broker, buffer, sender and WAL settings
  come from the DAQWatch configuration (CONFIG_PATH, DAQ_* variables); the
  flags only shape the synthetic load.
`,
	SilenceUsage: true,
	RunE:         runDAQ,
}

func init() {
	f := rootCmd.Flags()
	f.IntVar(&simFlags.DataTags, "data-tags", simFlags.DataTags, "number of synthetic data tags")
	f.Int64Var(&simFlags.FirstDataTag, "first-data-tag", simFlags.FirstDataTag, "id of the first synthetic data tag")
	f.DurationVar(&simFlags.ValueInterval, "value-interval", simFlags.ValueInterval, "period of one sweep over the data tags")
	f.IntVar(&simFlags.GuaranteedEvery, "guaranteed-every", simFlags.GuaranteedEvery, "mark every nth data tag for guaranteed delivery (0 for none)")
	f.Float64Var(&simFlags.FaultProbability, "fault-probability", 0, "chance per sweep that an equipment reports a commfault")
	f.Uint64Var(&simFlags.Seed, "seed", uint64(time.Now().UnixNano()), "random seed for values and faults")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logging.Error().Err(err).Msg("DAQ simulator failed")
		os.Exit(1)
	}
}

//nolint:gocyclo // sequential wiring of every component
func runDAQ(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.SetLogger(logging.With().Str("process", cfg.Sender.ProcessName).Logger())

	if p, ok := cfg.Topology.FindProcess(cfg.Sender.ProcessID); ok {
		simFlags.Equipment = p.Equipment
	} else {
		logging.Warn().Int64("process_id", cfg.Sender.ProcessID).Msg("Process not in topology, simulating no equipment")
	}

	// The announcer needs the publisher, which needs the reconnect hook.
	var announcer atomic.Pointer[transport.ProcessAnnouncer]
	var started atomic.Bool
	pub, err := transport.NewNATSPublisher(transport.NATSConfig{
		Conn: broker.ConnConfig{
			URL:           cfg.NATS.URL,
			Name:          "daqwatch-daq-" + cfg.Sender.ProcessName,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			OnReconnect: func() {
				a := announcer.Load()
				if a == nil || !started.Load() {
					return
				}
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), cfg.Sender.SendTimeout)
					defer cancel()
					if err := a.Resume(ctx, "reconnected to broker"); err != nil {
						logging.Warn().Err(err).Msg("Failed to announce process resume")
					}
				}()
			},
		},
	}, transport.NewLogger())
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}()
	announcer.Store(transport.NewProcessAnnouncer(pub, cfg.NATS.ValuesSubject, cfg.Sender.ProcessID, cfg.Sender.ProcessName))
	// Runs after the message sender has flushed and before the publisher
	// closes.
	defer func() {
		if !started.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Sender.SendTimeout)
		defer cancel()
		if err := announcer.Load().Stop(ctx); err != nil {
			logging.Warn().Err(err).Msg("Failed to announce process stop")
		}
	}()

	natsSender, err := transport.NewWatermillSender(transport.SenderConfig{
		Name:  "nats",
		Topic: cfg.NATS.ValuesSubject,
		Breaker: transport.BreakerConfig{
			MaxFailures: cfg.NATS.BreakerMaxFailures,
			Timeout:     cfg.NATS.BreakerTimeout,
			MaxRequests: 1,
		},
	}, pub)
	if err != nil {
		return err
	}

	var out sender.TransportSender = natsSender
	var durable *transport.DurableSender
	if cfg.WAL.Enabled {
		wcfg := wal.DefaultConfig()
		wcfg.Path = cfg.WAL.Path
		wcfg.SyncWrites = cfg.WAL.SyncWrites
		wcfg.RetryInterval = cfg.WAL.RetryInterval
		wcfg.MaxRetries = cfg.WAL.MaxRetries
		wcfg.RetryBackoff = cfg.WAL.RetryBackoff
		wcfg.EntryTTL = cfg.WAL.EntryTTL

		w, err := wal.Open(wcfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing WAL")
			}
		}()
		if durable, err = transport.NewDurableSender(natsSender, w); err != nil {
			return err
		}
		out = durable
		logging.Info().Str("path", wcfg.Path).Msg("Guaranteed delivery backed by WAL")
	}

	overflow, err := buffer.ParseOverflow(cfg.Buffer.Overflow)
	if err != nil {
		return err
	}
	dist := sender.NewDistributor(out)
	ms, err := sender.NewMessageSender(sender.Config{
		ProcessID:      cfg.Sender.ProcessID,
		ProcessName:    cfg.Sender.ProcessName,
		AliveTagID:     cfg.Sender.AliveTagID,
		AliveInterval:  cfg.Sender.AliveInterval,
		MaxMessageSize: cfg.Sender.MaxMessageSize,
		MinWindow:      cfg.Buffer.MinWindow,
		MaxDelay:       cfg.Buffer.MaxDelay,
		HighWaterMark:  cfg.Buffer.HighWaterMark,
		Capacity:       cfg.Buffer.Capacity,
		Overflow:       overflow,
		SendTimeout:    cfg.Sender.SendTimeout,
	}, dist)
	if err != nil {
		return err
	}
	// Registered last so it runs first: pending batches flush while the
	// publisher and WAL are still open.
	defer func() {
		if err := ms.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing message sender")
		}
	}()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	if durable != nil {
		tree.AddDataService(services.NewLifecycleService("wal-retry", services.IgnoreStopError(durable)))
	}
	tree.AddCoreService(services.NewLifecycleService("alive-sender", services.IgnoreStopError(ms)))
	tree.AddCoreService(services.NewRunService("daq-simulator", newSimulator(simFlags, ms).Run))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Int64("process_id", cfg.Sender.ProcessID).
		Int("equipment", len(simFlags.Equipment)).
		Int("data_tags", simFlags.DataTags).
		Str("subject", cfg.NATS.ValuesSubject).
		Msg("DAQ simulator started")

	if err := announcer.Load().Start(ctx); err != nil {
		return fmt.Errorf("announce process start: %w", err)
	}
	started.Store(true)

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	persistent, transient := ms.BufferStats()
	ev := logging.Info().
		Int64("persistent_flushed", persistent.Flushed).
		Int64("transient_flushed", transient.Flushed).
		Int64("dropped", persistent.Dropped+transient.Dropped)
	for _, st := range dist.Stats() {
		ev = ev.Int64(st.Name+"_failures", st.Failures)
	}
	ev.Msg("DAQ simulator stopped")
	return nil
}
