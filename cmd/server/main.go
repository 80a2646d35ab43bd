// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/tomtom215/daqwatch/internal/api"
	"github.com/tomtom215/daqwatch/internal/config"
	"github.com/tomtom215/daqwatch/internal/heartbeat"
	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/supervision"
	"github.com/tomtom215/daqwatch/internal/supervisor"
	"github.com/tomtom215/daqwatch/internal/supervisor/services"
	"github.com/tomtom215/daqwatch/internal/transport"
)

//nolint:gocyclo // sequential wiring of every component
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	logging.SetLogger(logging.With().Str("node_id", nodeID).Logger())
	logging.Info().
		Str("cluster_backend", cfg.Cluster.Backend).
		Bool("embedded_nats", cfg.NATS.EmbeddedServer).
		Msg("Starting DAQWatch supervision server")

	started := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nb, err := startBroker(cfg, nodeID)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to start NATS")
	}
	defer nb.Close()

	lock, err := newClusterLock(ctx, cfg, nodeID, nb.js)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create cluster lock")
	}

	stores, err := newSupervisionStores(ctx, cfg, nb.js)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open supervision stores")
	}

	manager := supervision.NewManager(supervision.ManagerConfig{
		Policy: supervision.SignalPolicy{
			MaxAge:        cfg.Supervision.MaxSignalAge,
			SkewTolerance: cfg.Supervision.SkewTolerance,
		},
		Stores: stores,
	})
	count, err := configureTopology(manager, cfg.Topology)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure supervised entities")
	}
	logging.Info().Int("entities", count).Msg("Supervision topology configured")

	checker := supervision.NewChecker(supervision.CheckerConfig{
		ScanInterval:     cfg.Supervision.ScanInterval,
		InitialDelay:     cfg.Supervision.InitialDelay,
		GuardWindow:      cfg.Supervision.GuardWindow,
		WarningThreshold: cfg.Supervision.WarningThreshold,
		SwitchOffTicks:   cfg.Supervision.SwitchOffTicks,
		LockTimeout:      cfg.Supervision.LockTimeout,
		WarningMessage:   supervision.DefaultWarningMessage,
	}, lock, manager.Timers(), manager, supervision.LogAlarmSink{}, nil)

	wmLogger := transport.NewLogger()
	natsCfg := transport.NATSConfig{
		Conn:             nb.conncfg,
		QueueGroup:       cfg.NATS.QueueGroup,
		SubscribersCount: cfg.NATS.SubscribersCount,
	}

	publisher, err := transport.NewNATSPublisher(natsCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event publisher")
		}
	}()
	events := transport.NewEventPublisher(publisher, cfg.NATS.EventsSubject, cfg.NATS.HeartbeatSubject)
	manager.Notifier().Register(events)

	var hb *heartbeat.Manager
	if cfg.Heartbeat.Enabled {
		hb, err = heartbeat.NewManager(heartbeat.Config{
			NodeID:   nodeID,
			Interval: cfg.Heartbeat.Interval,
		}, lock)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create heartbeat")
		}
		hb.Register(events)
	}

	inbound := transport.NewInboundHandler(manager)
	inboundSvc, err := services.NewInboundService(services.InboundConfig{
		Name:   "inbound-router",
		Topic:  cfg.NATS.ValuesSubject,
		Router: transport.DefaultRouterConfig(),
		Logger: wmLogger,
		Subscribe: func() (message.Subscriber, error) {
			return transport.NewNATSSubscriber(natsCfg, wmLogger)
		},
		Handler: inbound.Handle,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create inbound service")
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddCoreService(services.NewRunService("supervision-notifier", manager.Notifier().Run))
	tree.AddCoreService(services.NewLifecycleService("alive-checker", checker))
	if hb != nil {
		tree.AddCoreService(services.NewLifecycleService("heartbeat", hb))
	}
	tree.AddMessagingService(inboundSvc)

	if cfg.HTTP.Enabled {
		hc := api.HandlerConfig{
			NodeID:      nodeID,
			Supervision: manager,
			Checker:     checker,
			Checks:      map[string]api.HealthCheck{"nats": nb.Check},
		}
		if hb != nil {
			hc.Heartbeat = hb
		}
		srv := &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           api.NewRouter(api.NewHandler(hc)),
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
		}
		tree.AddAPIService(services.NewHTTPServerService(srv, cfg.HTTP.ShutdownTimeout))
		logging.Info().Str("address", cfg.HTTP.Address).Msg("Status API enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
		treeErr = <-errCh
	case treeErr = <-errCh:
		cancel()
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().
		Int64("scans", checker.Scans()).
		Dur("uptime", time.Since(started)).
		Msg("DAQWatch server stopped")
}
