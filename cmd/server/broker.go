// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/daqwatch/internal/broker"
	"github.com/tomtom215/daqwatch/internal/cluster"
	"github.com/tomtom215/daqwatch/internal/config"
	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/supervision"
)

// brokerComponents holds the NATS side of the server: the optional
// embedded server and the shared client connection.
type brokerComponents struct {
	embedded *broker.EmbeddedServer
	conn     *nats.Conn
	js       jetstream.JetStream
	conncfg  broker.ConnConfig
}

func startBroker(cfg *config.Config, nodeID string) (*brokerComponents, error) {
	b := &brokerComponents{
		conncfg: broker.ConnConfig{
			URL:           cfg.NATS.URL,
			Name:          "daqwatch-server-" + nodeID,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		},
	}

	if cfg.NATS.EmbeddedServer {
		srv, err := broker.StartEmbeddedServer(broker.ServerConfig{
			Name:     "daqwatch-" + nodeID,
			Host:     cfg.NATS.ListenHost,
			Port:     cfg.NATS.ListenPort,
			StoreDir: cfg.NATS.StoreDir,
		})
		if err != nil {
			return nil, err
		}
		b.embedded = srv
		b.conncfg.URL = srv.ClientURL()
		logging.Info().Str("url", b.conncfg.URL).Str("store_dir", cfg.NATS.StoreDir).Msg("Embedded NATS server started")
	}

	nc, js, err := broker.Connect(b.conncfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.conn, b.js = nc, js
	logging.Info().Str("url", b.conncfg.URL).Msg("Connected to NATS")
	return b, nil
}

// Check is the broker health check.
func (b *brokerComponents) Check(context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats %s", b.conn.Status())
	}
	return nil
}

// Close drains the client connection, then stops the embedded server.
func (b *brokerComponents) Close() {
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			logging.Warn().Err(err).Msg("NATS drain failed")
		}
	}
	if b.embedded != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.embedded.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Embedded NATS shutdown incomplete")
		}
	}
}

// newClusterLock returns the scan lock backend selected by config.
func newClusterLock(ctx context.Context, cfg *config.Config, nodeID string, js jetstream.JetStream) (cluster.Lock, error) {
	switch cfg.Cluster.Backend {
	case "memory":
		logging.Info().Msg("Cluster lock is in-process; run a single server node")
		return cluster.NewMemoryLock(), nil
	case "nats":
		if js == nil {
			return nil, errors.New("nats cluster backend needs a NATS connection")
		}
		lock, err := cluster.NewNATSLock(ctx, js, cluster.NATSConfig{
			Bucket:       cfg.Cluster.Bucket,
			Holder:       nodeID,
			LeaseTTL:     cfg.Cluster.LeaseTTL,
			PollInterval: cfg.Cluster.PollInterval,
		})
		if err != nil {
			return nil, err
		}
		logging.Info().Str("bucket", cfg.Cluster.Bucket).Msg("Cluster lock on JetStream KV")
		return lock, nil
	default:
		return nil, fmt.Errorf("unknown cluster backend %q", cfg.Cluster.Backend)
	}
}

// newSupervisionStores returns the record stores for the configured
// backend. With nats every node reads and writes the same records, in the
// bucket the cluster lock created.
func newSupervisionStores(ctx context.Context, cfg *config.Config, js jetstream.JetStream) (supervision.Stores, error) {
	if cfg.Cluster.Backend != "nats" {
		return supervision.MemoryStores(), nil
	}
	if js == nil {
		return supervision.Stores{}, errors.New("nats cluster backend needs a NATS connection")
	}
	kv, err := js.KeyValue(ctx, cfg.Cluster.Bucket)
	if err != nil {
		return supervision.Stores{}, fmt.Errorf("open KV bucket %s: %w", cfg.Cluster.Bucket, err)
	}
	stores, err := supervision.KVStores(kv, cfg.Cluster.StoreTimeout)
	if err != nil {
		return supervision.Stores{}, err
	}
	logging.Info().Str("bucket", cfg.Cluster.Bucket).Msg("Supervision records on JetStream KV")
	return stores, nil
}
