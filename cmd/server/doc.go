// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

/*
Command server runs the DAQWatch supervision server.

It subscribes to the values subject, feeds alive and commfault tags of the
configured topology into the supervision state machine, scans alive timers
for expiry, and republishes every supervision event and a cluster
heartbeat to NATS. A read-only status API serves /health, /metrics and
/api/v1.

Startup order:

 1. Configuration (koanf: defaults, YAML file, environment)
 2. Logging (zerolog, json or console)
 3. NATS: embedded server if enabled, then the shared client connection
 4. Cluster lock (in-process or JetStream KV)
 5. Supervision manager with the configured topology, and the checker
 6. Event publisher, heartbeat and inbound router
 7. Supervisor tree (suture v4) with the data, core, messaging and api layers

Several servers may share one broker with the nats cluster backend: the
checker scan and the heartbeat then run on one node per interval.

Example:

	export CONFIG_PATH=/etc/daqwatch/config.yaml
	export CLUSTER_BACKEND=nats
	export NATS_URL=nats://broker:4222
	export NATS_EMBEDDED=false
	./daqwatch-server

SIGINT and SIGTERM stop the tree; services get supervisor.shutdown_timeout
to finish.
*/
package main
