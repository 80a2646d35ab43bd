// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

/*
Package supervisor runs the long-lived DAQWatch services under suture v4.

The tree separates services into layers so a failure in one does not take
down the others:

	RootSupervisor ("daqwatch")
	├── DataSupervisor ("data-layer")
	│   └── wal-retry (if WAL enabled)
	├── CoreSupervisor ("core-layer")
	│   ├── alive-checker
	│   ├── supervision-notifier
	│   └── heartbeat (if enabled)
	├── MessagingSupervisor ("messaging-layer")
	│   └── inbound-router
	└── APISupervisor ("api-layer")
	    └── http-server

Suture restarts a service whose Serve returns, backing off after
FailureThreshold failures. Returning suture.ErrDoNotRestart ends a
service for good.

Service wrappers live in the services subpackage. Lifecycle events are
logged through sutureslog into the slog bridge of the logging package.
*/
package supervisor
