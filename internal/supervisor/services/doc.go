// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

/*
Package services adapts DAQWatch components to suture.Service.

	LifecycleService  Start(ctx) / Stop()     checker, heartbeat, WAL retry
	RunService        Run(ctx) error          supervision notifier
	InboundService    watermill router        inbound values
	HTTPServerService ListenAndServe/Shutdown status API

Every wrapper implements fmt.Stringer so suture events name the service.

Usage:

	tree, _ := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddCoreService(services.NewLifecycleService("alive-checker", checker))
	tree.AddCoreService(services.NewRunService("supervision-notifier", notifier.Run))
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))
	err := tree.Serve(ctx)
*/
package services
