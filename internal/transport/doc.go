// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

// Package transport moves values, supervision events and heartbeats over
// watermill. The DAQ side publishes through a WatermillSender, optionally
// wrapped in a DurableSender backed by the badger outbox. The server side
// consumes with a Router whose InboundHandler feeds control tags into the
// supervision Manager, and republishes supervision events through an
// EventPublisher.
//
// Production wiring uses core NATS subjects through watermill-nats; tests
// use the watermill gochannel pub/sub.
package transport
