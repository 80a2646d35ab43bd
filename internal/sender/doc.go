// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

// Package sender is the DAQ side of value delivery: a MessageSender that
// batches LOW priority values, sends HIGH and HIGHEST values immediately,
// and emits the process alive tag; plus the Distributor that fans every
// value out to the configured TransportSenders.
package sender
