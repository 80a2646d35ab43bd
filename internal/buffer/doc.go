// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

/*
Package buffer implements the synchronized batching buffer used by the DAQ
side value sender.

A Buffer flushes when either trigger fires:

  - time: the oldest pending item has waited MaxDelay;
  - size: HighWaterMark items are pending and at least MinWindow has passed
    since the previous flush.

Flushes are serialized by a dedicated mutex and never run while the buffer
is disabled. The pending slice is swapped out under the buffer mutex, so
Push is never blocked by a slow handler. Items whose time to live has
passed are dropped at flush time.

Example:

	buf, err := buffer.New(buffer.Config[sender.Value]{
		Name:          "persistent",
		MinWindow:     200 * time.Millisecond,
		MaxDelay:      time.Second,
		HighWaterMark: 100,
		MaxBatchSize:  100,
		Handler:       send,
	})
	if err != nil {
		return err
	}
	defer buf.Close()
*/
package buffer
