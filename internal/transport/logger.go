// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package transport

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/daqwatch/internal/logging"
)

// NewLogger returns a watermill logger writing through the global zerolog
// logger.
func NewLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}
