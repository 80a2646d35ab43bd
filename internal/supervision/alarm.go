// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"github.com/tomtom215/daqwatch/internal/logging"
)

// AlarmSink receives the aggregate down warning.
type AlarmSink interface {
	Warn(msg string)
}

// AlarmClearer is implemented by sinks that also want the all-clear.
// Sinks without it only see Warn; the checker logs the all-clear itself.
type AlarmClearer interface {
	Clear(msg string)
}

// AlarmFunc adapts a function to AlarmSink.
type AlarmFunc func(msg string)

// Warn implements AlarmSink.
func (f AlarmFunc) Warn(msg string) { f(msg) }

// LogAlarmSink writes alarms to the global logger.
type LogAlarmSink struct{}

// Warn implements AlarmSink.
func (LogAlarmSink) Warn(msg string) {
	logging.Warn().Str("component", "alarm").Msg(msg)
}

// Clear implements AlarmClearer.
func (LogAlarmSink) Clear(msg string) {
	logging.Info().Str("component", "alarm").Msg(msg)
}
