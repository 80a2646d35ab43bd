// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

// Package metrics holds the Prometheus instruments for supervision and
// outbound value delivery. Components call the Record helpers rather than
// touching the vectors, so label values stay consistent.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Supervision

	SignalsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_alive_signals_total",
			Help: "Alive signals received, by outcome",
		},
		[]string{"result"}, // accepted, unknown, stale, late, too_old
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_state_transitions_total",
			Help: "Supervision state tag transitions",
		},
		[]string{"from", "to"},
	)

	CommFaultChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_commfault_changes_total",
			Help: "CommFault indicator value changes",
		},
		[]string{"value"},
	)

	TimersExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqwatch_alive_timers_expired_total",
			Help: "Alive timers driven to inactive by the checker",
		},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daqwatch_checker_scan_duration_seconds",
			Help:    "Duration of one alive timer scan",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	ScansSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_checker_scans_skipped_total",
			Help: "Checker ticks that did not scan, by reason",
		},
		[]string{"reason"}, // guard_window, lock_error, panic
	)

	TimersDown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daqwatch_alive_timers_down",
			Help: "Inactive alive timers seen by the last scan",
		},
	)

	WarningActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daqwatch_aggregate_warning_active",
			Help: "1 while the aggregate down warning is raised",
		},
	)

	// Outbound values

	ValuesPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_buffer_values_pushed_total",
			Help: "Values accepted by a buffer",
		},
		[]string{"buffer"},
	)

	ValuesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_buffer_values_dropped_total",
			Help: "Values discarded by a buffer, by reason",
		},
		[]string{"buffer", "reason"}, // expired, overflow, rejected
	)

	BatchesFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_buffer_batches_flushed_total",
			Help: "Batches handed off by a buffer",
		},
		[]string{"buffer"},
	)

	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daqwatch_buffer_batch_size",
			Help:    "Values per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		},
		[]string{"buffer"},
	)

	BufferPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daqwatch_buffer_pending",
			Help: "Values waiting in a buffer",
		},
		[]string{"buffer"},
	)

	SenderDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_sender_deliveries_total",
			Help: "Distribution attempts per transport sender, by outcome",
		},
		[]string{"sender", "result"}, // ok, error
	)

	SenderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daqwatch_sender_latency_seconds",
			Help:    "Time spent in one transport sender call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sender"},
	)

	ValuesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_values_received_total",
			Help: "Values received from DAQ processes",
		},
		[]string{"kind"}, // control, data, lifecycle
	)

	// Durable outbox

	WALPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daqwatch_wal_pending_entries",
			Help: "Unconfirmed entries in the durable outbox",
		},
	)

	WALOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_wal_operations_total",
			Help: "Durable outbox operations",
		},
		[]string{"op"}, // write, confirm, retry, expired, max_retries
	)

	// Server

	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqwatch_heartbeats_sent_total",
			Help: "Server heartbeats emitted by this node",
		},
	)

	ListenerDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqwatch_notifier_dropped_total",
			Help: "Supervision events dropped because the notifier queue was full",
		},
	)

	// Status API

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqwatch_api_requests_total",
			Help: "Status API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daqwatch_api_request_duration_seconds",
			Help:    "Status API request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daqwatch_api_active_requests",
			Help: "Status API requests in flight",
		},
	)
)

// RecordSignal counts one processed alive signal.
func RecordSignal(result string) {
	SignalsProcessed.WithLabelValues(result).Inc()
}

// RecordTransition counts a status change.
func RecordTransition(from, to string) {
	StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordCommFault counts an indicator change.
func RecordCommFault(value bool) {
	if value {
		CommFaultChanges.WithLabelValues("true").Inc()
		return
	}
	CommFaultChanges.WithLabelValues("false").Inc()
}

// RecordScan records a completed scan.
func RecordScan(duration time.Duration, expired, down int) {
	ScanDuration.Observe(duration.Seconds())
	TimersExpired.Add(float64(expired))
	TimersDown.Set(float64(down))
}

// RecordScanSkipped counts a tick that did not scan.
func RecordScanSkipped(reason string) {
	ScansSkipped.WithLabelValues(reason).Inc()
}

// SetWarningActive mirrors the aggregate warning state.
func SetWarningActive(active bool) {
	if active {
		WarningActive.Set(1)
		return
	}
	WarningActive.Set(0)
}

// RecordFlush records one handed-off batch.
func RecordFlush(buffer string, size int) {
	BatchesFlushed.WithLabelValues(buffer).Inc()
	BatchSize.WithLabelValues(buffer).Observe(float64(size))
}

// RecordDelivery records one sender call.
func RecordDelivery(sender string, duration time.Duration, err error) {
	SenderLatency.WithLabelValues(sender).Observe(duration.Seconds())
	if err != nil {
		SenderDeliveries.WithLabelValues(sender, "error").Inc()
		return
	}
	SenderDeliveries.WithLabelValues(sender, "ok").Inc()
}

// RecordWAL counts one durable outbox operation.
func RecordWAL(op string) {
	WALOperations.WithLabelValues(op).Inc()
}

// RecordAPIRequest records one finished status API request. route is the
// matched pattern, not the raw path, so ids do not explode the label set.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
