// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package sender

import (
	"fmt"
	"time"
)

// Priority orders outbound values. HIGH and above bypass buffering.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
	PriorityHighest
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	case PriorityHighest:
		return "HIGHEST"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// TTLForever marks a value that never expires.
const TTLForever time.Duration = 0

// Value is one tag value reported by a DAQ process.
type Value struct {
	ID                 int64         `json:"id"`
	Name               string        `json:"name,omitempty"`
	Value              any           `json:"value"`
	Priority           Priority      `json:"priority"`
	GuaranteedDelivery bool          `json:"guaranteed_delivery"`
	TimeToLive         time.Duration `json:"ttl"`
	ProducedAt         time.Time     `json:"produced_at"`

	// ControlTag marks alive and commfault values, which the server routes
	// to supervision instead of the data path.
	ControlTag bool `json:"control_tag,omitempty"`

	ValueDescription string `json:"description,omitempty"`
}

// BufferKey implements buffer.Item.
func (v Value) BufferKey() int64 { return v.ID }

// Expired implements buffer.Item. TTLForever never expires.
func (v Value) Expired(now time.Time) bool {
	return v.TimeToLive != TTLForever && now.Sub(v.ProducedAt) > v.TimeToLive
}

// Update is one batch of values from a process, partitioned to at most
// the configured message size.
type Update struct {
	ID          string    `json:"id"`
	ProcessID   int64     `json:"process_id"`
	ProcessName string    `json:"process_name"`
	Persistent  bool      `json:"persistent"`
	Values      []Value   `json:"values"`
	CreatedAt   time.Time `json:"created_at"`
}
