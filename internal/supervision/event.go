// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"fmt"
	"time"
)

// EventKind tags the outcome of a state transition.
type EventKind int

const (
	EventNoChange EventKind = iota
	EventStatusChanged
	EventIndicatorChanged
)

func (k EventKind) String() string {
	switch k {
	case EventNoChange:
		return "no_change"
	case EventStatusChanged:
		return "status_changed"
	case EventIndicatorChanged:
		return "indicator_changed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is returned by every transition function. Callers decide whether
// to notify listeners; a NoChange event is never published.
//
// Old and New are set for EventStatusChanged; Indicator for
// EventIndicatorChanged.
type Event struct {
	Kind           EventKind      `json:"kind"`
	TagID          int64          `json:"tag_id"`
	SupervisedID   int64          `json:"supervised_id"`
	SupervisedType SupervisedType `json:"supervised_type"`
	Old            Status         `json:"old"`
	New            Status         `json:"new"`
	Indicator      bool           `json:"indicator"`
	Time           time.Time      `json:"time"`
	Description    string         `json:"description,omitempty"`
}

// NoChange is the event for a transition that left the tag untouched.
func NoChange() Event {
	return Event{Kind: EventNoChange}
}

// Changed reports whether the event describes a mutation.
func (e Event) Changed() bool {
	return e.Kind != EventNoChange
}

func (e Event) String() string {
	switch e.Kind {
	case EventStatusChanged:
		return fmt.Sprintf("%s %d: %s -> %s", e.SupervisedType, e.SupervisedID, e.Old, e.New)
	case EventIndicatorChanged:
		return fmt.Sprintf("commfault %d: %t", e.TagID, e.Indicator)
	default:
		return "no change"
	}
}
