// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"fmt"
	"time"
)

// Trigger is an input to the supervision state machine.
type Trigger int

const (
	TriggerStart Trigger = iota
	TriggerAlive
	TriggerResume
	TriggerExpire
	TriggerStop
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerAlive:
		return "alive"
	case TriggerResume:
		return "resume"
	case TriggerExpire:
		return "expire"
	case TriggerStop:
		return "stop"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// ConnectionLost is the description written on expiry.
const ConnectionLost = "connection lost"

// Next returns the status reached from current on trigger, and false if
// the trigger leaves the status unchanged.
//
//	start   DOWN, STOPPED   -> STARTUP
//	alive   STARTUP, DOWN   -> RUNNING
//	resume  any but RUNNING -> RUNNING
//	expire  RUNNING, STARTUP -> DOWN
//	stop    any but STOPPED -> STOPPED
func Next(current Status, trigger Trigger) (Status, bool) {
	switch trigger {
	case TriggerStart:
		if current == StatusDown || current == StatusStopped {
			return StatusStartup, true
		}
	case TriggerAlive:
		if current == StatusStartup || current == StatusDown {
			return StatusRunning, true
		}
	case TriggerResume:
		if current != StatusRunning {
			return StatusRunning, true
		}
	case TriggerExpire:
		if current == StatusRunning || current == StatusStartup {
			return StatusDown, true
		}
	case TriggerStop:
		if current != StatusStopped {
			return StatusStopped, true
		}
	}
	return current, false
}

func defaultDescription(trigger Trigger, at time.Time) string {
	switch trigger {
	case TriggerStart:
		return "started at " + at.UTC().Format(time.RFC3339Nano)
	case TriggerAlive:
		return "running since " + at.UTC().Format(time.RFC3339Nano)
	case TriggerResume:
		return "resumed at " + at.UTC().Format(time.RFC3339Nano)
	case TriggerExpire:
		return ConnectionLost
	default:
		return "stopped at " + at.UTC().Format(time.RFC3339Nano)
	}
}

// apply runs trigger against the tag. On a change it writes status, time
// and description together and returns EventStatusChanged; otherwise the
// tag is left as it was. An empty desc selects the default wording.
func (t *StateTag) apply(trigger Trigger, at time.Time, desc string) Event {
	next, changed := Next(t.Status, trigger)
	if !changed {
		return NoChange()
	}
	if desc == "" {
		desc = defaultDescription(trigger, at)
	}

	old := t.Status
	t.Status = next
	t.StatusTime = at
	t.StatusDescription = desc

	return Event{
		Kind:           EventStatusChanged,
		TagID:          t.ID,
		SupervisedID:   t.SupervisedID,
		SupervisedType: t.SupervisedType,
		Old:            old,
		New:            next,
		Time:           at,
		Description:    desc,
	}
}

// setIndicator mirrors value into the tag. Re-applying the current value
// is a no-op, which keeps replays idempotent.
func (c *CommFaultTag) setIndicator(value bool, at time.Time, desc string) Event {
	if c.Value != nil && *c.Value == value {
		return NoChange()
	}
	v := value
	c.Value = &v
	c.ValueTime = at
	c.Description = desc

	return Event{
		Kind:           EventIndicatorChanged,
		TagID:          c.ID,
		SupervisedID:   c.EquipmentID,
		SupervisedType: c.SupervisedType,
		Indicator:      value,
		Time:           at,
		Description:    desc,
	}
}
