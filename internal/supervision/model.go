// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"fmt"
	"time"
)

// SupervisedType is the kind of object an alive timer watches.
type SupervisedType int

const (
	SupervisedProcess SupervisedType = iota + 1
	SupervisedEquipment
	SupervisedSubEquipment
)

func (t SupervisedType) String() string {
	switch t {
	case SupervisedProcess:
		return "PROCESS"
	case SupervisedEquipment:
		return "EQUIPMENT"
	case SupervisedSubEquipment:
		return "SUBEQUIPMENT"
	default:
		return fmt.Sprintf("SupervisedType(%d)", int(t))
	}
}

// MarshalText renders the type by name in JSON.
func (t SupervisedType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (t *SupervisedType) UnmarshalText(b []byte) error {
	for c := SupervisedProcess; c <= SupervisedSubEquipment; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown supervised type %q", b)
}

// Status is the supervision status of a state tag. The zero value is
// StatusDown, the initial state.
type Status int

const (
	StatusDown Status = iota
	StatusStartup
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusDown:
		return "DOWN"
	case StatusStartup:
		return "STARTUP"
	case StatusRunning:
		return "RUNNING"
	case StatusStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for c := StatusDown; c <= StatusStopped; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// AliveTimer tracks the last accepted alive signal of one supervised object.
// Its ID is the id of the alive tag the object publishes.
type AliveTimer struct {
	ID             int64          `json:"id"`
	SupervisedID   int64          `json:"supervised_id"`
	SupervisedType SupervisedType `json:"supervised_type"`
	Interval       time.Duration  `json:"interval"`
	LastUpdate     time.Time      `json:"last_update"`
	Active         bool           `json:"active"`
	StateTagID     int64          `json:"state_tag_id,omitempty"`
	CommFaultID    int64          `json:"comm_fault_id,omitempty"`

	// Value is the payload of the last accepted signal; nil until the
	// first one arrives.
	Value *int64 `json:"value,omitempty"`
}

// ExpiresAt is the first instant at which the timer counts as expired:
// one interval plus a third of it, in whole milliseconds.
func (a AliveTimer) ExpiresAt() time.Time {
	ms := a.Interval.Milliseconds()
	return a.LastUpdate.Add(time.Duration(ms+ms/3) * time.Millisecond)
}

// HasExpired reports whether now is at or past ExpiresAt.
func (a AliveTimer) HasExpired(now time.Time) bool {
	return !now.Before(a.ExpiresAt())
}

// StateTag carries the derived status of a supervised object. Status,
// StatusTime and StatusDescription always change together.
type StateTag struct {
	ID                int64          `json:"id"`
	SupervisedID      int64          `json:"supervised_id"`
	SupervisedType    SupervisedType `json:"supervised_type"`
	Status            Status         `json:"status"`
	StatusTime        time.Time      `json:"status_time"`
	StatusDescription string         `json:"status_description"`
}

// CommFaultTag mirrors the liveness of an equipment or sub-equipment.
// Value is true while communication is healthy and nil before the first
// update.
type CommFaultTag struct {
	ID             int64          `json:"id"`
	EquipmentID    int64          `json:"equipment_id"`
	SupervisedType SupervisedType `json:"supervised_type"`
	AliveTagID     int64          `json:"alive_tag_id"`
	StateTagID     int64          `json:"state_tag_id,omitempty"`
	Value          *bool          `json:"value,omitempty"`
	ValueTime      time.Time      `json:"value_time"`
	Description    string         `json:"description,omitempty"`
}

// Supervised is implemented by every entity kind that owns an alive timer.
// A zero id means the entity has no such tag.
type Supervised interface {
	SupervisedID() int64
	Type() SupervisedType
	AliveTimerID() int64
	AliveInterval() time.Duration
	StateTagID() int64
	CommFaultID() int64
}

// Process is a DAQ process.
type Process struct {
	ID         int64
	Name       string
	AliveTagID int64
	Interval   time.Duration
	StateTag   int64
}

func (p Process) SupervisedID() int64          { return p.ID }
func (p Process) Type() SupervisedType         { return SupervisedProcess }
func (p Process) AliveTimerID() int64          { return p.AliveTagID }
func (p Process) AliveInterval() time.Duration { return p.Interval }
func (p Process) StateTagID() int64            { return p.StateTag }
func (p Process) CommFaultID() int64           { return 0 }

// Equipment is a device fronted by a DAQ process.
type Equipment struct {
	ID         int64
	Name       string
	ProcessID  int64
	AliveTagID int64
	Interval   time.Duration
	StateTag   int64
	CommFault  int64
}

func (e Equipment) SupervisedID() int64          { return e.ID }
func (e Equipment) Type() SupervisedType         { return SupervisedEquipment }
func (e Equipment) AliveTimerID() int64          { return e.AliveTagID }
func (e Equipment) AliveInterval() time.Duration { return e.Interval }
func (e Equipment) StateTagID() int64            { return e.StateTag }
func (e Equipment) CommFaultID() int64           { return e.CommFault }

// SubEquipment hangs off an Equipment.
type SubEquipment struct {
	ID          int64
	Name        string
	EquipmentID int64
	AliveTagID  int64
	Interval    time.Duration
	StateTag    int64
	CommFault   int64
}

func (s SubEquipment) SupervisedID() int64          { return s.ID }
func (s SubEquipment) Type() SupervisedType         { return SupervisedSubEquipment }
func (s SubEquipment) AliveTimerID() int64          { return s.AliveTagID }
func (s SubEquipment) AliveInterval() time.Duration { return s.Interval }
func (s SubEquipment) StateTagID() int64            { return s.StateTag }
func (s SubEquipment) CommFaultID() int64           { return s.CommFault }
