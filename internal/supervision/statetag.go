// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/cache"
	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

// ErrUnknownTag is returned for a state or commfault tag id that is not
// configured.
var ErrUnknownTag = errors.New("supervision: unknown tag")

// StateTagService derives a supervision status from an alive timer.
type StateTagService interface {
	// CanUpdateState reports whether UpdateBasedOnControl would change the
	// status of the tag.
	CanUpdateState(stateTagID int64, timer AliveTimer) bool

	// UpdateBasedOnControl applies alive (active timer) or expire
	// (inactive timer) to the tag.
	UpdateBasedOnControl(stateTagID int64, timer AliveTimer) (Event, error)
}

// StateTags is the store-backed StateTagService. It also carries the
// explicit lifecycle transitions used by the manager.
type StateTags struct {
	store cache.Store[int64, StateTag]
	now   func() time.Time
	log   zerolog.Logger
}

// NewStateTags returns a service over store. now may be nil.
func NewStateTags(store cache.Store[int64, StateTag], now func() time.Time) *StateTags {
	if now == nil {
		now = time.Now
	}
	return &StateTags{store: store, now: now, log: logging.WithComponent("state-tags")}
}

// controlTrigger maps a timer to the transition it drives and the time
// stamped on the tag.
func (s *StateTags) controlTrigger(timer AliveTimer) (Trigger, time.Time) {
	if timer.Active {
		return TriggerAlive, timer.LastUpdate
	}
	return TriggerExpire, s.now()
}

// CanUpdateState implements StateTagService.
func (s *StateTags) CanUpdateState(stateTagID int64, timer AliveTimer) bool {
	tag, err := s.store.Get(stateTagID)
	if err != nil {
		return false
	}
	trigger, _ := s.controlTrigger(timer)
	_, changed := Next(tag.Status, trigger)
	return changed
}

// UpdateBasedOnControl implements StateTagService.
func (s *StateTags) UpdateBasedOnControl(stateTagID int64, timer AliveTimer) (Event, error) {
	trigger, at := s.controlTrigger(timer)
	return s.transition(stateTagID, trigger, at, "")
}

// Start moves the tag to STARTUP.
func (s *StateTags) Start(id int64, ts time.Time) (Event, error) {
	return s.transition(id, TriggerStart, ts, "")
}

// Stop moves the tag to STOPPED.
func (s *StateTags) Stop(id int64, ts time.Time) (Event, error) {
	return s.transition(id, TriggerStop, ts, "")
}

// Resume forces the tag to RUNNING with desc, or the default wording when
// desc is empty.
func (s *StateTags) Resume(id int64, ts time.Time, desc string) (Event, error) {
	return s.transition(id, TriggerResume, ts, desc)
}

// Add stores a tag. An existing tag keeps its status and only has its
// supervised entity refreshed.
func (s *StateTags) Add(tag StateTag) error {
	created, err := s.store.PutIfAbsent(tag.ID, tag)
	if err != nil || created {
		return err
	}
	_, err = s.store.Update(tag.ID, func(cur *StateTag) error {
		cur.SupervisedID = tag.SupervisedID
		cur.SupervisedType = tag.SupervisedType
		return nil
	})
	return err
}

// Remove deletes a tag.
func (s *StateTags) Remove(id int64) error {
	return s.store.Remove(id)
}

// Get returns a copy of a tag.
func (s *StateTags) Get(id int64) (StateTag, error) {
	tag, err := s.store.Get(id)
	if errors.Is(err, cache.ErrNotFound) {
		return tag, fmt.Errorf("%w: state tag %d", ErrUnknownTag, id)
	}
	return tag, err
}

func (s *StateTags) transition(id int64, trigger Trigger, at time.Time, desc string) (Event, error) {
	var ev Event
	_, err := s.store.Update(id, func(tag *StateTag) error {
		ev = tag.apply(trigger, at, desc)
		return nil
	})
	if errors.Is(err, cache.ErrNotFound) {
		return NoChange(), fmt.Errorf("%w: state tag %d", ErrUnknownTag, id)
	}
	if err != nil {
		return NoChange(), err
	}

	if ev.Changed() {
		metrics.RecordTransition(ev.Old.String(), ev.New.String())
		s.log.Info().
			Int64("tag_id", id).
			Int64("supervised_id", ev.SupervisedID).
			Str("trigger", trigger.String()).
			Str("from", ev.Old.String()).
			Str("to", ev.New.String()).
			Msg("Supervision status changed")
	}
	return ev, nil
}
