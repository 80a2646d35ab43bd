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

// AliveExpiredDescription is written on a commfault tag whose timer expired.
const AliveExpiredDescription = "alive timer expired"

// CommFaultService mirrors equipment liveness into commfault tags.
type CommFaultService interface {
	UpdateBasedOnAliveTimer(timer AliveTimer) (Event, error)
}

// CommFaults is the store-backed CommFaultService.
type CommFaults struct {
	store cache.Store[int64, CommFaultTag]
	now   func() time.Time
	log   zerolog.Logger
}

// NewCommFaults returns a service over store. now may be nil.
func NewCommFaults(store cache.Store[int64, CommFaultTag], now func() time.Time) *CommFaults {
	if now == nil {
		now = time.Now
	}
	return &CommFaults{store: store, now: now, log: logging.WithComponent("commfaults")}
}

// UpdateBasedOnAliveTimer implements CommFaultService. The indicator
// follows timer.Active.
func (c *CommFaults) UpdateBasedOnAliveTimer(timer AliveTimer) (Event, error) {
	at, desc := timer.LastUpdate, ""
	if !timer.Active {
		at, desc = c.now(), AliveExpiredDescription
	}

	return c.Set(timer.CommFaultID, timer.Active, at, desc)
}

// Set writes the indicator of tag id directly, as reported by the DAQ for
// equipment it handles itself.
func (c *CommFaults) Set(id int64, value bool, at time.Time, desc string) (Event, error) {
	var ev Event
	_, err := c.store.Update(id, func(tag *CommFaultTag) error {
		ev = tag.setIndicator(value, at, desc)
		return nil
	})
	if errors.Is(err, cache.ErrNotFound) {
		return NoChange(), fmt.Errorf("%w: commfault tag %d", ErrUnknownTag, id)
	}
	if err != nil {
		return NoChange(), err
	}

	if ev.Changed() {
		metrics.RecordCommFault(ev.Indicator)
		c.log.Info().
			Int64("tag_id", ev.TagID).
			Int64("equipment_id", ev.SupervisedID).
			Bool("value", ev.Indicator).
			Msg("CommFault indicator changed")
	}
	return ev, nil
}

// Add stores a tag. An existing tag keeps its indicator.
func (c *CommFaults) Add(tag CommFaultTag) error {
	created, err := c.store.PutIfAbsent(tag.ID, tag)
	if err != nil || created {
		return err
	}
	_, err = c.store.Update(tag.ID, func(cur *CommFaultTag) error {
		cur.EquipmentID = tag.EquipmentID
		cur.SupervisedType = tag.SupervisedType
		cur.AliveTagID = tag.AliveTagID
		cur.StateTagID = tag.StateTagID
		return nil
	})
	return err
}

// Remove deletes a tag.
func (c *CommFaults) Remove(id int64) error {
	return c.store.Remove(id)
}

// Get returns a copy of a tag.
func (c *CommFaults) Get(id int64) (CommFaultTag, error) {
	tag, err := c.store.Get(id)
	if errors.Is(err, cache.ErrNotFound) {
		return tag, fmt.Errorf("%w: commfault tag %d", ErrUnknownTag, id)
	}
	return tag, err
}
