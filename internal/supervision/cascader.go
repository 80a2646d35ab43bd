// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/logging"
)

// Cascader routes an alive timer update to the one tag it drives.
type Cascader struct {
	stateTags  StateTagService
	commFaults CommFaultService
	log        zerolog.Logger
}

// NewCascader returns a cascader over the two tag services.
func NewCascader(stateTags StateTagService, commFaults CommFaultService) *Cascader {
	return &Cascader{
		stateTags:  stateTags,
		commFaults: commFaults,
		log:        logging.WithComponent("cascader"),
	}
}

// OnAliveAccepted updates at most one target for timer: the process state
// tag when its status would change, otherwise the commfault tag when one
// is configured and the timer carries a value. Both targets ignore
// repeats, so replaying the same timer yields NoChange.
func (c *Cascader) OnAliveAccepted(timer *AliveTimer) (Event, error) {
	if timer == nil {
		c.log.Warn().Msg("Cascade called without an alive timer")
		return NoChange(), nil
	}

	if timer.SupervisedType == SupervisedProcess &&
		timer.StateTagID != 0 &&
		c.stateTags.CanUpdateState(timer.StateTagID, *timer) {
		return c.stateTags.UpdateBasedOnControl(timer.StateTagID, *timer)
	}

	switch {
	case timer.CommFaultID == 0:
		c.log.Debug().Int64("timer_id", timer.ID).Msg("No commfault tag configured, nothing to cascade")
	case timer.Value == nil:
		c.log.Warn().Int64("timer_id", timer.ID).Msg("Alive timer has no value, commfault not updated")
	default:
		return c.commFaults.UpdateBasedOnAliveTimer(*timer)
	}
	return NoChange(), nil
}
