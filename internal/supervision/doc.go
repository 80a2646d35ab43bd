// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

/*
Package supervision derives the health of DAQ processes and their equipment
from the alive signals they publish.

Every supervised entity owns an AliveTimer keyed by its alive tag id. The
flow for one signal is:

	Manager.ProcessSignal
	  -> AliveTimers.ProcessSignal   (accept or reject, lastUpdate is monotonic)
	  -> Cascader.OnAliveAccepted    (exactly one target)
	       -> StateTags              (PROCESS timers: DOWN/STARTUP -> RUNNING)
	       -> CommFaults             (EQUIPMENT/SUBEQUIPMENT: indicator = active)
	  -> Notifier.Publish            (asynchronous, listeners never block callers)

The Checker runs in the background on every server node. Nodes share a
cluster.Lock; the last-check value stored under it makes the scan
single-flight across the cluster. Expired timers are deactivated under the
lock and their cascades run after it is released.

Status transitions are the pure function Next; StateTag and CommFaultTag
mutations return an Event, and NoChange events are never published.
*/
package supervision
