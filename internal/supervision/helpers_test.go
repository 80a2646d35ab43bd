// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"sync"
	"time"
)

// epoch is the t=0 of simulated scenarios.
var epoch = time.UnixMilli(1_700_000_000_000).UTC()

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to epoch plus ms milliseconds.
func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.now = epoch.Add(time.Duration(ms) * time.Millisecond)
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func at(ms int64) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

// eventRecorder is a Listener that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnSupervisionEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// alarmRecorder collects warnings and all-clears.
type alarmRecorder struct {
	mu     sync.Mutex
	warns  []string
	clears []string
}

func (a *alarmRecorder) Warn(msg string) {
	a.mu.Lock()
	a.warns = append(a.warns, msg)
	a.mu.Unlock()
}

func (a *alarmRecorder) Clear(msg string) {
	a.mu.Lock()
	a.clears = append(a.clears, msg)
	a.mu.Unlock()
}

func (a *alarmRecorder) counts() (warns, clears int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.warns), len(a.clears)
}
