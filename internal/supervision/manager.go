// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/logging"
)

var (
	// ErrAlreadyConfigured is returned when an alive timer id is reused.
	ErrAlreadyConfigured = errors.New("supervision: already configured")

	// ErrUnknownProcess is returned for a process id that is not configured.
	ErrUnknownProcess = errors.New("supervision: unknown process")

	// ErrNoAliveTag is returned when configuring an entity without an
	// alive tag id.
	ErrNoAliveTag = errors.New("supervision: entity has no alive tag")
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Policy        SignalPolicy
	NotifierQueue int

	// Stores left nil are replaced by in-memory stores.
	Stores Stores

	// Now is the clock shared by every service; nil means time.Now.
	Now func() time.Time
}

// Manager is the entry point for supervision. It owns the tag stores,
// routes accepted alive signals through the cascader, and publishes the
// resulting events.
type Manager struct {
	timers     *AliveTimers
	stateTags  *StateTags
	commFaults *CommFaults
	cascader   *Cascader
	notifier   *Notifier
	now        func() time.Time
	log        zerolog.Logger

	mu        sync.RWMutex
	entities  map[int64]Supervised // by alive timer id
	processes map[int64]Process    // by process id
}

// NewManager returns a manager over cfg.Stores.
func NewManager(cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Policy == (SignalPolicy{}) {
		cfg.Policy = DefaultSignalPolicy()
	}
	mem := MemoryStores()
	if cfg.Stores.Timers == nil {
		cfg.Stores.Timers = mem.Timers
	}
	if cfg.Stores.StateTags == nil {
		cfg.Stores.StateTags = mem.StateTags
	}
	if cfg.Stores.CommFaults == nil {
		cfg.Stores.CommFaults = mem.CommFaults
	}

	stateTags := NewStateTags(cfg.Stores.StateTags, now)
	commFaults := NewCommFaults(cfg.Stores.CommFaults, now)

	return &Manager{
		timers:     NewAliveTimers(cfg.Stores.Timers, cfg.Policy, now),
		stateTags:  stateTags,
		commFaults: commFaults,
		cascader:   NewCascader(stateTags, commFaults),
		notifier:   NewNotifier(cfg.NotifierQueue),
		now:        now,
		log:        logging.WithComponent("supervision-manager"),
		entities:   make(map[int64]Supervised),
		processes:  make(map[int64]Process),
	}
}

// Timers exposes the alive timer service for the checker.
func (m *Manager) Timers() *AliveTimers { return m.timers }

// Notifier exposes the event notifier for listener registration.
func (m *Manager) Notifier() *Notifier { return m.notifier }

// Configure creates the alive timer and tags of an entity. Every entity
// starts inactive with its state tag DOWN; records already present in a
// shared store keep their live state.
func (m *Manager) Configure(e Supervised) error {
	id := e.AliveTimerID()
	if id == 0 {
		return fmt.Errorf("%w: %s %d", ErrNoAliveTag, e.Type(), e.SupervisedID())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; ok {
		return fmt.Errorf("%w: alive timer %d", ErrAlreadyConfigured, id)
	}

	now := m.now()
	if err := m.timers.Add(AliveTimer{
		ID:             id,
		SupervisedID:   e.SupervisedID(),
		SupervisedType: e.Type(),
		Interval:       e.AliveInterval(),
		StateTagID:     e.StateTagID(),
		CommFaultID:    e.CommFaultID(),
	}); err != nil {
		return fmt.Errorf("store alive timer %d: %w", id, err)
	}
	if e.StateTagID() != 0 {
		if err := m.stateTags.Add(StateTag{
			ID:                e.StateTagID(),
			SupervisedID:      e.SupervisedID(),
			SupervisedType:    e.Type(),
			Status:            StatusDown,
			StatusTime:        now,
			StatusDescription: "configured",
		}); err != nil {
			return fmt.Errorf("store state tag %d: %w", e.StateTagID(), err)
		}
	}
	if e.Type() != SupervisedProcess && e.CommFaultID() != 0 {
		if err := m.commFaults.Add(CommFaultTag{
			ID:             e.CommFaultID(),
			EquipmentID:    e.SupervisedID(),
			SupervisedType: e.Type(),
			AliveTagID:     id,
			StateTagID:     e.StateTagID(),
		}); err != nil {
			return fmt.Errorf("store commfault tag %d: %w", e.CommFaultID(), err)
		}
	}

	m.entities[id] = e
	if p, ok := e.(Process); ok {
		m.processes[p.ID] = p
	}

	m.log.Info().
		Int64("alive_timer_id", id).
		Int64("supervised_id", e.SupervisedID()).
		Str("type", e.Type().String()).
		Dur("interval", e.AliveInterval()).
		Msg("Supervised entity configured")
	return nil
}

// Unconfigure removes the timer and tags created by Configure.
func (m *Manager) Unconfigure(aliveTimerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[aliveTimerID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTimer, aliveTimerID)
	}
	errs := []error{m.timers.Remove(aliveTimerID)}
	if e.StateTagID() != 0 {
		errs = append(errs, m.stateTags.Remove(e.StateTagID()))
	}
	if e.CommFaultID() != 0 {
		errs = append(errs, m.commFaults.Remove(e.CommFaultID()))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("remove alive timer %d: %w", aliveTimerID, err)
	}
	delete(m.entities, aliveTimerID)
	if p, ok := e.(Process); ok {
		delete(m.processes, p.ID)
	}

	m.log.Info().Int64("alive_timer_id", aliveTimerID).Msg("Supervised entity removed")
	return nil
}

// ProcessSignal handles an alive signal for timer id produced at ts. The
// event is NoChange unless the signal was accepted and changed a tag.
func (m *Manager) ProcessSignal(id int64, ts time.Time) (SignalResult, Event, error) {
	res := m.timers.ProcessSignal(id, ts)
	if !res.Accepted() {
		return res, NoChange(), res.Err
	}

	timer := res.Timer
	ev, err := m.cascader.OnAliveAccepted(&timer)
	if err != nil {
		m.log.Error().Err(err).Int64("timer_id", id).Msg("Alive cascade failed")
		return res, NoChange(), err
	}
	m.notifier.Publish(ev)
	return res, ev, nil
}

// ProcessControlValue routes a control tag value received from a DAQ. An
// alive timer id is handled as ProcessSignal; a commfault tag id with a
// boolean value sets the indicator. Anything else is ErrUnknownTag.
func (m *Manager) ProcessControlValue(id int64, ts time.Time, value any, desc string) (Event, error) {
	if _, err := m.timers.Get(id); err == nil {
		res, ev, err := m.ProcessSignal(id, ts)
		if err == nil && !res.Accepted() {
			m.log.Debug().
				Int64("timer_id", id).
				Str("rejection", res.Rejection.String()).
				Msg("Alive signal rejected")
		}
		return ev, err
	}

	if _, err := m.commFaults.Get(id); err != nil {
		return NoChange(), err
	}
	indicator, ok := value.(bool)
	if !ok {
		return NoChange(), fmt.Errorf("commfault tag %d: value %v is not a bool", id, value)
	}
	ev, err := m.commFaults.Set(id, indicator, ts, desc)
	if err != nil {
		return NoChange(), err
	}
	m.notifier.Publish(ev)
	return ev, nil
}

// OnAliveTimerExpiration implements ExpiryHandler. A timer that received
// a signal after the scan expired it is already active again and is left
// alone.
func (m *Manager) OnAliveTimerExpiration(ctx context.Context, id int64) {
	log := logging.Ctx(ctx)

	timer, err := m.timers.Get(id)
	if err != nil {
		log.Warn().Err(err).Int64("timer_id", id).Msg("Expired alive timer vanished")
		return
	}
	if timer.Active {
		log.Debug().Int64("timer_id", id).Msg("Alive timer reactivated after expiry, skipping")
		return
	}

	log.Info().
		Int64("timer_id", id).
		Int64("supervised_id", timer.SupervisedID).
		Str("type", timer.SupervisedType.String()).
		Time("last_update", timer.LastUpdate).
		Msg("Alive timer expired")

	ev, err := m.cascader.OnAliveAccepted(&timer)
	if err != nil {
		log.Error().Err(err).Int64("timer_id", id).Msg("Expiry cascade failed")
		return
	}
	m.notifier.Publish(ev)
}

// StartProcess activates the process alive timer from ts and moves its
// state tag to STARTUP.
func (m *Manager) StartProcess(processID int64, ts time.Time) (Event, error) {
	p, err := m.process(processID)
	if err != nil {
		return NoChange(), err
	}
	if _, err := m.timers.Start(p.AliveTagID, ts); err != nil {
		return NoChange(), err
	}
	return m.publishState(p.StateTag, func() (Event, error) { return m.stateTags.Start(p.StateTag, ts) })
}

// StopProcess deactivates the process timer and the timers of its
// equipment and sub-equipment, then moves its state tag to STOPPED.
func (m *Manager) StopProcess(processID int64, ts time.Time) (Event, error) {
	p, err := m.process(processID)
	if err != nil {
		return NoChange(), err
	}
	for _, id := range m.timerIDsOf(p) {
		if _, err := m.timers.Stop(id); err != nil {
			m.log.Warn().Err(err).Int64("timer_id", id).Msg("Failed to stop alive timer")
		}
	}
	return m.publishState(p.StateTag, func() (Event, error) { return m.stateTags.Stop(p.StateTag, ts) })
}

// ResumeProcess reactivates the process timer and forces its state tag
// to RUNNING with desc.
func (m *Manager) ResumeProcess(processID int64, ts time.Time, desc string) (Event, error) {
	p, err := m.process(processID)
	if err != nil {
		return NoChange(), err
	}
	if _, err := m.timers.Start(p.AliveTagID, ts); err != nil {
		return NoChange(), err
	}
	return m.publishState(p.StateTag, func() (Event, error) { return m.stateTags.Resume(p.StateTag, ts, desc) })
}

func (m *Manager) publishState(tagID int64, fn func() (Event, error)) (Event, error) {
	if tagID == 0 {
		return NoChange(), nil
	}
	ev, err := fn()
	if err != nil {
		return NoChange(), err
	}
	m.notifier.Publish(ev)
	return ev, nil
}

func (m *Manager) process(id int64) (Process, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processes[id]
	if !ok {
		return Process{}, fmt.Errorf("%w: %d", ErrUnknownProcess, id)
	}
	return p, nil
}

// timerIDsOf returns the alive timer ids of p and everything below it.
func (m *Manager) timerIDsOf(p Process) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := []int64{p.AliveTagID}
	equipment := make(map[int64]bool)
	for id, e := range m.entities {
		if eq, ok := e.(Equipment); ok && eq.ProcessID == p.ID {
			equipment[eq.ID] = true
			ids = append(ids, id)
		}
	}
	for id, e := range m.entities {
		if sub, ok := e.(SubEquipment); ok && equipment[sub.EquipmentID] {
			ids = append(ids, id)
		}
	}
	return ids
}

// AliveTimer returns a copy of one timer.
func (m *Manager) AliveTimer(id int64) (AliveTimer, error) {
	return m.timers.Get(id)
}

// AliveTimerList returns every timer ordered by id.
func (m *Manager) AliveTimerList() ([]AliveTimer, error) {
	ids, err := m.timers.IDs()
	if err != nil {
		return nil, err
	}
	out := make([]AliveTimer, 0, len(ids))
	for _, id := range ids {
		if t, err := m.timers.Get(id); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// StateTag returns a copy of one state tag.
func (m *Manager) StateTag(id int64) (StateTag, error) {
	return m.stateTags.Get(id)
}

// CommFault returns a copy of one commfault tag.
func (m *Manager) CommFault(id int64) (CommFaultTag, error) {
	return m.commFaults.Get(id)
}
