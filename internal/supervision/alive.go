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

// ErrUnknownTimer is returned for an alive timer id that is not configured.
var ErrUnknownTimer = errors.New("supervision: unknown alive timer")

// Rejection explains why a signal was not accepted.
type Rejection int

const (
	Accepted Rejection = iota
	RejectedUnknown
	RejectedStale
	RejectedLate
	RejectedTooOld
	RejectedUnavailable
)

func (r Rejection) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectedUnknown:
		return "unknown"
	case RejectedStale:
		return "stale"
	case RejectedLate:
		return "late"
	case RejectedTooOld:
		return "too_old"
	case RejectedUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("Rejection(%d)", int(r))
	}
}

// SignalResult is the outcome of ProcessSignal. Timer holds the stored
// timer after the call (zero for an unknown id). Err is set only for
// RejectedUnavailable, when the store could not be read or written.
type SignalResult struct {
	Timer     AliveTimer
	Rejection Rejection
	Err       error
}

// Accepted reports whether the signal updated the timer.
func (r SignalResult) Accepted() bool {
	return r.Rejection == Accepted
}

// SignalPolicy bounds which timestamps are accepted.
type SignalPolicy struct {
	// MaxAge rejects signals produced longer ago than this.
	MaxAge time.Duration

	// SkewTolerance separates late signals, ignored quietly, from stale
	// ones, rejected with a warning.
	SkewTolerance time.Duration
}

// DefaultSignalPolicy returns the two-minute maximum age and one second
// skew tolerance.
func DefaultSignalPolicy() SignalPolicy {
	return SignalPolicy{MaxAge: 2 * time.Minute, SkewTolerance: time.Second}
}

// errRejected aborts a store update without writing.
var errRejected = errors.New("rejected")

// AliveTimers owns the alive timer records. Signal producers go through
// ProcessSignal; only the checker and lifecycle operations deactivate
// timers.
type AliveTimers struct {
	store  cache.Store[int64, AliveTimer]
	policy SignalPolicy
	now    func() time.Time
	log    zerolog.Logger
}

// NewAliveTimers returns a service over store. now may be nil.
func NewAliveTimers(store cache.Store[int64, AliveTimer], policy SignalPolicy, now func() time.Time) *AliveTimers {
	if now == nil {
		now = time.Now
	}
	return &AliveTimers{
		store:  store,
		policy: policy,
		now:    now,
		log:    logging.WithComponent("alive-timers"),
	}
}

// ProcessSignal records an alive signal produced at ts. Accepted signals
// set LastUpdate to ts and activate the timer; the returned timer is what
// the cascader should act on. Rejections are logged and never change the
// record.
func (a *AliveTimers) ProcessSignal(id int64, ts time.Time) SignalResult {
	now := a.now()
	var rejection Rejection

	timer, err := a.store.Update(id, func(t *AliveTimer) error {
		rejection = Accepted
		switch {
		case ts.Before(t.LastUpdate.Add(-a.policy.SkewTolerance)):
			rejection = RejectedStale
		case ts.Before(t.LastUpdate):
			rejection = RejectedLate
		case a.policy.MaxAge > 0 && now.Sub(ts) > a.policy.MaxAge:
			rejection = RejectedTooOld
		}
		if rejection != Accepted {
			return errRejected
		}

		v := ts.UnixMilli()
		t.LastUpdate = ts
		t.Active = true
		t.Value = &v
		return nil
	})
	switch {
	case errors.Is(err, cache.ErrNotFound):
		rejection = RejectedUnknown
	case err != nil && !errors.Is(err, errRejected):
		rejection = RejectedUnavailable
	default:
		err = nil
	}

	metrics.RecordSignal(rejection.String())
	switch rejection {
	case Accepted:
		a.log.Debug().Int64("timer_id", id).Time("timestamp", ts).Msg("Alive signal accepted")
	case RejectedLate:
		a.log.Debug().Int64("timer_id", id).Time("timestamp", ts).Time("last_update", timer.LastUpdate).
			Msg("Late alive signal within skew tolerance ignored")
	case RejectedUnknown:
		a.log.Warn().Int64("timer_id", id).Msg("Alive signal for unknown timer rejected")
		err = nil
	case RejectedUnavailable:
		a.log.Error().Err(err).Int64("timer_id", id).Msg("Alive signal could not be applied")
	default:
		a.log.Warn().Int64("timer_id", id).Time("timestamp", ts).Time("last_update", timer.LastUpdate).
			Str("reason", rejection.String()).Msg("Alive signal rejected")
	}

	return SignalResult{Timer: timer, Rejection: rejection, Err: err}
}

// Add stores a timer. When the id already exists, as it does on a node
// joining a cluster whose shared store is populated, only the configured
// fields are refreshed and the live state is kept.
func (a *AliveTimers) Add(t AliveTimer) error {
	created, err := a.store.PutIfAbsent(t.ID, t)
	if err != nil || created {
		return err
	}
	_, err = a.store.Update(t.ID, func(cur *AliveTimer) error {
		cur.SupervisedID = t.SupervisedID
		cur.SupervisedType = t.SupervisedType
		cur.Interval = t.Interval
		cur.StateTagID = t.StateTagID
		cur.CommFaultID = t.CommFaultID
		return nil
	})
	return err
}

// Remove deletes the timer.
func (a *AliveTimers) Remove(id int64) error {
	return a.store.Remove(id)
}

// Get returns a copy of the timer.
func (a *AliveTimers) Get(id int64) (AliveTimer, error) {
	t, err := a.store.Get(id)
	if errors.Is(err, cache.ErrNotFound) {
		return t, fmt.Errorf("%w: %d", ErrUnknownTimer, id)
	}
	return t, err
}

// IDs returns the configured timer ids in ascending order.
func (a *AliveTimers) IDs() ([]int64, error) {
	return a.store.Keys()
}

// Start activates the timer and treats ts as its last update, giving the
// process a full interval to send its first alive. LastUpdate never moves
// backwards.
func (a *AliveTimers) Start(id int64, ts time.Time) (AliveTimer, error) {
	return a.update(id, func(t *AliveTimer) {
		t.Active = true
		if ts.After(t.LastUpdate) {
			t.LastUpdate = ts
		}
	})
}

// Stop deactivates the timer so the checker ignores it.
func (a *AliveTimers) Stop(id int64) (AliveTimer, error) {
	return a.update(id, func(t *AliveTimer) {
		t.Active = false
	})
}

// Expire deactivates the timer if it is active and expired at now, in one
// atomic step so a signal racing the scan cannot be overwritten. It
// returns the stored timer and whether this call expired it.
func (a *AliveTimers) Expire(id int64, now time.Time) (AliveTimer, bool, error) {
	var expired bool
	t, err := a.update(id, func(t *AliveTimer) {
		expired = false
		if t.Active && t.HasExpired(now) {
			t.Active = false
			expired = true
		}
	})
	return t, expired, err
}

func (a *AliveTimers) update(id int64, fn func(*AliveTimer)) (AliveTimer, error) {
	t, err := a.store.Update(id, func(t *AliveTimer) error {
		fn(t)
		return nil
	})
	if errors.Is(err, cache.ErrNotFound) {
		return t, fmt.Errorf("%w: %d", ErrUnknownTimer, id)
	}
	return t, err
}
