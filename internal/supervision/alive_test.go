// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/daqwatch/internal/cache"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

func newTestTimers(clock *fakeClock) *AliveTimers {
	timers := NewAliveTimers(cache.NewMemoryStore[int64, AliveTimer](), DefaultSignalPolicy(), clock.Now)
	timers.Add(AliveTimer{ID: 1221, SupervisedID: 1, SupervisedType: SupervisedProcess, Interval: 10 * time.Second})
	return timers
}

func TestProcessSignalMonotonic(t *testing.T) {
	clock := newFakeClock()
	timers := newTestTimers(clock)

	clock.Set(5000)
	if res := timers.ProcessSignal(1221, at(5000)); !res.Accepted() {
		t.Fatalf("first signal rejected: %s", res.Rejection)
	}

	tests := []struct {
		name string
		ts   int64
		want Rejection
	}{
		{"late within tolerance", 4500, RejectedLate},
		{"stale beyond tolerance", 3000, RejectedStale},
		{"equal timestamp", 5000, Accepted},
		{"newer", 6000, Accepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := timers.Get(1221)
			res := timers.ProcessSignal(1221, at(tt.ts))
			if res.Rejection != tt.want {
				t.Fatalf("rejection = %s, want %s", res.Rejection, tt.want)
			}

			after, _ := timers.Get(1221)
			if after.LastUpdate.Before(before.LastUpdate) {
				t.Errorf("lastUpdate decreased from %v to %v", before.LastUpdate, after.LastUpdate)
			}
			if tt.want != Accepted && !after.LastUpdate.Equal(before.LastUpdate) {
				t.Errorf("rejected signal changed lastUpdate to %v", after.LastUpdate)
			}
		})
	}
}

func TestProcessSignalSetsValueAndActive(t *testing.T) {
	clock := newFakeClock()
	timers := newTestTimers(clock)

	res := timers.ProcessSignal(1221, at(0))
	if !res.Accepted() {
		t.Fatalf("rejected: %s", res.Rejection)
	}
	if !res.Timer.Active || res.Timer.Value == nil || *res.Timer.Value != at(0).UnixMilli() {
		t.Errorf("timer = %+v", res.Timer)
	}
}

func TestProcessSignalTooOld(t *testing.T) {
	clock := newFakeClock()
	timers := newTestTimers(clock)

	before := testutil.ToFloat64(metrics.SignalsProcessed.WithLabelValues("too_old"))

	clock.Set((2*time.Minute + time.Millisecond).Milliseconds())
	res := timers.ProcessSignal(1221, at(0))
	if res.Rejection != RejectedTooOld {
		t.Fatalf("rejection = %s, want too_old", res.Rejection)
	}
	if got := testutil.ToFloat64(metrics.SignalsProcessed.WithLabelValues("too_old")) - before; got != 1 {
		t.Errorf("too_old counter delta = %v, want 1", got)
	}

	clock.Set((2 * time.Minute).Milliseconds())
	if res := timers.ProcessSignal(1221, at(0)); !res.Accepted() {
		t.Errorf("signal exactly at max age rejected: %s", res.Rejection)
	}
}

func TestProcessSignalUnknown(t *testing.T) {
	timers := newTestTimers(newFakeClock())
	if res := timers.ProcessSignal(4242, at(0)); res.Rejection != RejectedUnknown {
		t.Errorf("rejection = %s, want unknown", res.Rejection)
	}
}

func TestAliveTimerExpiryBoundary(t *testing.T) {
	timer := AliveTimer{Interval: 10 * time.Second, LastUpdate: at(50), Active: true}

	if timer.HasExpired(at(13382)) {
		t.Error("expired one millisecond early")
	}
	if !timer.HasExpired(at(13383)) {
		t.Error("not expired at lastUpdate + I + I/3")
	}
}

func TestExpireIsConditional(t *testing.T) {
	clock := newFakeClock()
	timers := newTestTimers(clock)
	timers.ProcessSignal(1221, at(0))

	if _, expired, _ := timers.Expire(1221, at(13332)); expired {
		t.Fatal("expired before deadline")
	}
	got, expired, err := timers.Expire(1221, at(13333))
	if err != nil || !expired || got.Active {
		t.Fatalf("Expire() = %+v, %v, %v", got, expired, err)
	}
	if _, expired, _ := timers.Expire(1221, at(20000)); expired {
		t.Error("inactive timer expired twice")
	}
	if _, _, err := timers.Expire(99, at(0)); !errors.Is(err, ErrUnknownTimer) {
		t.Errorf("Expire(unknown) error = %v", err)
	}
}

func TestStartNeverMovesBackwards(t *testing.T) {
	clock := newFakeClock()
	timers := newTestTimers(clock)
	timers.ProcessSignal(1221, at(500))

	got, err := timers.Start(1221, at(100))
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastUpdate.Equal(at(500)) || !got.Active {
		t.Errorf("Start() = %+v", got)
	}
}

// replayStore runs every Update twice: once against a diverged copy whose
// write is discarded, as after a lost revision check, then for real.
type replayStore struct {
	*cache.MemoryStore[int64, AliveTimer]
	diverge func(*AliveTimer)
}

func (s *replayStore) Update(id int64, fn func(*AliveTimer) error) (AliveTimer, error) {
	if cur, err := s.Get(id); err == nil {
		s.diverge(&cur)
		_ = fn(&cur)
	}
	return s.MemoryStore.Update(id, fn)
}

func TestSignalOutcomeFollowsFinalAttempt(t *testing.T) {
	clock := newFakeClock()
	store := &replayStore{
		MemoryStore: cache.NewMemoryStore[int64, AliveTimer](),
		diverge:     func(t *AliveTimer) { t.LastUpdate = at(60_000); t.Active = true },
	}
	timers := NewAliveTimers(store, DefaultSignalPolicy(), clock.Now)
	if err := timers.Add(AliveTimer{ID: 1221, Interval: 10 * time.Second}); err != nil {
		t.Fatal(err)
	}

	clock.Set(5000)
	res := timers.ProcessSignal(1221, at(5000))
	if !res.Accepted() {
		t.Fatalf("rejection = %s, want accepted on the attempt that was stored", res.Rejection)
	}
	if !res.Timer.LastUpdate.Equal(at(5000)) {
		t.Errorf("LastUpdate = %v, want %v", res.Timer.LastUpdate, at(5000))
	}

	// Only the discarded copy is past its deadline.
	store.diverge = func(t *AliveTimer) { t.LastUpdate = at(-60_000) }
	clock.Set(10_000)
	timer, expired, err := timers.Expire(1221, clock.Now())
	if err != nil || expired || !timer.Active {
		t.Errorf("Expire() = %+v, %v, %v; want still active", timer, expired, err)
	}
}

func TestAddKeepsLiveState(t *testing.T) {
	clock := newFakeClock()
	timers := newTestTimers(clock)
	timers.ProcessSignal(1221, at(0))

	if err := timers.Add(AliveTimer{ID: 1221, SupervisedID: 1, SupervisedType: SupervisedProcess, Interval: 30 * time.Second}); err != nil {
		t.Fatal(err)
	}
	got, _ := timers.Get(1221)
	if !got.Active || got.Value == nil {
		t.Errorf("timer = %+v, want live state kept", got)
	}
	if got.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want refreshed to 30s", got.Interval)
	}
}

type brokenStore struct {
	*cache.MemoryStore[int64, AliveTimer]
}

func (brokenStore) Update(int64, func(*AliveTimer) error) (AliveTimer, error) {
	return AliveTimer{}, errors.New("bucket offline")
}

func TestProcessSignalStoreFailure(t *testing.T) {
	timers := NewAliveTimers(brokenStore{cache.NewMemoryStore[int64, AliveTimer]()}, DefaultSignalPolicy(), nil)
	res := timers.ProcessSignal(1221, time.Now())
	if res.Rejection != RejectedUnavailable || res.Err == nil {
		t.Errorf("result = %+v, want unavailable with the store error", res)
	}
}
