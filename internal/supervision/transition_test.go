// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"strings"
	"testing"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    Status
		trigger Trigger
		want    Status
		changed bool
	}{
		{StatusDown, TriggerStart, StatusStartup, true},
		{StatusStopped, TriggerStart, StatusStartup, true},
		{StatusStartup, TriggerStart, StatusStartup, false},
		{StatusRunning, TriggerStart, StatusRunning, false},

		{StatusStartup, TriggerAlive, StatusRunning, true},
		{StatusDown, TriggerAlive, StatusRunning, true},
		{StatusRunning, TriggerAlive, StatusRunning, false},
		{StatusStopped, TriggerAlive, StatusStopped, false},

		{StatusDown, TriggerResume, StatusRunning, true},
		{StatusStartup, TriggerResume, StatusRunning, true},
		{StatusStopped, TriggerResume, StatusRunning, true},
		{StatusRunning, TriggerResume, StatusRunning, false},

		{StatusRunning, TriggerExpire, StatusDown, true},
		{StatusStartup, TriggerExpire, StatusDown, true},
		{StatusDown, TriggerExpire, StatusDown, false},
		{StatusStopped, TriggerExpire, StatusStopped, false},

		{StatusDown, TriggerStop, StatusStopped, true},
		{StatusStartup, TriggerStop, StatusStopped, true},
		{StatusRunning, TriggerStop, StatusStopped, true},
		{StatusStopped, TriggerStop, StatusStopped, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.trigger.String(), func(t *testing.T) {
			got, changed := Next(tt.from, tt.trigger)
			if got != tt.want || changed != tt.changed {
				t.Errorf("Next(%s, %s) = %s, %v; want %s, %v", tt.from, tt.trigger, got, changed, tt.want, tt.changed)
			}
		})
	}
}

func TestStateTagApply(t *testing.T) {
	t.Run("change writes status time and description together", func(t *testing.T) {
		tag := StateTag{ID: 7, SupervisedID: 1, SupervisedType: SupervisedProcess, Status: StatusStartup}

		ev := tag.apply(TriggerAlive, at(50), "")
		if ev.Kind != EventStatusChanged || ev.Old != StatusStartup || ev.New != StatusRunning {
			t.Fatalf("event = %+v", ev)
		}
		if tag.Status != StatusRunning || !tag.StatusTime.Equal(at(50)) {
			t.Errorf("tag = %+v", tag)
		}
		if !strings.HasPrefix(tag.StatusDescription, "running since ") {
			t.Errorf("description = %q", tag.StatusDescription)
		}
		if ev.Description != tag.StatusDescription {
			t.Errorf("event description %q differs from tag %q", ev.Description, tag.StatusDescription)
		}
	})

	t.Run("no change leaves the tag untouched", func(t *testing.T) {
		tag := StateTag{ID: 7, Status: StatusRunning, StatusTime: at(50), StatusDescription: "orig"}

		ev := tag.apply(TriggerAlive, at(9000), "")
		if ev.Changed() {
			t.Fatalf("event = %+v, want NoChange", ev)
		}
		if !tag.StatusTime.Equal(at(50)) || tag.StatusDescription != "orig" {
			t.Errorf("tag mutated: %+v", tag)
		}
	})

	t.Run("expire uses connection lost", func(t *testing.T) {
		tag := StateTag{Status: StatusRunning}
		tag.apply(TriggerExpire, at(100), "")
		if tag.StatusDescription != ConnectionLost {
			t.Errorf("description = %q, want %q", tag.StatusDescription, ConnectionLost)
		}
	})

	t.Run("resume keeps caller description", func(t *testing.T) {
		tag := StateTag{Status: StatusDown}
		tag.apply(TriggerResume, at(100), "manual resume")
		if tag.StatusDescription != "manual resume" {
			t.Errorf("description = %q", tag.StatusDescription)
		}
	})
}

func TestCommFaultSetIndicator(t *testing.T) {
	tag := CommFaultTag{ID: 30, EquipmentID: 3, SupervisedType: SupervisedEquipment}

	ev := tag.setIndicator(true, at(10), "")
	if ev.Kind != EventIndicatorChanged || !ev.Indicator || ev.SupervisedType != SupervisedEquipment {
		t.Fatalf("first set event = %+v", ev)
	}

	if ev := tag.setIndicator(true, at(20), ""); ev.Changed() {
		t.Errorf("repeat set event = %+v, want NoChange", ev)
	}
	if !tag.ValueTime.Equal(at(10)) {
		t.Errorf("repeat set moved ValueTime to %v", tag.ValueTime)
	}

	ev = tag.setIndicator(false, at(30), AliveExpiredDescription)
	if !ev.Changed() || ev.Indicator {
		t.Errorf("clear event = %+v", ev)
	}
	if tag.Value == nil || *tag.Value {
		t.Errorf("value = %v, want false", tag.Value)
	}
}
