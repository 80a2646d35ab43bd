// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package main

import (
	"fmt"

	"github.com/tomtom215/daqwatch/internal/config"
	"github.com/tomtom215/daqwatch/internal/supervision"
)

// entityConfigurer is the part of supervision.Manager topology loading needs.
type entityConfigurer interface {
	Configure(e supervision.Supervised) error
}

// topologyEntities flattens the configured processes into supervised
// entities, parents first.
func topologyEntities(t config.TopologyConfig) []supervision.Supervised {
	var out []supervision.Supervised
	for _, p := range t.Processes {
		out = append(out, supervision.Process{
			ID:         p.ID,
			Name:       p.Name,
			AliveTagID: p.AliveTagID,
			Interval:   p.AliveInterval,
			StateTag:   p.StateTagID,
		})
		for _, e := range p.Equipment {
			out = append(out, supervision.Equipment{
				ID:         e.ID,
				Name:       e.Name,
				ProcessID:  p.ID,
				AliveTagID: e.AliveTagID,
				Interval:   e.AliveInterval,
				StateTag:   e.StateTagID,
				CommFault:  e.CommFaultTagID,
			})
			for _, s := range e.SubEquipment {
				out = append(out, supervision.SubEquipment{
					ID:          s.ID,
					Name:        s.Name,
					EquipmentID: e.ID,
					AliveTagID:  s.AliveTagID,
					Interval:    s.AliveInterval,
					StateTag:    s.StateTagID,
					CommFault:   s.CommFaultTagID,
				})
			}
		}
	}
	return out
}

// configureTopology registers every entity and returns how many were
// configured.
func configureTopology(m entityConfigurer, t config.TopologyConfig) (int, error) {
	entities := topologyEntities(t)
	for _, e := range entities {
		if err := m.Configure(e); err != nil {
			return 0, fmt.Errorf("configure %s %d: %w", e.Type(), e.SupervisedID(), err)
		}
	}
	return len(entities), nil
}
