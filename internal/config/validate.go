// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package config

import (
	"fmt"

	"github.com/tomtom215/daqwatch/internal/validation"
)

// Validate applies struct tag rules, then the cross-field rules tags
// cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateSupervision(); err != nil {
		return err
	}
	if err := c.validateBuffer(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateWAL(); err != nil {
		return err
	}
	return c.validateTopology()
}

func (c *Config) validateSupervision() error {
	s := c.Supervision
	if s.GuardWindow >= s.ScanInterval {
		return fmt.Errorf("supervision.guard_window (%s) must be shorter than supervision.scan_interval (%s)",
			s.GuardWindow, s.ScanInterval)
	}
	return nil
}

func (c *Config) validateBuffer() error {
	if c.Buffer.MinWindow > c.Buffer.MaxDelay {
		return fmt.Errorf("buffer.min_window (%s) must not exceed buffer.max_delay (%s)",
			c.Buffer.MinWindow, c.Buffer.MaxDelay)
	}
	if c.Buffer.Capacity > 0 && c.Buffer.Capacity < c.Buffer.HighWaterMark {
		return fmt.Errorf("buffer.capacity (%d) must be 0 or at least buffer.high_water_mark (%d)",
			c.Buffer.Capacity, c.Buffer.HighWaterMark)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return fmt.Errorf("nats.store_dir is required when nats.embedded_server is true")
	}
	return nil
}

func (c *Config) validateWAL() error {
	if c.WAL.Enabled && c.WAL.Path == "" {
		return fmt.Errorf("wal.path is required when wal.enabled is true")
	}
	return nil
}


// validateTopology rejects an alive tag id used by two entities; the
// server keys its timers by it.
func (c *Config) validateTopology() error {
	seen := make(map[int64]string)
	claim := func(id int64, owner string) error {
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("topology: alive tag %d used by both %s and %s", id, prev, owner)
		}
		seen[id] = owner
		return nil
	}
	for _, p := range c.Topology.Processes {
		if err := claim(p.AliveTagID, p.Name); err != nil {
			return err
		}
		for _, e := range p.Equipment {
			if err := claim(e.AliveTagID, e.Name); err != nil {
				return err
			}
			for _, s := range e.SubEquipment {
				if err := claim(s.AliveTagID, s.Name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
