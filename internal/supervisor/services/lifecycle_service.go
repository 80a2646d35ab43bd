// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package services

import (
	"context"
	"fmt"
)

// StartStopper is a component with its own background loop, such as the
// alive timer checker or the heartbeat manager.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// VoidStopper is a StartStopper whose Stop cannot fail, such as the WAL
// retry loop.
type VoidStopper interface {
	Start(ctx context.Context) error
	Stop()
}

type voidStopper struct{ VoidStopper }

func (v voidStopper) Stop() error {
	v.VoidStopper.Stop()
	return nil
}

// IgnoreStopError adapts a VoidStopper to StartStopper.
func IgnoreStopError(s VoidStopper) StartStopper {
	return voidStopper{s}
}

// LifecycleService adapts Start/Stop to suture: Start, wait for ctx, Stop.
// A failed Start is returned so suture restarts it with backoff.
type LifecycleService struct {
	component StartStopper
	name      string
}

// NewLifecycleService wraps component under name.
func NewLifecycleService(name string, component StartStopper) *LifecycleService {
	return &LifecycleService{component: component, name: name}
}

// Serve implements suture.Service.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.component.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *LifecycleService) String() string {
	return s.name
}

// RunService adapts a blocking run function, such as the event notifier
// loop, to suture.
type RunService struct {
	run  func(ctx context.Context) error
	name string
}

// NewRunService wraps run under name.
func NewRunService(name string, run func(ctx context.Context) error) *RunService {
	return &RunService{run: run, name: name}
}

// Serve implements suture.Service.
func (s *RunService) Serve(ctx context.Context) error {
	return s.run(ctx)
}

// String implements fmt.Stringer.
func (s *RunService) String() string {
	return s.name
}
