// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package supervision

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

// DefaultNotifierQueue is the event queue length used when none is given.
const DefaultNotifierQueue = 256

// Listener receives supervision events.
type Listener interface {
	OnSupervisionEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

// OnSupervisionEvent implements Listener.
func (f ListenerFunc) OnSupervisionEvent(ev Event) { f(ev) }

// Notifier fans supervision events out to registered listeners from a
// single dispatch goroutine. Publishing never blocks the caller; when the
// queue is full the event is dropped and counted.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener
	queue     chan Event
	log       zerolog.Logger
}

// NewNotifier returns a notifier with room for queueSize pending events.
func NewNotifier(queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = DefaultNotifierQueue
	}
	return &Notifier{
		queue: make(chan Event, queueSize),
		log:   logging.WithComponent("notifier"),
	}
}

// Register adds a listener. Events published before registration are not
// replayed.
func (n *Notifier) Register(l Listener) {
	n.mu.Lock()
	n.listeners = append(n.listeners, l)
	n.mu.Unlock()
}

// Publish queues ev for dispatch. NoChange events are discarded.
func (n *Notifier) Publish(ev Event) {
	if !ev.Changed() {
		return
	}
	select {
	case n.queue <- ev:
	default:
		metrics.ListenerDrops.Inc()
		n.log.Warn().Str("event", ev.String()).Msg("Notifier queue full, event dropped")
	}
}

// Pending returns the number of queued events.
func (n *Notifier) Pending() int {
	return len(n.queue)
}

// Run dispatches queued events until ctx is done, then delivers whatever
// is still queued and returns.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-n.queue:
			n.Dispatch(ev)
		case <-ctx.Done():
			n.drain()
			return nil
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case ev := <-n.queue:
			n.Dispatch(ev)
		default:
			return
		}
	}
}

// Dispatch delivers ev to every listener synchronously. A panicking
// listener is logged and does not stop delivery to the others.
func (n *Notifier) Dispatch(ev Event) {
	n.mu.RLock()
	listeners := make([]Listener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	for _, l := range listeners {
		n.deliver(l, ev)
	}
}

func (n *Notifier) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error().Interface("panic", r).Str("event", ev.String()).Msg("Supervision listener panicked")
		}
	}()
	l.OnSupervisionEvent(ev)
}
