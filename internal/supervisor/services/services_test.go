// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/daqwatch/internal/transport"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*LifecycleService)(nil)
	_ suture.Service = (*RunService)(nil)
	_ suture.Service = (*InboundService)(nil)
)

type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	shutdowns   atomic.Int32
	stop        chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stop)
	return m.shutdownErr
}

func TestHTTPServerService(t *testing.T) {
	t.Run("graceful shutdown on cancel", func(t *testing.T) {
		srv := newMockHTTPServer()
		svc := NewHTTPServerService(srv, time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Serve() error = %v", err)
		}
		if srv.shutdowns.Load() != 1 {
			t.Errorf("Shutdown called %d times", srv.shutdowns.Load())
		}
	})

	t.Run("listen failure is returned", func(t *testing.T) {
		srv := newMockHTTPServer()
		srv.listenErr = errors.New("address in use")
		err := NewHTTPServerService(srv, 0).Serve(context.Background())
		if err == nil || !errors.Is(err, srv.listenErr) {
			t.Errorf("Serve() error = %v", err)
		}
	})

	t.Run("shutdown failure is returned", func(t *testing.T) {
		srv := newMockHTTPServer()
		srv.shutdownErr = errors.New("connections still open")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := NewHTTPServerService(srv, time.Second).Serve(ctx); !errors.Is(err, srv.shutdownErr) {
			t.Errorf("Serve() error = %v", err)
		}
	})

	if got := NewHTTPServerService(newMockHTTPServer(), 0).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
}

type fakeComponent struct {
	startErr error
	stopErr  error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (f *fakeComponent) Start(context.Context) error {
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeComponent) Stop() error {
	f.stops.Add(1)
	return f.stopErr
}

type voidComponent struct{ stopped atomic.Bool }

func (v *voidComponent) Start(context.Context) error { return nil }
func (v *voidComponent) Stop()                       { v.stopped.Store(true) }

func TestLifecycleService(t *testing.T) {
	tests := []struct {
		name      string
		comp      *fakeComponent
		wantErr   bool
		wantStops int32
	}{
		{"start then stop", &fakeComponent{}, false, 1},
		{"start failure skips stop", &fakeComponent{startErr: errors.New("no lock")}, true, 0},
		{"stop failure is returned", &fakeComponent{stopErr: errors.New("stuck")}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			err := NewLifecycleService("checker", tt.comp).Serve(ctx)
			if tt.wantErr && (err == nil || errors.Is(err, context.DeadlineExceeded)) {
				t.Errorf("Serve() error = %v, want component error", err)
			}
			if !tt.wantErr && !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Serve() error = %v", err)
			}
			if tt.comp.starts.Load() != 1 || tt.comp.stops.Load() != tt.wantStops {
				t.Errorf("starts = %d, stops = %d", tt.comp.starts.Load(), tt.comp.stops.Load())
			}
		})
	}

	t.Run("void stopper", func(t *testing.T) {
		comp := &voidComponent{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc := NewLifecycleService("wal-retry", IgnoreStopError(comp))
		if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v", err)
		}
		if !comp.stopped.Load() || svc.String() != "wal-retry" {
			t.Error("void component not stopped")
		}
	})
}

func TestRunService(t *testing.T) {
	want := errors.New("queue closed")
	svc := NewRunService("supervision-notifier", func(context.Context) error { return want })
	if err := svc.Serve(context.Background()); !errors.Is(err, want) {
		t.Errorf("Serve() error = %v", err)
	}
	if svc.String() != "supervision-notifier" {
		t.Errorf("String() = %q", svc.String())
	}
}

// sharedSubscriber keeps one gochannel alive across service runs.
type sharedSubscriber struct{ message.Subscriber }

func (sharedSubscriber) Close() error { return nil }

func TestInboundServiceDeliversAndRestarts(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	got := make(chan string, 4)
	var opened atomic.Int32
	svc, err := NewInboundService(InboundConfig{
		Topic:  "daqwatch.values",
		Router: transport.DefaultRouterConfig(),
		Logger: watermill.NopLogger{},
		Subscribe: func() (message.Subscriber, error) {
			opened.Add(1)
			return sharedSubscriber{ps}, nil
		},
		Handler: func(msg *message.Message) error {
			got <- string(msg.Payload)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	for run := 1; run <= 2; run++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		if run == 1 {
			select {
			case <-svc.Started():
			case <-time.After(5 * time.Second):
				t.Fatal("router never started")
			}
		} else {
			// Started only reports the first run; give the new router time to subscribe.
			time.Sleep(200 * time.Millisecond)
		}

		if err := ps.Publish("daqwatch.values", message.NewMessage(watermill.NewUUID(), []byte("alive"))); err != nil {
			t.Fatal(err)
		}
		select {
		case payload := <-got:
			if payload != "alive" {
				t.Errorf("payload = %q", payload)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: message not handled", run)
		}

		cancel()
		select {
		case <-done:
		case <-time.After(35 * time.Second):
			t.Fatalf("run %d: Serve did not return", run)
		}
	}
	if opened.Load() != 2 {
		t.Errorf("subscriber opened %d times, want once per run", opened.Load())
	}
}

func TestNewInboundServiceValidation(t *testing.T) {
	if _, err := NewInboundService(InboundConfig{Topic: "x"}); err == nil {
		t.Error("missing factory accepted")
	}
	if _, err := NewInboundService(InboundConfig{
		Subscribe: func() (message.Subscriber, error) { return nil, nil },
		Handler:   func(*message.Message) error { return nil },
	}); err == nil {
		t.Error("missing topic accepted")
	}
}
