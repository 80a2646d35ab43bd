// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/daqwatch/internal/heartbeat"
	"github.com/tomtom215/daqwatch/internal/supervision"
)

// SupervisionReader is the read side of supervision.Manager.
type SupervisionReader interface {
	AliveTimerList() ([]supervision.AliveTimer, error)
	AliveTimer(id int64) (supervision.AliveTimer, error)
	StateTag(id int64) (supervision.StateTag, error)
	CommFault(id int64) (supervision.CommFaultTag, error)
}

// CheckerStatus is the read side of supervision.Checker.
type CheckerStatus interface {
	IsRunning() bool
	WarningActive() bool
	Scans() int64
}

// HeartbeatStatus is the read side of heartbeat.Manager.
type HeartbeatStatus interface {
	Last() (heartbeat.Heartbeat, bool)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the status API.
type Handler struct {
	supervision SupervisionReader
	checker     CheckerStatus
	heartbeat   HeartbeatStatus
	checks      map[string]HealthCheck
	nodeID      string
	startTime   time.Time
}

// HandlerConfig wires a Handler. Checker, Heartbeat and Checks are
// optional.
type HandlerConfig struct {
	NodeID      string
	Supervision SupervisionReader
	Checker     CheckerStatus
	Heartbeat   HeartbeatStatus
	Checks      map[string]HealthCheck
}

// NewHandler returns a handler over cfg.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		supervision: cfg.Supervision,
		checker:     cfg.Checker,
		heartbeat:   cfg.Heartbeat,
		checks:      cfg.Checks,
		nodeID:      cfg.NodeID,
		startTime:   time.Now(),
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	NodeID     string            `json:"node_id,omitempty"`
	Uptime     float64           `json:"uptime_seconds"`
	Components map[string]string `json:"components,omitempty"`
}

// Health runs every registered check. Any failure makes the node
// degraded and the response 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "healthy",
		NodeID: h.nodeID,
		Uptime: time.Since(h.startTime).Seconds(),
	}
	status := http.StatusOK

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Components = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}
	NewResponseWriter(w, r).Status(status, resp)
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	NodeID         string               `json:"node_id,omitempty"`
	AliveTimers    int                  `json:"alive_timers"`
	ActiveTimers   int                  `json:"active_timers"`
	CheckerRunning bool                 `json:"checker_running"`
	WarningActive  bool                 `json:"warning_active"`
	Scans          int64                `json:"scans"`
	LastHeartbeat  *heartbeat.Heartbeat `json:"last_heartbeat,omitempty"`
}

// Status summarises this node's supervision state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	timers, err := h.supervision.AliveTimerList()
	if err != nil {
		rw.InternalError(err)
		return
	}
	resp := StatusResponse{NodeID: h.nodeID, AliveTimers: len(timers)}
	for _, t := range timers {
		if t.Active {
			resp.ActiveTimers++
		}
	}
	if h.checker != nil {
		resp.CheckerRunning = h.checker.IsRunning()
		resp.WarningActive = h.checker.WarningActive()
		resp.Scans = h.checker.Scans()
	}
	if h.heartbeat != nil {
		if hb, ok := h.heartbeat.Last(); ok {
			resp.LastHeartbeat = &hb
		}
	}
	rw.Success(resp)
}

// AliveTimers lists every timer ordered by id. ?active=true or
// ?active=false filters on the timer state.
func (h *Handler) AliveTimers(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var filter *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			rw.BadRequest("active must be true or false")
			return
		}
		filter = &v
	}

	timers, err := h.supervision.AliveTimerList()
	if err != nil {
		rw.InternalError(err)
		return
	}
	out := make([]supervision.AliveTimer, 0, len(timers))
	for _, t := range timers {
		if filter == nil || t.Active == *filter {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	rw.List(out, len(out))
}

// AliveTimer returns one timer.
func (h *Handler) AliveTimer(w http.ResponseWriter, r *http.Request) {
	getByID(w, r, h.supervision.AliveTimer)
}

// StateTag returns one state tag.
func (h *Handler) StateTag(w http.ResponseWriter, r *http.Request) {
	getByID(w, r, h.supervision.StateTag)
}

// CommFault returns one commfault tag.
func (h *Handler) CommFault(w http.ResponseWriter, r *http.Request) {
	getByID(w, r, h.supervision.CommFault)
}

func getByID[T any](w http.ResponseWriter, r *http.Request, get func(int64) (T, error)) {
	rw := NewResponseWriter(w, r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("id must be an integer")
		return
	}

	v, err := get(id)
	switch {
	case errors.Is(err, supervision.ErrUnknownTimer), errors.Is(err, supervision.ErrUnknownTag):
		rw.NotFound(err.Error())
	case err != nil:
		rw.InternalError(err)
	default:
		rw.Success(v)
	}
}
