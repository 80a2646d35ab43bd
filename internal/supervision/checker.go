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
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/daqwatch/internal/cluster"
	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/metrics"
)

// Cluster keys shared by every checker instance.
const (
	InitKey      = "daqwatch.supervision.checker.init"
	LastCheckKey = "daqwatch.supervision.checker.last-check"
)

// DefaultWarningMessage is formatted with the warning threshold.
const DefaultWarningMessage = "Over %d DAQ/Equipment are currently down."

// BackToNormalMessage is sent when the aggregate warning clears.
const BackToNormalMessage = "DAQ/Equipment supervision back to normal."

var (
	// ErrTickPanicked is returned by Tick when the scan panicked.
	ErrTickPanicked = errors.New("supervision: checker tick panicked")

	// ErrTimerList is returned by Tick when the timer ids could not be
	// listed.
	ErrTimerList = errors.New("supervision: list alive timers")
)

// CheckerConfig tunes the alive timer checker.
type CheckerConfig struct {
	ScanInterval time.Duration
	InitialDelay time.Duration

	// GuardWindow suppresses a scan when any node scanned more recently.
	GuardWindow time.Duration

	// WarningThreshold is the down count above which the aggregate
	// warning is raised.
	WarningThreshold int

	// SwitchOffTicks is how many ticks at or below the threshold clear
	// a raised warning.
	SwitchOffTicks int

	LockTimeout    time.Duration
	WarningMessage string
}

// DefaultCheckerConfig returns the production schedule.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		ScanInterval:     10 * time.Second,
		InitialDelay:     120 * time.Second,
		GuardWindow:      9 * time.Second,
		WarningThreshold: 50,
		SwitchOffTicks:   60,
		LockTimeout:      30 * time.Second,
		WarningMessage:   DefaultWarningMessage,
	}
}

// TimerSource is what the checker scans. *AliveTimers implements it.
type TimerSource interface {
	IDs() ([]int64, error)
	Expire(id int64, now time.Time) (AliveTimer, bool, error)
}

// ExpiryHandler runs the downstream effects of an expired timer.
type ExpiryHandler interface {
	OnAliveTimerExpiration(ctx context.Context, id int64)
}

// ExpiryFunc adapts a function to ExpiryHandler.
type ExpiryFunc func(ctx context.Context, id int64)

// OnAliveTimerExpiration implements ExpiryHandler.
func (f ExpiryFunc) OnAliveTimerExpiration(ctx context.Context, id int64) { f(ctx, id) }

// ScanResult reports one tick.
type ScanResult struct {
	Scanned int
	Expired []int64
	Down    int
	Skipped bool
}

// Checker periodically expires alive timers. Any number of checkers may
// share one cluster.Lock; the guard window ensures only one of them scans
// per interval.
type Checker struct {
	cfg     CheckerConfig
	lock    cluster.Lock
	timers  TimerSource
	handler ExpiryHandler
	alarms  AlarmSink
	now     func() time.Time
	log     zerolog.Logger

	// Aggregate warning state is per node.
	warnMu        sync.Mutex
	warningActive bool
	switchOff     int

	scans atomic.Int64

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewChecker builds a checker. alarms and now may be nil.
func NewChecker(cfg CheckerConfig, lock cluster.Lock, timers TimerSource, handler ExpiryHandler, alarms AlarmSink, now func() time.Time) *Checker {
	if cfg.WarningMessage == "" {
		cfg.WarningMessage = DefaultWarningMessage
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	if alarms == nil {
		alarms = LogAlarmSink{}
	}
	if now == nil {
		now = time.Now
	}
	return &Checker{
		cfg:     cfg,
		lock:    lock,
		timers:  timers,
		handler: handler,
		alarms:  alarms,
		now:     now,
		log:     logging.WithComponent("alive-checker"),
	}
}

// Init sets the shared last-check value once per cluster.
func (c *Checker) Init(ctx context.Context) error {
	return cluster.WithLock(ctx, c.lock, InitKey, func(ctx context.Context) error {
		ok, err := c.lock.HasKey(ctx, InitKey)
		if err != nil {
			return fmt.Errorf("check init flag: %w", err)
		}
		if ok {
			return nil
		}
		if err := c.lock.Put(ctx, InitKey, true); err != nil {
			return fmt.Errorf("set init flag: %w", err)
		}
		if err := c.lock.Put(ctx, LastCheckKey, int64(0)); err != nil {
			return fmt.Errorf("reset last check: %w", err)
		}
		c.log.Info().Msg("Initialized shared checker state")
		return nil
	})
}

// Tick runs one scan. Lock failures and panics skip the tick and are
// returned; the checker itself keeps running.
func (c *Checker) Tick(ctx context.Context) (res ScanResult, err error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := c.log.With().Str("correlation_id", logging.CorrelationIDFromContext(ctx)).Logger()

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordScanSkipped("panic")
			log.Error().Interface("panic", r).Msg("Alive timer scan panicked, tick skipped")
			res = ScanResult{Skipped: true}
			err = fmt.Errorf("%w: %v", ErrTickPanicked, r)
		}
	}()

	res, err = c.scan(ctx, log)
	if err != nil {
		reason := "lock_error"
		if errors.Is(err, ErrTimerList) {
			reason = "store_error"
		}
		metrics.RecordScanSkipped(reason)
		log.Error().Err(err).Msg("Alive timer scan skipped")
		return res, err
	}
	if res.Skipped {
		return res, nil
	}
	c.scans.Add(1)

	for _, id := range res.Expired {
		c.expire(ctx, log, id)
	}
	c.updateWarning(res.Down)
	return res, nil
}

// scan holds the last-check lock only while timers are expired in the
// store and the new last-check is written.
func (c *Checker) scan(ctx context.Context, log zerolog.Logger) (ScanResult, error) {
	lockCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	defer cancel()

	if err := c.lock.Acquire(lockCtx, LastCheckKey); err != nil {
		return ScanResult{Skipped: true}, fmt.Errorf("acquire %s: %w", LastCheckKey, err)
	}
	defer func() {
		if err := c.lock.Release(context.WithoutCancel(ctx), LastCheckKey); err != nil {
			log.Warn().Err(err).Msg("Failed to release last-check lock")
		}
	}()

	var lastCheck int64
	if err := c.lock.Get(lockCtx, LastCheckKey, &lastCheck); err != nil && !errors.Is(err, cluster.ErrKeyNotFound) {
		log.Warn().Err(err).Msg("Last-check lookup failed, treating as never checked")
		lastCheck = 0
	}

	now := c.now()
	if now.UnixMilli()-lastCheck < c.cfg.GuardWindow.Milliseconds() {
		metrics.RecordScanSkipped("guard_window")
		log.Debug().Int64("last_check", lastCheck).Msg("Another node scanned recently, skipping")
		return ScanResult{Skipped: true}, nil
	}

	ids, err := c.timers.IDs()
	if err != nil {
		return ScanResult{Skipped: true}, fmt.Errorf("%w: %w", ErrTimerList, err)
	}

	started := time.Now()
	var res ScanResult
	for _, id := range ids {
		timer, expired, err := c.timers.Expire(id, now)
		if err != nil {
			log.Warn().Err(err).Int64("timer_id", id).Msg("Alive timer lookup failed during scan")
			continue
		}
		res.Scanned++
		if expired {
			res.Expired = append(res.Expired, id)
		}
		if !timer.Active {
			res.Down++
		}
	}

	if err := c.lock.Put(lockCtx, LastCheckKey, now.UnixMilli()); err != nil {
		log.Warn().Err(err).Msg("Failed to store last-check time")
	}

	metrics.RecordScan(time.Since(started), len(res.Expired), res.Down)
	log.Debug().Int("scanned", res.Scanned).Int("expired", len(res.Expired)).Int("down", res.Down).Msg("Alive timer scan complete")
	return res, nil
}

func (c *Checker) expire(ctx context.Context, log zerolog.Logger, id int64) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int64("timer_id", id).Msg("Expiry handler panicked")
		}
	}()
	if c.handler != nil {
		c.handler.OnAliveTimerExpiration(ctx, id)
	}
}

func (c *Checker) updateWarning(down int) {
	c.warnMu.Lock()
	defer c.warnMu.Unlock()

	if down > c.cfg.WarningThreshold {
		if !c.warningActive {
			c.warningActive = true
			metrics.SetWarningActive(true)
			c.alarms.Warn(fmt.Sprintf(c.cfg.WarningMessage, c.cfg.WarningThreshold))
		}
		c.switchOff = c.cfg.SwitchOffTicks
		return
	}

	if !c.warningActive {
		return
	}
	c.switchOff--
	if c.switchOff > 0 {
		return
	}
	c.warningActive = false
	metrics.SetWarningActive(false)
	if clearer, ok := c.alarms.(AlarmClearer); ok {
		clearer.Clear(BackToNormalMessage)
		return
	}
	c.log.Info().Msg(BackToNormalMessage)
}

// WarningActive reports whether the aggregate warning is raised.
func (c *Checker) WarningActive() bool {
	c.warnMu.Lock()
	defer c.warnMu.Unlock()
	return c.warningActive
}

// Scans returns the number of ticks that actually scanned.
func (c *Checker) Scans() int64 {
	return c.scans.Load()
}

// Start launches the scan loop: Init, then InitialDelay, then a tick every
// ScanInterval until Stop or ctx is done.
func (c *Checker) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return errors.New("supervision: checker already running")
	}
	if c.cfg.ScanInterval <= 0 {
		return errors.New("supervision: scan interval must be positive")
	}

	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.loop(ctx, c.stopCh, c.doneCh)

	c.log.Info().
		Dur("initial_delay", c.cfg.InitialDelay).
		Dur("scan_interval", c.cfg.ScanInterval).
		Msg("Alive timer checker started")
	return nil
}

func (c *Checker) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer c.exited(done)

	if err := c.Init(ctx); err != nil {
		c.log.Error().Err(err).Msg("Checker init failed, continuing with existing shared state")
	}

	delay := time.NewTimer(c.cfg.InitialDelay)
	select {
	case <-ctx.Done():
		delay.Stop()
		return
	case <-stop:
		delay.Stop()
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		_, _ = c.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// exited clears the running flag when the loop ends on its own, so a
// canceled context does not leave the checker unstartable.
func (c *Checker) exited(done chan struct{}) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.doneCh == done {
		c.running = false
	}
}

// Stop ends the scan loop and waits for the current tick to finish.
func (c *Checker) Stop() error {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = false
	stop, done := c.stopCh, c.doneCh
	c.runMu.Unlock()

	close(stop)
	<-done
	c.log.Info().Int64("scans", c.scans.Load()).Msg("Alive timer checker stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (c *Checker) IsRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}
