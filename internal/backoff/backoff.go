// Package backoff schedules reconnection attempts after unexpected
// disconnects. It is a small idle/scheduled state machine; delays grow
// exponentially and reset to the base on any successful connect.
package backoff

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Timer is the handle returned by a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler abstracts timer creation so tests can drive the state
// machine without real timers.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// RealScheduler returns the time.AfterFunc-backed scheduler.
func RealScheduler() Scheduler { return realScheduler{} }

// Config holds the backoff tuning.
type Config struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// Reconnector owns the retry timer. Only one retry is ever pending;
// Schedule while pending is a no-op.
type Reconnector struct {
	mu        sync.Mutex
	cfg       Config
	sched     Scheduler
	log       *zap.Logger
	expo      *backoff.ExponentialBackOff
	timer     Timer
	scheduled bool
}

func New(cfg Config, sched Scheduler, log *zap.Logger) *Reconnector {
	cfg = cfg.withDefaults()
	if sched == nil {
		sched = realScheduler{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.BaseDelay
	expo.Multiplier = cfg.Multiplier
	expo.MaxInterval = cfg.MaxDelay
	expo.MaxElapsedTime = 0 // retry forever
	expo.RandomizationFactor = 0
	expo.Reset()

	return &Reconnector{
		cfg:   cfg,
		sched: sched,
		log:   log,
		expo:  expo,
	}
}

// Schedule arms a retry unless one is already pending. It reports
// whether a new schedule was created and the computed delay.
func (r *Reconnector) Schedule(retry func()) (scheduled bool, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scheduled {
		return false, 0
	}

	delay = r.expo.NextBackOff()
	r.scheduled = true
	r.timer = r.sched.AfterFunc(delay, func() {
		r.mu.Lock()
		r.scheduled = false
		r.timer = nil
		r.mu.Unlock()
		retry()
	})

	r.log.Debug("reconnect scheduled", zap.Duration("delay", delay))
	return true, delay
}

// Reset returns the delay sequence to the base. Called on successful
// connect.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expo.Reset()
}

// Stop cancels any pending retry.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.scheduled = false
}

// Pending reports whether a retry is armed.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduled
}
