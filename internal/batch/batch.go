// Package batch collapses bursty event streams. Per key it applies a
// trailing-edge, non-resetting debounce (latest payload wins), then a
// sliding-window rate limit, then content-hash duplicate suppression.
package batch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Timer is the handle returned by a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler abstracts timer creation for tests.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// RealScheduler returns the time.AfterFunc-backed scheduler.
func RealScheduler() Scheduler { return realScheduler{} }

// Tuning controls one event type's batching behavior.
type Tuning struct {
	Delay    time.Duration
	MaxCalls int
	Window   time.Duration
}

// DefaultTunings reflects stream volatility: score entry during live
// refereeing is keystroke-driven and should collapse to the latest
// value without starving the network; timer ticks are periodic and
// only the most recent matters; generic match updates sit in between.
func DefaultTunings() map[string]Tuning {
	return map[string]Tuning{
		"score_update": {Delay: 150 * time.Millisecond, MaxCalls: 10, Window: time.Second},
		"timer_update": {Delay: time.Second, MaxCalls: 1, Window: time.Second},
		"match_update": {Delay: 300 * time.Millisecond, MaxCalls: 4, Window: time.Second},
	}
}

// DefaultTuning applies to event types without an explicit entry.
var DefaultTuning = Tuning{Delay: 250 * time.Millisecond, MaxCalls: 5, Window: time.Second}

// Volatile bookkeeping fields excluded from the content hash, so two
// payloads differing only in send time still count as duplicates.
var volatileFields = map[string]struct{}{
	"timestamp": {},
	"ts":        {},
	"sentAt":    {},
}

// Handler receives the surviving payload for a key.
type Handler func(event string, payload map[string]any)

type keyState struct {
	event   string
	pending map[string]any
	timer   Timer
	hash    uint64
	hasHash bool
	window  []time.Time
}

// Batcher holds per-key debounce state. State is created on first call
// for a key and cleared after the debounced fire or cancellation.
type Batcher struct {
	mu      sync.Mutex
	tunings map[string]Tuning
	sched   Scheduler
	now     func() time.Time
	handler Handler
	keys    map[string]*keyState
	log     *zap.Logger

	// Dropped is invoked with a reason for every suppressed payload.
	// Used for metrics; may be nil.
	Dropped func(event, reason string)
}

func New(tunings map[string]Tuning, handler Handler, sched Scheduler, log *zap.Logger) *Batcher {
	if tunings == nil {
		tunings = DefaultTunings()
	}
	if sched == nil {
		sched = realScheduler{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Batcher{
		tunings: tunings,
		sched:   sched,
		now:     time.Now,
		handler: handler,
		keys:    make(map[string]*keyState),
		log:     log,
	}
}

// SetClock overrides the time source. Test hook.
func (b *Batcher) SetClock(now func() time.Time) { b.now = now }

func (b *Batcher) tuning(event string) Tuning {
	if t, ok := b.tunings[event]; ok {
		return t
	}
	return DefaultTuning
}

// Call records a payload for the key. The newest payload overwrites
// any pending one; a timer already running for the key is left alone,
// which bounds maximum latency to one delay per burst.
func (b *Batcher) Call(event, key string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks, ok := b.keys[key]
	if !ok {
		ks = &keyState{event: event}
		b.keys[key] = ks
	}
	ks.pending = payload

	if ks.timer == nil {
		ks.timer = b.sched.AfterFunc(b.tuning(event).Delay, func() { b.fire(key) })
	}
}

// fire runs on timer expiry: rate limit, then dedup, then deliver.
func (b *Batcher) fire(key string) {
	b.mu.Lock()
	ks, ok := b.keys[key]
	if !ok || ks.pending == nil {
		if ok {
			ks.timer = nil
		}
		b.mu.Unlock()
		return
	}

	payload := ks.pending
	event := ks.event
	ks.pending = nil
	ks.timer = nil

	tun := b.tuning(event)
	now := b.now()

	// Prune the sliding window, then check it.
	cutoff := now.Add(-tun.Window)
	kept := ks.window[:0]
	for _, t := range ks.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	ks.window = kept

	if len(ks.window) >= tun.MaxCalls {
		b.mu.Unlock()
		b.log.Debug("rate limit exceeded, dropping", zap.String("key", key))
		b.drop(event, "rate_limited")
		return
	}

	hash := contentHash(payload)
	if ks.hasHash && hash == ks.hash {
		b.mu.Unlock()
		b.drop(event, "duplicate")
		return
	}

	ks.hash = hash
	ks.hasHash = true
	ks.window = append(ks.window, now)
	handler := b.handler
	b.mu.Unlock()

	if handler != nil {
		handler(event, payload)
	}
}

// Cancel stops any pending timer for the key and discards its payload.
// There is no drain-on-cancel.
func (b *Batcher) Cancel(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks, ok := b.keys[key]
	if !ok {
		return
	}
	if ks.timer != nil {
		ks.timer.Stop()
		ks.timer = nil
	}
	ks.pending = nil
}

// CancelAll cancels every pending key. Dedup hashes and rate windows
// survive so a restart does not re-deliver stale duplicates.
func (b *Batcher) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ks := range b.keys {
		if ks.timer != nil {
			ks.timer.Stop()
			ks.timer = nil
		}
		ks.pending = nil
	}
}

// Flush fires every pending key immediately, bypassing the remaining
// debounce delay. Rate limiting and dedup still apply.
func (b *Batcher) Flush() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.keys))
	for key, ks := range b.keys {
		if ks.pending == nil {
			continue
		}
		if ks.timer != nil {
			ks.timer.Stop()
		}
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.fire(key)
	}
}

// Pending reports whether a payload is waiting for the key.
func (b *Batcher) Pending(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks, ok := b.keys[key]
	return ok && ks.pending != nil
}

func (b *Batcher) drop(event, reason string) {
	if b.Dropped != nil {
		b.Dropped(event, reason)
	}
}

// contentHash hashes the semantically relevant subset of the payload.
// encoding/json sorts map keys, so marshaling yields a canonical form.
func contentHash(payload map[string]any) uint64 {
	relevant := make(map[string]any, len(payload))
	for k, v := range payload {
		if _, volatile := volatileFields[k]; volatile {
			continue
		}
		relevant[k] = v
	}
	data, err := json.Marshal(relevant)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
