package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler records armed timers and fires them on demand, so the
// state machine can be exercised without real time.
type fakeScheduler struct {
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) fire(i int) {
	t := s.timers[i]
	if t.stopped || t.fired {
		return
	}
	t.fired = true
	t.fn()
}

func TestReconnector_DelaysGrowAndCap(t *testing.T) {
	sched := &fakeScheduler{}
	r := New(Config{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 4 * time.Second}, sched, nil)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second, // capped
	}
	for i, w := range want {
		ok, delay := r.Schedule(func() {})
		require.True(t, ok, "attempt %d", i)
		assert.Equal(t, w, delay, "attempt %d", i)
		sched.fire(i)
	}
}

func TestReconnector_ScheduleIsIdempotentWhilePending(t *testing.T) {
	sched := &fakeScheduler{}
	r := New(Config{}, sched, nil)

	ok, _ := r.Schedule(func() {})
	require.True(t, ok)

	ok, delay := r.Schedule(func() {})
	assert.False(t, ok, "second schedule while pending must not stack a timer")
	assert.Zero(t, delay)
	assert.Len(t, sched.timers, 1)
}

func TestReconnector_FiringReturnsToIdle(t *testing.T) {
	sched := &fakeScheduler{}
	r := New(Config{}, sched, nil)

	fired := 0
	r.Schedule(func() { fired++ })
	assert.True(t, r.Pending())

	sched.fire(0)
	assert.Equal(t, 1, fired)
	assert.False(t, r.Pending())

	// A retry that fails can schedule the next step.
	ok, _ := r.Schedule(func() {})
	assert.True(t, ok)
}

func TestReconnector_RetryCanRescheduleFromCallback(t *testing.T) {
	sched := &fakeScheduler{}
	r := New(Config{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}, sched, nil)

	r.Schedule(func() {
		// Simulated failure: next backoff step.
		ok, delay := r.Schedule(func() {})
		assert.True(t, ok)
		assert.Equal(t, 2*time.Second, delay)
	})
	sched.fire(0)
}

func TestReconnector_ResetReturnsToBaseDelay(t *testing.T) {
	sched := &fakeScheduler{}
	r := New(Config{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}, sched, nil)

	r.Schedule(func() {})
	sched.fire(0)
	_, delay := r.Schedule(func() {})
	require.Equal(t, 2*time.Second, delay)
	sched.fire(1)

	r.Reset()
	_, delay = r.Schedule(func() {})
	assert.Equal(t, time.Second, delay)
}

func TestReconnector_StopCancelsPendingTimer(t *testing.T) {
	sched := &fakeScheduler{}
	r := New(Config{}, sched, nil)

	fired := false
	r.Schedule(func() { fired = true })
	r.Stop()

	assert.False(t, r.Pending())
	assert.True(t, sched.timers[0].stopped)
	sched.fire(0)
	assert.False(t, fired)
}
