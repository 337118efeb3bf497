package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
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

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(_ time.Duration, fn func()) Timer {
	t := &fakeTimer{fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// fireNext fires the oldest unfired, unstopped timer.
func (s *fakeScheduler) fireNext(t *testing.T) {
	t.Helper()
	for _, tm := range s.timers {
		if !tm.fired && !tm.stopped {
			tm.fired = true
			tm.fn()
			return
		}
	}
	t.Fatalf("no timer armed")
}

type delivery struct {
	event   string
	payload map[string]any
}

func newTestBatcher(tunings map[string]Tuning) (*Batcher, *fakeScheduler, *[]delivery, *time.Time) {
	var got []delivery
	sched := &fakeScheduler{}
	b := New(tunings, func(event string, payload map[string]any) {
		got = append(got, delivery{event, payload})
	}, sched, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })
	return b, sched, &got, &now
}

func TestBatcher_BurstCollapsesToLastPayload(t *testing.T) {
	b, sched, got, _ := newTestBatcher(nil)

	for i := 1; i <= 5; i++ {
		b.Call("score_update", "score_update:m1", map[string]any{"matchId": "m1", "redTotal": i})
	}
	require.Len(t, sched.timers, 1, "burst within the delay must arm exactly one timer")

	sched.fireNext(t)

	require.Len(t, *got, 1)
	assert.Equal(t, 5, (*got)[0].payload["redTotal"])
}

func TestBatcher_TimerNotResetByLaterCalls(t *testing.T) {
	b, sched, _, _ := newTestBatcher(nil)

	b.Call("score_update", "k", map[string]any{"v": 1})
	b.Call("score_update", "k", map[string]any{"v": 2})

	assert.Len(t, sched.timers, 1)
	assert.False(t, sched.timers[0].stopped)
}

func TestBatcher_DuplicateSuppressedAcrossFires(t *testing.T) {
	b, sched, got, _ := newTestBatcher(nil)

	b.Call("score_update", "k", map[string]any{"matchId": "m1", "redTotal": 10, "timestamp": int64(111)})
	sched.fireNext(t)

	// Same relevant fields, different timestamp: duplicate.
	b.Call("score_update", "k", map[string]any{"matchId": "m1", "redTotal": 10, "timestamp": int64(222)})
	sched.fireNext(t)

	assert.Len(t, *got, 1)
}

func TestBatcher_ChangedPayloadDelivered(t *testing.T) {
	b, sched, got, _ := newTestBatcher(nil)

	b.Call("score_update", "k", map[string]any{"redTotal": 10})
	sched.fireNext(t)
	b.Call("score_update", "k", map[string]any{"redTotal": 11})
	sched.fireNext(t)

	require.Len(t, *got, 2)
	assert.Equal(t, 11, (*got)[1].payload["redTotal"])
}

func TestBatcher_RateLimitDropsThenRecovers(t *testing.T) {
	tunings := map[string]Tuning{
		"score_update": {Delay: 10 * time.Millisecond, MaxCalls: 2, Window: time.Second},
	}
	b, sched, got, now := newTestBatcher(tunings)

	var drops []string
	b.Dropped = func(_, reason string) { drops = append(drops, reason) }

	for i := 0; i < 3; i++ {
		b.Call("score_update", "k", map[string]any{"v": i})
		sched.fireNext(t)
	}

	require.Len(t, *got, 2, "third call within the window must be dropped")
	assert.Equal(t, []string{"rate_limited"}, drops)

	// After the window elapses, a call succeeds again.
	*now = now.Add(1100 * time.Millisecond)
	b.Call("score_update", "k", map[string]any{"v": 99})
	sched.fireNext(t)

	require.Len(t, *got, 3)
	assert.Equal(t, 99, (*got)[2].payload["v"])
}

func TestBatcher_DistinctKeysIndependent(t *testing.T) {
	b, sched, got, _ := newTestBatcher(nil)

	b.Call("score_update", "score_update:m1", map[string]any{"matchId": "m1"})
	b.Call("score_update", "score_update:m2", map[string]any{"matchId": "m2"})

	require.Len(t, sched.timers, 2)
	sched.fireNext(t)
	sched.fireNext(t)

	assert.Len(t, *got, 2)
}

func TestBatcher_CancelDiscardsPending(t *testing.T) {
	b, sched, got, _ := newTestBatcher(nil)

	b.Call("score_update", "k", map[string]any{"v": 1})
	require.True(t, b.Pending("k"))

	b.Cancel("k")
	assert.False(t, b.Pending("k"))
	assert.True(t, sched.timers[0].stopped)

	// Even if the timer had raced past Stop, there is nothing to drain.
	sched.timers[0].fn()
	assert.Empty(t, *got)
}

func TestBatcher_CancelAllStopsEverything(t *testing.T) {
	b, sched, got, _ := newTestBatcher(nil)

	b.Call("score_update", "a", map[string]any{"v": 1})
	b.Call("timer_update", "b", map[string]any{"v": 2})
	b.CancelAll()

	for _, tm := range sched.timers {
		assert.True(t, tm.stopped)
	}
	assert.Empty(t, *got)
}

func TestBatcher_UnknownEventUsesDefaultTuning(t *testing.T) {
	b, sched, got, _ := newTestBatcher(map[string]Tuning{})

	b.Call("ranking_update", "k", map[string]any{"v": 1})
	sched.fireNext(t)

	assert.Len(t, *got, 1)
}

func TestBatcher_FlushDeliversPendingImmediately(t *testing.T) {
	b, _, got, _ := newTestBatcher(nil)

	b.Call("score_update", "score_update:m1", map[string]any{"matchId": "m1", "redTotal": 5})
	b.Call("timer_update", "timer_update:f1", map[string]any{"fieldId": "f1", "remaining": 30})
	require.Empty(t, *got)

	b.Flush()

	require.Len(t, *got, 2)
	assert.False(t, b.Pending("score_update:m1"))
	assert.False(t, b.Pending("timer_update:f1"))

	// Nothing pending, nothing delivered.
	b.Flush()
	assert.Len(t, *got, 2)
}

func TestContentHash_IgnoresVolatileFields(t *testing.T) {
	a := contentHash(map[string]any{"matchId": "m1", "redTotal": 5, "timestamp": int64(1)})
	b := contentHash(map[string]any{"matchId": "m1", "redTotal": 5, "ts": int64(2), "sentAt": int64(3)})
	c := contentHash(map[string]any{"matchId": "m1", "redTotal": 6})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
