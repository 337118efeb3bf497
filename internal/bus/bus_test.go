package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	b := New(nil)

	var got []string
	b.Subscribe("score_update", func(event string, payload any) {
		got = append(got, payload.(string))
	})

	b.Publish("score_update", "a")
	b.Publish("score_update", "b")
	b.Publish("timer_update", "ignored")

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)

	calls := 0
	unsub := b.Subscribe("match_update", func(string, any) { calls++ })

	b.Publish("match_update", nil)
	unsub()
	b.Publish("match_update", nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.ListenerCount("match_update"))

	// Double-unsubscribe is a no-op.
	unsub()
}

func TestBus_UnsubscribeOnlyRemovesOwnHandler(t *testing.T) {
	b := New(nil)

	first, second := 0, 0
	unsub1 := b.Subscribe("announcement", func(string, any) { first++ })
	b.Subscribe("announcement", func(string, any) { second++ })

	unsub1()
	b.Publish("announcement", nil)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestBus_WildcardSeesEverything(t *testing.T) {
	b := New(nil)

	var events []string
	b.Subscribe(Wildcard, func(event string, _ any) { events = append(events, event) })

	b.Publish("score_update", nil)
	b.Publish("timer_update", nil)

	assert.Equal(t, []string{"score_update", "timer_update"}, events)
}

func TestBus_SubscriptionOrderPreserved(t *testing.T) {
	b := New(nil)

	var order []int
	b.Subscribe("ranking_update", func(string, any) { order = append(order, 1) })
	b.Subscribe("ranking_update", func(string, any) { order = append(order, 2) })
	b.Subscribe("ranking_update", func(string, any) { order = append(order, 3) })

	b.Publish("ranking_update", nil)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBus_ClearRemovesAll(t *testing.T) {
	b := New(nil)

	calls := 0
	b.Subscribe("display_mode_change", func(string, any) { calls++ })
	b.Clear()
	b.Publish("display_mode_change", nil)

	assert.Equal(t, 0, calls)
}
