package crosstab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_MirrorsBetweenInstances(t *testing.T) {
	ch := NewChannel()
	a := NewMemory(ch, nil)
	b := NewMemory(ch, nil)
	defer a.Close()
	defer b.Close()

	var got []Envelope
	b.Listen(func(env Envelope) { got = append(got, env) })

	a.Send("score_update", map[string]any{"matchId": "m1"})

	require.Len(t, got, 1)
	assert.Equal(t, "score_update", got[0].Event)
	assert.Equal(t, a.SenderID(), got[0].SenderID)
}

func TestMemory_NoSelfEcho(t *testing.T) {
	ch := NewChannel()
	a := NewMemory(ch, nil)
	defer a.Close()

	calls := 0
	a.Listen(func(Envelope) { calls++ })
	a.Send("announcement", nil)

	assert.Zero(t, calls, "an instance must ignore its own messages")
}

func TestMemory_UnsubscribeAndClose(t *testing.T) {
	ch := NewChannel()
	a := NewMemory(ch, nil)
	b := NewMemory(ch, nil)

	calls := 0
	unsub := b.Listen(func(Envelope) { calls++ })

	a.Send("e", nil)
	unsub()
	a.Send("e", nil)
	assert.Equal(t, 1, calls)

	b.Close()
	a.Send("e", nil)
	assert.Equal(t, 1, calls)

	// Send after close is dropped silently.
	b.Send("e", nil)
	a.Close()
}

func TestMemory_DistinctSenderIDs(t *testing.T) {
	ch := NewChannel()
	a := NewMemory(ch, nil)
	b := NewMemory(ch, nil)
	defer a.Close()
	defer b.Close()

	assert.NotEqual(t, a.SenderID(), b.SenderID())
}

func TestNoop_IsInert(t *testing.T) {
	n := NewNoop()
	unsub := n.Listen(func(Envelope) { t.Fatal("noop must never deliver") })
	n.Send("e", nil)
	unsub()
	n.Close()
	assert.NotEmpty(t, n.SenderID())
}
