// Package crosstab mirrors locally-emitted events to other instances
// sharing an origin (browser tabs in the original deployment). The
// transport is abstracted so hosts without a broadcast primitive get a
// no-op implementation instead of feature-detection in business logic.
package crosstab

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Envelope is the message mirrored between instances.
type Envelope struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
	SenderID  string `json:"senderId"`
}

// Broadcaster mirrors envelopes to sibling instances. Implementations
// must filter out an instance's own messages.
type Broadcaster interface {
	// Send mirrors the event to every sibling.
	Send(event string, payload any)
	// Listen registers a handler for sibling messages and returns an
	// unsubscribe handle.
	Listen(fn func(Envelope)) (unsubscribe func())
	// SenderID identifies this instance in outgoing envelopes.
	SenderID() string
	// Close tears down all listeners and the underlying channel.
	Close()
}

// Noop drops everything. Used where no broadcast primitive exists.
type Noop struct{ id string }

func NewNoop() *Noop { return &Noop{id: uuid.NewString()} }

func (n *Noop) Send(string, any) {}

func (n *Noop) Listen(func(Envelope)) func() { return func() {} }

func (n *Noop) SenderID() string { return n.id }

func (n *Noop) Close() {}

// Channel is the shared medium connecting Memory broadcasters, the
// in-process stand-in for a same-origin broadcast channel.
type Channel struct {
	mu      sync.RWMutex
	members map[*Memory]struct{}
}

func NewChannel() *Channel {
	return &Channel{members: make(map[*Memory]struct{})}
}

func (c *Channel) attach(m *Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[m] = struct{}{}
}

func (c *Channel) detach(m *Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, m)
}

func (c *Channel) post(env Envelope) {
	c.mu.RLock()
	members := make([]*Memory, 0, len(c.members))
	for m := range c.members {
		members = append(members, m)
	}
	c.mu.RUnlock()

	for _, m := range members {
		m.receive(env)
	}
}

// Memory is a Broadcaster joined to a Channel. Each instance tags its
// messages with a unique sender id and drops inbound envelopes bearing
// that id, preventing self-echo loops.
type Memory struct {
	mu       sync.RWMutex
	ch       *Channel
	id       string
	nextID   int
	handlers map[int]func(Envelope)
	closed   bool
	log      *zap.Logger
}

func NewMemory(ch *Channel, log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Memory{
		ch:       ch,
		id:       uuid.NewString(),
		handlers: make(map[int]func(Envelope)),
		log:      log,
	}
	ch.attach(m)
	return m
}

func (m *Memory) SenderID() string { return m.id }

func (m *Memory) Send(event string, payload any) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}
	m.ch.post(Envelope{
		Type:      "rms_event",
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		SenderID:  m.id,
	})
}

func (m *Memory) Listen(fn func(Envelope)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

func (m *Memory) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.handlers = make(map[int]func(Envelope))
	m.mu.Unlock()

	m.ch.detach(m)
}

func (m *Memory) receive(env Envelope) {
	if env.SenderID == m.id {
		return
	}
	m.mu.RLock()
	fns := make([]func(Envelope), 0, len(m.handlers))
	for _, fn := range m.handlers {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
}
