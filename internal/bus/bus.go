// Package bus is the in-process pub/sub layer decoupling the transport
// from application logic. Locally-originated and network-originated
// events flow through the same path.
package bus

import (
	"sync"

	"go.uber.org/zap"
)

// Wildcard subscribes a handler to every event name.
const Wildcard = "*"

// Handler receives the event name and its payload. Payloads are the
// typed sender structs for local emissions and decoded JSON maps for
// network-originated events; subscribers must accept both.
type Handler func(event string, payload any)

type entry struct {
	id int
	fn Handler
}

// Bus maps event names to listener sets. Publish fans out
// synchronously in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string][]entry
	log      *zap.Logger
}

func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]entry),
		log:      log,
	}
}

// Subscribe registers a handler and returns its unsubscribe handle.
// Every call site is expected to pair the handle with a teardown path
// so listeners do not leak.
func (b *Bus) Subscribe(event string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], entry{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.handlers[event]
		for i, e := range list {
			if e.id == id {
				b.handlers[event] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(b.handlers[event]) == 0 {
			delete(b.handlers, event)
		}
	}
}

// Publish invokes all handlers for the event, then wildcard handlers.
// Handlers run on the caller's goroutine; a slow handler delays the
// caller, not other subscribers' ordering.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()
	list := b.handlers[event]
	wild := b.handlers[Wildcard]
	fns := make([]Handler, 0, len(list)+len(wild))
	for _, e := range list {
		fns = append(fns, e.fn)
	}
	for _, e := range wild {
		fns = append(fns, e.fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(event, payload)
	}
}

// ListenerCount reports how many handlers are registered for an event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}

// Clear removes every handler. Used on teardown.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]entry)
}
