// Package rooms tracks joined logical rooms and filters inbound events
// whose scoping metadata does not match current membership. Membership
// survives reconnect: the tracked set is replayed by the connection
// manager, not rebuilt by callers.
package rooms

import (
	"sync"

	"go.uber.org/zap"

	"github.com/thanhkt275/rms-realtime/pkg/types"
)

// Sender transmits a join_room/leave_room control message. It is a
// best-effort hook: when the transport is down the tracked set alone
// queues the intent for replay on the next connect.
type Sender func(event string, room types.RoomKey)

// Manager owns the room-key set. All mutation goes through its
// methods.
type Manager struct {
	mu      sync.RWMutex
	joined  map[types.RoomKey]struct{}
	context types.RoomContext
	send    Sender
	log     *zap.Logger
}

func NewManager(send Sender, log *zap.Logger) *Manager {
	if send == nil {
		send = func(string, types.RoomKey) {}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		joined: make(map[types.RoomKey]struct{}),
		send:   send,
		log:    log,
	}
}

// SetContext converges membership onto the rooms implied by ctx.
// Leaves are issued before joins so stale rooms never linger past the
// transition.
func (m *Manager) SetContext(ctx types.RoomContext) {
	wanted := make(map[types.RoomKey]struct{})
	for _, key := range ctx.Rooms() {
		wanted[key] = struct{}{}
	}

	m.mu.Lock()
	var toLeave, toJoin []types.RoomKey
	for key := range m.joined {
		if _, ok := wanted[key]; !ok {
			toLeave = append(toLeave, key)
		}
	}
	for key := range wanted {
		if _, ok := m.joined[key]; !ok {
			toJoin = append(toJoin, key)
		}
	}
	for _, key := range toLeave {
		delete(m.joined, key)
	}
	for _, key := range toJoin {
		m.joined[key] = struct{}{}
	}
	m.context = ctx
	m.mu.Unlock()

	for _, key := range toLeave {
		m.send(types.EventLeaveRoom, key)
		m.log.Debug("left room", zap.String("room", string(key)))
	}
	for _, key := range toJoin {
		m.send(types.EventJoinRoom, key)
		m.log.Debug("joined room", zap.String("room", string(key)))
	}
}

// Join adds a room. Joining an already-joined room updates nothing and
// sends nothing.
func (m *Manager) Join(key types.RoomKey) {
	m.mu.Lock()
	if _, ok := m.joined[key]; ok {
		m.mu.Unlock()
		return
	}
	m.joined[key] = struct{}{}
	m.mu.Unlock()

	m.send(types.EventJoinRoom, key)
}

// Leave removes a room. Leaving a room that was never joined is a
// no-op.
func (m *Manager) Leave(key types.RoomKey) {
	m.mu.Lock()
	if _, ok := m.joined[key]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.joined, key)
	m.mu.Unlock()

	m.send(types.EventLeaveRoom, key)
}

// Joined reports membership for a single key.
func (m *Manager) Joined(key types.RoomKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.joined[key]
	return ok
}

// Tracked returns a snapshot of the joined set, used by the connection
// manager to replay joins after reconnect.
func (m *Manager) Tracked() []types.RoomKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]types.RoomKey, 0, len(m.joined))
	for key := range m.joined {
		keys = append(keys, key)
	}
	return keys
}

// Context returns the last context supplied to SetContext.
func (m *Manager) Context() types.RoomContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.context
}

// Allow decides whether an inbound payload should reach subscribers.
//
// Broadcast-flagged payloads bypass scoping entirely. An explicit room
// key must be in the joined set. Otherwise tournamentId and fieldId are
// checked independently and both must pass when both are present. A
// payload with no scoping fields is treated as global.
func (m *Manager) Allow(payload map[string]any) bool {
	if payload == nil {
		return true
	}
	if b, ok := payload[types.FieldBroadcast].(bool); ok && b {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if raw, ok := payload[types.FieldRoomKey].(string); ok && raw != "" {
		_, member := m.joined[types.RoomKey(raw)]
		return member
	}

	if id, ok := payload[types.FieldTournamentID].(string); ok && id != "" {
		if _, member := m.joined[types.TournamentRoom(id)]; !member {
			return false
		}
	}
	if id, ok := payload[types.FieldFieldID].(string); ok && id != "" {
		if _, member := m.joined[types.FieldRoom(id)]; !member {
			return false
		}
	}
	return true
}
