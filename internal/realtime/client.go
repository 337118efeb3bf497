// Package realtime is the coordination engine façade: it owns the
// socket, multiplexes logical event streams over it, scopes delivery
// to rooms, gates emissions by role, batches bursty streams, and
// recovers from disconnects with exponential backoff.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thanhkt275/rms-realtime/internal/backoff"
	"github.com/thanhkt275/rms-realtime/internal/batch"
	"github.com/thanhkt275/rms-realtime/internal/bus"
	"github.com/thanhkt275/rms-realtime/internal/crosstab"
	"github.com/thanhkt275/rms-realtime/internal/metrics"
	"github.com/thanhkt275/rms-realtime/internal/perms"
	"github.com/thanhkt275/rms-realtime/internal/rooms"
	"github.com/thanhkt275/rms-realtime/internal/session"
	"github.com/thanhkt275/rms-realtime/pkg/rtcerr"
	"github.com/thanhkt275/rms-realtime/pkg/types"
)

const (
	writeTimeout      = 3 * time.Second
	dialTimeout       = 10 * time.Second
	defaultAckTimeout = 10 * time.Second
)

// Events whose streams are debounced/deduped in both directions.
var batchedEvents = map[string]struct{}{
	types.EventScoreUpdate: {},
	types.EventTimerUpdate: {},
	types.EventMatchUpdate: {},
}

// Config is passed at construction; the engine holds no global mutable
// configuration.
type Config struct {
	URL         string
	Role        types.Role
	Matrix      perms.Matrix
	Backoff     backoff.Config
	Tunings     map[string]batch.Tuning
	AckTimeout  time.Duration
	Broadcaster crosstab.Broadcaster
	Scheduler   batch.Scheduler
	Logger      *zap.Logger

	// OnError receives permission, validation and connection errors.
	// The engine never returns these to emit call sites.
	OnError func(error)
}

// Client is the long-lived coordination engine. Construct one per
// process at application start and inject it into consumers.
type Client struct {
	cfg  Config
	log  *zap.Logger
	id   string
	bus  *bus.Bus
	gate *perms.Gate
	room *rooms.Manager
	tabs crosstab.Broadcaster
	sess *session.Tracker

	recon     *backoff.Reconnector
	sendBatch *batch.Batcher
	recvBatch *batch.Batcher

	mu        sync.Mutex
	state     types.ConnectionState
	lastError string
	connAt    time.Time
	conn      *websocket.Conn
	url       string
	manual    bool

	writeMu sync.Mutex

	statsMu   sync.Mutex
	sent      int64
	received  int64
	reconnect int64
	lastEvent time.Time
	since     time.Time

	ackMu sync.Mutex
	acks  map[string]chan types.PersistScoresAck

	unsubTabs func()
}

func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "realtime"))

	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = crosstab.NewNoop()
	}

	c := &Client{
		cfg:   cfg,
		log:   log,
		id:    uuid.NewString(),
		bus:   bus.New(log),
		gate:  perms.NewGate(cfg.Matrix, log),
		tabs:  cfg.Broadcaster,
		sess:  session.NewTracker(log),
		state: types.StateDisconnected,
		url:   cfg.URL,
		acks:  make(map[string]chan types.PersistScoresAck),
	}
	c.room = rooms.NewManager(c.sendRoomControl, log)
	c.recon = backoff.New(cfg.Backoff, schedulerOrReal(cfg.Scheduler), log)
	c.sendBatch = batch.New(cfg.Tunings, c.deliverOutbound, cfg.Scheduler, log)
	c.recvBatch = batch.New(cfg.Tunings, c.publishInbound, cfg.Scheduler, log)
	c.sendBatch.Dropped = func(event, reason string) { metrics.EventsDropped.WithLabelValues(event, reason).Inc() }
	c.recvBatch.Dropped = c.sendBatch.Dropped

	if cfg.Role != "" {
		c.gate.SetRole(cfg.Role)
	}

	// Events mirrored from sibling tabs feed the local bus as if they
	// had been received over the network, minus the self-echo the
	// broadcaster already filters.
	c.unsubTabs = c.tabs.Listen(func(env crosstab.Envelope) {
		c.bus.Publish(env.Event, env.Payload)
	})

	return c
}

func schedulerOrReal(s batch.Scheduler) backoff.Scheduler {
	if s == nil {
		return backoff.RealScheduler()
	}
	return schedulerAdapter{s}
}

// schedulerAdapter bridges the two packages' identical Scheduler
// shapes so tests can inject one fake for both.
type schedulerAdapter struct{ s batch.Scheduler }

func (a schedulerAdapter) AfterFunc(d time.Duration, fn func()) backoff.Timer {
	return a.s.AfterFunc(d, fn)
}

// Connect dials the socket server. It is idempotent while connected or
// connecting. On failure the reconnection manager takes over; the
// error is also returned for the initial call site.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.state == types.StateConnected || c.state == types.StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if url != "" {
		c.url = url
	}
	target := c.url
	c.state = types.StateConnecting
	c.manual = false
	c.mu.Unlock()

	// A manual Connect supersedes any pending retry.
	c.recon.Stop()

	return c.dial(ctx, target)
}

func (c *Client) dial(ctx context.Context, target string) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	// The transport's own reconnection stays disabled: retries are
	// owned by the backoff manager.
	conn, resp, err := websocket.Dial(dialCtx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.onConnectError(err)
		return rtcerr.Connectionf(err, "dial %s", target).With("url", target)
	}

	c.onConnected(conn)
	return nil
}

func (c *Client) onConnected(conn *websocket.Conn) {
	c.mu.Lock()
	// A Disconnect issued while this dial was in flight wins, and a
	// concurrent dial that already landed keeps its connection.
	if c.manual || c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	c.conn = conn
	c.state = types.StateConnected
	c.lastError = ""
	c.connAt = time.Now()
	c.mu.Unlock()

	c.statsMu.Lock()
	c.since = c.connAt
	c.statsMu.Unlock()

	metrics.ConnectionUp.Set(1)
	c.recon.Reset()
	c.log.Info("connected", zap.String("url", c.url))

	// Replay room membership before anything else resumes; ordering
	// relative to application traffic is not guaranteed.
	for _, key := range c.room.Tracked() {
		c.sendRoomControl(types.EventJoinRoom, key)
	}
	metrics.JoinedRooms.Set(float64(len(c.room.Tracked())))

	go c.readPump(conn)
}

func (c *Client) onConnectError(err error) {
	c.mu.Lock()
	manual := c.manual
	if !manual {
		c.state = types.StateError
		c.lastError = err.Error()
	}
	c.mu.Unlock()

	metrics.ConnectionUp.Set(0)
	c.log.Warn("connect failed", zap.Error(err))
	c.reportError(rtcerr.Connectionf(err, "connect failed"))

	if !manual {
		c.scheduleRetry()
	}
}

func (c *Client) scheduleRetry() {
	created, delay := c.recon.Schedule(c.retry)
	if created {
		c.statsMu.Lock()
		c.reconnect++
		c.statsMu.Unlock()
		metrics.ReconnectAttempts.Inc()
		c.log.Info("reconnect scheduled", zap.Duration("delay", delay))
	}
}

func (c *Client) retry() {
	c.mu.Lock()
	if c.manual || c.state == types.StateConnected || c.state == types.StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = types.StateReconnecting
	target := c.url
	c.mu.Unlock()

	_ = c.dial(context.Background(), target)
}

// Disconnect tears down the socket and stops any scheduled reconnect.
// Room membership is preserved for a future Connect; in-flight
// debounce timers keep firing locally since optimistic delivery is
// transport-independent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.state = types.StateDisconnected
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.recon.Stop()
	metrics.ConnectionUp.Set(0)

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	c.log.Info("disconnected")
}

// Close is Disconnect plus teardown of cross-tab mirroring and pending
// batch state. The client is not reusable afterwards.
func (c *Client) Close() {
	c.Disconnect()
	c.sendBatch.CancelAll()
	c.recvBatch.CancelAll()
	if c.unsubTabs != nil {
		c.unsubTabs()
	}
	c.tabs.Close()
	c.bus.Clear()
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.onReadError(conn, err)
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("bad frame", zap.Error(err))
			continue
		}
		c.handleInbound(env)
	}
}

func (c *Client) onReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	manual := c.manual
	if current {
		c.conn = nil
	}
	c.mu.Unlock()

	// Only a local Disconnect opts out of reconnection. A clean close
	// initiated by the server (normal closure, going away) is still a
	// lost connection from this side and must not strand the client in
	// a stale connected state.
	if !current || manual {
		return
	}

	metrics.ConnectionUp.Set(0)

	c.mu.Lock()
	c.state = types.StateReconnecting
	c.lastError = err.Error()
	c.mu.Unlock()

	c.log.Warn("connection lost", zap.Error(err))
	c.scheduleRetry()
}

func (c *Client) handleInbound(env types.Envelope) {
	c.statsMu.Lock()
	c.received++
	c.lastEvent = time.Now()
	c.statsMu.Unlock()
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	var payload map[string]any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.log.Warn("bad payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
	}

	if env.Event == types.EventPersistScoresAck {
		c.resolveAck(env.Data)
		return
	}

	if !c.room.Allow(payload) {
		metrics.EventsDropped.WithLabelValues(env.Event, "room_filter").Inc()
		c.log.Debug("dropped by room filter", zap.String("event", env.Event))
		return
	}

	switch env.Event {
	case types.EventUserActivity:
		c.trackActivity(payload)
	case types.EventActiveUsers:
		c.syncActiveUsers(env.Data)
	}

	if c.detectConflict(env.Event, payload) {
		return
	}

	if _, ok := batchedEvents[env.Event]; ok {
		c.recvBatch.Call(env.Event, streamKey(env.Event, payload), payload)
		return
	}
	c.bus.Publish(env.Event, payload)
}

// trackActivity folds an activity frame into the session tracker
// before it reaches subscribers.
func (c *Client) trackActivity(payload map[string]any) {
	userID, _ := payload["userId"].(string)
	if userID == "" {
		return
	}
	if action, _ := payload["action"].(string); action == "leave" {
		c.sess.Remove(userID)
		return
	}
	username, _ := payload["username"].(string)
	role, _ := payload["role"].(string)
	c.sess.Touch(userID, username, types.Role(role))
	if matchID, ok := payload["matchId"].(string); ok {
		c.sess.SetEditing(userID, matchID)
	}
}

// syncActiveUsers replaces the tracked roster with a server-provided
// snapshot. The server sends these after joins and disconnects, so
// the snapshot is authoritative over incremental activity frames.
func (c *Client) syncActiveUsers(data json.RawMessage) {
	var p struct {
		Users []session.ActiveUser `json:"users"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn("bad roster", zap.Error(err))
		return
	}
	c.sess.SyncUsers(p.Users)
}

// detectConflict applies versioned match updates to the local session
// state. A stale version is surfaced as a match_conflict event instead
// of being silently applied.
func (c *Client) detectConflict(event string, payload map[string]any) bool {
	if event != types.EventMatchUpdate && event != types.EventMatchStateChange {
		return false
	}
	version, ok := numField(payload, "version")
	if !ok || version <= 0 {
		return false
	}
	matchID, _ := payload["matchId"].(string)
	if matchID == "" {
		return false
	}

	snap := session.MatchStateSnapshot{MatchID: matchID, Version: version}
	if status, ok := payload["status"].(string); ok {
		snap.Status = types.MatchStatus(status)
	}
	if v, ok := numField(payload, "redTotal"); ok {
		snap.RedTotal = v
	}
	if v, ok := numField(payload, "blueTotal"); ok {
		snap.BlueTotal = v
	}
	if v, ok := numField(payload, "timerSeconds"); ok {
		snap.TimerSeconds = v
	}

	applied, conflict := c.sess.ApplyRemote(snap)
	if applied {
		return false
	}

	metrics.EventsDropped.WithLabelValues(event, "conflict").Inc()
	c.bus.Publish(types.EventMatchConflict, conflict)
	return true
}

// publishInbound is the receive batcher's handler.
func (c *Client) publishInbound(event string, payload map[string]any) {
	c.bus.Publish(event, payload)
}

// Emit runs the full emission pipeline for an arbitrary event. Typed
// senders are preferred; Emit exists for forward compatibility with
// server-added event names.
func (c *Client) Emit(event string, payload map[string]any) {
	if !c.authorize(event) {
		return
	}
	if _, ok := batchedEvents[event]; ok {
		c.sendBatch.Call(event, streamKey(event, payload), payload)
		return
	}
	c.deliverOutbound(event, payload)
}

func (c *Client) authorize(event string) bool {
	if c.gate.CanEmit(event) {
		return true
	}
	role := c.gate.Role()
	c.log.Warn("emission denied",
		zap.String("event", event),
		zap.String("role", string(role)),
	)
	metrics.EventsDropped.WithLabelValues(event, "permission").Inc()
	c.reportError(rtcerr.PermissionDeniedf("role %s may not emit %s", role, event).
		With("event", event).With("role", string(role)))
	return false
}

// deliverOutbound transmits over the network when connected and always
// mirrors to the local bus and sibling tabs, so same-tab consumers see
// optimistic updates even while the link is down.
func (c *Client) deliverOutbound(event string, payload map[string]any) {
	c.transmit(event, payload)
	c.bus.Publish(event, payload)
	c.tabs.Send(event, payload)
}

func (c *Client) transmit(event string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == types.StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	data, err := json.Marshal(types.Envelope{Event: event, Data: mustRaw(payload)})
	if err != nil {
		c.log.Warn("marshal failed", zap.String("event", event), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	err = conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn("write failed", zap.String("event", event), zap.Error(err))
		return
	}

	c.statsMu.Lock()
	c.sent++
	c.statsMu.Unlock()
	metrics.EventsSent.WithLabelValues(event).Inc()
}

// sendRoomControl is the room manager's transmit hook. Transport
// absence is not an error: the tracked set queues the intent for the
// replay on the next connect.
func (c *Client) sendRoomControl(event string, room types.RoomKey) {
	c.transmit(event, types.RoomPayload{Room: room})
	metrics.JoinedRooms.Set(float64(len(c.room.Tracked())))
}

// SetRoomContext converges room membership onto the given scope.
func (c *Client) SetRoomContext(ctx types.RoomContext) {
	c.room.SetContext(ctx)
}

// JoinRoom and LeaveRoom adjust membership directly. Keys must be
// tournament- or field-scoped; anything else would be tracked and
// replayed forever without the server ever routing to it.
func (c *Client) JoinRoom(key types.RoomKey) {
	if !c.validRoomKey(types.EventJoinRoom, key) {
		return
	}
	c.room.Join(key)
}

func (c *Client) LeaveRoom(key types.RoomKey) {
	if !c.validRoomKey(types.EventLeaveRoom, key) {
		return
	}
	c.room.Leave(key)
}

func (c *Client) validRoomKey(op string, key types.RoomKey) bool {
	if key.TournamentID() != "" || key.FieldID() != "" {
		return true
	}
	c.log.Warn("malformed room key", zap.String("op", op), zap.String("key", string(key)))
	c.reportError(rtcerr.RoomOperationf(nil, "%s: malformed room key %q", op, key).
		With("key", string(key)))
	return false
}

// SetUserRole switches the emission role. Unknown roles are rejected.
func (c *Client) SetUserRole(role types.Role) bool { return c.gate.SetRole(role) }

// On subscribes to an event name. The returned handle must be called
// on consumer teardown to avoid listener leaks.
func (c *Client) On(event string, fn bus.Handler) (unsubscribe func()) {
	return c.bus.Subscribe(event, fn)
}

// Sessions exposes the activity/conflict tracker.
func (c *Client) Sessions() *session.Tracker { return c.sess }

// Info returns a point-in-time copy of the connection lifecycle.
func (c *Client) Info() types.ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.ConnectionInfo{
		State:           c.state,
		LastError:       c.lastError,
		LastConnectedAt: c.connAt,
	}
}

// Stats returns a point-in-time copy of the traffic counters.
func (c *Client) Stats() types.Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return types.Stats{
		SentCount:         c.sent,
		ReceivedCount:     c.received,
		ReconnectAttempts: c.reconnect,
		LastEventAt:       c.lastEvent,
		ConnectedSince:    c.since,
	}
}

func (c *Client) reportError(err error) {
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

func (c *Client) resolveAck(data json.RawMessage) {
	var ack types.PersistScoresAck
	if err := json.Unmarshal(data, &ack); err != nil {
		c.log.Warn("bad ack", zap.Error(err))
		return
	}
	c.ackMu.Lock()
	ch, ok := c.acks[ack.RequestID]
	if ok {
		delete(c.acks, ack.RequestID)
	}
	c.ackMu.Unlock()
	if ok {
		ch <- ack
	}
}

// streamKey scopes debounce state to one logical stream: the event
// name plus the entity it concerns.
func streamKey(event string, payload map[string]any) string {
	for _, field := range []string{"matchId", "fieldId", "tournamentId"} {
		if id, ok := payload[field].(string); ok && id != "" {
			return event + ":" + id
		}
	}
	return event
}

func numField(payload map[string]any, field string) (int, bool) {
	switch v := payload[field].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func mustRaw(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}
