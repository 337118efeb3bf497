// Package session tracks who is connected, what match they are
// editing, and a versioned snapshot of match state used to detect
// conflicting concurrent writes. Detection is mandatory; resolution is
// left to subscribers.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thanhkt275/rms-realtime/pkg/types"
)

// ActiveUser is a session-scoped record of a connected operator.
type ActiveUser struct {
	UserID         string     `json:"userId"`
	Username       string     `json:"username,omitempty"`
	Role           types.Role `json:"role,omitempty"`
	EditingMatchID string     `json:"editingMatchId,omitempty"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	LastSeenAt     time.Time  `json:"lastSeenAt"`
}

// MatchStateSnapshot is the versioned timer/score/state record for one
// match. Version increments on every accepted update.
type MatchStateSnapshot struct {
	MatchID      string            `json:"matchId"`
	Status       types.MatchStatus `json:"status,omitempty"`
	RedTotal     int               `json:"redTotal"`
	BlueTotal    int               `json:"blueTotal"`
	TimerSeconds int               `json:"timerSeconds"`
	TimerRunning bool              `json:"timerRunning"`
	Version      int               `json:"version"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Conflict describes an inbound update whose version is not newer than
// the locally held one.
type Conflict struct {
	MatchID       string             `json:"matchId"`
	LocalVersion  int                `json:"localVersion"`
	RemoteVersion int                `json:"remoteVersion"`
	Remote        MatchStateSnapshot `json:"remote"`
}

// Tracker owns the session records. All mutation goes through its
// methods.
type Tracker struct {
	mu      sync.RWMutex
	users   map[string]*ActiveUser
	matches map[string]*MatchStateSnapshot
	now     func() time.Time
	log     *zap.Logger
}

func NewTracker(log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		users:   make(map[string]*ActiveUser),
		matches: make(map[string]*MatchStateSnapshot),
		now:     time.Now,
		log:     log,
	}
}

// SetClock overrides the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Touch records activity for a user, creating the record on first
// sight.
func (t *Tracker) Touch(userID, username string, role types.Role) ActiveUser {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	if !ok {
		u = &ActiveUser{UserID: userID, ConnectedAt: t.now()}
		t.users[userID] = u
	}
	if username != "" {
		u.Username = username
	}
	if role != "" {
		u.Role = role
	}
	u.LastSeenAt = t.now()
	return *u
}

// SetEditing marks which match a user is editing ("" to clear).
func (t *Tracker) SetEditing(userID, matchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.users[userID]; ok {
		u.EditingMatchID = matchID
		u.LastSeenAt = t.now()
	}
}

// Remove drops a user's session record.
func (t *Tracker) Remove(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}

// SyncUsers replaces the roster with an authoritative snapshot,
// discarding locally accumulated records.
func (t *Tracker) SyncUsers(users []ActiveUser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users = make(map[string]*ActiveUser, len(users))
	for i := range users {
		u := users[i]
		if u.UserID == "" {
			continue
		}
		t.users[u.UserID] = &u
	}
}

// ActiveUsers returns a snapshot of all session records.
func (t *Tracker) ActiveUsers() []ActiveUser {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ActiveUser, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, *u)
	}
	return out
}

// Match returns the current snapshot for a match.
func (t *Tracker) Match(matchID string) (MatchStateSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.matches[matchID]; ok {
		return *s, true
	}
	return MatchStateSnapshot{}, false
}

// ApplyLocal mutates the match snapshot and increments its version.
// Every locally-applied mutation is versioned so remote echoes can be
// ordered against it.
func (t *Tracker) ApplyLocal(matchID string, mutate func(*MatchStateSnapshot)) MatchStateSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.matches[matchID]
	if !ok {
		s = &MatchStateSnapshot{MatchID: matchID}
		t.matches[matchID] = s
	}
	mutate(s)
	s.MatchID = matchID
	s.Version++
	s.UpdatedAt = t.now()
	return *s
}

// ApplyRemote accepts an inbound snapshot only when its version is
// strictly greater than the local one. Otherwise the update is a
// conflict and must not be silently applied.
func (t *Tracker) ApplyRemote(snap MatchStateSnapshot) (applied bool, conflict *Conflict) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.matches[snap.MatchID]
	if ok && snap.Version <= cur.Version {
		t.log.Warn("conflicting match update",
			zap.String("matchId", snap.MatchID),
			zap.Int("localVersion", cur.Version),
			zap.Int("remoteVersion", snap.Version),
		)
		return false, &Conflict{
			MatchID:       snap.MatchID,
			LocalVersion:  cur.Version,
			RemoteVersion: snap.Version,
			Remote:        snap,
		}
	}

	copied := snap
	copied.UpdatedAt = t.now()
	t.matches[snap.MatchID] = &copied
	return true, nil
}
