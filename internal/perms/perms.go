// Package perms gates client-side emissions by user role. The gate is
// advisory: the server re-validates every emission, this layer exists
// for immediate UX feedback and to avoid wasted round-trips.
package perms

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/thanhkt275/rms-realtime/pkg/types"
)

// AllEvents is the wildcard entry granting every event name.
const AllEvents = "*"

// Matrix maps a role to either the wildcard or an explicit allow-list.
// A role with no entry has zero permissions.
type Matrix map[types.Role][]string

// DefaultMatrix mirrors the server's role model.
func DefaultMatrix() Matrix {
	return Matrix{
		types.RoleAdmin:       {AllEvents},
		types.RoleHeadReferee: {AllEvents},
		types.RoleAllianceReferee: {
			types.EventScoreUpdate,
			types.EventPersistScores,
		},
		types.RoleTeamLeader: {
			types.EventAnnouncement,
		},
		types.RoleCommon: {},
	}
}

// Gate holds the active role and its matrix. All mutation goes through
// SetRole; nothing else writes the role.
type Gate struct {
	mu     sync.RWMutex
	matrix Matrix
	role   types.Role
	log    *zap.Logger
}

func NewGate(matrix Matrix, log *zap.Logger) *Gate {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{matrix: matrix, log: log}
}

// SetRole switches the active role. Unknown roles are rejected with a
// logged warning; the previous role stays in effect (fail closed).
func (g *Gate) SetRole(role types.Role) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.matrix[role]; !ok {
		g.log.Warn("unknown role, keeping current permissions", zap.String("role", string(role)))
		return false
	}
	g.role = role
	return true
}

// Role returns the active role.
func (g *Gate) Role() types.Role {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.role
}

// CanEmit reports whether the active role may emit the event. Absence
// of a role entry means zero permissions.
func (g *Gate) CanEmit(event string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	allowed, ok := g.matrix[g.role]
	if !ok {
		return false
	}
	if slices.Contains(allowed, AllEvents) {
		return true
	}
	return slices.Contains(allowed, event)
}
