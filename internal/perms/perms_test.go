package perms

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thanhkt275/rms-realtime/pkg/types"
)

func TestGate_CanEmit(t *testing.T) {
	matrix := Matrix{
		types.RoleAdmin:           {AllEvents},
		types.RoleAllianceReferee: {types.EventScoreUpdate},
		types.RoleCommon:          {},
	}

	tests := []struct {
		name  string
		role  types.Role
		event string
		want  bool
	}{
		{"wildcard role allows anything", types.RoleAdmin, types.EventDisplayModeChange, true},
		{"explicit list allows member", types.RoleAllianceReferee, types.EventScoreUpdate, true},
		{"explicit list rejects non-member", types.RoleAllianceReferee, types.EventTimerUpdate, false},
		{"empty list rejects everything", types.RoleCommon, types.EventScoreUpdate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(matrix, nil)
			assert.True(t, g.SetRole(tt.role))
			assert.Equal(t, tt.want, g.CanEmit(tt.event))
		})
	}
}

func TestGate_NoRoleSetFailsClosed(t *testing.T) {
	g := NewGate(Matrix{types.RoleAdmin: {AllEvents}}, nil)
	assert.False(t, g.CanEmit(types.EventScoreUpdate))
}

func TestGate_UnknownRoleRejectedAndPreviousKept(t *testing.T) {
	g := NewGate(nil, nil)
	assert.True(t, g.SetRole(types.RoleHeadReferee))

	assert.False(t, g.SetRole(types.Role("SCOREKEEPER")))
	assert.Equal(t, types.RoleHeadReferee, g.Role())
	assert.True(t, g.CanEmit(types.EventTimerStart))
}

func TestDefaultMatrix_AllianceRefereeScoresOnly(t *testing.T) {
	g := NewGate(nil, nil)
	g.SetRole(types.RoleAllianceReferee)

	assert.True(t, g.CanEmit(types.EventScoreUpdate))
	assert.True(t, g.CanEmit(types.EventPersistScores))
	assert.False(t, g.CanEmit(types.EventTimerUpdate))
	assert.False(t, g.CanEmit(types.EventAnnouncement))
}
