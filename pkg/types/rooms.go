package types

import "strings"

// RoomKey is an opaque token naming a delivery scope, either
// "tournament:<id>" or "field:<id>".
type RoomKey string

const (
	roomPrefixTournament = "tournament:"
	roomPrefixField      = "field:"
)

func TournamentRoom(id string) RoomKey { return RoomKey(roomPrefixTournament + id) }
func FieldRoom(id string) RoomKey      { return RoomKey(roomPrefixField + id) }

// TournamentID returns the id for a tournament room, or "" if the key
// is not tournament-scoped.
func (k RoomKey) TournamentID() string {
	if strings.HasPrefix(string(k), roomPrefixTournament) {
		return strings.TrimPrefix(string(k), roomPrefixTournament)
	}
	return ""
}

// FieldID returns the id for a field room, or "" if the key is not
// field-scoped.
func (k RoomKey) FieldID() string {
	if strings.HasPrefix(string(k), roomPrefixField) {
		return strings.TrimPrefix(string(k), roomPrefixField)
	}
	return ""
}

// RoomContext is the caller's desired scope. The room manager diffs it
// against current membership to compute join/leave deltas.
type RoomContext struct {
	TournamentID string `json:"tournamentId,omitempty"`
	FieldID      string `json:"fieldId,omitempty"`
}

// Rooms returns the room keys implied by the context.
func (c RoomContext) Rooms() []RoomKey {
	var keys []RoomKey
	if c.TournamentID != "" {
		keys = append(keys, TournamentRoom(c.TournamentID))
	}
	if c.FieldID != "" {
		keys = append(keys, FieldRoom(c.FieldID))
	}
	return keys
}
