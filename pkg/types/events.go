package types

import "encoding/json"

// Wire contract with the socket server: every logical message is an
// (event name, JSON payload) pair.

const (
	EventScoreUpdate       = "score_update"
	EventTimerUpdate       = "timer_update"
	EventTimerStart        = "timer_start"
	EventTimerPause        = "timer_pause"
	EventTimerReset        = "timer_reset"
	EventMatchUpdate       = "match_update"
	EventMatchStateChange  = "match_state_change"
	EventDisplayModeChange = "display_mode_change"
	EventAnnouncement      = "announcement"
	EventRankingUpdate     = "ranking_update"
	EventUserActivity      = "user_activity"
	EventActiveUsers       = "active_users"
	EventMatchConflict     = "match_conflict"

	// Room management control messages.
	EventJoinRoom  = "join_room"
	EventLeaveRoom = "leave_room"

	// Ack'd persistence.
	EventPersistScores    = "persist_scores"
	EventPersistScoresAck = "persist_scores_ack"
)

// Scoping fields recognized on inbound payloads.
const (
	FieldTournamentID = "tournamentId"
	FieldFieldID      = "fieldId"
	FieldRoomKey      = "roomKey"
	FieldBroadcast    = "broadcast"
)

// Envelope is the raw frame exchanged with the server.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload is carried by join_room / leave_room control messages.
type RoomPayload struct {
	Room RoomKey `json:"room"`
}
