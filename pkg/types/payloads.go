package types

// Typed payloads for the domain senders. Each struct is the precise
// shape for one event name; the senders validate these before anything
// reaches the emission pipeline.

// ScoreUpdate carries either full alliance totals or a scoped partial
// update (alliance + component + delta) for live score entry.
type ScoreUpdate struct {
	MatchID      string `json:"matchId"`
	TournamentID string `json:"tournamentId,omitempty"`
	FieldID      string `json:"fieldId,omitempty"`
	RedTotal     *int   `json:"redTotal,omitempty"`
	BlueTotal    *int   `json:"blueTotal,omitempty"`
	Alliance     string `json:"alliance,omitempty"`
	Component    string `json:"component,omitempty"`
	Delta        *int   `json:"delta,omitempty"`
	Broadcast    bool   `json:"broadcast,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

// HasTotals reports whether both alliance totals are present.
func (s ScoreUpdate) HasTotals() bool { return s.RedTotal != nil && s.BlueTotal != nil }

// HasPartial reports whether the update is a scoped partial change.
func (s ScoreUpdate) HasPartial() bool {
	return s.Alliance != "" && s.Component != "" && s.Delta != nil
}

// TimerUpdate is a periodic tick for a match timer. Only the most
// recent value matters to consumers.
type TimerUpdate struct {
	MatchID      string `json:"matchId"`
	TournamentID string `json:"tournamentId,omitempty"`
	FieldID      string `json:"fieldId,omitempty"`
	Seconds      int    `json:"seconds"`
	Running      bool   `json:"running"`
	Broadcast    bool   `json:"broadcast,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

// MatchStatus values mirror the server's match lifecycle.
type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
	MatchCancelled  MatchStatus = "cancelled"
)

// MatchUpdate is a generic mutation of match metadata.
type MatchUpdate struct {
	MatchID      string         `json:"matchId"`
	TournamentID string         `json:"tournamentId,omitempty"`
	FieldID      string         `json:"fieldId,omitempty"`
	Status       MatchStatus    `json:"status,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	Version      int            `json:"version,omitempty"`
	Broadcast    bool           `json:"broadcast,omitempty"`
}

// MatchStateChange announces a lifecycle transition.
type MatchStateChange struct {
	MatchID      string      `json:"matchId"`
	TournamentID string      `json:"tournamentId,omitempty"`
	FieldID      string      `json:"fieldId,omitempty"`
	Status       MatchStatus `json:"status"`
	Version      int         `json:"version,omitempty"`
	Broadcast    bool        `json:"broadcast,omitempty"`
}

// DisplayModeChange switches what an audience display is showing.
type DisplayModeChange struct {
	TournamentID string `json:"tournamentId,omitempty"`
	FieldID      string `json:"fieldId,omitempty"`
	Mode         string `json:"mode"`
	MatchID      string `json:"matchId,omitempty"`
	Broadcast    bool   `json:"broadcast,omitempty"`
}

// Announcement is operator-facing text pushed to displays.
type Announcement struct {
	TournamentID string `json:"tournamentId,omitempty"`
	FieldID      string `json:"fieldId,omitempty"`
	Message      string `json:"message"`
	DurationSec  int    `json:"durationSec,omitempty"`
	Broadcast    bool   `json:"broadcast,omitempty"`
}

// Ranking is one row of a tournament ranking table.
type Ranking struct {
	TeamID string `json:"teamId"`
	Rank   int    `json:"rank"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
	Ties   int    `json:"ties"`
	Points int    `json:"points"`
}

// RankingUpdate replaces the ranking table for a tournament.
type RankingUpdate struct {
	TournamentID string    `json:"tournamentId"`
	Rankings     []Ranking `json:"rankings"`
	Broadcast    bool      `json:"broadcast,omitempty"`
}

// PersistScoresRequest asks the server to durably store final scores.
// It is the one ack'd operation in the protocol.
type PersistScoresRequest struct {
	MatchID      string `json:"matchId"`
	TournamentID string `json:"tournamentId,omitempty"`
	RedTotal     int    `json:"redTotal"`
	BlueTotal    int    `json:"blueTotal"`
	RequestID    string `json:"requestId"`
}

// PersistScoresAck is the server's reply to PersistScoresRequest.
type PersistScoresAck struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}
