package types

import "time"

// ConnectionState tracks the transport lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// ConnectionInfo is a point-in-time copy of the connection lifecycle;
// callers never receive a live reference.
type ConnectionInfo struct {
	State           ConnectionState `json:"state"`
	LastError       string          `json:"lastError,omitempty"`
	LastConnectedAt time.Time       `json:"lastConnectedAt,omitempty"`
}

// Stats is a point-in-time copy of traffic counters.
type Stats struct {
	SentCount         int64     `json:"sentCount"`
	ReceivedCount     int64     `json:"receivedCount"`
	ReconnectAttempts int64     `json:"reconnectAttempts"`
	LastEventAt       time.Time `json:"lastEventAt,omitempty"`
	ConnectedSince    time.Time `json:"connectedSince,omitempty"`
}

// Role identifies what a connected user is allowed to emit.
type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleHeadReferee     Role = "HEAD_REFEREE"
	RoleAllianceReferee Role = "ALLIANCE_REFEREE"
	RoleTeamLeader      Role = "TEAM_LEADER"
	RoleCommon          Role = "COMMON"
)
