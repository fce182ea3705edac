package wire

import "encoding/json"

// Every message on the wire is a JSON object with a "type" discriminator.
// Unknown types are ignored by both sides, never fatal.
type Type string

const (
	// Lobby membership
	TypePlayerJoined    Type = "playerJoined"
	TypePlayerLeft      Type = "playerLeft"
	TypeLeaderChanged   Type = "leaderChanged"
	TypeSettingsChanged Type = "settingsChanged"
	TypeUpdate          Type = "update"

	// Match lifecycle
	TypeStart          Type = "start"
	TypeEnd            Type = "end"
	TypeSuspended      Type = "suspended"
	TypeResumed        Type = "resumed"
	TypeStopCountdown  Type = "stopCountdown"
	TypePlayerRejoined Type = "playerRejoined"
	TypePlayerState    Type = "playerState"

	// Physical state (relayed, never interpreted)
	TypeBallUpdate      Type = "ballUpdate"
	TypePaddleCollision Type = "paddleCollision"
	TypeWallCollision   Type = "wallCollision"
	TypeGoal            Type = "goal"

	// Inputs (relayed, never interpreted)
	TypeUp       Type = "up"
	TypeDown     Type = "down"
	TypePause    Type = "pause"
	TypeResume   Type = "resume"
	TypePowerUp1 Type = "powerUp1"
	TypePowerUp2 Type = "powerUp2"
	TypePowerUp3 Type = "powerUp3"

	// Targeted notifications (sent to one user, not lobby-broadcast)
	TypeInvite         Type = "invite"
	TypeInviteAccepted Type = "inviteAccepted"
	TypeInviteRejected Type = "inviteRejected"

	TypeError Type = "error"
)

// IsPhysical reports whether t is a physical-state relay event.
func (t Type) IsPhysical() bool {
	switch t {
	case TypeBallUpdate, TypePaddleCollision, TypeWallCollision, TypeGoal:
		return true
	}
	return false
}

// IsInput reports whether t is a player input relay event.
func (t Type) IsInput() bool {
	switch t {
	case TypeUp, TypeDown, TypePause, TypeResume, TypePowerUp1, TypePowerUp2, TypePowerUp3:
		return true
	}
	return false
}

// IsInvite reports whether t is a targeted invite notification.
func (t Type) IsInvite() bool {
	switch t {
	case TypeInvite, TypeInviteAccepted, TypeInviteRejected:
		return true
	}
	return false
}

// Vec3 is a 3D coordinate or velocity as the renderer produces it.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// BallState is the full position+velocity snapshot every ballUpdate
// carries. Last write wins; there is no global order across peers.
type BallState struct {
	Position Vec3 `json:"position"`
	Velocity Vec3 `json:"velocity"`
}

// ClientEvent is an inbound message from a peer. Data is opaque to the
// core for physical-state and input events and relayed byte-for-byte.
type ClientEvent struct {
	Type     Type            `json:"type"`
	LobbyID  string          `json:"lobby_id,omitempty"`
	Target   string          `json:"target,omitempty"` // invites: destination user id
	Ready    bool            `json:"ready,omitempty"`  // playerState
	WinnerID string          `json:"winner_id,omitempty"`
	Settings map[string]any  `json:"settings,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is an outbound message to a peer.
type ServerEvent struct {
	Type         Type            `json:"type"`
	LobbyID      string          `json:"lobby_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"` // acting user, where one exists
	Lobby        *LobbySnapshot  `json:"lobby,omitempty"`   // always set on "update"
	Ball         *BallState      `json:"ball,omitempty"`    // resync payload on "resumed"
	Ready        *bool           `json:"ready,omitempty"`   // readiness on "playerState"
	CountdownSec int             `json:"countdown_sec,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Code         string          `json:"code,omitempty"` // error taxonomy tag
	Error        string          `json:"error,omitempty"`
}

// MemberSnapshot mirrors one lobby slot.
type MemberSnapshot struct {
	UserID    string `json:"user_id"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
	JoinedAt  int64  `json:"joined_at"` // unix millis
}

// LobbySnapshot is the complete lobby state. A client that missed any
// number of intermediate events can resynchronize from a single one.
type LobbySnapshot struct {
	ID           string           `json:"id"`
	LeaderID     string           `json:"leader_id"`
	Status       string           `json:"status"`
	MaxPlayers   int              `json:"max_players"`
	Members      []MemberSnapshot `json:"members"`
	Settings     map[string]any   `json:"settings"`
	Player1Ready bool             `json:"player1_ready"`
	Player2Ready bool             `json:"player2_ready"`
	CreatedAt    int64            `json:"created_at"`
}
