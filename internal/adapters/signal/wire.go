package signal

import (
	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

// Frame type names on the relay wire.
const (
	TypeJoinRoom   = "join-room"
	TypeLeaveRoom  = "leave-room"
	TypeWelcome    = "welcome"
	TypeAllUsers   = "all-users"
	TypeUserRole   = "user-role"
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-disconnected"
	TypeSignal     = "signal"
	TypeError      = "error"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Wire is the relay frame. One struct for every frame type keeps the
// codec dumb; unused fields stay empty. Signal payloads pass through
// the relay uninterpreted.
type Wire struct {
	Type    string              `json:"type"`
	Room    domain.RoomID       `json:"roomId,omitempty"`
	Mode    domain.RoomMode     `json:"mode,omitempty"`
	ID      domain.PeerID       `json:"id,omitempty"`
	Users   []domain.PeerID     `json:"users,omitempty"`
	Role    domain.Role         `json:"role,omitempty"`
	IsFirst bool                `json:"isFirst,omitempty"`
	Signal  *core.SignalMessage `json:"signal,omitempty"`
	Error   string              `json:"error,omitempty"`
}
