package domain

// Role is the advisory join-order role. It labels who opened the room;
// negotiation order is decided by id comparison, never by Role.
type Role string

const (
	RoleFirstJoiner Role = "first-joiner"
	RoleJoiner      Role = "joiner"
)

// Participant is the local view of one remote peer in a room.
type Participant struct {
	ID            PeerID `json:"id"`
	Role          Role   `json:"role,omitempty"`
	VideoEnabled  bool   `json:"video_enabled"`
	ActiveSpeaker bool   `json:"active_speaker"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id PeerID) *Participant {
	return &Participant{ID: id}
}
