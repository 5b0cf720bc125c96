package session

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/domain"
)

type membershipState int

const (
	stateDisconnected membershipState = iota
	stateJoining
	stateJoined
)

func (s membershipState) String() string {
	switch s {
	case stateJoining:
		return "joining"
	case stateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

var ErrAlreadyJoined = errors.New("already joined")

// membership is the authoritative local view of which remote
// participants exist in the room. Not safe for concurrent use;
// the session serializes access.
type membership struct {
	state        membershipState
	room         domain.RoomID
	participants map[domain.PeerID]*domain.Participant
}

func newMembership() *membership {
	return &membership{participants: make(map[domain.PeerID]*domain.Participant)}
}

func (m *membership) beginJoin(room domain.RoomID) error {
	if m.state != stateDisconnected {
		return ErrAlreadyJoined
	}
	m.state = stateJoining
	m.room = room
	return nil
}

func (m *membership) completeJoin() {
	if m.state == stateJoining {
		m.state = stateJoined
	}
}

func (m *membership) abortJoin() {
	if m.state == stateJoining {
		m.state = stateDisconnected
		m.room = ""
	}
}

func (m *membership) joined() bool { return m.state == stateJoined }

// add records a previously-unseen remote id. The second return is false
// when the id was already known.
func (m *membership) add(id domain.PeerID) (*domain.Participant, bool) {
	if p, ok := m.participants[id]; ok {
		return p, false
	}
	p := domain.NewParticipant(id)
	m.participants[id] = p
	log.Debug().Str("module", "session.membership").Str("peer", string(id)).Msg("participant added")
	return p, true
}

func (m *membership) remove(id domain.PeerID) bool {
	if _, ok := m.participants[id]; !ok {
		return false
	}
	delete(m.participants, id)
	log.Debug().Str("module", "session.membership").Str("peer", string(id)).Msg("participant removed")
	return true
}

func (m *membership) get(id domain.PeerID) (*domain.Participant, bool) {
	p, ok := m.participants[id]
	return p, ok
}

func (m *membership) ids() []domain.PeerID {
	out := make([]domain.PeerID, 0, len(m.participants))
	for id := range m.participants {
		out = append(out, id)
	}
	return out
}

func (m *membership) snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, *p)
	}
	return out
}

// reset empties the membership and re-enters disconnected, returning the
// ids that were dropped. Each re-entry starts from an empty view so
// stale peer connections are never silently resurrected.
func (m *membership) reset() []domain.PeerID {
	dropped := m.ids()
	m.participants = make(map[domain.PeerID]*domain.Participant)
	m.state = stateDisconnected
	m.room = ""
	return dropped
}
