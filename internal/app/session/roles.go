package session

import "github.com/telemesh/consult/internal/domain"

// NegotiationRole fixes which side of a pair creates the initial offer.
// Fixed for a connection's lifetime but recomputed from the same id
// order on every renegotiation round, so both ends always agree.
type NegotiationRole int

const (
	RoleInitiator NegotiationRole = iota
	RoleResponder
)

func (r NegotiationRole) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// ResolveRole returns the negotiation role of local toward remote. The
// side with the lexicographically smaller id initiates; the greater side
// waits. Both ends compute the same answer with no extra handshake.
func ResolveRole(local, remote domain.PeerID) NegotiationRole {
	if local.Less(remote) {
		return RoleInitiator
	}
	return RoleResponder
}

// JoinRole derives the advisory room role from the join snapshot.
// It does not affect negotiation order, so it stays correct even when
// role messages race joins.
func JoinRole(snapshot []domain.PeerID) domain.Role {
	if len(snapshot) == 0 {
		return domain.RoleFirstJoiner
	}
	return domain.RoleJoiner
}
