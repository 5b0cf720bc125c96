package core

import (
	"context"

	"github.com/telemesh/consult/internal/domain"
)

type EventKind int

const (
	EventPeerJoined EventKind = iota
	EventPeerLeft
	EventRoleAssigned
	EventSignal
)

// SignalEvent is one relay notification delivered after the join snapshot.
type SignalEvent struct {
	Kind  EventKind
	Peer  domain.PeerID
	Role  domain.Role
	First bool
	Msg   *SignalMessage
}

// SignalChannel abstracts the bidirectional event transport to the relay.
// Owned by the adapter; the session must Close() it on leave.
type SignalChannel interface {
	// LocalID returns the connection identifier assigned by the relay.
	LocalID() domain.PeerID
	// Join requests room membership and returns the initial participant
	// snapshot, delivered once per successful join.
	Join(ctx context.Context, room domain.RoomID, mode domain.RoomMode) ([]domain.PeerID, error)
	// Send relays a signal envelope to the peer named in msg.To.
	Send(msg SignalMessage) error
	// Events delivers notifications after the snapshot. The channel is
	// closed when the relay connection is lost.
	Events() <-chan SignalEvent
	Close()
}
