// Package domain contains plain entities and ids, no behavior
package domain

import "github.com/google/uuid"

// PeerID is an opaque connection identifier assigned by the relay.
// Nothing about its format is assumed beyond comparability: the
// ordering used for negotiation tie-breaks is plain lexicographic.
type PeerID string

func NewPeerID() PeerID { return PeerID(uuid.NewString()) }

// Less reports whether p orders before other lexicographically.
func (p PeerID) Less(other PeerID) bool { return p < other }

type (
	RoomID   string
	RoomMode string
)

const (
	// ModeDefault is an ordinary consultation room.
	ModeDefault RoomMode = ""
	// ModeAgent flags a room joined by a headless agent participant.
	ModeAgent RoomMode = "agent"
)
