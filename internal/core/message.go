package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/telemesh/consult/internal/domain"
)

// PayloadKind discriminates the negotiation payload inside a signal envelope.
type PayloadKind string

const (
	PayloadOffer      PayloadKind = "offer"
	PayloadAnswer     PayloadKind = "answer"
	PayloadCandidate  PayloadKind = "candidate"
	PayloadMediaState PayloadKind = "media-state"
)

// MediaState mirrors the sender's local track toggles. Toggles travel as
// signal payloads so the receiving side flips flags without renegotiation.
type MediaState struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// SignalMessage is the relay envelope. The relay reads To/From only and
// never interprets the payload. Transient; never persisted.
type SignalMessage struct {
	To        domain.PeerID              `json:"to,omitempty"`
	From      domain.PeerID              `json:"from,omitempty"`
	Kind      PayloadKind                `json:"kind"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Media     *MediaState                `json:"media,omitempty"`
}
