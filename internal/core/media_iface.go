package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/telemesh/consult/internal/domain"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is one publishable local media track. Tracks are shared
// read-only across all peer connections; toggling is done by
// enabling/disabling the existing track, never by re-attaching.
type LocalTrack interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	RTP() *webrtc.TrackLocalStaticRTP
}

// MediaSource supplies the local audio/video tracks.
type MediaSource interface {
	// Tracks acquires (or returns the already-acquired) local tracks.
	// Acquisition failure is fatal to joining.
	Tracks() ([]LocalTrack, error)
	SetTrackEnabled(kind TrackKind, enabled bool)
	// Stop releases capture resources. Idempotent.
	Stop()
}

// LevelSource exposes a sampled audio-energy reading. The second return
// is false while no reading is available (no audio track yet, or the
// source just went away).
type LevelSource interface {
	Level() (float64, bool)
}

// MediaConnection is one peer connection toward a single remote
// participant. Callback setters must be wired before Start.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources. Idempotent.
	Close()
	IsClosed() bool

	// CreateAndSetOffer builds a local offer and marks it pending until
	// the matching answer (or a rollback) lands.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote candidate, buffering it until a
	// remote description exists.
	AddICECandidate(webrtc.ICECandidateInit) error
	// Rollback abandons the pending local offer.
	Rollback() error
	HasPendingLocalOffer() bool

	// AddLocalTrack attaches a local static RTP track to the underlying
	// PeerConnection. Called exactly once per track, at creation time.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.PeerConnectionState))
	OnNegotiationNeeded(func())
	OnTrack(func(kind TrackKind))
	OnTrackEnded(func(kind TrackKind))

	// Level reports the smoothed inbound audio energy.
	Level() (float64, bool)
}

// MediaDialer constructs a MediaConnection toward a remote participant.
type MediaDialer func(remote domain.PeerID) (MediaConnection, error)
