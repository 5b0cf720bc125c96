package session

import (
	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

// handleMediaState applies a remote participant's track toggles to the
// local view.
func (s *Session) handleMediaState(msg core.SignalMessage) {
	if msg.Media == nil {
		s.logger.Warn().Str("from", string(msg.From)).Msg("media-state without payload, dropped")
		return
	}
	s.setVideoFlag(msg.From, msg.Media.Video)
}

func (s *Session) handleRemoteTrack(id domain.PeerID, kind core.TrackKind) {
	// Audio feeds the connection's level meter; only video surfaces a flag.
	if kind != core.TrackVideo {
		return
	}
	s.setVideoFlag(id, true)
}

// handleRemoteTrackEnded treats a vanished track the same as a disabled
// one for display purposes. It is never a reason to drop the peer.
func (s *Session) handleRemoteTrackEnded(id domain.PeerID, kind core.TrackKind) {
	if kind != core.TrackVideo {
		return
	}
	s.setVideoFlag(id, false)
}

func (s *Session) setVideoFlag(id domain.PeerID, enabled bool) {
	s.mu.Lock()
	part, ok := s.members.get(id)
	changed := ok && part.VideoEnabled != enabled
	if changed {
		part.VideoEnabled = enabled
	}
	s.mu.Unlock()

	if changed && s.hooks.OnVideoToggled != nil {
		s.hooks.OnVideoToggled(id, enabled)
	}
}
