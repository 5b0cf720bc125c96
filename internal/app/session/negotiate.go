package session

import (
	"context"

	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

// handleSignal drives the per-connection negotiation state machine from
// inbound relay envelopes. Malformed or unexpected messages are dropped
// with a diagnostic; a single bad message never takes the session down.
func (s *Session) handleSignal(ctx context.Context, msg core.SignalMessage) {
	if msg.From == "" {
		s.logger.Warn().Str("kind", string(msg.Kind)).Msg("signal without sender, dropped")
		return
	}
	switch msg.Kind {
	case core.PayloadOffer:
		s.handleOffer(ctx, msg)
	case core.PayloadAnswer:
		s.handleAnswer(msg)
	case core.PayloadCandidate:
		s.handleCandidate(ctx, msg)
	case core.PayloadMediaState:
		s.handleMediaState(msg)
	default:
		s.logger.Warn().Str("kind", string(msg.Kind)).Str("from", string(msg.From)).Msg("unknown signal payload, dropped")
	}
}

// handleOffer answers a remote offer. An offer may be the first thing we
// hear about a peer (signals can beat the join notification), so the
// connection is created on first knowledge.
func (s *Session) handleOffer(ctx context.Context, msg core.SignalMessage) {
	from := msg.From
	if msg.SDP == nil {
		s.logger.Warn().Str("from", string(from)).Msg("offer without sdp, dropped")
		return
	}

	s.mu.Lock()
	if !s.members.joined() {
		s.mu.Unlock()
		s.logger.Warn().Str("from", string(from)).Msg("offer while not joined, dropped")
		return
	}
	part, created, err := s.ensurePeerLocked(ctx, from)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("from", string(from)).Msg("offer: create connection")
		return
	}
	p, _ := s.reg.get(from)
	s.mu.Unlock()

	if created && s.hooks.OnParticipantJoined != nil {
		s.hooks.OnParticipantJoined(*part)
	}

	if p.conn.HasPendingLocalOffer() {
		// Glare. The id tie-break decides: our offer wins when we are
		// the initiator for this pair, otherwise ours rolls back.
		if p.role == RoleInitiator {
			s.logger.Warn().Str("from", string(from)).Msg("glare: responder offer discarded")
			return
		}
		if err := p.conn.Rollback(); err != nil {
			s.logger.Error().Err(err).Str("from", string(from)).Msg("glare: rollback")
			return
		}
		s.logger.Info().Str("from", string(from)).Msg("glare: local offer rolled back")
	}

	answer, err := p.conn.ApplyOfferAndCreateAnswer(*msg.SDP)
	if err != nil {
		s.logger.Error().Err(err).Str("from", string(from)).Msg("apply offer")
		return
	}
	s.sendSignal(core.SignalMessage{To: from, Kind: core.PayloadAnswer, SDP: answer})
}

func (s *Session) handleAnswer(msg core.SignalMessage) {
	from := msg.From
	if msg.SDP == nil {
		s.logger.Warn().Str("from", string(from)).Msg("answer without sdp, dropped")
		return
	}

	s.mu.Lock()
	p, ok := s.reg.get(from)
	s.mu.Unlock()
	if !ok {
		s.logger.Warn().Str("from", string(from)).Msg("answer for unknown peer, dropped")
		return
	}
	if !p.conn.HasPendingLocalOffer() {
		s.logger.Warn().Str("from", string(from)).Msg("answer with no prior offer, dropped")
		return
	}
	if err := p.conn.ApplyAnswer(*msg.SDP); err != nil {
		s.logger.Error().Err(err).Str("from", string(from)).Msg("apply answer")
	}
}

func (s *Session) handleCandidate(ctx context.Context, msg core.SignalMessage) {
	from := msg.From
	if msg.Candidate == nil {
		s.logger.Warn().Str("from", string(from)).Msg("candidate without payload, dropped")
		return
	}

	s.mu.Lock()
	if !s.members.joined() {
		s.mu.Unlock()
		s.logger.Warn().Str("from", string(from)).Msg("candidate while not joined, dropped")
		return
	}
	_, _, err := s.ensurePeerLocked(ctx, from)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("from", string(from)).Msg("candidate: create connection")
		return
	}
	p, _ := s.reg.get(from)
	s.mu.Unlock()

	// The connection buffers candidates that beat the remote
	// description; nothing to coordinate here.
	if err := p.conn.AddICECandidate(*msg.Candidate); err != nil {
		s.logger.Error().Err(err).Str("from", string(from)).Msg("add ice candidate")
	}
}

// handleNegotiationNeeded re-runs the tie-break on every round instead
// of assuming the original initiator stays initiator. The role derives
// from the same id order, so both ends keep agreeing.
func (s *Session) handleNegotiationNeeded(id domain.PeerID) {
	s.mu.Lock()
	p, ok := s.reg.get(id)
	local := s.reg.local
	s.mu.Unlock()
	if !ok || p.conn.IsClosed() {
		return
	}
	if ResolveRole(local, id) != RoleInitiator {
		// Responder waits for the initiator's offer.
		return
	}
	offer, err := p.conn.CreateAndSetOffer()
	if err != nil {
		s.logger.Error().Err(err).Str("peer", string(id)).Msg("create offer")
		return
	}
	s.sendSignal(core.SignalMessage{To: id, Kind: core.PayloadOffer, SDP: offer})
}
