// Package session implements the client-side call orchestrator: one
// Session owns its signal channel handle, its peer-connection registry
// and its speaker detector, so independent rooms never share state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

// Hooks are the session's upward-facing callbacks. All of them are
// optional and are invoked outside the session lock.
type Hooks struct {
	OnParticipantJoined func(p domain.Participant)
	OnParticipantLeft   func(id domain.PeerID)
	OnVideoToggled      func(id domain.PeerID, enabled bool)
	OnActiveSpeaker     func(id domain.PeerID, ok bool)
	OnRoleAssigned      func(role domain.Role, isFirst bool)
	OnChannelLost       func()
}

type Options struct {
	SpeakerInterval  time.Duration
	SpeakerThreshold float64
	// LocalLevel, when set, includes the local source in speaker polling.
	LocalLevel core.LevelSource
}

type Session struct {
	channel core.SignalChannel
	source  core.MediaSource
	hooks   Hooks
	logger  zerolog.Logger

	mu      sync.Mutex
	reg     *registry
	members *membership
	role    domain.Role
	local   core.MediaState
	tracks  []core.LocalTrack
	cancel  context.CancelFunc
	left    bool

	localLevel core.LevelSource
	detector   *speakerDetector
}

func New(
	channel core.SignalChannel,
	source core.MediaSource,
	dial core.MediaDialer,
	hooks Hooks,
	opts Options,
) *Session {
	s := &Session{
		channel:    channel,
		source:     source,
		hooks:      hooks,
		logger:     log.With().Str("module", "session").Str("sid", string(channel.LocalID())).Logger(),
		reg:        newRegistry(channel.LocalID(), dial),
		members:    newMembership(),
		local:      core.MediaState{Audio: true, Video: true},
		localLevel: opts.LocalLevel,
	}
	s.detector = newSpeakerDetector(
		opts.SpeakerInterval,
		opts.SpeakerThreshold,
		s.levelSources,
		s.onSpeakerChange,
	)
	return s
}

// Join acquires local media, registers with the relay and connects to
// every participant in the snapshot. Media acquisition failure is fatal
// and surfaced to the caller; no retry here.
func (s *Session) Join(ctx context.Context, room domain.RoomID, mode domain.RoomMode) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return fmt.Errorf("session already left")
	}
	if err := s.members.beginJoin(room); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	tracks, err := s.source.Tracks()
	if err != nil {
		s.abortJoin()
		return fmt.Errorf("acquire local media: %w", err)
	}

	snapshot, err := s.channel.Join(ctx, room, mode)
	if err != nil {
		s.abortJoin()
		return fmt.Errorf("join room %s: %w", room, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.tracks = tracks
	s.cancel = cancel
	s.role = JoinRole(snapshot)
	s.members.completeJoin()
	role := s.role
	added := make([]domain.Participant, 0, len(snapshot))
	for _, id := range snapshot {
		part, created, err := s.ensurePeerLocked(runCtx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("peer", string(id)).Msg("connect to snapshot peer")
			continue
		}
		if created {
			added = append(added, *part)
		}
	}
	s.mu.Unlock()

	if s.hooks.OnRoleAssigned != nil {
		s.hooks.OnRoleAssigned(role, role == domain.RoleFirstJoiner)
	}
	for _, p := range added {
		if s.hooks.OnParticipantJoined != nil {
			s.hooks.OnParticipantJoined(p)
		}
	}

	go s.run(runCtx)
	s.detector.start(runCtx)
	s.logger.Info().Str("room", string(room)).Str("role", string(role)).Int("peers", len(snapshot)).Msg("joined")
	return nil
}

func (s *Session) abortJoin() {
	s.mu.Lock()
	s.members.abortJoin()
	s.mu.Unlock()
}

// Leave tears the session down within this call: local tracks stopped,
// every peer connection closed, channel unregistered. Idempotent.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.left = true
	peers := s.reg.removeAll()
	s.members.reset()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
	s.source.Stop()
	s.channel.Close()
	s.detector.stop()
	if cancel != nil {
		cancel()
	}
	s.logger.Info().Msg("left")
}

func (s *Session) run(ctx context.Context) {
	events := s.channel.Events()
	for {
		select {
		case <-ctx.Done():
			s.Leave()
			return
		case ev, ok := <-events:
			if !ok {
				s.handleChannelLost()
				return
			}
			s.dispatch(ctx, ev)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, ev core.SignalEvent) {
	switch ev.Kind {
	case core.EventPeerJoined:
		s.addPeer(ctx, ev.Peer)
	case core.EventPeerLeft:
		s.dropPeer(ev.Peer, true)
	case core.EventRoleAssigned:
		s.setRole(ev.Role, ev.First)
	case core.EventSignal:
		if ev.Msg != nil {
			s.handleSignal(ctx, *ev.Msg)
		}
	default:
		s.logger.Warn().Int("kind", int(ev.Kind)).Msg("unknown signal event")
	}
}

// handleChannelLost is the synthetic all-participants-left path: every
// connection is torn down and membership resets to disconnected. No
// automatic rejoin; that policy lives a layer up.
func (s *Session) handleChannelLost() {
	s.mu.Lock()
	peers := s.reg.removeAll()
	dropped := s.members.reset()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
	s.detector.stop()
	if cancel != nil {
		cancel()
	}
	for _, id := range dropped {
		if s.hooks.OnParticipantLeft != nil {
			s.hooks.OnParticipantLeft(id)
		}
	}
	if s.hooks.OnChannelLost != nil {
		s.hooks.OnChannelLost()
	}
	s.logger.Warn().Int("dropped", len(dropped)).Msg("signal channel lost")
}

// ensurePeerLocked creates the connection for remote if absent, wiring
// callbacks and attaching every currently-available local track exactly
// once. Caller holds s.mu.
func (s *Session) ensurePeerLocked(ctx context.Context, remote domain.PeerID) (*domain.Participant, bool, error) {
	p, created, err := s.reg.ensure(remote)
	if err != nil {
		return nil, false, err
	}
	part, _ := s.members.add(remote)
	if !created {
		return part, false, nil
	}

	conn := p.conn
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.sendSignal(core.SignalMessage{To: remote, Kind: core.PayloadCandidate, Candidate: &c})
	})
	conn.OnStateChange(func(st webrtc.PeerConnectionState) {
		s.handleConnState(remote, st)
	})
	conn.OnNegotiationNeeded(func() {
		s.handleNegotiationNeeded(remote)
	})
	conn.OnTrack(func(kind core.TrackKind) {
		s.handleRemoteTrack(remote, kind)
	})
	conn.OnTrackEnded(func(kind core.TrackKind) {
		s.handleRemoteTrackEnded(remote, kind)
	})

	if err := conn.Start(ctx); err != nil {
		s.reg.remove(remote)
		s.members.remove(remote)
		conn.Close()
		return nil, false, err
	}
	// Tracks attach only after Start: pion fires negotiation-needed just
	// once, and a fire before the handler exists is lost for good.
	for _, t := range s.tracks {
		if err := conn.AddLocalTrack(t.RTP()); err != nil {
			s.logger.Error().Err(err).Str("peer", string(remote)).Str("kind", string(t.Kind())).Msg("add local track")
		}
	}
	return part, true, nil
}

func (s *Session) addPeer(ctx context.Context, id domain.PeerID) {
	s.mu.Lock()
	if !s.members.joined() {
		s.mu.Unlock()
		return
	}
	part, created, err := s.ensurePeerLocked(ctx, id)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error().Err(err).Str("peer", string(id)).Msg("connect to joining peer")
		return
	}
	if created && s.hooks.OnParticipantJoined != nil {
		s.hooks.OnParticipantJoined(*part)
	}
}

// dropPeer removes and closes the connection for id. A failed
// connection and a graceful leave take the same path: the application
// only ever sees a participant-left event.
func (s *Session) dropPeer(id domain.PeerID, notify bool) {
	s.mu.Lock()
	p, hadConn := s.reg.remove(id)
	hadMember := s.members.remove(id)
	s.mu.Unlock()

	if hadConn {
		p.conn.Close()
	}
	if (hadConn || hadMember) && notify && s.hooks.OnParticipantLeft != nil {
		s.hooks.OnParticipantLeft(id)
	}
}

func (s *Session) handleConnState(id domain.PeerID, st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		s.logger.Info().Str("peer", string(id)).Str("state", st.String()).Msg("terminal connection state")
		s.dropPeer(id, true)
	default:
	}
}

func (s *Session) setRole(role domain.Role, first bool) {
	s.mu.Lock()
	s.role = role
	s.mu.Unlock()
	if s.hooks.OnRoleAssigned != nil {
		s.hooks.OnRoleAssigned(role, first)
	}
}

func (s *Session) sendSignal(msg core.SignalMessage) {
	msg.From = s.channel.LocalID()
	if err := s.channel.Send(msg); err != nil {
		s.logger.Warn().Err(err).Str("to", string(msg.To)).Str("kind", string(msg.Kind)).Msg("send signal")
	}
}

// SetTrackEnabled toggles a local track and announces the new state to
// everyone in the room. The track itself is never re-attached, so no
// renegotiation round is spent on a toggle.
func (s *Session) SetTrackEnabled(kind core.TrackKind, enabled bool) {
	s.source.SetTrackEnabled(kind, enabled)

	s.mu.Lock()
	if kind == core.TrackAudio {
		s.local.Audio = enabled
	} else {
		s.local.Video = enabled
	}
	state := s.local
	ids := s.members.ids()
	s.mu.Unlock()

	for _, id := range ids {
		s.sendSignal(core.SignalMessage{To: id, Kind: core.PayloadMediaState, Media: &state})
	}
}

func (s *Session) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members.snapshot()
}

// ActiveSpeaker reports the current pick, false when nobody speaks.
func (s *Session) ActiveSpeaker() (domain.PeerID, bool) {
	return s.detector.activeSpeaker()
}

func (s *Session) levelSources() map[domain.PeerID]core.LevelSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.reg.levelSources()
	if s.localLevel != nil {
		out[s.channel.LocalID()] = s.localLevel
	}
	return out
}

func (s *Session) onSpeakerChange(id domain.PeerID, ok bool) {
	s.mu.Lock()
	for pid, p := range s.members.participants {
		p.ActiveSpeaker = ok && pid == id
	}
	s.mu.Unlock()
	if s.hooks.OnActiveSpeaker != nil {
		s.hooks.OnActiveSpeaker(id, ok)
	}
}
