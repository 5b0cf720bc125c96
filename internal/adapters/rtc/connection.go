package rtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

const (
	maxCandidateQueue = 512
	pliInterval       = 3 * time.Second
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrNoPendingOffer = errors.New("no pending local offer")
)

// Connection wraps a single pion PeerConnection toward one remote
// participant and implements core.MediaConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.PeerID

	mu           sync.Mutex
	cancel       context.CancelFunc
	closed       bool
	pendingOffer bool
	remoteSet    bool
	candQueue    []webrtc.ICECandidateInit

	onICE        func(webrtc.ICECandidateInit)
	onState      func(webrtc.PeerConnectionState)
	onNegotiate  func()
	onTrack      func(core.TrackKind)
	onTrackEnded func(core.TrackKind)

	meter *levelMeter
}

// Config builds a webrtc.Configuration from static ICE server URLs.
// STUN/TURN endpoints come from configuration, never from negotiation.
func Config(iceURLs []string) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(iceURLs))
	for _, u := range iceURLs {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

func New(cfg webrtc.Configuration, remote domain.PeerID) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: pc, remote: remote, meter: newLevelMeter()}, nil
}

// Dialer adapts New into the session's MediaDialer.
func Dialer(cfg webrtc.Configuration) core.MediaDialer {
	return func(remote domain.PeerID) (core.MediaConnection, error) {
		return New(cfg, remote)
	}
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.remote)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateDisconnected ||
			s == webrtc.PeerConnectionStateClosed {
			cancel()
		}
		if fn := c.stateHandler(); fn != nil {
			fn(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if fn := c.iceHandler(); fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnNegotiationNeeded(func() {
		if fn := c.negotiateHandler(); fn != nil {
			fn()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := core.TrackAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = core.TrackVideo
		}
		log.Info().
			Str("module", "rtc").
			Str("peer", string(c.remote)).
			Str("kind", string(kind)).
			Str("track_id", track.ID()).
			Msg("remote track")
		if kind == core.TrackVideo {
			go c.pliLoop(ctx, uint32(track.SSRC()))
		}
		if fn := c.trackHandler(); fn != nil {
			fn(kind)
		}
		go c.readLoop(ctx, track, kind)
	})

	return nil
}

// readLoop drains inbound RTP. Audio packets feed the level meter; a
// read error means the remote removed the track.
func (c *Connection) readLoop(ctx context.Context, track *webrtc.TrackRemote, kind core.TrackKind) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "rtc").Str("peer", string(c.remote)).Msg("track read stopped")
			}
			if kind == core.TrackAudio {
				c.meter.deactivate()
			}
			if fn := c.trackEndedHandler(); fn != nil {
				fn(kind)
			}
			return
		}
		if kind == core.TrackAudio {
			c.meter.observe()
		}
	}
}

// pliLoop periodically requests keyframes so late-arriving receivers
// recover video without waiting for the sender's own cadence.
func (c *Connection) pliLoop(ctx context.Context, ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				return
			}
		}
	}
}

func (c *Connection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	c.pendingOffer = true
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	c.remoteSet = true
	c.flushCandidatesLocked()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	c.pendingOffer = false
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.pendingOffer {
		return ErrNoPendingOffer
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.remoteSet = true
	c.flushCandidatesLocked()
	c.pendingOffer = false
	return nil
}

// AddICECandidate buffers candidates that arrive before a remote
// description exists and applies them once it lands. Early candidates
// are never dropped.
func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.remoteSet {
		if len(c.candQueue) < maxCandidateQueue {
			c.candQueue = append(c.candQueue, ci)
		}
		return nil
	}
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) flushCandidatesLocked() {
	for _, ci := range c.candQueue {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.remote)).Msg("apply buffered candidate")
		}
	}
	c.candQueue = nil
}

func (c *Connection) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.pendingOffer {
		return ErrNoPendingOffer
	}
	if err := c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		return err
	}
	c.pendingOffer = false
	return nil
}

func (c *Connection) HasPendingLocalOffer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingOffer
}

// AddLocalTrack attaches a shared local track. The RTCP stream of the
// resulting sender is drained to keep interceptors fed.
func (c *Connection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.candQueue = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.meter.deactivate()
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.remote)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("peer", string(c.remote)).Msg("closed")
	}
}

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) Level() (float64, bool) { return c.meter.Level() }

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Connection) OnNegotiationNeeded(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNegotiate = fn
}

func (c *Connection) OnTrack(fn func(core.TrackKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Connection) OnTrackEnded(fn func(core.TrackKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrackEnded = fn
}

func (c *Connection) iceHandler() func(webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onICE
}

func (c *Connection) stateHandler() func(webrtc.PeerConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onState
}

func (c *Connection) negotiateHandler() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onNegotiate
}

func (c *Connection) trackHandler() func(core.TrackKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onTrack
}

func (c *Connection) trackEndedHandler() func(core.TrackKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onTrackEnded
}
