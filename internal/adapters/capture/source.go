// Package capture supplies the local media tracks shared read-only by
// every peer connection in a session.
package capture

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/telemesh/consult/internal/core"
)

type trackState int32

const (
	trackStateOk trackState = iota
	trackStateMuted
)

var ErrStopped = errors.New("media source stopped")

// StaticTrack is a shared local RTP track with an enable toggle. While
// disabled, writes are gated instead of the track being detached, so a
// toggle never costs a renegotiation round.
type StaticTrack struct {
	kind      core.TrackKind
	track     *webrtc.TrackLocalStaticRTP
	clockRate uint32
	state     atomic.Int32

	wmu sync.Mutex
	seq uint16
	ts  uint32
}

func (t *StaticTrack) Kind() core.TrackKind             { return t.kind }
func (t *StaticTrack) RTP() *webrtc.TrackLocalStaticRTP { return t.track }

func (t *StaticTrack) Enabled() bool {
	return trackState(t.state.Load()) == trackStateOk
}

func (t *StaticTrack) SetEnabled(enabled bool) {
	if enabled {
		t.state.Store(int32(trackStateOk))
	} else {
		t.state.Store(int32(trackStateMuted))
	}
}

// WriteRTP forwards a packet to all bound connections, dropping it
// while the track is disabled.
func (t *StaticTrack) WriteRTP(pkt *rtp.Packet) error {
	if !t.Enabled() {
		return nil
	}
	return t.track.WriteRTP(pkt)
}

// WriteFrame packetizes one encoded frame, advancing sequence number and
// RTP timestamp by the frame duration. For producers that do not manage
// their own RTP headers.
func (t *StaticTrack) WriteFrame(payload []byte, d time.Duration) error {
	t.wmu.Lock()
	t.seq++
	t.ts += uint32(d.Seconds() * float64(t.clockRate))
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			SequenceNumber: t.seq,
			Timestamp:      t.ts,
		},
		Payload: payload,
	}
	t.wmu.Unlock()
	return t.WriteRTP(pkt)
}

// Source is a MediaSource over an opus audio track and a VP8 video
// track. Whatever produces the frames (an encoder, a file, the agent's
// synthesizer) writes through the StaticTracks.
type Source struct {
	mu      sync.Mutex
	stopped bool
	tracks  []*StaticTrack
}

func NewSource(streamID string) (*Source, error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", streamID,
	)
	if err != nil {
		return nil, err
	}
	return &Source{
		tracks: []*StaticTrack{
			{kind: core.TrackAudio, track: audio, clockRate: 48000, seq: uint16(rand.Uint32()), ts: rand.Uint32()},
			{kind: core.TrackVideo, track: video, clockRate: 90000, seq: uint16(rand.Uint32()), ts: rand.Uint32()},
		},
	}, nil
}

// Tracks returns the same instances on every call; acquisition happens
// once, at construction.
func (s *Source) Tracks() ([]core.LocalTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	out := make([]core.LocalTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out, nil
}

func (s *Source) SetTrackEnabled(kind core.TrackKind, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.kind == kind {
			t.SetEnabled(enabled)
		}
	}
}

// Track exposes a StaticTrack to frame producers.
func (s *Source) Track(kind core.TrackKind) (*StaticTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.kind == kind {
			return t, true
		}
	}
	return nil, false
}

// Stop disables all tracks and refuses further acquisition. Idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for _, t := range s.tracks {
		t.SetEnabled(false)
	}
}

func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
