package capture

import (
	"testing"
	"time"

	"github.com/telemesh/consult/internal/core"
)

func TestSourceTracksAreStable(t *testing.T) {
	s, err := NewSource("test")
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	first, err := s.Tracks()
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	second, err := s.Tracks()
	if err != nil {
		t.Fatalf("tracks again: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected an audio and a video track, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("repeated acquisition should hand out the same tracks")
		}
	}
}

func TestTrackToggleGatesWrites(t *testing.T) {
	s, err := NewSource("test")
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	track, ok := s.Track(core.TrackAudio)
	if !ok {
		t.Fatal("audio track missing")
	}
	if !track.Enabled() {
		t.Fatal("tracks should start enabled")
	}

	s.SetTrackEnabled(core.TrackAudio, false)
	if track.Enabled() {
		t.Fatal("toggle should disable the track")
	}
	// Disabled writes are swallowed, not errors: producers keep running.
	if err := track.WriteFrame([]byte{0xf8, 0xff, 0xfe}, 20*time.Millisecond); err != nil {
		t.Fatalf("gated write should succeed silently, got %v", err)
	}

	s.SetTrackEnabled(core.TrackAudio, true)
	if !track.Enabled() {
		t.Fatal("toggle should re-enable the track")
	}
}

func TestWriteFrameAdvancesHeaders(t *testing.T) {
	s, err := NewSource("test")
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	track, _ := s.Track(core.TrackAudio)
	// Gate the track so nothing needs a bound connection.
	track.SetEnabled(false)

	seq, ts := track.seq, track.ts
	if err := track.WriteFrame([]byte{0x01}, 20*time.Millisecond); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if track.seq != seq+1 {
		t.Fatalf("sequence should advance by one, %d -> %d", seq, track.seq)
	}
	if track.ts != ts+960 {
		t.Fatalf("20ms at 48kHz should advance timestamp by 960, %d -> %d", ts, track.ts)
	}
}

func TestStopIsTerminal(t *testing.T) {
	s, err := NewSource("test")
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	s.Stop()
	s.Stop()
	if !s.Stopped() {
		t.Fatal("source should report stopped")
	}
	if _, err := s.Tracks(); err != ErrStopped {
		t.Fatalf("acquisition after stop should fail with ErrStopped, got %v", err)
	}

	track, ok := s.Track(core.TrackAudio)
	if !ok {
		t.Fatal("existing tracks remain addressable after stop")
	}
	if track.Enabled() {
		t.Fatal("stop should disable all tracks")
	}
}
