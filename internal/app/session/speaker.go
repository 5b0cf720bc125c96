package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

const (
	defaultSpeakerInterval  = 200 * time.Millisecond
	defaultSpeakerThreshold = 5.0
)

// speakerDetector polls audio energy across all attached sources on a
// fixed interval and surfaces the loudest one above a minimum threshold.
// Ties and all-quiet samples yield no active speaker. The poll is
// cancellable and restartable as the session joins and leaves.
type speakerDetector struct {
	interval  time.Duration
	threshold float64
	sources   func() map[domain.PeerID]core.LevelSource
	onChange  func(id domain.PeerID, ok bool)

	mu      sync.Mutex
	cancel  context.CancelFunc
	current domain.PeerID
	active  bool
}

func newSpeakerDetector(
	interval time.Duration,
	threshold float64,
	sources func() map[domain.PeerID]core.LevelSource,
	onChange func(domain.PeerID, bool),
) *speakerDetector {
	if interval <= 0 {
		interval = defaultSpeakerInterval
	}
	if threshold <= 0 {
		threshold = defaultSpeakerThreshold
	}
	return &speakerDetector{
		interval:  interval,
		threshold: threshold,
		sources:   sources,
		onChange:  onChange,
	}
}

func (d *speakerDetector) start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	go d.loop(ctx)
}

func (d *speakerDetector) stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.current = ""
	d.active = false
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *speakerDetector) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sample()
		}
	}
}

// sample tolerates sources disappearing mid-poll: a source that reports
// no reading is skipped for this round.
func (d *speakerDetector) sample() {
	var (
		best      domain.PeerID
		bestLevel float64
		tied      bool
		found     bool
	)
	for id, src := range d.sources() {
		if src == nil {
			continue
		}
		level, ok := src.Level()
		if !ok || level < d.threshold {
			continue
		}
		switch {
		case !found || level > bestLevel:
			best, bestLevel, tied, found = id, level, false, true
		case level == bestLevel:
			tied = true
		}
	}
	if tied || !found {
		best = ""
	}

	d.mu.Lock()
	changed := best != d.current || (best != "") != d.active
	d.current = best
	d.active = best != ""
	d.mu.Unlock()

	if changed && d.onChange != nil {
		log.Debug().Str("module", "session.speaker").Str("peer", string(best)).Msg("active speaker changed")
		d.onChange(best, best != "")
	}
}

// activeSpeaker returns the current pick, false when nobody is speaking.
func (d *speakerDetector) activeSpeaker() (domain.PeerID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.active
}
