package rtc

import (
	"math"
	"sync"
	"time"
)

const meterAlpha = 0.3

// levelMeter derives an audio-energy score from RTP packet arrival: an
// exponentially weighted packet rate that decays when the source goes
// quiet. Scores are comparable across connections, which is all the
// speaker detector needs.
type levelMeter struct {
	mu     sync.Mutex
	active bool
	score  float64
	rate   float64
	last   time.Time
}

func newLevelMeter() *levelMeter { return &levelMeter{} }

func (m *levelMeter) observe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if !m.active {
		m.active = true
		m.last = now
		return
	}
	elapsed := now.Sub(m.last).Seconds()
	if elapsed < 0.001 {
		elapsed = 0.001
	}
	m.last = now

	instant := 1.0 / elapsed
	m.rate = meterAlpha*instant + (1-meterAlpha)*m.rate
	m.score = meterAlpha*m.rate + (1-meterAlpha)*m.score
}

// Level reports the decayed score; false while no audio has arrived or
// after the track ended. The decay is computed from the last packet
// arrival, never applied in place, so repeated polls of a quiet source
// all see the same single decay.
func (m *levelMeter) Level() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return 0, false
	}
	score := m.score
	if elapsed := time.Since(m.last).Seconds(); elapsed > 0.5 {
		score *= math.Exp(-elapsed)
	}
	return score, true
}

func (m *levelMeter) deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.score = 0
	m.rate = 0
}
