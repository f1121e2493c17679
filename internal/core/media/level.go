package media

import (
	"sync"
)

const (
	// SilentAudioLevel is the RFC 6464 level for digital silence (-127 dBov).
	SilentAudioLevel = 127

	minDecibels = -100.0
	maxDecibels = -30.0
)

// LevelToEnergy maps an RFC 6464 audio level to a 0..255 energy value,
// linear in decibels between -100 dBov and -30 dBov.
func LevelToEnergy(level uint8) float64 {
	db := -float64(level & 0x7f)
	if db <= minDecibels {
		return 0
	}
	if db >= maxDecibels {
		return 255
	}
	return 255 * (db - minDecibels) / (maxDecibels - minDecibels)
}

// LevelMeter averages energy samples between reads.
type LevelMeter struct {
	mu    sync.Mutex
	sum   float64
	count int
}

func NewLevelMeter() *LevelMeter {
	return &LevelMeter{}
}

func (m *LevelMeter) ObserveLevel(level uint8) {
	m.Observe(LevelToEnergy(level))
}

func (m *LevelMeter) Observe(energy float64) {
	m.mu.Lock()
	m.sum += energy
	m.count++
	m.mu.Unlock()
}

// Drain returns the average energy since the previous call and resets the meter.
// ok is false when nothing was observed.
func (m *LevelMeter) Drain() (avg float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0, false
	}
	avg = m.sum / float64(m.count)
	m.sum, m.count = 0, 0
	return avg, true
}
