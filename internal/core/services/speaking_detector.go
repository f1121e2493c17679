package services

import (
	"context"
	"time"

	"peercall/internal/core/media"
)

// SpeakingDetector flags participants whose inbound audio energy averages
// above the threshold over each interval. It only feeds the UI.
type SpeakingDetector struct {
	roster    *Roster
	interval  time.Duration
	threshold float64
	onChange  func()
}

func NewSpeakingDetector(roster *Roster, interval time.Duration, threshold float64, onChange func()) *SpeakingDetector {
	return &SpeakingDetector{roster: roster, interval: interval, threshold: threshold, onChange: onChange}
}

func (d *SpeakingDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick evaluates every meter once and reports whether any flag changed.
func (d *SpeakingDetector) Tick() bool {
	changed := false
	for _, ps := range d.roster.Sessions() {
		id := ps.Participant.ID
		d.roster.Update(id, func(ps *PeerSession) {
			speaking := false
			for _, rt := range ps.Remote {
				if rt.Kind() != media.KindAudio {
					continue
				}
				if avg, ok := rt.Meter().Drain(); ok && avg > d.threshold {
					speaking = true
				}
			}
			if !ps.AudioEnabled {
				speaking = false
			}
			if ps.Speaking != speaking {
				ps.Speaking = speaking
				changed = true
			}
		})
	}
	if changed && d.onChange != nil {
		d.onChange()
	}
	return changed
}
