package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// QualityMonitor samples transport stats of every roster entry on a fixed interval.
type QualityMonitor struct {
	roster   *Roster
	quality  *QualityService
	interval time.Duration
	metrics  ports.CallMetrics
	logger   *zap.SugaredLogger
	onUpdate func()
	now      func() time.Time
}

func NewQualityMonitor(roster *Roster, quality *QualityService, interval time.Duration, metrics ports.CallMetrics, logger *zap.SugaredLogger, onUpdate func()) *QualityMonitor {
	return &QualityMonitor{
		roster:   roster,
		quality:  quality,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		onUpdate: onUpdate,
		now:      time.Now,
	}
}

// Run samples until ctx is cancelled.
func (m *QualityMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample classifies every entry once. A stats failure marks only that entry poor.
func (m *QualityMonitor) Sample(ctx context.Context) domain.Quality {
	sessions := m.roster.Sessions()
	var wg sync.WaitGroup
	for _, ps := range sessions {
		wg.Add(1)
		go func(ps *PeerSession) {
			defer wg.Done()
			m.sampleOne(ctx, ps)
		}(ps)
	}
	wg.Wait()

	if len(sessions) > 0 && m.onUpdate != nil {
		m.onUpdate()
	}
	return m.roster.Quality()
}

func (m *QualityMonitor) sampleOne(ctx context.Context, ps *PeerSession) {
	id := ps.Participant.ID
	statsCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	stats, err := ps.Conn.Stats(statsCtx)
	if err != nil {
		m.logger.Warnw("failed to sample connection stats", "participant_id", id, "error", err)
		m.roster.Update(id, func(ps *PeerSession) { ps.Quality = domain.QualityPoor })
		m.metrics.PeerQuality(id, domain.QualityPoor, domain.ConnectionStats{})
		return
	}
	if stats.Timestamp.IsZero() {
		stats.Timestamp = m.now()
	}

	q := m.quality.Classify(stats, ps.Conn.ConnectionState())
	m.roster.Update(id, func(ps *PeerSession) {
		ps.Quality = q
		ps.Stats = stats
	})
	m.metrics.PeerQuality(id, q, stats)
}
