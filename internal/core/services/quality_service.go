package services

import (
	"time"

	"peercall/internal/core/domain"
)

type QualityService struct {
	thresholds domain.QualityThresholds
}

// NewQualityService uses the default thresholds when none are given.
func NewQualityService(thresholds domain.QualityThresholds) *QualityService {
	if thresholds == (domain.QualityThresholds{}) {
		thresholds = domain.DefaultQualityThresholds()
	}
	return &QualityService{thresholds: thresholds}
}

// GetThresholds returns the classification thresholds
func (qs *QualityService) GetThresholds() domain.QualityThresholds {
	return qs.thresholds
}

// Classify maps one stats sample to a quality level. Degradation thresholds
// are checked before the connection state.
func (qs *QualityService) Classify(stats domain.ConnectionStats, state domain.ConnectionState) domain.Quality {
	loss := stats.LossRatio()
	switch {
	case qs.exceeds(loss, stats, qs.thresholds.PoorLoss, qs.thresholds.PoorRTT):
		return domain.QualityPoor
	case qs.exceeds(loss, stats, qs.thresholds.GoodLoss, qs.thresholds.GoodRTT):
		return domain.QualityGood
	case state == domain.ConnectionConnected:
		return domain.QualityExcellent
	default:
		return domain.QualityDisconnected
	}
}

func (qs *QualityService) exceeds(loss float64, stats domain.ConnectionStats, maxLoss float64, maxRTT time.Duration) bool {
	return loss > maxLoss || stats.RTT > maxRTT
}
