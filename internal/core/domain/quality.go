package domain

import (
	"fmt"
	"time"
)

// Quality is ordered from worst to best.
type Quality int

const (
	QualityDisconnected Quality = iota
	QualityPoor
	QualityGood
	QualityExcellent
)

func (q Quality) String() string {
	switch q {
	case QualityPoor:
		return "poor"
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	default:
		return "disconnected"
	}
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *Quality) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*q = QualityDisconnected
	case "poor":
		*q = QualityPoor
	case "good":
		*q = QualityGood
	case "excellent":
		*q = QualityExcellent
	default:
		return fmt.Errorf("unknown quality %q", string(b))
	}
	return nil
}

// WorstQuality returns the minimum; no inputs means disconnected.
func WorstQuality(qs ...Quality) Quality {
	if len(qs) == 0 {
		return QualityDisconnected
	}
	worst := qs[0]
	for _, q := range qs[1:] {
		if q < worst {
			worst = q
		}
	}
	return worst
}

type QualityThresholds struct {
	PoorLoss float64
	PoorRTT  time.Duration
	GoodLoss float64
	GoodRTT  time.Duration
}

func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		PoorLoss: 0.05,
		PoorRTT:  300 * time.Millisecond,
		GoodLoss: 0.02,
		GoodRTT:  150 * time.Millisecond,
	}
}
