package fraud

import (
	"time"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

// ScreenConfig bounds the selection-time re-screen. The screen is harsher
// than the live scorer: it runs only over finalized, paid attempts that are
// about to win money, so a couple of coinciding factors is enough to pull
// an attempt out of the pool.
type ScreenConfig struct {
	// MinTotalTime is the floor under which a completed run is
	// implausibly quick end to end.
	MinTotalTime time.Duration

	// MinAvgQuestionTime is the per-question average floor.
	MinAvgQuestionTime time.Duration

	// MinTimeVariance is the population variance floor in seconds
	// squared. Humans wobble; scripts do not.
	MinTimeVariance float64

	// MaxFactors is how many factors an attempt may trip and still stay
	// eligible. One more than this marks it fraudulent.
	MaxFactors int

	// MaxSameIPPaid24h and MaxSameDevicePaid24h cap paid participations
	// per IP and per device inside the reuse window.
	MaxSameIPPaid24h     int
	MaxSameDevicePaid24h int
}

func DefaultScreenConfig() ScreenConfig {
	return ScreenConfig{
		MinTotalTime:         30 * time.Second,
		MinAvgQuestionTime:   2 * time.Second,
		MinTimeVariance:      0.1,
		MaxFactors:           1,
		MaxSameIPPaid24h:     3,
		MaxSameDevicePaid24h: 3,
	}
}

// ScreenResult lists the factors an attempt tripped and whether that is
// enough to disqualify it.
type ScreenResult struct {
	Factors    []string
	Fraudulent bool
}

// Screen re-checks a finalized attempt right before winner selection.
// Like Assess it is pure over the attempt and its history snapshot.
func Screen(att *models.Attempt, history History, cfg ScreenConfig) ScreenResult {
	var factors []string

	if att.TotalTime != nil && *att.TotalTime < cfg.MinTotalTime {
		factors = append(factors, FactorTotalFloor)
	}
	if n := len(att.QuestionTimes); n > 0 {
		if avg := mean(att.QuestionTimes); avg < cfg.MinAvgQuestionTime.Seconds() {
			factors = append(factors, FactorAvgFloor)
		}
		if n >= minTimingSamples && variance(att.QuestionTimes) < cfg.MinTimeVariance {
			factors = append(factors, FactorLowVariance)
		}
	}
	if history.PaidIPCount24h > cfg.MaxSameIPPaid24h {
		factors = append(factors, FactorIPPaidRate)
	}
	if history.PaidDeviceCount24h > cfg.MaxSameDevicePaid24h {
		factors = append(factors, FactorDevicePaidRate)
	}

	return ScreenResult{
		Factors:    factors,
		Fraudulent: len(factors) > cfg.MaxFactors,
	}
}
