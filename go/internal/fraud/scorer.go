package fraud

import (
	"time"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

// Thresholds tune the scorer's indicators. Zero values are never valid;
// build them from DefaultThresholds or the fraud section of the config.
type Thresholds struct {
	// MaxSameIP24h is the tolerated number of attempts from one IP
	// inside the reuse window before IP reuse scores.
	MaxSameIP24h int

	// MaxSameDevice24h is the tolerated number of attempts from one
	// device fingerprint inside the reuse window.
	MaxSameDevice24h int

	// MaxDailyParticipations caps attempts per email per day.
	MaxDailyParticipations int

	// WinRateThreshold is the win ratio above which a paid participant
	// with enough history looks statistically implausible.
	WinRateThreshold float64

	// AutomationDeviceCount is the device-usage frequency at which a
	// fingerprint is treated as a bot farm rather than a shared phone.
	AutomationDeviceCount int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxSameIP24h:           3,
		MaxSameDevice24h:       2,
		MaxDailyParticipations: 3,
		WinRateThreshold:       0.2,
		AutomationDeviceCount:  10,
	}
}

// Indicator weights. The sum of all weights in a dimension reflects how
// strongly the dimension alone should be able to push an attempt into
// the HIGH band.
const (
	weightIPReuse              = 0.4
	weightIPEmailDiversity     = 0.3
	weightPriorViolations      = 0.2
	weightProxyIP              = 0.1
	weightDeviceReuse          = 0.5
	weightDeviceEmailDiversity = 0.4
	weightDeviceAutomation     = 0.3
	weightDailyLimit           = 0.3
	weightRapidRepeat          = 0.2
	weightExcessiveWinRate     = 0.25
	weightFastAnswers          = 0.4
	weightUniformTiming        = 0.3
	weightRepeatedIntervals    = 0.2
)

const (
	maxEmailsPerIP     = 5
	maxEmailsPerDevice = 2
	rapidRepeatGap     = 5 * time.Minute
	minPaidForWinRate  = 5
	maxFastAnswers     = 2
	uniformStdDevCeil  = 0.5 // seconds
	uniformMeanCeil    = 2.0 // seconds
	repeatedDeltaCeil  = 0.5
	minTimingSamples   = 3
)

// Risk band boundaries over the accumulated score.
const (
	riskHighFloor   = 0.8
	riskMediumFloor = 0.5
	riskLowFloor    = 0.2
)

// Assess scores one attempt against its behavioral history. It is a pure
// function: identical inputs yield an identical assessment, flags included,
// so repeated runs over the same snapshot never disagree. AssessedAt is
// left zero for the caller to stamp.
func Assess(att *models.Attempt, history History, th Thresholds) models.FraudAssessment {
	var score float64
	var flags []string

	hit := func(w float64, flag string) {
		score += w
		flags = append(flags, flag)
	}

	// IP dimension.
	if history.IPCount24h > th.MaxSameIP24h {
		hit(weightIPReuse, FlagIPReuse)
	}
	if history.DistinctEmailsFromIP > maxEmailsPerIP {
		hit(weightIPEmailDiversity, FlagIPEmailDiversity)
	}
	if history.SecurityViolations7d > 0 {
		hit(weightPriorViolations, FlagPriorViolations)
	}
	if history.IPIsProxy {
		hit(weightProxyIP, FlagProxyIP)
	}

	// Device dimension.
	if history.DeviceCount24h > th.MaxSameDevice24h {
		hit(weightDeviceReuse, FlagDeviceReuse)
	}
	if history.DistinctEmailsFromDevice > maxEmailsPerDevice {
		hit(weightDeviceEmailDiversity, FlagDeviceEmailDiversity)
	}
	if history.DeviceCount24h >= th.AutomationDeviceCount {
		hit(weightDeviceAutomation, FlagDeviceAutomation)
	}

	// Behavior dimension.
	if history.EmailCount24h > th.MaxDailyParticipations {
		hit(weightDailyLimit, FlagDailyLimit)
	}
	if avg, ok := averageGap(history.RecentParticipations); ok && avg < rapidRepeatGap {
		hit(weightRapidRepeat, FlagRapidRepeat)
	}
	if history.PaidCount > minPaidForWinRate {
		rate := float64(history.WinCount) / float64(history.PaidCount)
		if rate > th.WinRateThreshold {
			hit(weightExcessiveWinRate, FlagExcessiveWinRate)
		}
	}

	// Timing dimension. Sub-minimum submissions are rejected before they
	// reach the recorded times, so the suspicion counter is the count of
	// too-fast answers.
	if att.SuspicionCount > maxFastAnswers {
		hit(weightFastAnswers, FlagFastAnswers)
	}
	if len(att.QuestionTimes) >= minTimingSamples {
		if stdDev(att.QuestionTimes) < uniformStdDevCeil && mean(att.QuestionTimes) < uniformMeanCeil {
			hit(weightUniformTiming, FlagUniformTiming)
		}
		if repeatedDeltaRatio(att.QuestionTimes) > repeatedDeltaCeil {
			hit(weightRepeatedIntervals, FlagRepeatedIntervals)
		}
	}

	level := riskLevel(score)
	return models.FraudAssessment{
		AttemptID:      att.ID,
		Score:          score,
		RiskLevel:      level,
		Flags:          flags,
		Recommendation: recommend(level, flags),
	}
}

// averageGap reports the mean interval between consecutive participations,
// newest first. It needs at least three timestamps to say anything.
func averageGap(times []time.Time) (time.Duration, bool) {
	if len(times) < 3 {
		return 0, false
	}
	var total time.Duration
	for i := 1; i < len(times); i++ {
		gap := times[i-1].Sub(times[i])
		if gap < 0 {
			gap = -gap
		}
		total += gap
	}
	return total / time.Duration(len(times)-1), true
}

func riskLevel(score float64) models.RiskLevel {
	switch {
	case score >= riskHighFloor:
		return models.RiskLevelHigh
	case score >= riskMediumFloor:
		return models.RiskLevelMedium
	case score >= riskLowFloor:
		return models.RiskLevelLow
	default:
		return models.RiskLevelMinimal
	}
}

func recommend(level models.RiskLevel, flags []string) models.Recommendation {
	switch level {
	case models.RiskLevelHigh:
		return models.RecommendationBlock
	case models.RiskLevelMedium:
		for _, f := range flags {
			if deviceFlags[f] {
				return models.RecommendationManualReview
			}
		}
		return models.RecommendationMonitorClosely
	case models.RiskLevelLow:
		return models.RecommendationMonitor
	default:
		return models.RecommendationAllow
	}
}
