package attempt

import (
	"time"

	"github.com/google/uuid"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

// CreateAttemptRequest carries the data needed to register a participant
// in a round. The attempt starts in NOT_STARTED; timing begins at Start.
type CreateAttemptRequest struct {
	RoundID         int64
	UserID          uuid.UUID
	Email           string
	Phone           string
	WhatsAppConsent bool
	Client          models.ClientInfo
}

// TimingConfig holds the engine-wide timing defaults. A round's settings
// override either value when set.
type TimingConfig struct {
	QuestionTimeout time.Duration
	MinAnswerTime   time.Duration
}

// DefaultTimingConfig returns the launch defaults.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		QuestionTimeout: 10 * time.Second,
		MinAnswerTime:   500 * time.Millisecond,
	}
}

// effectiveTimeout resolves the question timeout for a round.
func (c TimingConfig) effectiveTimeout(settings models.RoundSettings) time.Duration {
	if settings.QuestionTimeoutSec > 0 {
		return time.Duration(settings.QuestionTimeoutSec) * time.Second
	}
	return c.QuestionTimeout
}

// effectiveMinAnswer resolves the minimum answer time for a round.
func (c TimingConfig) effectiveMinAnswer(settings models.RoundSettings) time.Duration {
	if settings.MinAnswerTimeMs > 0 {
		return time.Duration(settings.MinAnswerTimeMs) * time.Millisecond
	}
	return c.MinAnswerTime
}
