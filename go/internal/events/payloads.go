package events

import (
	"time"
)

// Event payload types that are shared between the engine contexts and consumers

// AttemptStartedPayload is the payload for an AttemptStarted event
type AttemptStartedPayload struct {
	AttemptID     int64     `json:"attempt_id"`
	RoundID       int64     `json:"round_id"`
	UserID        string    `json:"user_id"`
	QuestionCount int       `json:"question_count"`
	StartedAt     time.Time `json:"started_at"`
	TimeoutAt     time.Time `json:"timeout_at"`
}

// QuestionCompletedPayload is the payload for a QuestionCompleted event
type QuestionCompletedPayload struct {
	AttemptID     int64     `json:"attempt_id"`
	RoundID       int64     `json:"round_id"`
	QuestionIndex int       `json:"question_index"`
	ElapsedMs     int64     `json:"elapsed_ms"`
	CompletedAt   time.Time `json:"completed_at"`
}

// AttemptPausedPayload is the payload for an AttemptPaused event
type AttemptPausedPayload struct {
	AttemptID int64     `json:"attempt_id"`
	RoundID   int64     `json:"round_id"`
	PausedAt  time.Time `json:"paused_at"`
}

// AttemptResumedPayload is the payload for an AttemptResumed event
type AttemptResumedPayload struct {
	AttemptID   int64     `json:"attempt_id"`
	RoundID     int64     `json:"round_id"`
	ResumedAt   time.Time `json:"resumed_at"`
	PausedForMs int64     `json:"paused_for_ms"`
}

// AttemptTimedOutPayload is the payload for an AttemptTimedOut event
type AttemptTimedOutPayload struct {
	AttemptID     int64     `json:"attempt_id"`
	RoundID       int64     `json:"round_id"`
	QuestionIndex int       `json:"question_index"`
	TimedOutAt    time.Time `json:"timed_out_at"`
}

// AttemptCompletedPayload is the payload for an AttemptCompleted event
type AttemptCompletedPayload struct {
	AttemptID     int64     `json:"attempt_id"`
	RoundID       int64     `json:"round_id"`
	QuestionCount int       `json:"question_count"`
	CompletedAt   time.Time `json:"completed_at"`
}

// AttemptFinalizedPayload is the payload for an AttemptFinalized event
type AttemptFinalizedPayload struct {
	AttemptID     int64     `json:"attempt_id"`
	RoundID       int64     `json:"round_id"`
	TotalTimeMs   int64     `json:"total_time_ms"`
	PrePaymentMs  int64     `json:"pre_payment_ms"`
	PostPaymentMs int64     `json:"post_payment_ms"`
	FinalizedAt   time.Time `json:"finalized_at"`
}

// SuspicionRaisedPayload is the payload for a SuspicionRaised event
type SuspicionRaisedPayload struct {
	AttemptID      int64     `json:"attempt_id"`
	RoundID        int64     `json:"round_id"`
	QuestionIndex  int       `json:"question_index"`
	ElapsedMs      int64     `json:"elapsed_ms"`
	SuspicionCount int       `json:"suspicion_count"`
	RaisedAt       time.Time `json:"raised_at"`
}

// IntegrityViolationPayload is the payload for an IntegrityViolation event.
// Fingerprints are truncated to prefixes so the event log carries no
// replayable device identity.
type IntegrityViolationPayload struct {
	AttemptID       int64     `json:"attempt_id"`
	RoundID         int64     `json:"round_id"`
	Reason          string    `json:"reason"`
	ExpectedPrefix  string    `json:"expected_prefix"`
	PresentedPrefix string    `json:"presented_prefix"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// WinnerSelectedPayload is the payload for a WinnerSelected event
type WinnerSelectedPayload struct {
	RoundID     int64     `json:"round_id"`
	AttemptID   int64     `json:"attempt_id"`
	Method      string    `json:"method"`
	TotalTimeMs int64     `json:"total_time_ms"`
	SelectedAt  time.Time `json:"selected_at"`
}

// RoundCompletedPayload is the payload for a RoundCompleted event
type RoundCompletedPayload struct {
	RoundID         int64     `json:"round_id"`
	WinnerAttemptID *int64    `json:"winner_attempt_id,omitempty"`
	Method          string    `json:"method"`
	EligibleCount   int       `json:"eligible_count"`
	CompletedAt     time.Time `json:"completed_at"`
}
