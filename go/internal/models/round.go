package models

import (
	"time"
)

// RoundStatus defines the lifecycle state of a competition round.
type RoundStatus string

const (
	RoundStatusOpen      RoundStatus = "OPEN"
	RoundStatusCompleted RoundStatus = "COMPLETED"
	RoundStatusCancelled RoundStatus = "CANCELLED"
)

// SelectionMethod defines how a round's winner was chosen.
type SelectionMethod string

const (
	SelectionMethodFastestTime SelectionMethod = "FASTEST_TIME"
	SelectionMethodRandom      SelectionMethod = "RANDOM"
	SelectionMethodManual      SelectionMethod = "MANUAL"
)

// RoundSettings holds JSONB configuration for rounds.
type RoundSettings struct {
	QuestionCount      int    `json:"question_count"`
	FreeQuestionCount  int    `json:"free_question_count"`
	QuestionTimeoutSec int    `json:"question_timeout_sec,omitempty"` // 0 falls back to the engine default
	MinAnswerTimeMs    int    `json:"min_answer_time_ms,omitempty"`   // 0 falls back to the engine default
	Prize              string `json:"prize,omitempty"`
	// Extend with more settings as needed
}

// Round represents a single competition round.
type Round struct {
	ID              int64            `json:"id"`
	Status          RoundStatus      `json:"status"`
	Settings        RoundSettings    `json:"settings"`
	WinnerAttemptID *int64           `json:"winner_attempt_id,omitempty"` // nil until selected
	SelectionMethod *SelectionMethod `json:"selection_method,omitempty"`
	ClosesAt        *time.Time       `json:"closes_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
