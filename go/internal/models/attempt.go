package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus defines the lifecycle state of a competition attempt.
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "NOT_STARTED"
	AttemptStatusRunning    AttemptStatus = "RUNNING"
	AttemptStatusPaused     AttemptStatus = "PAUSED"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
	AttemptStatusTimedOut   AttemptStatus = "TIMED_OUT"
)

// Attempt represents one participant's run through a round's questions.
type Attempt struct {
	ID      int64     `json:"id"`
	RoundID int64     `json:"round_id"`
	UserID  uuid.UUID `json:"user_id"`

	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"` // E.164, empty when unknown
	WhatsAppConsent bool   `json:"whatsapp_consent"`

	Status AttemptStatus `json:"status"`
	Paid   bool          `json:"paid"`
	PaidAt *time.Time    `json:"paid_at,omitempty"`

	CurrentQuestion int             `json:"current_question"` // index awaiting an answer
	QuestionTimes   []time.Duration `json:"question_times"`   // per-question elapsed, in answer order

	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	IPAddress         string `json:"ip_address,omitempty"`
	UserAgent         string `json:"user_agent,omitempty"`

	SessionStartedAt  *time.Time    `json:"session_started_at,omitempty"`
	QuestionStartedAt *time.Time    `json:"question_started_at,omitempty"`
	PausedAt          *time.Time    `json:"paused_at,omitempty"`
	PausedDuration    time.Duration `json:"paused_duration"` // accumulated for the current question
	NextDeadline      *time.Time    `json:"next_deadline,omitempty"`

	TotalTime       *time.Duration `json:"total_time,omitempty"`
	PrePaymentTime  *time.Duration `json:"pre_payment_time,omitempty"`
	PostPaymentTime *time.Duration `json:"post_payment_time,omitempty"`

	SuspicionCount int      `json:"suspicion_count"`
	FraudFlags     []string `json:"fraud_flags,omitempty"`
	Fraudulent     bool     `json:"fraudulent"`
	Winner         bool     `json:"winner"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
