package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Engine event types carried through the outbox.
const (
	EventTypeAttemptStarted     = "AttemptStarted"
	EventTypeQuestionCompleted  = "QuestionCompleted"
	EventTypeAttemptPaused      = "AttemptPaused"
	EventTypeAttemptResumed     = "AttemptResumed"
	EventTypeAttemptTimedOut    = "AttemptTimedOut"
	EventTypeAttemptCompleted   = "AttemptCompleted"
	EventTypeAttemptFinalized   = "AttemptFinalized"
	EventTypeSuspicionRaised    = "SuspicionRaised"
	EventTypeIntegrityViolation = "IntegrityViolation"
	EventTypeWinnerSelected     = "WinnerSelected"
	EventTypeRoundCompleted     = "RoundCompleted"
)

// OutboxEvent represents an outbox event for the relay layer
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	RoundID   int64           `json:"round_id"`
	AttemptID *int64          `json:"attempt_id,omitempty"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// EventInsert is the insert request emitters hand to the store inside
// their own transactions, so a state change and its event commit together.
type EventInsert struct {
	RoundID   int64
	AttemptID *int64
	EventType string
	Payload   []byte
}

// EventPublisher publishes relayed events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}
