package models

import (
	"time"

	"github.com/google/uuid"
)

// ClaimToken lets a selected winner claim a round's prize until expiry.
type ClaimToken struct {
	ID         uuid.UUID  `json:"id"`
	RoundID    int64      `json:"round_id"`
	AttemptID  int64      `json:"attempt_id"`
	Token      string     `json:"token"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
