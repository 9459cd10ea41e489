package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationChannel identifies a delivery transport.
type NotificationChannel string

const (
	NotificationChannelEmail    NotificationChannel = "EMAIL"
	NotificationChannelWhatsApp NotificationChannel = "WHATSAPP"
)

// JobPriority orders notification jobs within a channel.
type JobPriority string

const (
	JobPriorityHigh   JobPriority = "HIGH"
	JobPriorityNormal JobPriority = "NORMAL"
)

// NotificationJob is a queued request for an external delivery worker.
// The engine only enqueues jobs; transports live outside this module.
type NotificationJob struct {
	ID        uuid.UUID           `json:"id"`
	Recipient string              `json:"recipient"`
	Channel   NotificationChannel `json:"channel"`
	Template  string              `json:"template"`
	Variables map[string]string   `json:"variables,omitempty"`
	Priority  JobPriority         `json:"priority"`
	CreatedAt time.Time           `json:"created_at"`
}
