package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailStatus is the delivery state of a logged email.
type EmailStatus string

const (
	EmailQueued EmailStatus = "queued"
	EmailSent   EmailStatus = "sent"
	EmailFailed EmailStatus = "failed"
)

// EmailLog records one outbound notification email.
type EmailLog struct {
	ID             uuid.UUID   `json:"id"`
	EmailType      string      `json:"email_type"`
	RecipientEmail string      `json:"recipient_email"`
	Subject        string      `json:"subject"`
	EventID        *uuid.UUID  `json:"event_id,omitempty"`
	RecordID       *uuid.UUID  `json:"record_id,omitempty"`
	Status         EmailStatus `json:"status"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	SentAt         *time.Time  `json:"sent_at,omitempty"`
}
