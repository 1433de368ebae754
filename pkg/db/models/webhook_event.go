package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the deduplication record for one provider event delivery.
type WebhookEvent struct {
	EventID      string     `gorm:"column:event_id;primaryKey"`
	EventType    string     `gorm:"column:event_type;not null"`
	OrderID      *uuid.UUID `gorm:"column:order_id;type:uuid"`
	ProcessedAt  *time.Time `gorm:"column:processed_at"`
	ErrorMessage *string    `gorm:"column:error_message"`
	DuplicateOf  *string    `gorm:"column:duplicate_of"`
	ReceivedAt   time.Time  `gorm:"column:received_at;not null"`
}

// Processed reports whether the event reached terminal success.
func (e *WebhookEvent) Processed() bool {
	return e.ProcessedAt != nil && e.ErrorMessage == nil
}

// Failed reports whether the last attempt recorded an error.
func (e *WebhookEvent) Failed() bool {
	return e.ErrorMessage != nil
}
