package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// Payment records a provider-side money movement against an order.
type Payment struct {
	ID                      uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID                 uuid.UUID           `gorm:"column:order_id;type:uuid;not null"`
	Kind                    enums.PaymentKind   `gorm:"column:kind;type:payment_kind;not null"`
	AmountCents             int64               `gorm:"column:amount_cents;not null"`
	Currency                string              `gorm:"column:currency;not null"`
	ProviderPaymentIntentID string              `gorm:"column:provider_payment_intent_id;not null"`
	Status                  enums.PaymentStatus `gorm:"column:status;type:payment_status;not null"`
	FailureReason           *string             `gorm:"column:failure_reason"`
	ProcessedAt             *time.Time          `gorm:"column:processed_at"`
	CreatedAt               time.Time           `gorm:"column:created_at;autoCreateTime"`
}
