package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// LedgerEntry is an immutable audit row describing one order transition.
// UserID is nil for system-driven entries (provider webhooks, finalizer).
type LedgerEntry struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	Type        enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type;not null"`
	Description string                `gorm:"column:description;not null"`
	AmountCents int64                 `gorm:"column:amount_cents;not null"`
	UserID      *uuid.UUID            `gorm:"column:user_id;type:uuid"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}
