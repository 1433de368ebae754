package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// Order is created once per finalized auction and walks the fulfilment lifecycle.
type Order struct {
	ID                    uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ListingID             uuid.UUID        `gorm:"column:listing_id;type:uuid;not null"`
	AuctionID             uuid.UUID        `gorm:"column:auction_id;type:uuid;not null;uniqueIndex"`
	BuyerID               uuid.UUID        `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID              uuid.UUID        `gorm:"column:seller_id;type:uuid;not null"`
	WinningBidID          uuid.UUID        `gorm:"column:winning_bid_id;type:uuid;not null"`
	AmountCents           int64            `gorm:"column:amount_cents;not null"`
	PlatformFeeCents      int64            `gorm:"column:platform_fee_cents;not null"`
	SellerAmountCents     int64            `gorm:"column:seller_amount_cents;not null"`
	Currency              string           `gorm:"column:currency;not null"`
	State                 enums.OrderState `gorm:"column:state;type:order_state;not null"`
	Version               int              `gorm:"column:version;not null;default:1"`
	StripePaymentIntentID *string          `gorm:"column:stripe_payment_intent_id"`
	PaidAt                *time.Time       `gorm:"column:paid_at"`
	CancelledAt           *time.Time       `gorm:"column:cancelled_at"`
	CreatedAt             time.Time        `gorm:"column:created_at"`
	UpdatedAt             time.Time        `gorm:"column:updated_at"`
}
