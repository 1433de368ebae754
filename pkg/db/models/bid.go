package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid is an append-only bid row. Proxy auto-raises are stored as their own rows.
type Bid struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	AuctionID     uuid.UUID `gorm:"column:auction_id;type:uuid;not null"`
	BidderID      uuid.UUID `gorm:"column:bidder_id;type:uuid;not null"`
	AmountCents   int64     `gorm:"column:amount_cents;not null"`
	MaxProxyCents *int64    `gorm:"column:max_proxy_cents"`
	IsProxy       bool      `gorm:"column:is_proxy;not null;default:false"`
	PlacedAt      time.Time `gorm:"column:placed_at;not null"`
}

// Ceiling returns the highest amount the bid may be raised to on the bidder's behalf.
func (b *Bid) Ceiling() int64 {
	if b.MaxProxyCents != nil && *b.MaxProxyCents > b.AmountCents {
		return *b.MaxProxyCents
	}
	return b.AmountCents
}
