package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// Auction is the durable record of a listing on sale and its current high bid.
type Auction struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ListingID          uuid.UUID           `gorm:"column:listing_id;type:uuid;not null"`
	SellerID           uuid.UUID           `gorm:"column:seller_id;type:uuid;not null"`
	HighBidID          *uuid.UUID          `gorm:"column:high_bid_id;type:uuid"`
	StartingPriceCents int64               `gorm:"column:starting_price_cents;not null"`
	CurrentPriceCents  int64               `gorm:"column:current_price_cents;not null"`
	ReservePriceCents  *int64              `gorm:"column:reserve_price_cents"`
	BidCount           int                 `gorm:"column:bid_count;not null;default:0"`
	Status             enums.AuctionStatus `gorm:"column:status;type:auction_status;not null"`
	StartsAt           time.Time           `gorm:"column:starts_at;not null"`
	EndsAt             time.Time           `gorm:"column:ends_at;not null"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// ReserveMet reports whether the given price satisfies the reserve, if any.
func (a *Auction) ReserveMet(priceCents int64) bool {
	return a.ReservePriceCents == nil || priceCents >= *a.ReservePriceCents
}
