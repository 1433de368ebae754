package enums

import "fmt"

// AuctionStatus maps to the auction_status enum in Postgres.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusFinalized AuctionStatus = "finalized"
	AuctionStatusNoSale    AuctionStatus = "no_sale"
)

var validAuctionStatuses = []AuctionStatus{
	AuctionStatusActive,
	AuctionStatusEnded,
	AuctionStatusFinalized,
	AuctionStatusNoSale,
}

// String implements fmt.Stringer.
func (s AuctionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known AuctionStatus.
func (s AuctionStatus) IsValid() bool {
	for _, candidate := range validAuctionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAuctionStatus converts raw input into an AuctionStatus.
func ParseAuctionStatus(value string) (AuctionStatus, error) {
	for _, candidate := range validAuctionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid auction status %q", value)
}
