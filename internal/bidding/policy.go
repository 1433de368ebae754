// Package bidding holds the pure bid admission rules: the increment schedule
// and validation of a candidate bid against current price and reserve.
package bidding

// RejectReason is the business reason a bid was refused.
type RejectReason string

const (
	ReasonBidTooLow        RejectReason = "bid_too_low"
	ReasonReserveNotMet    RejectReason = "reserve_not_met"
	ReasonAuctionNotActive RejectReason = "auction_not_active"
	ReasonSelfOutbid       RejectReason = "self_outbid"
)

// MaxBidCents caps any entered amount or proxy ceiling, so a price plus one
// increment always fits in int64.
const MaxBidCents int64 = 100_000_000_000

type incrementBand struct {
	upToCents int64 // exclusive upper bound; 0 marks the open-ended top band
	increment int64
}

// incrementSchedule must stay ordered by price and non-decreasing in increment.
var incrementSchedule = []incrementBand{
	{upToCents: 1_000, increment: 50},
	{upToCents: 5_000, increment: 100},
	{upToCents: 10_000, increment: 250},
	{upToCents: 25_000, increment: 500},
	{upToCents: 50_000, increment: 1_000},
	{upToCents: 100_000, increment: 2_500},
	{upToCents: 250_000, increment: 5_000},
	{upToCents: 0, increment: 10_000},
}

// CalculateBidIncrement returns the minimum step above the current price.
func CalculateBidIncrement(currentPriceCents int64) int64 {
	for _, band := range incrementSchedule {
		if band.upToCents == 0 || currentPriceCents < band.upToCents {
			return band.increment
		}
	}
	return incrementSchedule[len(incrementSchedule)-1].increment
}

// CalculateMinimumBid is the current price plus one increment.
func CalculateMinimumBid(currentPriceCents int64) int64 {
	if currentPriceCents < 0 {
		currentPriceCents = 0
	}
	return currentPriceCents + CalculateBidIncrement(currentPriceCents)
}

// Validation is the outcome of ValidateBidAmount. MinimumBid is the effective
// floor, raised to the reserve when one is set above the increment minimum.
type Validation struct {
	Valid      bool
	Reason     RejectReason
	MinimumBid int64
}

// ValidateBidAmount checks amountCents against the minimum bid and the reserve.
func ValidateBidAmount(amountCents, currentPriceCents int64, reserveCents *int64) Validation {
	minimum := CalculateMinimumBid(currentPriceCents)
	floor := minimum
	if reserveCents != nil && *reserveCents > floor {
		floor = *reserveCents
	}

	switch {
	case amountCents < minimum:
		return Validation{Reason: ReasonBidTooLow, MinimumBid: floor}
	case amountCents < floor:
		return Validation{Reason: ReasonReserveNotMet, MinimumBid: floor}
	default:
		return Validation{Valid: true, MinimumBid: floor}
	}
}
