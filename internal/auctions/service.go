// Package auctions owns bid placement and the settlement of closed auctions.
package auctions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/internal/bidding"
	"github.com/angelmondragon/auctionhouse-backend/internal/notifications"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
	"github.com/angelmondragon/auctionhouse-backend/pkg/metrics"
	"github.com/angelmondragon/auctionhouse-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service places bids and reads bid history.
type Service interface {
	PlaceBid(ctx context.Context, input PlaceBidInput) (*PlaceBidResult, error)
	ListBids(ctx context.Context, auctionID uuid.UUID, page pagination.Params) (*BidPage, error)
}

// BidPage is one page of bid history. NextCursor is empty on the last page.
type BidPage struct {
	Bids       []models.Bid
	NextCursor string
}

// PlaceBidInput addresses the auction either directly or through the listing
// it currently sells.
type PlaceBidInput struct {
	AuctionID     uuid.UUID
	ListingID     uuid.UUID
	BidderID      uuid.UUID
	AmountCents   int64
	MaxProxyCents *int64
}

// PlaceBidResult is either an accepted bid or a business rejection. Rejections
// are values: Accepted is false and Reason explains why.
type PlaceBidResult struct {
	Accepted   bool
	Reason     bidding.RejectReason
	MinimumBid int64

	AuctionID           uuid.UUID
	Bid                 *models.Bid
	IsProxyBid          bool
	Leading             bool
	OutbidPrevious      bool
	PreviousBidderID    *uuid.UUID
	PreviousAmountCents *int64
	CurrentPriceCents   int64
	ExtensionSeconds    int64
	NewEndAt            *time.Time
}

// AntiSnipe extends an auction when a bid lands within Window of its end.
type AntiSnipe struct {
	Window    time.Duration
	Extension time.Duration
}

type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Notifier  notifications.Notifier
	Metrics   metrics.KPIRecorder
	AntiSnipe AntiSnipe
	Logger    *logger.Logger
	Clock     func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	notifier  notifications.Notifier
	metrics   metrics.KPIRecorder
	antiSnipe AntiSnipe
	logg      *logger.Logger
	clock     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("auctions repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	svc := &service{
		repo:      params.Repo,
		tx:        params.Tx,
		notifier:  params.Notifier,
		metrics:   params.Metrics,
		antiSnipe: params.AntiSnipe,
		logg:      params.Logger,
		clock:     params.Clock,
	}
	if svc.notifier == nil {
		svc.notifier = notifications.Noop{}
	}
	if svc.metrics == nil {
		svc.metrics = metrics.Discard
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	return svc, nil
}

func (s *service) PlaceBid(ctx context.Context, input PlaceBidInput) (*PlaceBidResult, error) {
	if input.BidderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if input.AuctionID == uuid.Nil && input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "auction or listing id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount_cents must be positive")
	}
	if input.AmountCents > bidding.MaxBidCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount_cents exceeds the maximum bid")
	}
	if input.MaxProxyCents != nil && *input.MaxProxyCents > bidding.MaxBidCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proxy_max_cents exceeds the maximum bid")
	}
	if input.MaxProxyCents != nil && *input.MaxProxyCents < input.AmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proxy_max_cents must not be below amount_cents")
	}

	var (
		result  *PlaceBidResult
		auction *models.Auction
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := s.lockAuction(ctx, repo, input)
		if err != nil {
			return err
		}
		if locked == nil {
			result = &PlaceBidResult{Reason: bidding.ReasonAuctionNotActive}
			return nil
		}
		auction = locked
		result, err = s.resolveBid(ctx, repo, auction, input)
		return err
	})
	if err != nil {
		s.metrics.BidPlaced("error")
		return nil, err
	}

	if !result.Accepted {
		s.metrics.BidPlaced(string(result.Reason))
		return result, nil
	}

	s.metrics.BidPlaced("accepted")
	if result.OutbidPrevious && result.PreviousBidderID != nil {
		if err := s.notifier.Notify(ctx, *result.PreviousBidderID, enums.NotificationTypeOutbid, map[string]any{
			"auction_id":          auction.ID.String(),
			"listing_id":          auction.ListingID.String(),
			"current_price_cents": result.CurrentPriceCents,
		}); err != nil {
			s.logg.Error(ctx, "outbid notification failed", err)
		}
	}
	return result, nil
}

// lockAuction returns nil when no auction is open for bidding at the address.
func (s *service) lockAuction(ctx context.Context, repo Repository, input PlaceBidInput) (*models.Auction, error) {
	var (
		auction *models.Auction
		err     error
	)
	if input.AuctionID != uuid.Nil {
		auction, err = repo.LockByID(ctx, input.AuctionID)
	} else {
		auction, err = repo.LockActiveByListing(ctx, input.ListingID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if input.AuctionID != uuid.Nil {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
			}
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock auction")
	}
	return auction, nil
}

func (s *service) resolveBid(ctx context.Context, repo Repository, auction *models.Auction, input PlaceBidInput) (*PlaceBidResult, error) {
	now := s.clock().UTC()
	result := &PlaceBidResult{AuctionID: auction.ID, CurrentPriceCents: auction.CurrentPriceCents}

	if auction.Status != enums.AuctionStatusActive || now.Before(auction.StartsAt) || !now.Before(auction.EndsAt) {
		result.Reason = bidding.ReasonAuctionNotActive
		return result, nil
	}
	if auction.SellerID == input.BidderID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot bid on their own auction")
	}

	var leader *models.Bid
	if auction.HighBidID != nil {
		found, err := repo.FindBid(ctx, *auction.HighBidID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load high bid")
		}
		leader = found
		if leader.BidderID == input.BidderID {
			result.Reason = bidding.ReasonSelfOutbid
			result.MinimumBid = bidding.CalculateMinimumBid(auction.CurrentPriceCents)
			return result, nil
		}
	}

	check := bidding.ValidateBidAmount(input.AmountCents, auction.CurrentPriceCents, auction.ReservePriceCents)
	result.MinimumBid = check.MinimumBid
	if !check.Valid {
		result.Reason = check.Reason
		return result, nil
	}

	ceiling := input.AmountCents
	if input.MaxProxyCents != nil {
		ceiling = *input.MaxProxyCents
	}

	bid := &models.Bid{
		ID:            uuid.New(),
		AuctionID:     auction.ID,
		BidderID:      input.BidderID,
		AmountCents:   input.AmountCents,
		MaxProxyCents: input.MaxProxyCents,
		PlacedAt:      now,
	}
	if err := repo.CreateBid(ctx, bid); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert bid")
	}
	bidCount := 1
	highBidID := bid.ID
	price := input.AmountCents

	switch {
	case leader == nil:
		result.Leading = true
	case leader.Ceiling() >= ceiling:
		// The standing proxy covers the challenger; the leader is raised just
		// past the challenger's ceiling, never beyond its own.
		raise := ceiling + bidding.CalculateBidIncrement(ceiling)
		if raise > leader.Ceiling() {
			raise = leader.Ceiling()
		}
		highBidID = leader.ID
		if raise > leader.AmountCents {
			proxy := &models.Bid{
				ID:            uuid.New(),
				AuctionID:     auction.ID,
				BidderID:      leader.BidderID,
				AmountCents:   raise,
				MaxProxyCents: leader.MaxProxyCents,
				IsProxy:       true,
				PlacedAt:      now,
			}
			if err := repo.CreateBid(ctx, proxy); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert proxy bid")
			}
			highBidID = proxy.ID
			bidCount++
		}
		price = raise
	default:
		// The challenger takes the lead one increment over the old ceiling, or
		// at the entered amount when that is already higher.
		previous := leader.Ceiling()
		price = previous + bidding.CalculateBidIncrement(previous)
		if price > ceiling {
			price = ceiling
		}
		if price < input.AmountCents {
			price = input.AmountCents
		}
		if price > input.AmountCents {
			proxy := &models.Bid{
				ID:            uuid.New(),
				AuctionID:     auction.ID,
				BidderID:      input.BidderID,
				AmountCents:   price,
				MaxProxyCents: input.MaxProxyCents,
				IsProxy:       true,
				PlacedAt:      now,
			}
			if err := repo.CreateBid(ctx, proxy); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert proxy bid")
			}
			highBidID = proxy.ID
			bidCount++
			result.IsProxyBid = true
		}
		result.Leading = true
		result.OutbidPrevious = true
		prevBidder := leader.BidderID
		prevAmount := leader.AmountCents
		if auction.CurrentPriceCents > prevAmount {
			prevAmount = auction.CurrentPriceCents
		}
		result.PreviousBidderID = &prevBidder
		result.PreviousAmountCents = &prevAmount
	}

	auction.HighBidID = &highBidID
	auction.CurrentPriceCents = price
	auction.BidCount += bidCount
	auction.UpdatedAt = now

	if s.antiSnipe.Window > 0 && s.antiSnipe.Extension > 0 && auction.EndsAt.Sub(now) <= s.antiSnipe.Window {
		extended := now.Add(s.antiSnipe.Extension)
		if extended.After(auction.EndsAt) {
			result.ExtensionSeconds = int64(extended.Sub(auction.EndsAt) / time.Second)
			auction.EndsAt = extended
			result.NewEndAt = &extended
		}
	}

	if err := repo.UpdateBidState(ctx, auction); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update auction")
	}

	result.Accepted = true
	result.Bid = bid
	result.CurrentPriceCents = price
	return result, nil
}

func (s *service) ListBids(ctx context.Context, auctionID uuid.UUID, page pagination.Params) (*BidPage, error) {
	if auctionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "auction id is required")
	}
	after, err := pagination.ParseCursor(page.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if _, err := s.repo.FindByID(ctx, auctionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load auction")
	}

	limit := pagination.NormalizeLimit(page.Limit)
	bids, err := s.repo.ListBids(ctx, auctionID, pagination.LimitWithBuffer(limit), after)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bids")
	}

	out := &BidPage{Bids: bids}
	if len(bids) > limit {
		out.Bids = bids[:limit]
		last := out.Bids[limit-1]
		out.NextCursor = pagination.EncodeCursor(pagination.Cursor{At: last.PlacedAt, Amount: last.AmountCents, ID: last.ID})
	}
	return out, nil
}
