package auctions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	"github.com/angelmondragon/auctionhouse-backend/pkg/pagination"
)

// Repository persists auctions and their bids.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, auction *models.Auction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	LockActiveByListing(ctx context.Context, listingID uuid.UUID) (*models.Auction, error)
	UpdateBidState(ctx context.Context, auction *models.Auction) error
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from []enums.AuctionStatus, to enums.AuctionStatus, at time.Time) (bool, error)
	CloseExpired(ctx context.Context, now time.Time) (int64, error)
	ListEnded(ctx context.Context, limit int) ([]models.Auction, error)

	CreateBid(ctx context.Context, bid *models.Bid) error
	FindBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	ListBids(ctx context.Context, auctionID uuid.UUID, limit int, after *pagination.Cursor) ([]models.Bid, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, auction *models.Auction) error {
	return r.db.WithContext(ctx).Create(auction).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&auction).Error; err != nil {
		return nil, err
	}
	return &auction, nil
}

// LockByID loads the auction with a row lock held until the transaction ends.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&auction).Error
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

func (r *repository) LockActiveByListing(ctx context.Context, listingID uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("listing_id = ? AND status = ?", listingID, enums.AuctionStatusActive).
		First(&auction).Error
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

func (r *repository) UpdateBidState(ctx context.Context, auction *models.Auction) error {
	return r.db.WithContext(ctx).
		Model(&models.Auction{}).
		Where("id = ?", auction.ID).
		Updates(map[string]any{
			"high_bid_id":         auction.HighBidID,
			"current_price_cents": auction.CurrentPriceCents,
			"bid_count":           auction.BidCount,
			"ends_at":             auction.EndsAt,
			"updated_at":          auction.UpdatedAt,
		}).Error
}

func (r *repository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from []enums.AuctionStatus, to enums.AuctionStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Auction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CloseExpired moves active auctions past their end time to ended.
func (r *repository) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Auction{}).
		Where("status = ? AND ends_at <= ?", enums.AuctionStatusActive, now).
		Updates(map[string]any{"status": enums.AuctionStatusEnded, "updated_at": now})
	return res.RowsAffected, res.Error
}

func (r *repository) ListEnded(ctx context.Context, limit int) ([]models.Auction, error) {
	var rows []models.Auction
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.AuctionStatusEnded).
		Order("ends_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (r *repository) CreateBid(ctx context.Context, bid *models.Bid) error {
	return r.db.WithContext(ctx).Create(bid).Error
}

func (r *repository) FindBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&bid).Error; err != nil {
		return nil, err
	}
	return &bid, nil
}

// ListBids pages through an auction's bids newest first. Ties on placed_at
// (a bid and the proxy raise it triggered) break on amount, then id.
func (r *repository) ListBids(ctx context.Context, auctionID uuid.UUID, limit int, after *pagination.Cursor) ([]models.Bid, error) {
	var rows []models.Bid
	q := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID)
	if after != nil {
		q = q.Where(
			"(placed_at < ? OR (placed_at = ? AND (amount_cents < ? OR (amount_cents = ? AND id < ?))))",
			after.At, after.At, after.Amount, after.Amount, after.ID,
		)
	}
	q = q.Order("placed_at DESC").
		Order("amount_cents DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}
