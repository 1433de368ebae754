package auctions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/internal/notifications"
	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	pkgdb "github.com/angelmondragon/auctionhouse-backend/pkg/db"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
	"github.com/angelmondragon/auctionhouse-backend/pkg/metrics"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
	defaultCurrency    = "usd"
	orderAuctionColumn = "auction_id"
)

// Finalize outcomes.
const (
	OutcomeFinalized        = "finalized"
	OutcomeNoSale           = "no_sale"
	OutcomeAlreadyFinalized = "already_finalized"
	OutcomeSkipped          = "skipped"
)

var (
	defaultFeeRate    = decimal.RequireFromString("0.05")
	errOrderRaceLost  = errors.New("order already created for auction")
	finalizableStates = []enums.AuctionStatus{enums.AuctionStatusActive, enums.AuctionStatusEnded}
)

// Outcome reports what finalizing one auction did. Order is set only when
// this call created it.
type Outcome struct {
	AuctionID uuid.UUID
	Result    string
	Order     *models.Order
}

// RunSummary aggregates one finalizer pass.
type RunSummary struct {
	Closed           int64
	Finalized        int
	NoSale           int
	AlreadyFinalized int
	Skipped          int
	Failed           int
}

type FinalizerParams struct {
	Auctions    Repository
	Orders      orders.Repository
	Tx          txRunner
	Notifier    notifications.Notifier
	Metrics     metrics.KPIRecorder
	FeeRate     decimal.Decimal
	Currency    string
	BatchSize   int
	Concurrency int
	Logger      *logger.Logger
	Clock       func() time.Time
}

// Finalizer turns closed auctions into orders.
type Finalizer struct {
	auctions    Repository
	orders      orders.Repository
	tx          txRunner
	notifier    notifications.Notifier
	metrics     metrics.KPIRecorder
	feeRate     decimal.Decimal
	currency    string
	batchSize   int
	concurrency int
	logg        *logger.Logger
	clock       func() time.Time
}

func NewFinalizer(params FinalizerParams) (*Finalizer, error) {
	if params.Auctions == nil {
		return nil, fmt.Errorf("auctions repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.FeeRate.IsNegative() || params.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rate must be within [0, 1)")
	}
	f := &Finalizer{
		auctions:    params.Auctions,
		orders:      params.Orders,
		tx:          params.Tx,
		notifier:    params.Notifier,
		metrics:     params.Metrics,
		feeRate:     params.FeeRate,
		currency:    strings.ToLower(strings.TrimSpace(params.Currency)),
		batchSize:   params.BatchSize,
		concurrency: params.Concurrency,
		logg:        params.Logger,
		clock:       params.Clock,
	}
	if f.feeRate.IsZero() {
		f.feeRate = defaultFeeRate
	}
	if f.currency == "" {
		f.currency = defaultCurrency
	}
	if f.batchSize <= 0 {
		f.batchSize = defaultBatchSize
	}
	if f.concurrency <= 0 {
		f.concurrency = defaultConcurrency
	}
	if f.notifier == nil {
		f.notifier = notifications.Noop{}
	}
	if f.metrics == nil {
		f.metrics = metrics.Discard
	}
	if f.logg == nil {
		f.logg = logger.Nop()
	}
	if f.clock == nil {
		f.clock = time.Now
	}
	return f, nil
}

// SplitAmount divides a winning amount into the platform fee, rounded to whole
// cents, and the seller's share. The two always add up to amountCents.
func SplitAmount(amountCents int64, rate decimal.Decimal) (feeCents, sellerCents int64) {
	feeCents = decimal.NewFromInt(amountCents).Mul(rate).Round(0).IntPart()
	return feeCents, amountCents - feeCents
}

// Run closes expired auctions and finalizes one batch of ended ones. A failure
// on one auction does not stop the others; all failures are returned together.
func (f *Finalizer) Run(ctx context.Context) (RunSummary, error) {
	var summary RunSummary

	closed, err := f.auctions.CloseExpired(ctx, f.clock().UTC())
	if err != nil {
		return summary, fmt.Errorf("close expired auctions: %w", err)
	}
	summary.Closed = closed

	ended, err := f.auctions.ListEnded(ctx, f.batchSize)
	if err != nil {
		return summary, fmt.Errorf("list ended auctions: %w", err)
	}

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(f.concurrency)
	for _, auction := range ended {
		auctionID := auction.ID
		g.Go(func() error {
			outcome, err := f.FinalizeAuction(ctx, auctionID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				errs = multierr.Append(errs, fmt.Errorf("auction %s: %w", auctionID, err))
				return nil
			}
			switch outcome.Result {
			case OutcomeFinalized:
				summary.Finalized++
			case OutcomeNoSale:
				summary.NoSale++
			case OutcomeAlreadyFinalized:
				summary.AlreadyFinalized++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	f.logg.Info(ctx, fmt.Sprintf("finalizer pass: closed=%d finalized=%d no_sale=%d already=%d skipped=%d failed=%d",
		summary.Closed, summary.Finalized, summary.NoSale, summary.AlreadyFinalized, summary.Skipped, summary.Failed))
	return summary, errs
}

// FinalizeAuction settles one auction. It is safe to call any number of times,
// concurrently included: the unique order per auction decides the winner.
func (f *Finalizer) FinalizeAuction(ctx context.Context, auctionID uuid.UUID) (*Outcome, error) {
	ctx = f.logg.WithAuctionID(ctx, auctionID.String())
	outcome := &Outcome{AuctionID: auctionID, Result: OutcomeSkipped}
	var auction *models.Auction

	err := f.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := f.auctions.WithTx(tx)
		orderRepo := f.orders.WithTx(tx)
		now := f.clock().UTC()

		locked, err := repo.LockByID(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("lock auction: %w", err)
		}
		auction = locked
		if !finalizable(auction, now) {
			return nil
		}

		if auction.HighBidID == nil || !auction.ReserveMet(auction.CurrentPriceCents) {
			if _, err := repo.CompareAndSwapStatus(ctx, auction.ID, finalizableStates, enums.AuctionStatusNoSale, now); err != nil {
				return fmt.Errorf("mark no sale: %w", err)
			}
			outcome.Result = OutcomeNoSale
			return nil
		}

		if _, err := orderRepo.FindByAuctionID(ctx, auction.ID); err == nil {
			if _, err := repo.CompareAndSwapStatus(ctx, auction.ID, finalizableStates, enums.AuctionStatusFinalized, now); err != nil {
				return fmt.Errorf("mark finalized: %w", err)
			}
			outcome.Result = OutcomeAlreadyFinalized
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing order: %w", err)
		}

		winning, err := repo.FindBid(ctx, *auction.HighBidID)
		if err != nil {
			return fmt.Errorf("load winning bid: %w", err)
		}

		fee, sellerAmount := SplitAmount(winning.AmountCents, f.feeRate)
		order := &models.Order{
			ID:                uuid.New(),
			ListingID:         auction.ListingID,
			AuctionID:         auction.ID,
			BuyerID:           winning.BidderID,
			SellerID:          auction.SellerID,
			WinningBidID:      winning.ID,
			AmountCents:       winning.AmountCents,
			PlatformFeeCents:  fee,
			SellerAmountCents: sellerAmount,
			Currency:          f.currency,
			State:             enums.OrderStatePendingPayment,
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := orderRepo.Create(ctx, order); err != nil {
			if pkgdb.IsUniqueViolation(err, orderAuctionColumn) {
				return errOrderRaceLost
			}
			return fmt.Errorf("create order: %w", err)
		}
		if _, err := repo.CompareAndSwapStatus(ctx, auction.ID, finalizableStates, enums.AuctionStatusFinalized, now); err != nil {
			return fmt.Errorf("mark finalized: %w", err)
		}
		outcome.Result = OutcomeFinalized
		outcome.Order = order
		return nil
	})
	if errors.Is(err, errOrderRaceLost) {
		f.logg.Info(ctx, "order already created by a concurrent finalizer")
		return &Outcome{AuctionID: auctionID, Result: OutcomeAlreadyFinalized}, nil
	}
	if err != nil {
		f.logg.Error(ctx, "finalize auction failed", err)
		return nil, err
	}

	f.afterFinalize(ctx, auction, outcome)
	return outcome, nil
}

func finalizable(auction *models.Auction, now time.Time) bool {
	switch auction.Status {
	case enums.AuctionStatusEnded:
		return true
	case enums.AuctionStatusActive:
		return !auction.EndsAt.After(now)
	default:
		return false
	}
}

func (f *Finalizer) afterFinalize(ctx context.Context, auction *models.Auction, outcome *Outcome) {
	switch outcome.Result {
	case OutcomeNoSale:
		f.metrics.AuctionClosed(OutcomeNoSale)
		f.notify(ctx, auction.SellerID, enums.NotificationTypeAuctionNoSale, map[string]any{
			"auction_id": auction.ID.String(),
			"listing_id": auction.ListingID.String(),
		})
	case OutcomeFinalized:
		f.metrics.AuctionClosed(OutcomeFinalized)
		f.metrics.OrderCreated()
		order := outcome.Order
		payload := map[string]any{
			"auction_id":   auction.ID.String(),
			"listing_id":   auction.ListingID.String(),
			"order_id":     order.ID.String(),
			"amount_cents": order.AmountCents,
		}
		f.notify(ctx, order.BuyerID, enums.NotificationTypeAuctionWon, payload)
		f.notify(ctx, order.SellerID, enums.NotificationTypeAuctionEnded, payload)
	}
}

func (f *Finalizer) notify(ctx context.Context, userID uuid.UUID, typ enums.NotificationType, payload map[string]any) {
	if err := f.notifier.Notify(ctx, userID, typ, payload); err != nil {
		f.logg.Error(ctx, fmt.Sprintf("%s notification failed", typ), err)
	}
}
