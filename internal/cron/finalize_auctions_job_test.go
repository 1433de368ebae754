package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/auctionhouse-backend/internal/auctions"
	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/dbtest"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
)

type scriptedFinalizer struct {
	summaries []auctions.RunSummary
	err       error
	calls     int
}

func (s *scriptedFinalizer) Run(context.Context) (auctions.RunSummary, error) {
	s.calls++
	if s.err != nil {
		return auctions.RunSummary{}, s.err
	}
	if len(s.summaries) == 0 {
		return auctions.RunSummary{}, nil
	}
	next := s.summaries[0]
	s.summaries = s.summaries[1:]
	return next, nil
}

func TestFinalizeAuctionsJobPasses(t *testing.T) {
	cases := []struct {
		name      string
		batch     int
		summaries []auctions.RunSummary
		wantCalls int
	}{
		{name: "partial batch stops", batch: 10, summaries: []auctions.RunSummary{{Finalized: 3}}, wantCalls: 1},
		{name: "full batch repeats", batch: 2, summaries: []auctions.RunSummary{{Finalized: 1, NoSale: 1}, {Finalized: 1}}, wantCalls: 2},
		{name: "capped passes", batch: 1, summaries: []auctions.RunSummary{{Finalized: 1}, {Finalized: 1}, {Finalized: 1}, {Finalized: 1}}, wantCalls: 3},
		{name: "failed auctions do not count toward a full batch", batch: 2, summaries: []auctions.RunSummary{{Finalized: 1, Failed: 1}}, wantCalls: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			finalizer := &scriptedFinalizer{summaries: tc.summaries}
			job, err := NewFinalizeAuctionsJob(FinalizeAuctionsJobParams{
				Finalizer: finalizer,
				Logger:    logger.Nop(),
				BatchSize: tc.batch,
				MaxPasses: 3,
			})
			require.NoError(t, err)
			require.Equal(t, FinalizeAuctionsJobName, job.Name())
			require.NoError(t, job.Run(context.Background()))
			require.Equal(t, tc.wantCalls, finalizer.calls)
		})
	}
}

func TestFinalizeAuctionsJobReturnsFinalizerError(t *testing.T) {
	finalizer := &scriptedFinalizer{err: errors.New("database unavailable")}
	job, err := NewFinalizeAuctionsJob(FinalizeAuctionsJobParams{Finalizer: finalizer, Logger: logger.Nop()})
	require.NoError(t, err)
	err = job.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "database unavailable")
}

func TestFinalizeAuctionsJobSettlesEndedAuctions(t *testing.T) {
	conn := dbtest.Open(t)
	tx := dbtest.TxRunner{DB: conn}
	auctionRepo := auctions.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)
	now := time.Now().UTC()

	finalizer, err := auctions.NewFinalizer(auctions.FinalizerParams{
		Auctions:  auctionRepo,
		Orders:    orderRepo,
		Tx:        tx,
		BatchSize: 2,
		Clock:     func() time.Time { return now },
	})
	require.NoError(t, err)

	var sold []uuid.UUID
	for i := 0; i < 3; i++ {
		auction := &models.Auction{
			ID:                 uuid.New(),
			ListingID:          uuid.New(),
			SellerID:           uuid.New(),
			StartingPriceCents: 1000,
			CurrentPriceCents:  2000,
			Status:             enums.AuctionStatusActive,
			StartsAt:           now.Add(-2 * time.Hour),
			EndsAt:             now.Add(-time.Minute),
		}
		require.NoError(t, auctionRepo.Create(context.Background(), auction))
		bid := &models.Bid{
			ID:          uuid.New(),
			AuctionID:   auction.ID,
			BidderID:    uuid.New(),
			AmountCents: 2000,
			PlacedAt:    now.Add(-time.Hour),
		}
		require.NoError(t, auctionRepo.CreateBid(context.Background(), bid))
		require.NoError(t, conn.Model(&models.Auction{}).Where("id = ?", auction.ID).
			Updates(map[string]any{"high_bid_id": bid.ID, "bid_count": 1}).Error)
		sold = append(sold, auction.ID)
	}

	job, err := NewFinalizeAuctionsJob(FinalizeAuctionsJobParams{Finalizer: finalizer, Logger: logger.Nop(), BatchSize: 2})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	for _, id := range sold {
		order, err := orderRepo.FindByAuctionID(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, int64(100), order.PlatformFeeCents)
		require.Equal(t, int64(1900), order.SellerAmountCents)
		require.Equal(t, enums.OrderStatePendingPayment, order.State)
	}
}
