package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/internal/ledger"
	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/dbtest"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
)

var now = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

type stubFetcher struct {
	intent *stripe.PaymentIntent
	err    error
	wait   bool
}

func (f *stubFetcher) PaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.intent, f.err
}

type fixture struct {
	db     *gorm.DB
	svc    Service
	ledger ledger.Service
	repo   Repository
	orders orders.Repository
}

func newFixture(t *testing.T, fetcher IntentFetcher) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	tx := dbtest.TxRunner{DB: conn}
	clock := func() time.Time { return now }

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	orderRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:   orderRepo,
		Tx:     tx,
		Ledger: ledgerSvc,
		Clock:  clock,
	})
	require.NoError(t, err)

	params := ServiceParams{
		Repo:            NewRepository(conn),
		Orders:          orderSvc,
		OrderRepo:       orderRepo,
		Ledger:          ledgerSvc,
		Tx:              tx,
		ProviderTimeout: 50 * time.Millisecond,
		Clock:           clock,
	}
	if fetcher != nil {
		params.Fetcher = fetcher
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &fixture{db: conn, svc: svc, ledger: ledgerSvc, repo: params.Repo, orders: orderRepo}
}

func (f *fixture) seedOrder(t *testing.T, amount int64, state enums.OrderState) *models.Order {
	t.Helper()
	fee := amount / 20
	order := &models.Order{
		ID:                uuid.New(),
		ListingID:         uuid.New(),
		AuctionID:         uuid.New(),
		BuyerID:           uuid.New(),
		SellerID:          uuid.New(),
		WinningBidID:      uuid.New(),
		AmountCents:       amount,
		PlatformFeeCents:  fee,
		SellerAmountCents: amount - fee,
		Currency:          "usd",
		State:             state,
		Version:           1,
		CreatedAt:         now.Add(-time.Hour),
		UpdatedAt:         now.Add(-time.Hour),
	}
	require.NoError(t, f.orders.Create(context.Background(), order))
	return order
}

func (f *fixture) payments(t *testing.T, orderID uuid.UUID) []models.Payment {
	t.Helper()
	rows, err := f.repo.ListByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return rows
}

func (f *fixture) entries(t *testing.T, orderID uuid.UUID) []models.LedgerEntry {
	t.Helper()
	rows, err := f.ledger.List(context.Background(), orderID)
	require.NoError(t, err)
	return rows
}

func TestConfirm_MarksOrderPaid(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 10000, enums.OrderStatePendingPayment)

	res, err := f.svc.Confirm(context.Background(), ConfirmInput{
		OrderID:         order.ID,
		PaymentIntentID: "pi_1",
		AmountCents:     10000,
		Currency:        "USD",
		MetadataOrderID: order.ID.String(),
	})
	require.NoError(t, err)
	require.False(t, res.Idempotent)
	require.Equal(t, enums.OrderStatePaid, res.Order.State)
	require.NotNil(t, res.Order.StripePaymentIntentID)
	require.Equal(t, "pi_1", *res.Order.StripePaymentIntentID)
	require.NotNil(t, res.Order.PaidAt)

	payments := f.payments(t, order.ID)
	require.Len(t, payments, 1)
	require.Equal(t, enums.PaymentKindCapture, payments[0].Kind)
	require.Equal(t, enums.PaymentStatusCompleted, payments[0].Status)
	require.Equal(t, int64(10000), payments[0].AmountCents)

	entries := f.entries(t, order.ID)
	require.Len(t, entries, 1)
	require.Equal(t, enums.LedgerEntryTypeCapture, entries[0].Type)
	require.Equal(t, int64(10000), entries[0].AmountCents)
	require.Nil(t, entries[0].UserID)
}

func TestConfirm_AmountMismatchLeavesOrderUnpaid(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 2000, enums.OrderStatePendingPayment)

	_, err := f.svc.Confirm(context.Background(), ConfirmInput{
		OrderID:         order.ID,
		PaymentIntentID: "pi_short",
		AmountCents:     1000,
	})
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvariant))
	require.Contains(t, err.Error(), "amount mismatch")

	reloaded, err := f.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatePendingPayment, reloaded.State)
	require.Nil(t, reloaded.PaidAt)
	require.Empty(t, f.payments(t, order.ID))
	require.Empty(t, f.entries(t, order.ID))
}

func TestConfirm_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 5000, enums.OrderStatePendingPayment)
	input := ConfirmInput{OrderID: order.ID, PaymentIntentID: "pi_replay", AmountCents: 5000}

	_, err := f.svc.Confirm(context.Background(), input)
	require.NoError(t, err)

	res, err := f.svc.Confirm(context.Background(), input)
	require.NoError(t, err)
	require.True(t, res.Idempotent)
	require.Nil(t, res.Payment)
	require.Len(t, f.payments(t, order.ID), 1)
	require.Len(t, f.entries(t, order.ID), 1)
}

func TestConfirm_ReplayRevalidatesAmount(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 5000, enums.OrderStatePendingPayment)

	_, err := f.svc.Confirm(context.Background(), ConfirmInput{OrderID: order.ID, PaymentIntentID: "pi_a", AmountCents: 5000})
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), ConfirmInput{OrderID: order.ID, PaymentIntentID: "pi_a", AmountCents: 4000})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvariant))
}

func TestConfirm_DifferentIntentOnPaidOrderConflicts(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 5000, enums.OrderStatePendingPayment)

	_, err := f.svc.Confirm(context.Background(), ConfirmInput{OrderID: order.ID, PaymentIntentID: "pi_first", AmountCents: 5000})
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), ConfirmInput{OrderID: order.ID, PaymentIntentID: "pi_second", AmountCents: 5000})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Len(t, f.payments(t, order.ID), 1)
}

func TestConfirm_MetadataMismatch(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 5000, enums.OrderStatePendingPayment)

	_, err := f.svc.Confirm(context.Background(), ConfirmInput{
		OrderID:         order.ID,
		PaymentIntentID: "pi_meta",
		AmountCents:     5000,
		MetadataOrderID: uuid.NewString(),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvariant))
}

func TestConfirm_ProviderVerification(t *testing.T) {
	cases := []struct {
		name    string
		fetcher *stubFetcher
		code    pkgerrors.Code
	}{
		{"provider error", &stubFetcher{err: errors.New("boom")}, pkgerrors.CodeExternal},
		{"provider timeout", &stubFetcher{wait: true}, pkgerrors.CodeExternal},
		{"not succeeded", &stubFetcher{intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing, Amount: 5000}}, pkgerrors.CodeInvariant},
		{"amount differs", &stubFetcher{intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded, Amount: 100}}, pkgerrors.CodeInvariant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.fetcher)
			order := f.seedOrder(t, 5000, enums.OrderStatePendingPayment)
			_, err := f.svc.Confirm(context.Background(), ConfirmInput{OrderID: order.ID, PaymentIntentID: "pi_v", AmountCents: 5000})
			require.Truef(t, pkgerrors.IsCode(err, tc.code), "expected %s, got %v", tc.code, err)
			require.Empty(t, f.payments(t, order.ID))
		})
	}

	f := newFixture(t, &stubFetcher{intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded, Amount: 5000}})
	order := f.seedOrder(t, 5000, enums.OrderStatePendingPayment)
	res, err := f.svc.Confirm(context.Background(), ConfirmInput{OrderID: order.ID, PaymentIntentID: "pi_v", AmountCents: 5000})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatePaid, res.Order.State)
}

func TestRecordFailure(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 5000, enums.OrderStatePendingPayment)

	err := f.svc.RecordFailure(context.Background(), FailureInput{
		OrderID:         order.ID,
		PaymentIntentID: "pi_fail",
		AmountCents:     5000,
		Reason:          "card_declined",
	})
	require.NoError(t, err)

	payments := f.payments(t, order.ID)
	require.Len(t, payments, 1)
	require.Equal(t, enums.PaymentStatusFailed, payments[0].Status)
	require.NotNil(t, payments[0].FailureReason)
	require.Equal(t, "card_declined", *payments[0].FailureReason)

	entries := f.entries(t, order.ID)
	require.Len(t, entries, 1)
	require.Equal(t, enums.LedgerEntryTypePaymentFailed, entries[0].Type)

	reloaded, err := f.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatePendingPayment, reloaded.State)
}

func TestRecordFailure_IgnoredAfterPayment(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 5000, enums.OrderStatePaid)

	require.NoError(t, f.svc.RecordFailure(context.Background(), FailureInput{OrderID: order.ID, PaymentIntentID: "pi_late"}))
	require.Empty(t, f.payments(t, order.ID))
}

func TestRecordFailure_UnknownOrder(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.RecordFailure(context.Background(), FailureInput{OrderID: uuid.New(), PaymentIntentID: "pi_x"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRecordRefund(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 8000, enums.OrderStatePaid)

	res, err := f.svc.RecordRefund(context.Background(), RefundInput{OrderID: order.ID, PaymentIntentID: "pi_r", AmountCents: 8000})
	require.NoError(t, err)
	require.False(t, res.Idempotent)
	require.Equal(t, enums.OrderStateRefunded, res.Order.State)

	payments := f.payments(t, order.ID)
	require.Len(t, payments, 1)
	require.Equal(t, enums.PaymentKindRefund, payments[0].Kind)

	entries := f.entries(t, order.ID)
	require.Len(t, entries, 1)
	require.Equal(t, enums.LedgerEntryTypeRefundIssued, entries[0].Type)

	again, err := f.svc.RecordRefund(context.Background(), RefundInput{OrderID: order.ID, PaymentIntentID: "pi_r", AmountCents: 8000})
	require.NoError(t, err)
	require.True(t, again.Idempotent)
	require.Len(t, f.payments(t, order.ID), 1)
	require.Len(t, f.entries(t, order.ID), 1)
}

func TestRecordRefund_BackfillsPaymentAfterManualRefund(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 8000, enums.OrderStateRefunded)

	res, err := f.svc.RecordRefund(context.Background(), RefundInput{OrderID: order.ID, PaymentIntentID: "pi_m", AmountCents: 8000})
	require.NoError(t, err)
	require.True(t, res.Idempotent)

	payments := f.payments(t, order.ID)
	require.Len(t, payments, 1)
	require.Equal(t, enums.PaymentKindRefund, payments[0].Kind)
	require.Equal(t, int64(8000), payments[0].AmountCents)
}

func TestRecordRefund_BackfillsPaymentAfterPaidCancel(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 8000, enums.OrderStateCancelled)
	paidAt := now.Add(-30 * time.Minute)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("paid_at", paidAt).Error)

	res, err := f.svc.RecordRefund(context.Background(), RefundInput{OrderID: order.ID, PaymentIntentID: "pi_c", AmountCents: 8000})
	require.NoError(t, err)
	require.True(t, res.Idempotent)
	require.Equal(t, enums.OrderStateCancelled, res.Order.State)

	payments := f.payments(t, order.ID)
	require.Len(t, payments, 1)
	require.Equal(t, enums.PaymentKindRefund, payments[0].Kind)
}

func TestRecordRefund_UnpaidCancelledOrderConflicts(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seedOrder(t, 8000, enums.OrderStateCancelled)

	_, err := f.svc.RecordRefund(context.Background(), RefundInput{OrderID: order.ID, PaymentIntentID: "pi_x", AmountCents: 8000})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Empty(t, f.payments(t, order.ID))
}
