// Package payments applies provider payment outcomes to orders: captures,
// failures and refunds.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/internal/ledger"
	"github.com/angelmondragon/auctionhouse-backend/internal/notifications"
	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	pkgdb "github.com/angelmondragon/auctionhouse-backend/pkg/db"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
)

const (
	defaultProviderTimeout = 10 * time.Second
	completedCaptureIndex  = "payments_one_completed_capture"
)

// IntentFetcher re-reads a PaymentIntent from the provider.
type IntentFetcher interface {
	PaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service applies provider payment outcomes.
type Service interface {
	Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
	RecordFailure(ctx context.Context, input FailureInput) error
	RecordRefund(ctx context.Context, input RefundInput) (*orders.TransitionResult, error)
}

// ConfirmInput is what a succeeded PaymentIntent reports about an order.
type ConfirmInput struct {
	OrderID         uuid.UUID
	PaymentIntentID string
	AmountCents     int64
	Currency        string
	// MetadataOrderID is the raw order_id the intent was created with.
	MetadataOrderID string
}

type ConfirmResult struct {
	Order      *models.Order
	Payment    *models.Payment
	Idempotent bool
}

type FailureInput struct {
	OrderID         uuid.UUID
	PaymentIntentID string
	AmountCents     int64
	Currency        string
	Reason          string
}

type RefundInput struct {
	OrderID         uuid.UUID
	PaymentIntentID string
	AmountCents     int64
	Currency        string
	Description     string
}

type ServiceParams struct {
	Repo            Repository
	Orders          orders.Service
	OrderRepo       orders.Repository
	Ledger          ledger.Service
	Tx              txRunner
	Notifier        notifications.Notifier
	Fetcher         IntentFetcher
	ProviderTimeout time.Duration
	Logger          *logger.Logger
	Clock           func() time.Time
}

type service struct {
	repo            Repository
	orders          orders.Service
	orderRepo       orders.Repository
	ledger          ledger.Service
	tx              txRunner
	notifier        notifications.Notifier
	fetcher         IntentFetcher
	providerTimeout time.Duration
	logg            *logger.Logger
	clock           func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Orders == nil || params.OrderRepo == nil {
		return nil, fmt.Errorf("orders service and repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	svc := &service{
		repo:            params.Repo,
		orders:          params.Orders,
		orderRepo:       params.OrderRepo,
		ledger:          params.Ledger,
		tx:              params.Tx,
		notifier:        params.Notifier,
		fetcher:         params.Fetcher,
		providerTimeout: params.ProviderTimeout,
		logg:            params.Logger,
		clock:           params.Clock,
	}
	if svc.notifier == nil {
		svc.notifier = notifications.Noop{}
	}
	if svc.providerTimeout <= 0 {
		svc.providerTimeout = defaultProviderTimeout
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	return svc, nil
}

func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	intentID := strings.TrimSpace(input.PaymentIntentID)
	if input.OrderID == uuid.Nil || intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and payment intent id are required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	if meta := strings.TrimSpace(input.MetadataOrderID); meta != "" && meta != input.OrderID.String() {
		s.logg.Error(ctx, "payment metadata references a different order", fmt.Errorf("metadata order_id %q", meta))
		return nil, pkgerrors.New(pkgerrors.CodeInvariant, "payment metadata does not match order")
	}

	if s.fetcher != nil {
		if err := s.verifyWithProvider(ctx, intentID, input.AmountCents); err != nil {
			return nil, err
		}
	}

	var payment *models.Payment
	result, err := s.orders.Transition(ctx, orders.TransitionRequest{
		OrderID:     input.OrderID,
		Action:      enums.OrderActionConfirmPayment,
		Actor:       orders.SystemActor,
		Description: fmt.Sprintf("payment captured (%s)", intentID),
		Set:         map[string]any{"stripe_payment_intent_id": intentID},
		Verify: func(order *models.Order) error {
			return s.verifyAmount(ctx, order, input)
		},
		AlreadyApplied: func(order *models.Order) bool {
			return order.PaidAt != nil &&
				order.StripePaymentIntentID != nil &&
				*order.StripePaymentIntentID == intentID
		},
		Within: func(ctx context.Context, tx *gorm.DB, order *models.Order) error {
			now := s.clock().UTC()
			payment = &models.Payment{
				ID:                      uuid.New(),
				OrderID:                 order.ID,
				Kind:                    enums.PaymentKindCapture,
				AmountCents:             input.AmountCents,
				Currency:                order.Currency,
				ProviderPaymentIntentID: intentID,
				Status:                  enums.PaymentStatusCompleted,
				ProcessedAt:             &now,
				CreatedAt:               now,
			}
			if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
				if pkgdb.IsUniqueViolation(err, completedCaptureIndex) {
					return pkgerrors.New(pkgerrors.CodeConflict, "order already has a completed capture")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment")
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Order: result.Order, Payment: payment, Idempotent: result.Idempotent}, nil
}

// verifyAmount runs on every attempt, including ones that find the order
// already paid, so a replay with a different amount still fails.
func (s *service) verifyAmount(ctx context.Context, order *models.Order, input ConfirmInput) error {
	if input.AmountCents != order.AmountCents {
		s.logg.Error(ctx, "payment amount mismatch", fmt.Errorf("expected %d cents, received %d", order.AmountCents, input.AmountCents))
		return pkgerrors.New(pkgerrors.CodeInvariant, "amount mismatch").WithDetails(map[string]any{
			"expected_amount_cents": order.AmountCents,
			"received_amount_cents": input.AmountCents,
		})
	}
	if input.Currency != "" && !strings.EqualFold(input.Currency, order.Currency) {
		s.logg.Error(ctx, "payment currency mismatch", fmt.Errorf("expected %s, received %s", order.Currency, input.Currency))
		return pkgerrors.New(pkgerrors.CodeInvariant, "currency mismatch")
	}
	return nil
}

func (s *service) verifyWithProvider(ctx context.Context, intentID string, amount int64) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	intent, err := s.fetcher.PaymentIntent(fetchCtx, intentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeExternal, err, "could not confirm payment with provider")
	}
	if intent == nil || intent.Status != stripe.PaymentIntentStatusSucceeded {
		return pkgerrors.New(pkgerrors.CodeInvariant, "payment intent has not succeeded")
	}
	if intent.Amount != amount {
		return pkgerrors.New(pkgerrors.CodeInvariant, "amount mismatch")
	}
	return nil
}

func (s *service) RecordFailure(ctx context.Context, input FailureInput) error {
	intentID := strings.TrimSpace(input.PaymentIntentID)
	if input.OrderID == uuid.Nil || intentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and payment intent id are required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "payment failed"
	}

	var order *models.Order
	recorded := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		found, err := s.orderRepo.WithTx(tx).FindByID(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		order = found
		if order.State != enums.OrderStatePendingPayment {
			return nil
		}

		now := s.clock().UTC()
		payment := &models.Payment{
			ID:                      uuid.New(),
			OrderID:                 order.ID,
			Kind:                    enums.PaymentKindCapture,
			AmountCents:             input.AmountCents,
			Currency:                order.Currency,
			ProviderPaymentIntentID: intentID,
			Status:                  enums.PaymentStatusFailed,
			FailureReason:           &reason,
			ProcessedAt:             &now,
			CreatedAt:               now,
		}
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert failed payment")
		}
		if _, err := s.ledger.Record(ctx, tx, ledger.RecordEntryInput{
			OrderID:     order.ID,
			Type:        enums.LedgerEntryTypePaymentFailed,
			Description: reason,
			AmountCents: input.AmountCents,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger entry")
		}
		recorded = true
		return nil
	})
	if err != nil {
		return err
	}
	if !recorded {
		s.logg.Info(ctx, fmt.Sprintf("payment failure ignored for order in state %s", order.State))
		return nil
	}

	if err := s.notifier.Notify(ctx, order.BuyerID, enums.NotificationTypePaymentFailed, map[string]any{
		"order_id": order.ID.String(),
		"reason":   reason,
	}); err != nil {
		s.logg.Error(ctx, "payment failure notification failed", err)
	}
	return nil
}

func (s *service) RecordRefund(ctx context.Context, input RefundInput) (*orders.TransitionResult, error) {
	intentID := strings.TrimSpace(input.PaymentIntentID)
	if input.OrderID == uuid.Nil || intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and payment intent id are required")
	}

	var amount *int64
	if input.AmountCents > 0 {
		amount = &input.AmountCents
	}
	result, err := s.orders.Transition(ctx, orders.TransitionRequest{
		OrderID:     input.OrderID,
		Action:      enums.OrderActionRefund,
		Actor:       orders.SystemActor,
		Description: input.Description,
		AmountCents: amount,
		AlreadyApplied: func(order *models.Order) bool {
			return order.State == enums.OrderStateRefunded ||
				(order.State == enums.OrderStateCancelled && order.PaidAt != nil)
		},
		Within: func(ctx context.Context, tx *gorm.DB, order *models.Order) error {
			return s.insertRefund(ctx, tx, order, intentID, input.AmountCents)
		},
	})
	if err != nil {
		return nil, err
	}

	// A refund or paid cancel started from the order actions endpoint already
	// moved the order; the provider callback still owes the refund payment row.
	if result.Idempotent {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.repo.WithTx(tx).FindByIntent(ctx, result.Order.ID, intentID, enums.PaymentKindRefund, enums.PaymentStatusCompleted)
			if err == nil {
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund payment")
			}
			return s.insertRefund(ctx, tx, result.Order, intentID, input.AmountCents)
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *service) insertRefund(ctx context.Context, tx *gorm.DB, order *models.Order, intentID string, amount int64) error {
	if amount <= 0 {
		amount = order.AmountCents
	}
	now := s.clock().UTC()
	payment := &models.Payment{
		ID:                      uuid.New(),
		OrderID:                 order.ID,
		Kind:                    enums.PaymentKindRefund,
		AmountCents:             amount,
		Currency:                order.Currency,
		ProviderPaymentIntentID: intentID,
		Status:                  enums.PaymentStatusCompleted,
		ProcessedAt:             &now,
		CreatedAt:               now,
	}
	if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert refund payment")
	}
	return nil
}
