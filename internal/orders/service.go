package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/internal/ledger"
	"github.com/angelmondragon/auctionhouse-backend/internal/notifications"
	"github.com/angelmondragon/auctionhouse-backend/pkg/auth"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
	"github.com/angelmondragon/auctionhouse-backend/pkg/metrics"
)

const defaultProviderTimeout = 10 * time.Second

// Service exposes the order lifecycle.
type Service interface {
	Get(ctx context.Context, user auth.AuthenticatedUser, orderID uuid.UUID) (*models.Order, error)
	PerformAction(ctx context.Context, user auth.AuthenticatedUser, orderID uuid.UUID, action enums.OrderAction) (*models.Order, error)
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
}

// TransitionRequest describes one state change. The optional hooks run inside
// the transaction that performs the compare-and-swap.
type TransitionRequest struct {
	OrderID     uuid.UUID
	Action      enums.OrderAction
	Actor       Actor
	Description string
	// AmountCents overrides the ledger amount derived from the order.
	AmountCents *int64
	// Set carries extra columns written together with the state change.
	Set map[string]any
	// Verify rejects the request before any write. It also runs when the order
	// already sits in the target state.
	Verify func(order *models.Order) error
	// Within runs after the ledger entry, in the same transaction.
	Within func(ctx context.Context, tx *gorm.DB, order *models.Order) error
	// AlreadyApplied reports whether the order already reflects this request.
	// Defaults to "state equals target" for system actors and to never for users.
	AlreadyApplied func(order *models.Order) bool
}

// TransitionResult is the order after the call. Idempotent is set when
// nothing was written because the change had already been applied.
type TransitionResult struct {
	Order      *models.Order
	Idempotent bool
	Entry      *models.LedgerEntry
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Ledger   ledger.Service
	Cache    Cache
	Notifier notifications.Notifier
	Metrics  metrics.KPIRecorder
	Refunder Refunder
	// ProviderTimeout bounds each refund call; zero means the default.
	ProviderTimeout time.Duration
	Logger          *logger.Logger
	Clock           func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	ledger   ledger.Service
	cache    Cache
	notifier notifications.Notifier
	metrics  metrics.KPIRecorder
	refunder Refunder
	timeout  time.Duration
	logg     *logger.Logger
	clock    func() time.Time
}

// NewService wires the order state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	svc := &service{
		repo:     params.Repo,
		tx:       params.Tx,
		ledger:   params.Ledger,
		cache:    params.Cache,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		refunder: params.Refunder,
		timeout:  params.ProviderTimeout,
		logg:     params.Logger,
		clock:    params.Clock,
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
	if svc.timeout <= 0 {
		svc.timeout = defaultProviderTimeout
	}
	return svc, nil
}

func (s *service) Get(ctx context.Context, user auth.AuthenticatedUser, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	order := s.cachedOrder(ctx, orderID)
	if order == nil {
		loaded, err := s.loadOrder(ctx, s.repo, orderID)
		if err != nil {
			return nil, err
		}
		order = loaded
		if s.cache != nil {
			if err := s.cache.Set(ctx, order); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "order cache fill failed")
			}
		}
	}

	if !user.IsAdmin() && user.ID != order.BuyerID && user.ID != order.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
	}
	return order, nil
}

func (s *service) cachedOrder(ctx context.Context, orderID uuid.UUID) *models.Order {
	if s.cache == nil {
		return nil
	}
	order, ok, err := s.cache.Get(ctx, orderID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "order cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	return order
}

func (s *service) PerformAction(ctx context.Context, user auth.AuthenticatedUser, orderID uuid.UUID, action enums.OrderAction) (*models.Order, error) {
	if !action.IsManual() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order action")
	}
	if user.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	actor := Actor{UserID: user.ID}

	if s.refunder != nil && (action == enums.OrderActionRefund || action == enums.OrderActionCancel) {
		if err := s.refundWithProvider(ctx, actor, orderID, action); err != nil {
			return nil, err
		}
	}

	result, err := s.Transition(ctx, TransitionRequest{
		OrderID: orderID,
		Action:  action,
		Actor:   actor,
	})
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

// refundWithProvider returns the captured funds before the order is moved to
// refunded or cancelled, so a provider failure leaves the order untouched.
// Cancelling an order that was never paid has nothing to return.
func (s *service) refundWithProvider(ctx context.Context, actor Actor, orderID uuid.UUID, action enums.OrderAction) error {
	r := rules[action]
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return err
	}
	if err := authorize(r, actor, order); err != nil {
		return err
	}
	if !r.allowsFrom(order.State) {
		return stateConflict(action, order.State)
	}
	if action == enums.OrderActionCancel && order.State != enums.OrderStatePaid {
		return nil
	}
	if order.StripePaymentIntentID == nil || *order.StripePaymentIntentID == "" {
		return nil
	}

	refundCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.refunder.Refund(refundCtx, *order.StripePaymentIntentID, order.AmountCents, RefundIdempotencyKey(order.ID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeExternal, err, "refund with payment provider")
	}
	return nil
}

// RefundIdempotencyKey is the provider idempotency key for refunding an order.
// One order is refunded at most once, whichever action triggers it.
func RefundIdempotencyKey(orderID uuid.UUID) string {
	return "refund:" + orderID.String()
}

func (s *service) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	r, ok := rules[req.Action]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order action")
	}
	if req.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	alreadyApplied := req.AlreadyApplied
	if alreadyApplied == nil {
		alreadyApplied = func(order *models.Order) bool {
			return req.Actor.System && order.State == r.to
		}
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": req.OrderID.String(),
		"action":   string(req.Action),
	})

	var result TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, req.OrderID)
		if err != nil {
			return err
		}
		if err := authorize(r, req.Actor, order); err != nil {
			return err
		}
		if req.Verify != nil {
			if err := req.Verify(order); err != nil {
				return err
			}
		}
		if !r.allowsFrom(order.State) {
			if alreadyApplied(order) {
				result = TransitionResult{Order: order, Idempotent: true}
				return nil
			}
			return stateConflict(req.Action, order.State)
		}

		now := s.clock().UTC()
		set := map[string]any{}
		if r.stamp != "" {
			set[r.stamp] = now
		}
		for column, value := range req.Set {
			set[column] = value
		}

		swapped, err := repo.CompareAndSwapState(ctx, StateUpdate{
			OrderID: order.ID,
			From:    order.State,
			Version: order.Version,
			To:      r.to,
			At:      now,
			Set:     set,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order state")
		}
		if !swapped {
			current, err := s.loadOrder(ctx, repo, order.ID)
			if err != nil {
				return err
			}
			if alreadyApplied(current) {
				result = TransitionResult{Order: current, Idempotent: true}
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state was modified by another request")
		}

		updated, err := s.loadOrder(ctx, repo, order.ID)
		if err != nil {
			return err
		}

		amount := int64(0)
		if r.amount != nil {
			amount = r.amount(updated)
		}
		if req.AmountCents != nil {
			amount = *req.AmountCents
		}
		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = fmt.Sprintf("%s: %s -> %s", req.Action, order.State, r.to)
		}
		entry, err := s.ledger.Record(ctx, tx, ledger.RecordEntryInput{
			OrderID:     updated.ID,
			Type:        r.entry,
			Description: description,
			AmountCents: amount,
			UserID:      req.Actor.UserRef(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger entry")
		}

		if req.Within != nil {
			if err := req.Within(ctx, tx, updated); err != nil {
				return err
			}
		}

		result = TransitionResult{Order: updated, Entry: entry}
		return nil
	})
	if err != nil {
		s.metrics.OrderTransition(string(req.Action), transitionOutcome(err))
		return nil, err
	}

	if result.Idempotent {
		s.metrics.OrderTransition(string(req.Action), "idempotent")
		return &result, nil
	}

	s.metrics.OrderTransition(string(req.Action), "applied")
	s.afterCommit(ctx, req, result.Order)
	return &result, nil
}

// afterCommit runs the side effects that must never undo a committed transition.
func (s *service) afterCommit(ctx context.Context, req TransitionRequest, order *models.Order) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, order); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "order cache invalidation failed")
		}
	}

	payload := map[string]any{
		"order_id":   order.ID.String(),
		"auction_id": order.AuctionID.String(),
		"action":     string(req.Action),
		"state":      string(order.State),
	}

	if req.Action == enums.OrderActionConfirmPayment {
		s.notify(ctx, order.BuyerID, enums.NotificationTypeOrderPaid, payload)
		s.notify(ctx, order.SellerID, enums.NotificationTypeOrderSold, payload)
		return
	}

	for _, recipient := range []uuid.UUID{order.BuyerID, order.SellerID} {
		if !req.Actor.System && recipient == req.Actor.UserID {
			continue
		}
		s.notify(ctx, recipient, enums.NotificationTypeOrderStateChanged, payload)
	}
}

func (s *service) notify(ctx context.Context, userID uuid.UUID, typ enums.NotificationType, payload map[string]any) {
	if err := s.notifier.Notify(ctx, userID, typ, payload); err != nil {
		s.logg.Error(ctx, "order notification failed", err)
	}
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func authorize(r rule, actor Actor, order *models.Order) error {
	party, ok := actor.PartyFor(order)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
	}
	if !r.allowsParty(party) {
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s may not perform this action", party))
	}
	return nil
}

func stateConflict(action enums.OrderAction, state enums.OrderState) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot %s an order in state %s", action, state)).
		WithDetails(map[string]any{"action": string(action), "state": string(state)})
}

func transitionOutcome(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}
