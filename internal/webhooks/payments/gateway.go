// Package paymentwebhook turns verified payment provider events into order
// changes exactly once per event.
package paymentwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/internal/payments"
	pkgdb "github.com/angelmondragon/auctionhouse-backend/pkg/db"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
	"github.com/angelmondragon/auctionhouse-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/auctionhouse-backend/pkg/redis"
)

// Response statuses.
const (
	StatusProcessed             = "processed"
	StatusAlreadyProcessed      = "already_processed"
	StatusProcessing            = "processing"
	StatusRaceCondition         = "race_condition"
	StatusOrderAlreadyProcessed = "order_already_processed"
)

const (
	defaultMaxEventAge = time.Hour
	defaultFutureSkew  = 5 * time.Minute
	defaultLockTTL     = 30 * time.Second
	defaultLockTimeout = 2 * time.Second
	defaultStaleAfter  = 2 * time.Minute
	lockScope          = "order"
	maxErrorMessageLen = 1000
)

// Response is the JSON body returned to the provider.
type Response struct {
	Received   bool   `json:"received"`
	Idempotent bool   `json:"idempotent,omitempty"`
	Status     string `json:"status,omitempty"`
}

// LockStore backs the per-order advisory lock.
type LockStore interface {
	pkgredis.LockStore
	LockKey(scope, id string) string
}

type GatewayParams struct {
	Events      EventRepository
	OrderRepo   orders.Repository
	Orders      orders.Service
	Payments    payments.Service
	Locks       LockStore
	Secret      string
	MaxEventAge time.Duration
	FutureSkew  time.Duration
	LockTTL     time.Duration
	LockTimeout time.Duration
	// StaleAfter is how long an unfinished event row is reported as in
	// progress before a redelivery may take it over.
	StaleAfter time.Duration
	Metrics    metrics.KPIRecorder
	Logger     *logger.Logger
	Clock      func() time.Time
}

// Gateway verifies, deduplicates and dispatches provider events.
type Gateway struct {
	events      EventRepository
	orderRepo   orders.Repository
	orders      orders.Service
	payments    payments.Service
	locks       LockStore
	secret      string
	maxEventAge time.Duration
	futureSkew  time.Duration
	lockTTL     time.Duration
	lockTimeout time.Duration
	staleAfter  time.Duration
	metrics     metrics.KPIRecorder
	logg        *logger.Logger
	clock       func() time.Time
}

func NewGateway(params GatewayParams) (*Gateway, error) {
	if params.Events == nil {
		return nil, fmt.Errorf("webhook event repository required")
	}
	if params.OrderRepo == nil || params.Orders == nil {
		return nil, fmt.Errorf("orders repository and service required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if strings.TrimSpace(params.Secret) == "" {
		return nil, fmt.Errorf("webhook signing secret required")
	}
	g := &Gateway{
		events:      params.Events,
		orderRepo:   params.OrderRepo,
		orders:      params.Orders,
		payments:    params.Payments,
		locks:       params.Locks,
		secret:      params.Secret,
		maxEventAge: params.MaxEventAge,
		futureSkew:  params.FutureSkew,
		lockTTL:     params.LockTTL,
		lockTimeout: params.LockTimeout,
		staleAfter:  params.StaleAfter,
		metrics:     params.Metrics,
		logg:        params.Logger,
		clock:       params.Clock,
	}
	if g.maxEventAge <= 0 {
		g.maxEventAge = defaultMaxEventAge
	}
	if g.futureSkew <= 0 {
		g.futureSkew = defaultFutureSkew
	}
	if g.lockTTL <= 0 {
		g.lockTTL = defaultLockTTL
	}
	if g.lockTimeout <= 0 {
		g.lockTimeout = defaultLockTimeout
	}
	if g.staleAfter <= 0 {
		g.staleAfter = defaultStaleAfter
	}
	if g.metrics == nil {
		g.metrics = metrics.Discard
	}
	if g.logg == nil {
		g.logg = logger.Nop()
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	return g, nil
}

// Handle processes one delivery. Errors carry the HTTP status the provider
// should see; a nil error always means 200.
func (g *Gateway) Handle(ctx context.Context, payload []byte, signature string) (Response, error) {
	if strings.TrimSpace(signature) == "" {
		return Response{}, pkgerrors.New(pkgerrors.CodeValidation, "payment provider signature missing")
	}
	if err := webhook.ValidatePayload(payload, signature, g.secret); err != nil {
		return Response{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment provider signature")
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
		g.logg.Warn(ctx, "signed webhook body is not a usable event")
		g.metrics.WebhookEvent("unknown", "malformed")
		return Response{Received: true}, nil
	}
	ctx = g.logg.WithEventID(ctx, event.ID)
	eventType := string(event.Type)

	if err := g.checkAge(event.Created); err != nil {
		g.metrics.WebhookEvent(eventType, "stale")
		return Response{}, err
	}

	h, ok := handlers[event.Type]
	if !ok {
		g.metrics.WebhookEvent(eventType, "ignored")
		return Response{Received: true}, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		g.logg.Warn(ctx, "webhook event has no data object")
		g.metrics.WebhookEvent(eventType, "malformed")
		return Response{Received: true}, nil
	}
	ref, err := h.decode(event.Data.Raw)
	if err != nil {
		g.logg.Warn(g.logg.WithField(ctx, "error", err.Error()), "webhook data object could not be decoded")
		g.metrics.WebhookEvent(eventType, "malformed")
		return Response{Received: true}, nil
	}

	if resp, done, err := g.begin(ctx, event.ID, eventType); err != nil || done {
		return resp, err
	}

	resp, orderID, err := g.process(ctx, event.ID, eventType, h, ref)
	if err != nil {
		g.fail(ctx, event.ID, orderID, err)
		g.metrics.WebhookEvent(eventType, "failed")
		return Response{}, err
	}
	g.metrics.WebhookEvent(eventType, resp.Status)
	return resp, nil
}

func (g *Gateway) checkAge(created int64) error {
	now := g.clock()
	createdAt := time.Unix(created, 0)
	if now.Sub(createdAt) > g.maxEventAge {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event too old")
	}
	if createdAt.Sub(now) > g.futureSkew {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event timestamp in the future")
	}
	return nil
}

// begin claims the event row. done is true when the delivery must not be
// processed and resp is the answer to return.
func (g *Gateway) begin(ctx context.Context, eventID, eventType string) (Response, bool, error) {
	existing, err := g.events.Find(ctx, eventID)
	switch {
	case err == nil:
		if existing.Processed() {
			g.metrics.WebhookEvent(eventType, StatusAlreadyProcessed)
			return Response{Received: true, Idempotent: true, Status: StatusAlreadyProcessed}, true, nil
		}
		if !existing.Failed() && g.clock().Sub(existing.ReceivedAt) < g.staleAfter {
			g.metrics.WebhookEvent(eventType, StatusProcessing)
			return Response{Received: true, Idempotent: true, Status: StatusProcessing}, true, nil
		}
		g.logg.Info(ctx, "retrying unfinished webhook event")
		g.metrics.WebhookEvent(eventType, "retry")
		return Response{}, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return Response{}, true, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook event")
	}

	row := &models.WebhookEvent{
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: g.clock().UTC(),
	}
	if err := g.events.Insert(ctx, row); err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			g.metrics.WebhookEvent(eventType, StatusRaceCondition)
			return Response{Received: true, Idempotent: true, Status: StatusRaceCondition}, true, nil
		}
		return Response{}, true, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert webhook event")
	}
	return Response{}, false, nil
}

func (g *Gateway) process(ctx context.Context, eventID, eventType string, h handler, ref objectRef) (Response, *uuid.UUID, error) {
	order, err := g.resolveOrder(ctx, ref)
	if err != nil {
		return Response{}, nil, err
	}
	orderID := order.ID
	ctx = g.logg.WithOrderID(ctx, orderID.String())

	if h.dedupByOrder {
		prior, err := g.events.FindProcessedForOrder(ctx, orderID, eventType, eventID)
		switch {
		case err == nil:
			if err := g.events.MarkProcessed(ctx, eventID, &orderID, &prior.EventID, g.clock().UTC()); err != nil {
				return Response{}, &orderID, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark duplicate webhook event")
			}
			return Response{Received: true, Idempotent: true, Status: StatusOrderAlreadyProcessed}, &orderID, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return Response{}, &orderID, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order webhook history")
		}
	}

	release := g.lockOrder(ctx, orderID)
	defer release()

	idempotent, err := h.apply(ctx, g, order, ref)
	if err != nil {
		return Response{}, &orderID, err
	}
	if err := g.events.MarkProcessed(ctx, eventID, &orderID, nil, g.clock().UTC()); err != nil {
		return Response{}, &orderID, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook event processed")
	}
	if idempotent {
		return Response{Received: true, Idempotent: true, Status: StatusAlreadyProcessed}, &orderID, nil
	}
	return Response{Received: true, Status: StatusProcessed}, &orderID, nil
}

func (g *Gateway) resolveOrder(ctx context.Context, ref objectRef) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	if id, ok := ref.orderID(); ok {
		order, err = g.orderRepo.FindByID(ctx, id)
	} else if ref.PaymentIntentID != "" {
		order, err = g.orderRepo.FindByPaymentIntentID(ctx, ref.PaymentIntentID)
	} else {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event references no order")
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// lockOrder takes the per-order advisory lock when it can. Contention and
// store failures only get logged; the order's compare-and-swap still guards
// correctness.
func (g *Gateway) lockOrder(ctx context.Context, orderID uuid.UUID) func() {
	noop := func() {}
	if g.locks == nil {
		return noop
	}
	lock, err := pkgredis.NewLock(g.locks, g.locks.LockKey(lockScope, orderID.String()), g.lockTTL)
	if err != nil {
		g.logg.Warn(g.logg.WithField(ctx, "error", err.Error()), "order lock unavailable")
		return noop
	}

	lockCtx, cancel := context.WithTimeout(ctx, g.lockTimeout)
	defer cancel()
	acquired, err := lock.Acquire(lockCtx)
	if err != nil {
		g.logg.Warn(g.logg.WithField(ctx, "error", err.Error()), "order lock acquisition failed, continuing")
		return noop
	}
	if !acquired {
		g.logg.Warn(ctx, "order lock held by another worker, continuing")
		return noop
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.lockTimeout)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			g.logg.Warn(g.logg.WithField(ctx, "error", err.Error()), "order lock release failed")
		}
	}
}

func (g *Gateway) fail(ctx context.Context, eventID string, orderID *uuid.UUID, cause error) {
	message := cause.Error()
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}
	if typed := pkgerrors.As(cause); typed != nil && typed.Code() == pkgerrors.CodeInvariant {
		g.logg.Error(ctx, "webhook rejected by payment invariant", cause)
	} else {
		g.logg.Error(ctx, "webhook processing failed", cause)
	}
	if err := g.events.MarkFailed(context.WithoutCancel(ctx), eventID, orderID, message); err != nil {
		g.logg.Error(ctx, "failed to record webhook failure", err)
	}
}
