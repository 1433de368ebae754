package paymentwebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/internal/payments"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// objectRef is the part of an event's data.object the gateway acts on.
type objectRef struct {
	ObjectID        string
	MetadataOrderID string
	PaymentIntentID string
	AmountCents     int64
	Currency        string
	FailureReason   string
	DisputeStatus   stripe.DisputeStatus
}

// orderID parses the metadata order reference; ok is false when absent or invalid.
func (r objectRef) orderID() (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.MetadataOrderID)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

type handler struct {
	decode func(raw json.RawMessage) (objectRef, error)
	apply  func(ctx context.Context, g *Gateway, order *models.Order, ref objectRef) (bool, error)
	// dedupByOrder skips the event when another event of the same type already
	// completed for the order.
	dedupByOrder bool
}

var handlers = map[stripe.EventType]handler{
	stripe.EventTypePaymentIntentSucceeded: {
		decode:       decodePaymentIntent,
		apply:        applySucceeded,
		dedupByOrder: true,
	},
	stripe.EventTypePaymentIntentPaymentFailed: {
		decode: decodePaymentIntent,
		apply:  applyFailed,
	},
	stripe.EventTypePaymentIntentCanceled: {
		decode:       decodePaymentIntent,
		apply:        applyCanceled,
		dedupByOrder: true,
	},
	stripe.EventTypeChargeDisputeCreated: {
		decode: decodeDispute,
		apply:  applyDisputeCreated,
	},
	stripe.EventTypeChargeDisputeClosed: {
		decode: decodeDispute,
		apply:  applyDisputeClosed,
	},
	stripe.EventTypeChargeRefunded: {
		decode:       decodeCharge,
		apply:        applyRefunded,
		dedupByOrder: true,
	},
}

func decodePaymentIntent(raw json.RawMessage) (objectRef, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return objectRef{}, err
	}
	if intent.ID == "" {
		return objectRef{}, fmt.Errorf("payment intent id missing")
	}
	ref := objectRef{
		ObjectID:        intent.ID,
		MetadataOrderID: intent.Metadata["order_id"],
		PaymentIntentID: intent.ID,
		AmountCents:     intent.Amount,
		Currency:        string(intent.Currency),
	}
	if intent.LastPaymentError != nil {
		ref.FailureReason = intent.LastPaymentError.Msg
		if ref.FailureReason == "" {
			ref.FailureReason = string(intent.LastPaymentError.Code)
		}
	}
	if ref.FailureReason == "" && intent.CancellationReason != "" {
		ref.FailureReason = string(intent.CancellationReason)
	}
	return ref, nil
}

func decodeCharge(raw json.RawMessage) (objectRef, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return objectRef{}, err
	}
	ref := objectRef{
		ObjectID:        charge.ID,
		MetadataOrderID: charge.Metadata["order_id"],
		AmountCents:     charge.AmountRefunded,
		Currency:        string(charge.Currency),
	}
	if charge.PaymentIntent != nil {
		ref.PaymentIntentID = charge.PaymentIntent.ID
	}
	if ref.PaymentIntentID == "" {
		return objectRef{}, fmt.Errorf("charge %s has no payment intent", charge.ID)
	}
	return ref, nil
}

func decodeDispute(raw json.RawMessage) (objectRef, error) {
	var dispute stripe.Dispute
	if err := json.Unmarshal(raw, &dispute); err != nil {
		return objectRef{}, err
	}
	ref := objectRef{
		ObjectID:        dispute.ID,
		MetadataOrderID: dispute.Metadata["order_id"],
		AmountCents:     dispute.Amount,
		Currency:        string(dispute.Currency),
		DisputeStatus:   dispute.Status,
	}
	if dispute.PaymentIntent != nil {
		ref.PaymentIntentID = dispute.PaymentIntent.ID
	}
	if ref.PaymentIntentID == "" && ref.MetadataOrderID == "" {
		return objectRef{}, fmt.Errorf("dispute %s references no payment", dispute.ID)
	}
	return ref, nil
}

func applySucceeded(ctx context.Context, g *Gateway, order *models.Order, ref objectRef) (bool, error) {
	res, err := g.payments.Confirm(ctx, payments.ConfirmInput{
		OrderID:         order.ID,
		PaymentIntentID: ref.PaymentIntentID,
		AmountCents:     ref.AmountCents,
		Currency:        ref.Currency,
		MetadataOrderID: ref.MetadataOrderID,
	})
	if err != nil {
		return false, err
	}
	return res.Idempotent, nil
}

func applyFailed(ctx context.Context, g *Gateway, order *models.Order, ref objectRef) (bool, error) {
	err := g.payments.RecordFailure(ctx, payments.FailureInput{
		OrderID:         order.ID,
		PaymentIntentID: ref.PaymentIntentID,
		AmountCents:     ref.AmountCents,
		Currency:        ref.Currency,
		Reason:          ref.FailureReason,
	})
	return false, err
}

// applyCanceled cancels orders still waiting for payment. A canceled intent on
// an order that has moved on is a no-op.
func applyCanceled(ctx context.Context, g *Gateway, order *models.Order, ref objectRef) (bool, error) {
	if order.State != enums.OrderStatePendingPayment {
		return true, nil
	}
	return g.transition(ctx, order, enums.OrderActionCancel, fmt.Sprintf("payment intent %s canceled", ref.PaymentIntentID))
}

func applyDisputeCreated(ctx context.Context, g *Gateway, order *models.Order, ref objectRef) (bool, error) {
	return g.transition(ctx, order, enums.OrderActionOpenDispute, fmt.Sprintf("dispute %s opened", ref.ObjectID))
}

func applyDisputeClosed(ctx context.Context, g *Gateway, order *models.Order, ref objectRef) (bool, error) {
	switch ref.DisputeStatus {
	case stripe.DisputeStatusWon:
		return g.transition(ctx, order, enums.OrderActionDisputeWon, fmt.Sprintf("dispute %s won", ref.ObjectID))
	case stripe.DisputeStatusLost:
		return g.transition(ctx, order, enums.OrderActionDisputeLost, fmt.Sprintf("dispute %s lost", ref.ObjectID))
	default:
		return true, nil
	}
}

func applyRefunded(ctx context.Context, g *Gateway, order *models.Order, ref objectRef) (bool, error) {
	res, err := g.payments.RecordRefund(ctx, payments.RefundInput{
		OrderID:         order.ID,
		PaymentIntentID: ref.PaymentIntentID,
		AmountCents:     ref.AmountCents,
		Currency:        ref.Currency,
		Description:     fmt.Sprintf("charge %s refunded", ref.ObjectID),
	})
	if err != nil {
		return false, err
	}
	return res.Idempotent, nil
}

func (g *Gateway) transition(ctx context.Context, order *models.Order, action enums.OrderAction, description string) (bool, error) {
	res, err := g.orders.Transition(ctx, orders.TransitionRequest{
		OrderID:     order.ID,
		Action:      action,
		Actor:       orders.SystemActor,
		Description: description,
	})
	if err != nil {
		return false, err
	}
	return res.Idempotent, nil
}
