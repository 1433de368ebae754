package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// Party is the role an actor plays on a specific order.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
	PartySystem Party = "system"
)

// Actor identifies who requests a transition. System actors are payment
// provider callbacks and background jobs.
type Actor struct {
	UserID uuid.UUID
	System bool
}

// SystemActor is the actor used for provider-driven transitions.
var SystemActor = Actor{System: true}

// UserRef returns the user id recorded on ledger entries, nil for system actors.
func (a Actor) UserRef() *uuid.UUID {
	if a.System || a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// PartyFor resolves the actor's role on the order. The second result is false
// when the actor is unrelated to the order.
func (a Actor) PartyFor(order *models.Order) (Party, bool) {
	switch {
	case a.System:
		return PartySystem, true
	case order == nil || a.UserID == uuid.Nil:
		return "", false
	case a.UserID == order.BuyerID:
		return PartyBuyer, true
	case a.UserID == order.SellerID:
		return PartySeller, true
	default:
		return "", false
	}
}

type rule struct {
	from    []enums.OrderState
	to      enums.OrderState
	parties []Party
	entry   enums.LedgerEntryType
	amount  func(*models.Order) int64
	stamp   string
}

func orderAmount(o *models.Order) int64  { return o.AmountCents }
func sellerAmount(o *models.Order) int64 { return o.SellerAmountCents }

// capturedAmount is the amount returned to the buyer when a paid order is
// cancelled; unpaid orders move no money.
func capturedAmount(o *models.Order) int64 {
	if o.PaidAt == nil {
		return 0
	}
	return o.AmountCents
}

var rules = map[enums.OrderAction]rule{
	enums.OrderActionMarkReady: {
		from:    []enums.OrderState{enums.OrderStatePaid},
		to:      enums.OrderStateReadyForHandover,
		parties: []Party{PartySeller},
		entry:   enums.LedgerEntryTypeMarkReady,
	},
	enums.OrderActionMarkShipped: {
		from:    []enums.OrderState{enums.OrderStateReadyForHandover},
		to:      enums.OrderStateShipped,
		parties: []Party{PartySeller},
		entry:   enums.LedgerEntryTypeShipped,
	},
	enums.OrderActionConfirmDelivery: {
		from:    []enums.OrderState{enums.OrderStateShipped},
		to:      enums.OrderStateDelivered,
		parties: []Party{PartyBuyer},
		entry:   enums.LedgerEntryTypeDelivered,
	},
	enums.OrderActionReleaseFunds: {
		from:    []enums.OrderState{enums.OrderStateDelivered},
		to:      enums.OrderStateReleased,
		parties: []Party{PartyBuyer},
		entry:   enums.LedgerEntryTypeFundsReleased,
		amount:  sellerAmount,
	},
	enums.OrderActionCancel: {
		from:    []enums.OrderState{enums.OrderStatePendingPayment, enums.OrderStatePaid},
		to:      enums.OrderStateCancelled,
		parties: []Party{PartyBuyer, PartySeller, PartySystem},
		entry:   enums.LedgerEntryTypeCancelled,
		amount:  capturedAmount,
		stamp:   "cancelled_at",
	},
	enums.OrderActionRefund: {
		from:    []enums.OrderState{enums.OrderStatePaid, enums.OrderStateShipped, enums.OrderStateDelivered},
		to:      enums.OrderStateRefunded,
		parties: []Party{PartySeller, PartySystem},
		entry:   enums.LedgerEntryTypeRefundIssued,
		amount:  orderAmount,
	},
	enums.OrderActionConfirmPayment: {
		from:    []enums.OrderState{enums.OrderStatePendingPayment},
		to:      enums.OrderStatePaid,
		parties: []Party{PartySystem},
		entry:   enums.LedgerEntryTypeCapture,
		amount:  orderAmount,
		stamp:   "paid_at",
	},
	enums.OrderActionOpenDispute: {
		from:    []enums.OrderState{enums.OrderStatePaid},
		to:      enums.OrderStateDisputed,
		parties: []Party{PartySystem},
		entry:   enums.LedgerEntryTypeDisputeOpened,
	},
	enums.OrderActionDisputeWon: {
		from:    []enums.OrderState{enums.OrderStateDisputed},
		to:      enums.OrderStatePaid,
		parties: []Party{PartySystem},
		entry:   enums.LedgerEntryTypeDisputeWon,
	},
	enums.OrderActionDisputeLost: {
		from:    []enums.OrderState{enums.OrderStateDisputed},
		to:      enums.OrderStateRefunded,
		parties: []Party{PartySystem},
		entry:   enums.LedgerEntryTypeRefundIssued,
		amount:  orderAmount,
	},
}

func (r rule) allowsFrom(state enums.OrderState) bool {
	for _, candidate := range r.from {
		if candidate == state {
			return true
		}
	}
	return false
}

func (r rule) allowsParty(party Party) bool {
	for _, candidate := range r.parties {
		if candidate == party {
			return true
		}
	}
	return false
}

// TargetState returns the state an action moves an order into.
func TargetState(action enums.OrderAction) (enums.OrderState, bool) {
	r, ok := rules[action]
	if !ok {
		return "", false
	}
	return r.to, true
}

// CanTransition reports whether action is legal from state for the given party.
func CanTransition(action enums.OrderAction, state enums.OrderState, party Party) bool {
	r, ok := rules[action]
	if !ok {
		return false
	}
	return r.allowsFrom(state) && r.allowsParty(party)
}
