package enums

import (
	"fmt"
	"strings"
)

// OrderAction names a transition of the order lifecycle.
type OrderAction string

const (
	OrderActionMarkReady       OrderAction = "mark_ready"
	OrderActionMarkShipped     OrderAction = "mark_shipped"
	OrderActionConfirmDelivery OrderAction = "confirm_delivery"
	OrderActionReleaseFunds    OrderAction = "release_funds"
	OrderActionCancel          OrderAction = "cancel"
	OrderActionRefund          OrderAction = "refund"

	// Driven by payment provider events only.
	OrderActionConfirmPayment OrderAction = "confirm_payment"
	OrderActionOpenDispute    OrderAction = "open_dispute"
	OrderActionDisputeWon     OrderAction = "dispute_won"
	OrderActionDisputeLost    OrderAction = "dispute_lost"
)

var manualOrderActions = []OrderAction{
	OrderActionMarkReady,
	OrderActionMarkShipped,
	OrderActionConfirmDelivery,
	OrderActionReleaseFunds,
	OrderActionCancel,
	OrderActionRefund,
}

var systemOrderActions = []OrderAction{
	OrderActionConfirmPayment,
	OrderActionOpenDispute,
	OrderActionDisputeWon,
	OrderActionDisputeLost,
}

// String implements fmt.Stringer.
func (a OrderAction) String() string {
	return string(a)
}

// IsManual reports whether a buyer or seller may request the action directly.
func (a OrderAction) IsManual() bool {
	for _, candidate := range manualOrderActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsValid reports whether the value is a known OrderAction.
func (a OrderAction) IsValid() bool {
	if a.IsManual() {
		return true
	}
	for _, candidate := range systemOrderActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseManualOrderAction converts request input into one of the actions
// exposed through the order actions endpoint.
func ParseManualOrderAction(value string) (OrderAction, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range manualOrderActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order action %q", value)
}
