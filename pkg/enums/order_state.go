package enums

import "fmt"

// OrderState maps to the order_state enum in Postgres.
type OrderState string

const (
	OrderStatePendingPayment   OrderState = "pending_payment"
	OrderStatePaid             OrderState = "paid"
	OrderStateReadyForHandover OrderState = "ready_for_handover"
	OrderStateShipped          OrderState = "shipped"
	OrderStateDelivered        OrderState = "delivered"
	OrderStateReleased         OrderState = "released"
	OrderStateCancelled        OrderState = "cancelled"
	OrderStateRefunded         OrderState = "refunded"
	OrderStateDisputed         OrderState = "disputed"
)

var validOrderStates = []OrderState{
	OrderStatePendingPayment,
	OrderStatePaid,
	OrderStateReadyForHandover,
	OrderStateShipped,
	OrderStateDelivered,
	OrderStateReleased,
	OrderStateCancelled,
	OrderStateRefunded,
	OrderStateDisputed,
}

// String implements fmt.Stringer.
func (s OrderState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderState.
func (s OrderState) IsValid() bool {
	for _, candidate := range validOrderStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may leave the state.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateCancelled, OrderStateReleased, OrderStateRefunded:
		return true
	default:
		return false
	}
}

// ParseOrderState converts raw input into an OrderState.
func ParseOrderState(value string) (OrderState, error) {
	for _, candidate := range validOrderStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order state %q", value)
}
