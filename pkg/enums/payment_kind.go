package enums

import "fmt"

// PaymentKind distinguishes the original capture from later refunds.
type PaymentKind string

const (
	PaymentKindCapture PaymentKind = "capture"
	PaymentKindRefund  PaymentKind = "refund"
)

var validPaymentKinds = []PaymentKind{
	PaymentKindCapture,
	PaymentKindRefund,
}

// String implements fmt.Stringer.
func (k PaymentKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known PaymentKind.
func (k PaymentKind) IsValid() bool {
	for _, candidate := range validPaymentKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePaymentKind converts raw input into a PaymentKind.
func ParsePaymentKind(value string) (PaymentKind, error) {
	for _, candidate := range validPaymentKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment kind %q", value)
}
