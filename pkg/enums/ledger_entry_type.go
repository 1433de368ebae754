package enums

import "fmt"

// LedgerEntryType maps to the ledger_entry_type enum in Postgres.
type LedgerEntryType string

const (
	LedgerEntryTypeCapture       LedgerEntryType = "CAPTURE"
	LedgerEntryTypePaymentFailed LedgerEntryType = "payment_failed"
	LedgerEntryTypeMarkReady     LedgerEntryType = "mark_ready"
	LedgerEntryTypeShipped       LedgerEntryType = "shipped"
	LedgerEntryTypeDelivered     LedgerEntryType = "delivered"
	LedgerEntryTypeFundsReleased LedgerEntryType = "funds_released"
	LedgerEntryTypeCancelled     LedgerEntryType = "cancelled"
	LedgerEntryTypeRefundIssued  LedgerEntryType = "refund_issued"
	LedgerEntryTypeDisputeOpened LedgerEntryType = "dispute_opened"
	LedgerEntryTypeDisputeWon    LedgerEntryType = "dispute_won"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeCapture,
	LedgerEntryTypePaymentFailed,
	LedgerEntryTypeMarkReady,
	LedgerEntryTypeShipped,
	LedgerEntryTypeDelivered,
	LedgerEntryTypeFundsReleased,
	LedgerEntryTypeCancelled,
	LedgerEntryTypeRefundIssued,
	LedgerEntryTypeDisputeOpened,
	LedgerEntryTypeDisputeWon,
}

// String implements fmt.Stringer.
func (t LedgerEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known LedgerEntryType.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
