package enums

import "fmt"

// NotificationType identifies the template a notification is rendered with.
type NotificationType string

const (
	NotificationTypeAuctionWon        NotificationType = "auction_won"
	NotificationTypeAuctionEnded      NotificationType = "auction_ended"
	NotificationTypeAuctionNoSale     NotificationType = "auction_no_sale"
	NotificationTypeOutbid            NotificationType = "outbid"
	NotificationTypeOrderPaid         NotificationType = "order_paid"
	NotificationTypeOrderSold         NotificationType = "order_sold"
	NotificationTypeOrderStateChanged NotificationType = "order_state_changed"
	NotificationTypePaymentFailed     NotificationType = "payment_failed"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeAuctionWon,
	NotificationTypeAuctionEnded,
	NotificationTypeAuctionNoSale,
	NotificationTypeOutbid,
	NotificationTypeOrderPaid,
	NotificationTypeOrderSold,
	NotificationTypeOrderStateChanged,
	NotificationTypePaymentFailed,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
