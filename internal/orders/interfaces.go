package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// Repository persists orders. State changes only go through CompareAndSwapState.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByAuctionID(ctx context.Context, auctionID uuid.UUID) (*models.Order, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	CompareAndSwapState(ctx context.Context, update StateUpdate) (bool, error)
}

// StateUpdate is a conditional state write: it only applies while the row
// still carries From and Version.
type StateUpdate struct {
	OrderID uuid.UUID
	From    enums.OrderState
	Version int
	To      enums.OrderState
	At      time.Time
	Set     map[string]any
}

// Cache is a read-through cache for single orders. Set must not replace an
// entry written for a newer order version, and Invalidate takes the order as
// committed so that older fills are refused.
type Cache interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, bool, error)
	Set(ctx context.Context, order *models.Order) error
	Invalidate(ctx context.Context, order *models.Order) error
}

// Refunder returns captured funds through the payment provider. Calls sharing
// an idempotency key must issue at most one refund.
type Refunder interface {
	Refund(ctx context.Context, paymentIntentID string, amountCents int64, idempotencyKey string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
