package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// Repository stores Payment rows. Rows are only ever inserted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	FindByIntent(ctx context.Context, orderID uuid.UUID, intentID string, kind enums.PaymentKind, status enums.PaymentStatus) (*models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindByIntent(ctx context.Context, orderID uuid.UUID, intentID string, kind enums.PaymentKind, status enums.PaymentStatus) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND provider_payment_intent_id = ? AND kind = ? AND status = ?", orderID, intentID, kind, status).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
