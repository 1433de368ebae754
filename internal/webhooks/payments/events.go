package paymentwebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
)

// EventRepository stores one deduplication row per provider event.
type EventRepository interface {
	Find(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	Insert(ctx context.Context, event *models.WebhookEvent) error
	MarkProcessed(ctx context.Context, eventID string, orderID *uuid.UUID, duplicateOf *string, at time.Time) error
	MarkFailed(ctx context.Context, eventID string, orderID *uuid.UUID, message string) error
	FindProcessedForOrder(ctx context.Context, orderID uuid.UUID, eventType, excludeEventID string) (*models.WebhookEvent, error)
}

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Find(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) Insert(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) MarkProcessed(ctx context.Context, eventID string, orderID *uuid.UUID, duplicateOf *string, at time.Time) error {
	updates := map[string]any{
		"processed_at":  at,
		"error_message": nil,
		"duplicate_of":  duplicateOf,
	}
	if orderID != nil {
		updates["order_id"] = *orderID
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error
}

// MarkFailed records the error and leaves processed_at empty so the provider's
// redelivery is processed again.
func (r *eventRepository) MarkFailed(ctx context.Context, eventID string, orderID *uuid.UUID, message string) error {
	updates := map[string]any{
		"processed_at":  nil,
		"error_message": message,
	}
	if orderID != nil {
		updates["order_id"] = *orderID
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error
}

func (r *eventRepository) FindProcessedForOrder(ctx context.Context, orderID uuid.UUID, eventType, excludeEventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND event_type = ? AND event_id <> ?", orderID, eventType, excludeEventID).
		Where("processed_at IS NOT NULL AND error_message IS NULL AND duplicate_of IS NULL").
		Order("processed_at ASC").
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}
