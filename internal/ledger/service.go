package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// Service records ledger entries. Record takes the caller's transaction so the
// entry commits or rolls back together with the state change it describes.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordEntryInput) (*models.LedgerEntry, error)
	List(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
}

type service struct {
	repo  Repository
	clock func() time.Time
}

// RecordEntryInput captures the immutable data a ledger entry requires.
// UserID stays nil for entries written on behalf of the payment provider.
type RecordEntryInput struct {
	OrderID     uuid.UUID
	Type        enums.LedgerEntryType
	Description string
	AmountCents int64
	UserID      *uuid.UUID
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, clock: time.Now}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordEntryInput) (*models.LedgerEntry, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger entry type %q", input.Type)
	}
	if input.AmountCents < 0 {
		return nil, fmt.Errorf("ledger amount must not be negative")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = string(input.Type)
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		OrderID:     input.OrderID,
		Type:        input.Type,
		Description: description,
		AmountCents: input.AmountCents,
		UserID:      input.UserID,
		CreatedAt:   s.clock().UTC(),
	}

	if err := s.repo.WithTx(tx).Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("record %s ledger entry: %w", input.Type, err)
	}
	return entry, nil
}

func (s *service) List(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}
