package orders

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/api/middleware"
	"github.com/angelmondragon/auctionhouse-backend/api/responses"
	"github.com/angelmondragon/auctionhouse-backend/api/validators"
	internalorders "github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
)

type actionRequest struct {
	Action string `json:"action" validate:"required"`
}

type actionResponse struct {
	Success   bool             `json:"success"`
	State     enums.OrderState `json:"state"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type orderView struct {
	ID                uuid.UUID        `json:"id"`
	AuctionID         uuid.UUID        `json:"auction_id"`
	ListingID         uuid.UUID        `json:"listing_id"`
	BuyerID           uuid.UUID        `json:"buyer_id"`
	SellerID          uuid.UUID        `json:"seller_id"`
	AmountCents       int64            `json:"amount_cents"`
	PlatformFeeCents  int64            `json:"platform_fee_cents"`
	SellerAmountCents int64            `json:"seller_amount_cents"`
	Currency          string           `json:"currency"`
	State             enums.OrderState `json:"state"`
	PaidAt            *time.Time       `json:"paid_at,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Action applies a buyer or seller action to an order.
func Action(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		user, ok := middleware.UserFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}

		var body actionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		action, err := enums.ParseManualOrderAction(body.Action)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid action"))
			return
		}

		order, err := svc.PerformAction(ctx, user, orderID, action)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, actionResponse{
			Success:   true,
			State:     order.State,
			UpdatedAt: order.UpdatedAt,
		})
	}
}

// Get returns an order to its buyer, its seller or an admin.
func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		user, ok := middleware.UserFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.Get(ctx, user, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderView(order))
	}
}

func toOrderView(order *models.Order) orderView {
	return orderView{
		ID:                order.ID,
		AuctionID:         order.AuctionID,
		ListingID:         order.ListingID,
		BuyerID:           order.BuyerID,
		SellerID:          order.SellerID,
		AmountCents:       order.AmountCents,
		PlatformFeeCents:  order.PlatformFeeCents,
		SellerAmountCents: order.SellerAmountCents,
		Currency:          order.Currency,
		State:             order.State,
		PaidAt:            order.PaidAt,
		CancelledAt:       order.CancelledAt,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}
