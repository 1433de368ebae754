package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/api/responses"
	"github.com/angelmondragon/auctionhouse-backend/api/validators"
	"github.com/angelmondragon/auctionhouse-backend/internal/auctions"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
)

type auctionFinalizer interface {
	FinalizeAuction(ctx context.Context, auctionID uuid.UUID) (*auctions.Outcome, error)
}

type finalizeResponse struct {
	AuctionID uuid.UUID  `json:"auction_id"`
	Result    string     `json:"result"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
}

// AdminFinalizeAuction settles one auction on demand instead of waiting for
// the worker. Safe to repeat.
func AdminFinalizeAuction(finalizer auctionFinalizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if finalizer == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "finalizer unavailable"))
			return
		}
		auctionID, err := validators.ParseUUIDParam(r, "auctionId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		outcome, err := finalizer.FinalizeAuction(ctx, auctionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found"))
			return
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize auction"))
			return
		}
		resp := finalizeResponse{AuctionID: outcome.AuctionID, Result: outcome.Result}
		if outcome.Order != nil {
			id := outcome.Order.ID
			resp.OrderID = &id
		}
		responses.WriteSuccess(w, resp)
	}
}
