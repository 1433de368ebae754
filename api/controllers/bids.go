package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/api/middleware"
	"github.com/angelmondragon/auctionhouse-backend/api/responses"
	"github.com/angelmondragon/auctionhouse-backend/api/validators"
	"github.com/angelmondragon/auctionhouse-backend/internal/auctions"
	"github.com/angelmondragon/auctionhouse-backend/internal/bidding"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
	"github.com/angelmondragon/auctionhouse-backend/pkg/pagination"
)

type placeBidRequest struct {
	ListingID     string `json:"listingId" validate:"required,uuid"`
	AmountCents   int64  `json:"amount_cents" validate:"required,gt=0,lte=100000000000"`
	ProxyMaxCents *int64 `json:"proxy_max_cents" validate:"omitempty,gt=0,lte=100000000000"`
}

type placedBid struct {
	ID                  uuid.UUID  `json:"id"`
	AmountCents         int64      `json:"amount_cents"`
	IsProxyBid          bool       `json:"is_proxy_bid"`
	OutbidPrevious      bool       `json:"outbid_previous"`
	Leading             bool       `json:"leading"`
	CurrentPriceCents   int64      `json:"current_price_cents"`
	ExtensionSeconds    *int64     `json:"extension_seconds,omitempty"`
	NewEndAt            *time.Time `json:"new_end_at,omitempty"`
	PreviousBidderID    *uuid.UUID `json:"previous_bidder_id,omitempty"`
	PreviousAmountCents *int64     `json:"previous_amount_cents,omitempty"`
}

type placeBidResponse struct {
	Success bool      `json:"success"`
	Bid     placedBid `json:"bid"`
}

type bidRejectedResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	MinimumBid *int64 `json:"minimumBid,omitempty"`
}

type bidView struct {
	ID          uuid.UUID `json:"id"`
	BidderID    uuid.UUID `json:"bidder_id"`
	AmountCents int64     `json:"amount_cents"`
	IsProxyBid  bool      `json:"is_proxy_bid"`
	PlacedAt    time.Time `json:"placed_at"`
}

// PlaceBid places a bid on the auction currently running for a listing.
// Business rejections answer 400 with the reason and, when relevant, the
// minimum acceptable bid.
func PlaceBid(svc auctions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bidding service unavailable"))
			return
		}
		user, ok := middleware.UserFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var body placeBidRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		listingID, err := uuid.Parse(body.ListingID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid listingId"))
			return
		}

		result, err := svc.PlaceBid(ctx, auctions.PlaceBidInput{
			ListingID:     listingID,
			BidderID:      user.ID,
			AmountCents:   body.AmountCents,
			MaxProxyCents: body.ProxyMaxCents,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if !result.Accepted {
			rejected := bidRejectedResponse{Error: string(result.Reason)}
			if result.Reason == bidding.ReasonBidTooLow || result.Reason == bidding.ReasonReserveNotMet {
				minimum := result.MinimumBid
				rejected.MinimumBid = &minimum
			}
			responses.WriteJSON(w, http.StatusBadRequest, rejected)
			return
		}

		responses.WriteJSON(w, http.StatusOK, placeBidResponse{Success: true, Bid: toPlacedBid(result)})
	}
}

// ListAuctionBids returns one page of an auction's bid history, newest first.
func ListAuctionBids(svc auctions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bidding service unavailable"))
			return
		}
		auctionID, err := validators.ParseUUIDParam(r, "auctionId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListBids(ctx, auctionID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		views := make([]bidView, 0, len(page.Bids))
		for _, bid := range page.Bids {
			views = append(views, toBidView(bid))
		}
		responses.WriteSuccess(w, bidHistoryView{Bids: views, NextCursor: page.NextCursor})
	}
}

type bidHistoryView struct {
	Bids       []bidView `json:"bids"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

func toPlacedBid(result *auctions.PlaceBidResult) placedBid {
	out := placedBid{
		IsProxyBid:          result.IsProxyBid,
		OutbidPrevious:      result.OutbidPrevious,
		Leading:             result.Leading,
		CurrentPriceCents:   result.CurrentPriceCents,
		NewEndAt:            result.NewEndAt,
		PreviousBidderID:    result.PreviousBidderID,
		PreviousAmountCents: result.PreviousAmountCents,
	}
	if result.Bid != nil {
		out.ID = result.Bid.ID
		out.AmountCents = result.Bid.AmountCents
	}
	if result.ExtensionSeconds > 0 {
		ext := result.ExtensionSeconds
		out.ExtensionSeconds = &ext
	}
	return out
}

func toBidView(bid models.Bid) bidView {
	return bidView{
		ID:          bid.ID,
		BidderID:    bid.BidderID,
		AmountCents: bid.AmountCents,
		IsProxyBid:  bid.IsProxy,
		PlacedAt:    bid.PlacedAt,
	}
}
