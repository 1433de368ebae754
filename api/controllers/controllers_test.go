package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/auctionhouse-backend/api/middleware"
	"github.com/angelmondragon/auctionhouse-backend/internal/auctions"
	"github.com/angelmondragon/auctionhouse-backend/internal/bidding"
	"github.com/angelmondragon/auctionhouse-backend/pkg/auth"
	"github.com/angelmondragon/auctionhouse-backend/pkg/config"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	"github.com/angelmondragon/auctionhouse-backend/pkg/pagination"
)

type fakeAuctionService struct {
	result    *auctions.PlaceBidResult
	err       error
	lastInput auctions.PlaceBidInput
	page      *auctions.BidPage
	lastPage  pagination.Params
}

func (f *fakeAuctionService) PlaceBid(_ context.Context, input auctions.PlaceBidInput) (*auctions.PlaceBidResult, error) {
	f.lastInput = input
	return f.result, f.err
}

func (f *fakeAuctionService) ListBids(_ context.Context, _ uuid.UUID, page pagination.Params) (*auctions.BidPage, error) {
	f.lastPage = page
	return f.page, f.err
}

func withUser(req *http.Request, role enums.UserRole) (*http.Request, uuid.UUID) {
	id := uuid.New()
	ctx := middleware.WithUser(req.Context(), auth.AuthenticatedUser{ID: id, Role: role})
	return req.WithContext(ctx), id
}

func withParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeMap(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", resp.Body.String(), err)
	}
	return out
}

func TestPlaceBidAccepted(t *testing.T) {
	ext := time.Now().Add(2 * time.Minute)
	prevBidder := uuid.New()
	prevAmount := int64(1200)
	svc := &fakeAuctionService{result: &auctions.PlaceBidResult{
		Accepted:            true,
		Bid:                 &models.Bid{ID: uuid.New(), AmountCents: 1300},
		Leading:             true,
		OutbidPrevious:      true,
		PreviousBidderID:    &prevBidder,
		PreviousAmountCents: &prevAmount,
		CurrentPriceCents:   1300,
		ExtensionSeconds:    120,
		NewEndAt:            &ext,
	}}

	listingID := uuid.New()
	body := fmt.Sprintf(`{"listingId":%q,"amount_cents":1300,"proxy_max_cents":2000}`, listingID)
	req, userID := withUser(httptest.NewRequest(http.MethodPost, "/bids", strings.NewReader(body)), enums.UserRoleUser)
	resp := httptest.NewRecorder()
	PlaceBid(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastInput.BidderID != userID || svc.lastInput.ListingID != listingID {
		t.Fatalf("unexpected service input %+v", svc.lastInput)
	}
	if svc.lastInput.MaxProxyCents == nil || *svc.lastInput.MaxProxyCents != 2000 {
		t.Fatalf("expected proxy max forwarded")
	}

	payload := decodeMap(t, resp)
	if payload["success"] != true {
		t.Fatalf("expected success true, got %v", payload)
	}
	bid := payload["bid"].(map[string]any)
	if bid["amount_cents"].(float64) != 1300 || bid["extension_seconds"].(float64) != 120 {
		t.Fatalf("unexpected bid payload %v", bid)
	}
	if bid["previous_bidder_id"] != prevBidder.String() {
		t.Fatalf("expected previous bidder, got %v", bid["previous_bidder_id"])
	}
}

func TestPlaceBidRejections(t *testing.T) {
	cases := []struct {
		name        string
		reason      bidding.RejectReason
		wantMinimum bool
	}{
		{"too low", bidding.ReasonBidTooLow, true},
		{"reserve", bidding.ReasonReserveNotMet, true},
		{"inactive", bidding.ReasonAuctionNotActive, false},
		{"self outbid", bidding.ReasonSelfOutbid, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeAuctionService{result: &auctions.PlaceBidResult{Reason: tc.reason, MinimumBid: 1100}}
			body := fmt.Sprintf(`{"listingId":%q,"amount_cents":500}`, uuid.New())
			req, _ := withUser(httptest.NewRequest(http.MethodPost, "/bids", strings.NewReader(body)), enums.UserRoleUser)
			resp := httptest.NewRecorder()
			PlaceBid(svc, nil).ServeHTTP(resp, req)

			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
			payload := decodeMap(t, resp)
			if payload["success"] != false || payload["error"] != string(tc.reason) {
				t.Fatalf("unexpected payload %v", payload)
			}
			_, hasMinimum := payload["minimumBid"]
			if hasMinimum != tc.wantMinimum {
				t.Fatalf("minimumBid present=%v want %v", hasMinimum, tc.wantMinimum)
			}
		})
	}
}

func TestPlaceBidValidatesBody(t *testing.T) {
	svc := &fakeAuctionService{}
	cases := map[string]string{
		"missing amount":  fmt.Sprintf(`{"listingId":%q}`, uuid.New()),
		"negative amount": fmt.Sprintf(`{"listingId":%q,"amount_cents":-5}`, uuid.New()),
		"bad listing":     `{"listingId":"nope","amount_cents":100}`,
		"amount too high": fmt.Sprintf(`{"listingId":%q,"amount_cents":100000000001}`, uuid.New()),
		"proxy too high":  fmt.Sprintf(`{"listingId":%q,"amount_cents":100,"proxy_max_cents":9223372036854775807}`, uuid.New()),
		"bad json":        `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req, _ := withUser(httptest.NewRequest(http.MethodPost, "/bids", strings.NewReader(body)), enums.UserRoleUser)
			resp := httptest.NewRecorder()
			PlaceBid(svc, nil).ServeHTTP(resp, req)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
		})
	}
}

func TestPlaceBidRequiresUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/bids", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	PlaceBid(&fakeAuctionService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestListAuctionBids(t *testing.T) {
	svc := &fakeAuctionService{page: &auctions.BidPage{
		Bids:       []models.Bid{{ID: uuid.New(), AmountCents: 1000, IsProxy: true}},
		NextCursor: "next",
	}}
	auctionID := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodGet, "/auctions/"+auctionID.String()+"/bids?limit=5&cursor=abc", nil), "auctionId", auctionID.String())
	resp := httptest.NewRecorder()
	ListAuctionBids(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.lastPage.Limit != 5 || svc.lastPage.Cursor != "abc" {
		t.Fatalf("unexpected page params %+v", svc.lastPage)
	}
	data := decodeMap(t, resp)["data"].(map[string]any)
	bids := data["bids"].([]any)
	if len(bids) != 1 || bids[0].(map[string]any)["is_proxy_bid"] != true {
		t.Fatalf("unexpected bids %v", bids)
	}
	if data["next_cursor"] != "next" {
		t.Fatalf("expected next cursor, got %v", data["next_cursor"])
	}
}

func TestListAuctionBidsRejectsBadID(t *testing.T) {
	req := withParam(httptest.NewRequest(http.MethodGet, "/auctions/x/bids", nil), "auctionId", "x")
	resp := httptest.NewRecorder()
	ListAuctionBids(&fakeAuctionService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	resp := httptest.NewRecorder()
	HealthReady(cfg, nil, stubPinger{}, stubPinger{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Auctionhouse-Env") != "test" {
		t.Fatalf("expected env header")
	}

	resp = httptest.NewRecorder()
	HealthReady(cfg, nil, stubPinger{err: errors.New("down")}, stubPinger{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

type fakeFinalizer struct {
	outcome *auctions.Outcome
	err     error
}

func (f fakeFinalizer) FinalizeAuction(context.Context, uuid.UUID) (*auctions.Outcome, error) {
	return f.outcome, f.err
}

func TestAdminFinalizeAuction(t *testing.T) {
	auctionID := uuid.New()
	order := &models.Order{ID: uuid.New()}

	cases := []struct {
		name      string
		finalizer fakeFinalizer
		status    int
	}{
		{"finalized", fakeFinalizer{outcome: &auctions.Outcome{AuctionID: auctionID, Result: auctions.OutcomeFinalized, Order: order}}, http.StatusOK},
		{"missing", fakeFinalizer{err: fmt.Errorf("lock auction: %w", gorm.ErrRecordNotFound)}, http.StatusNotFound},
		{"db failure", fakeFinalizer{err: errors.New("connection reset")}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := withParam(httptest.NewRequest(http.MethodPost, "/admin/auctions/"+auctionID.String()+"/finalize", nil), "auctionId", auctionID.String())
			resp := httptest.NewRecorder()
			AdminFinalizeAuction(tc.finalizer, nil).ServeHTTP(resp, req)
			if resp.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.Code)
			}
			if tc.status == http.StatusOK {
				data := decodeMap(t, resp)["data"].(map[string]any)
				if data["order_id"] != order.ID.String() {
					t.Fatalf("expected order id in response, got %v", data)
				}
			}
		})
	}
}
