package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/api/middleware"
	internalorders "github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/pkg/auth"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
)

type fakeOrders struct {
	order      *models.Order
	err        error
	lastAction enums.OrderAction
	lastUser   auth.AuthenticatedUser
}

func (f *fakeOrders) Get(_ context.Context, user auth.AuthenticatedUser, _ uuid.UUID) (*models.Order, error) {
	f.lastUser = user
	return f.order, f.err
}

func (f *fakeOrders) PerformAction(_ context.Context, user auth.AuthenticatedUser, _ uuid.UUID, action enums.OrderAction) (*models.Order, error) {
	f.lastUser = user
	f.lastAction = action
	return f.order, f.err
}

func (f *fakeOrders) Transition(context.Context, internalorders.TransitionRequest) (*internalorders.TransitionResult, error) {
	return nil, errors.New("not used")
}

func newRequest(method, orderID, body string, user *auth.AuthenticatedUser) *http.Request {
	req := httptest.NewRequest(method, "/orders/"+orderID, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if user != nil {
		ctx = middleware.WithUser(ctx, *user)
	}
	return req.WithContext(ctx)
}

func TestActionReturnsNewState(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeOrders{order: &models.Order{ID: uuid.New(), State: enums.OrderStateShipped, UpdatedAt: updated}}
	user := &auth.AuthenticatedUser{ID: uuid.New(), Role: enums.UserRoleUser}

	resp := httptest.NewRecorder()
	Action(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, uuid.NewString(), `{"action":"mark_shipped"}`, user))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastAction != enums.OrderActionMarkShipped || svc.lastUser.ID != user.ID {
		t.Fatalf("unexpected service call action=%s user=%s", svc.lastAction, svc.lastUser.ID)
	}
	var payload struct {
		Success   bool      `json:"success"`
		State     string    `json:"state"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || payload.State != "shipped" || !payload.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestActionRejectsUnknownAndSystemActions(t *testing.T) {
	user := &auth.AuthenticatedUser{ID: uuid.New(), Role: enums.UserRoleUser}
	for _, action := range []string{"teleport", "confirm_payment", "dispute_lost"} {
		svc := &fakeOrders{}
		resp := httptest.NewRecorder()
		Action(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, uuid.NewString(), `{"action":"`+action+`"}`, user))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", action, resp.Code)
		}
		if svc.lastAction != "" {
			t.Fatalf("%s: service should not be called", action)
		}
	}
}

func TestActionMapsServiceErrors(t *testing.T) {
	user := &auth.AuthenticatedUser{ID: uuid.New(), Role: enums.UserRoleUser}
	cases := []struct {
		err    error
		status int
	}{
		{pkgerrors.New(pkgerrors.CodeForbidden, "only the seller may perform mark_ready"), http.StatusForbidden},
		{pkgerrors.New(pkgerrors.CodeStateConflict, "cannot mark_ready from pending_payment"), http.StatusConflict},
		{pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently"), http.StatusConflict},
		{pkgerrors.New(pkgerrors.CodeNotFound, "order not found"), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		resp := httptest.NewRecorder()
		Action(&fakeOrders{err: tc.err}, nil).ServeHTTP(resp, newRequest(http.MethodPost, uuid.NewString(), `{"action":"mark_ready"}`, user))
		if resp.Code != tc.status {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.status, resp.Code)
		}
	}
}

func TestActionRequiresUser(t *testing.T) {
	resp := httptest.NewRecorder()
	Action(&fakeOrders{}, nil).ServeHTTP(resp, newRequest(http.MethodPost, uuid.NewString(), `{"action":"cancel"}`, nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestGetReturnsOrderView(t *testing.T) {
	order := &models.Order{
		ID:                uuid.New(),
		AmountCents:       10000,
		PlatformFeeCents:  500,
		SellerAmountCents: 9500,
		Currency:          "usd",
		State:             enums.OrderStatePaid,
	}
	user := &auth.AuthenticatedUser{ID: uuid.New(), Role: enums.UserRoleUser}

	resp := httptest.NewRecorder()
	Get(&fakeOrders{order: order}, nil).ServeHTTP(resp, newRequest(http.MethodGet, order.ID.String(), "", user))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data orderView `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.ID != order.ID || envelope.Data.PlatformFeeCents != 500 || envelope.Data.State != enums.OrderStatePaid {
		t.Fatalf("unexpected view %+v", envelope.Data)
	}
}

func TestGetRejectsBadID(t *testing.T) {
	user := &auth.AuthenticatedUser{ID: uuid.New(), Role: enums.UserRoleUser}
	resp := httptest.NewRecorder()
	Get(&fakeOrders{}, nil).ServeHTTP(resp, newRequest(http.MethodGet, "not-a-uuid", "", user))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
