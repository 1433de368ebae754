package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	paymentwebhook "github.com/angelmondragon/auctionhouse-backend/internal/webhooks/payments"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
)

type fakeGateway struct {
	resp      paymentwebhook.Response
	err       error
	payload   []byte
	signature string
}

func (f *fakeGateway) Handle(_ context.Context, payload []byte, signature string) (paymentwebhook.Response, error) {
	f.payload = payload
	f.signature = signature
	return f.resp, f.err
}

func TestPaymentWebhookForwardsPayloadAndSignature(t *testing.T) {
	gw := &fakeGateway{resp: paymentwebhook.Response{Received: true, Idempotent: true, Status: "already_processed"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	resp := httptest.NewRecorder()

	PaymentWebhook(gw, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if string(gw.payload) != `{"id":"evt_1"}` || gw.signature != "t=1,v1=deadbeef" {
		t.Fatalf("unexpected gateway input %q %q", gw.payload, gw.signature)
	}
	var body paymentwebhook.Response
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Received || !body.Idempotent || body.Status != "already_processed" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestPaymentWebhookMapsGatewayErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"bad signature", pkgerrors.New(pkgerrors.CodeValidation, "invalid signature"), http.StatusBadRequest, "invalid signature"},
		{"unknown order", pkgerrors.New(pkgerrors.CodeNotFound, "order not found"), http.StatusNotFound, "order not found"},
		{"conflict", pkgerrors.New(pkgerrors.CodeConflict, "event is being processed"), http.StatusConflict, "event is being processed"},
		{"provider timeout", pkgerrors.New(pkgerrors.CodeExternal, "provider timeout"), http.StatusInternalServerError, ""},
		{"database down", pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("connection refused"), "load webhook event"), http.StatusInternalServerError, ""},
		{"untyped failure", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
			resp := httptest.NewRecorder()
			PaymentWebhook(&fakeGateway{err: tc.err}, nil).ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.Code)
			}
			var body failureResponse
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Received {
				t.Fatalf("expected received=false")
			}
			if tc.msg != "" && body.Error != tc.msg {
				t.Fatalf("expected error %q got %q", tc.msg, body.Error)
			}
			if body.Error == "" {
				t.Fatalf("expected an error message")
			}
		})
	}
}

func TestPaymentWebhookRejectsOversizedPayload(t *testing.T) {
	gw := &fakeGateway{}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(make([]byte, maxPayloadBytes+1)))
	resp := httptest.NewRecorder()
	PaymentWebhook(gw, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if gw.payload != nil {
		t.Fatalf("gateway should not be called")
	}
}
