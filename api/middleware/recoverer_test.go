package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
)

func TestRecovererReturnsInternalError(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: buf})
	handler := RequestID(logg)(Recoverer(logg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	})))

	req := httptest.NewRequest(http.MethodPost, "/bids", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if resp.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("expected request id echoed, got %q", resp.Header().Get(requestIDHeader))
	}
	if bytes.Contains(resp.Body.Bytes(), []byte("nil map write")) {
		t.Fatalf("panic value leaked to caller: %s", resp.Body.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req-42"`)) {
		t.Fatalf("expected request id on the error log; got %s", buf.String())
	}
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	resp := httptest.NewRecorder()
	RequestID(nil)(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
}
