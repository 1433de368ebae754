package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/pkg/auth"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

type counterStore struct {
	counts map[string]int64
	err    error
}

func (c *counterStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[key]++
	return c.counts[key], nil
}

func bidRequest(user auth.AuthenticatedUser, ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/bids", nil)
	req.RemoteAddr = ip + ":5555"
	return req.WithContext(WithUser(req.Context(), user))
}

func TestRateLimitBlocksPerUser(t *testing.T) {
	store := &counterStore{}
	policy := NewRateLimitPolicy("bids", time.Minute, 2, 0)
	handler := RateLimit(policy, store, nil)(okHandler())
	user := auth.AuthenticatedUser{ID: uuid.New(), Role: enums.UserRoleUser}

	codes := []int{}
	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, bidRequest(user, "10.0.0.1"))
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	other := auth.AuthenticatedUser{ID: uuid.New(), Role: enums.UserRoleUser}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, bidRequest(other, "10.0.0.1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("other users keep their own budget, got %d", resp.Code)
	}
}

func TestRateLimitBlocksPerIP(t *testing.T) {
	store := &counterStore{}
	handler := RateLimit(NewRateLimitPolicy("bids", time.Minute, 0, 1), store, nil)(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, bidRequest(auth.AuthenticatedUser{ID: uuid.New()}, "10.0.0.9"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, bidRequest(auth.AuthenticatedUser{ID: uuid.New()}, "10.0.0.9"))
	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %d then %d", first.Code, second.Code)
	}
	if second.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", second.Header().Get("Retry-After"))
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	store := &counterStore{err: errors.New("redis down")}
	handler := RateLimit(NewRateLimitPolicy("bids", time.Minute, 1, 1), store, nil)(okHandler())
	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, bidRequest(auth.AuthenticatedUser{ID: uuid.New()}, "10.0.0.1"))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected requests through when the store fails, got %d", resp.Code)
		}
	}
}

func TestRateLimitDisabledPolicy(t *testing.T) {
	handler := RateLimit(NewRateLimitPolicy("bids", 0, 1, 1), &counterStore{}, nil)(okHandler())
	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, bidRequest(auth.AuthenticatedUser{ID: uuid.New()}, "10.0.0.1"))
		if resp.Code != http.StatusOK {
			t.Fatalf("disabled policy must not block, got %d", resp.Code)
		}
	}
}
