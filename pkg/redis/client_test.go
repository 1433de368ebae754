package redis

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "ah:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "ah:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("order", "abc"); got != "ah:lock:order:abc" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.CacheKey("order", ""); got != "ah:cache:order" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestLockAcquireRelease(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	first, err := NewLock(client, client.LockKey("order", "1"), time.Second)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewLock(client, client.LockKey("order", "1"), time.Second)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	if ok, err := second.Acquire(ctx); err != nil || ok {
		t.Fatalf("expected contention, ok=%v err=%v", ok, err)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release of unheld lock should be a no-op: %v", err)
	}
	if _, err := client.Get(ctx, first.Key()); err != nil {
		t.Fatalf("non-owner release must keep the key: %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := client.Get(ctx, first.Key()); err != redis.Nil {
		t.Fatalf("expected key removed, got %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected lock to be free after release")
	}
}

func TestLockRequiresKey(t *testing.T) {
	if _, err := NewLock(&Client{store: newMockCmdable()}, "", time.Second); err == nil {
		t.Fatal("expected missing key error")
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	hashes      map[string]map[string]string
	evalTTLs    []int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:   make(map[string]string),
		incr:   make(map[string]int64),
		hashes: make(map[string]map[string]string),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// Eval mirrors setVersionedScript, the only script the client runs.
func (m *mockCmdable) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	version := args[0].(int64)
	m.evalTTLs = append(m.evalTTLs, args[2].(int64))
	if current, ok := m.hashes[key]; ok {
		stored, _ := strconv.ParseInt(current["v"], 10, 64)
		if stored > version {
			return redis.NewCmdResult(int64(0), nil)
		}
	}
	m.hashes[key] = map[string]string{"v": strconv.FormatInt(version, 10), "d": args[1].(string)}
	return redis.NewCmdResult(int64(1), nil)
}

func (m *mockCmdable) HMGet(_ context.Context, key string, fields ...string) *redis.SliceCmd {
	vals := make([]any, len(fields))
	if hash, ok := m.hashes[key]; ok {
		for i, field := range fields {
			if v, ok := hash[field]; ok {
				vals[i] = v
			}
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func TestVersionedEntriesRejectOlderWrites(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.CacheKey("order", "1")

	if _, _, err := client.GetVersioned(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil for missing key, got %v", err)
	}

	if ok, err := client.SetVersioned(ctx, key, 3, "", time.Minute); err != nil || !ok {
		t.Fatalf("expected tombstone write, ok=%v err=%v", ok, err)
	}
	if ok, err := client.SetVersioned(ctx, key, 2, "stale", time.Minute); err != nil || ok {
		t.Fatalf("expected older version to be refused, ok=%v err=%v", ok, err)
	}
	version, value, err := client.GetVersioned(ctx, key)
	if err != nil || version != 3 || value != "" {
		t.Fatalf("unexpected entry version=%d value=%q err=%v", version, value, err)
	}

	if ok, err := client.SetVersioned(ctx, key, 3, "fresh", time.Minute); err != nil || !ok {
		t.Fatalf("expected same version to replace tombstone, ok=%v err=%v", ok, err)
	}
	if _, value, _ := client.GetVersioned(ctx, key); value != "fresh" {
		t.Fatalf("expected fresh value, got %q", value)
	}
	if mock.evalTTLs[0] != time.Minute.Milliseconds() {
		t.Fatalf("expected ttl passed in milliseconds, got %d", mock.evalTTLs[0])
	}
}
