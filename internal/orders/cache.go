package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
)

const (
	cacheScope      = "order"
	defaultCacheTTL = 5 * time.Minute
)

type cacheStore interface {
	GetVersioned(ctx context.Context, key string) (int64, string, error)
	SetVersioned(ctx context.Context, key string, version int64, value string, ttl time.Duration) (bool, error)
	CacheKey(scope, id string) string
}

// RedisCache keeps serialized orders in Redis for the read path. Entries are
// tagged with the order version; invalidation leaves an empty entry at the new
// version so a fill carrying an older row is refused.
type RedisCache struct {
	store cacheStore
	ttl   time.Duration
}

// NewRedisCache builds a cache over the provided store (usually *redis.Client).
func NewRedisCache(store cacheStore, ttl time.Duration) (*RedisCache, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{store: store, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, bool, error) {
	_, raw, err := c.store.GetVersioned(ctx, c.key(orderID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if raw == "" {
		return nil, false, nil
	}
	var order models.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, false, fmt.Errorf("decode cached order: %w", err)
	}
	return &order, true, nil
}

func (c *RedisCache) Set(ctx context.Context, order *models.Order) error {
	if order == nil {
		return nil
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	_, err = c.store.SetVersioned(ctx, c.key(order.ID), int64(order.Version), string(raw), c.ttl)
	return err
}

// Invalidate drops the cached row and fences out rows older than order.
func (c *RedisCache) Invalidate(ctx context.Context, order *models.Order) error {
	if order == nil {
		return nil
	}
	_, err := c.store.SetVersioned(ctx, c.key(order.ID), int64(order.Version), "", c.ttl)
	return err
}

func (c *RedisCache) key(orderID uuid.UUID) string {
	return c.store.CacheKey(cacheScope, orderID.String())
}
