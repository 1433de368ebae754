package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/auctionhouse-backend/pkg/db/models"
	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

type versionedEntry struct {
	version int64
	value   string
}

type versionedStore struct {
	entries map[string]versionedEntry
}

func (s *versionedStore) GetVersioned(_ context.Context, key string) (int64, string, error) {
	entry, ok := s.entries[key]
	if !ok {
		return 0, "", goredis.Nil
	}
	return entry.version, entry.value, nil
}

func (s *versionedStore) SetVersioned(_ context.Context, key string, version int64, value string, _ time.Duration) (bool, error) {
	if current, ok := s.entries[key]; ok && current.version > version {
		return false, nil
	}
	s.entries[key] = versionedEntry{version: version, value: value}
	return true, nil
}

func (s *versionedStore) CacheKey(scope, id string) string {
	return "ah:cache:" + scope + ":" + id
}

func TestRedisCacheRefusesFillsOlderThanInvalidation(t *testing.T) {
	ctx := context.Background()
	store := &versionedStore{entries: map[string]versionedEntry{}}
	cache, err := NewRedisCache(store, time.Minute)
	require.NoError(t, err)

	stale := &models.Order{ID: uuid.New(), State: enums.OrderStatePaid, Version: 1}
	committed := *stale
	committed.State = enums.OrderStateReadyForHandover
	committed.Version = 2

	require.NoError(t, cache.Invalidate(ctx, &committed))
	_, ok, err := cache.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, stale))
	_, ok, err = cache.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, &committed))
	got, ok, err := cache.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, enums.OrderStateReadyForHandover, got.State)
}

func TestNewRedisCacheRequiresStore(t *testing.T) {
	_, err := NewRedisCache(nil, time.Minute)
	require.Error(t, err)
}
