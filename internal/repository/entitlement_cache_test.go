package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywall-labs/paywall-service/pkg/logger"
)

func newCacheFixture(t *testing.T) (*miniredis.Miniredis, *RedisEntitlementCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisEntitlementCacheWithClient(client, time.Minute, logger.New(logger.ERROR))
	t.Cleanup(func() { _ = cache.Close() })

	return mr, cache
}

func TestEntitlementCacheRoundTrip(t *testing.T) {
	_, cache := newCacheFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	articleID := uuid.New()

	_, found := cache.Get(ctx, userID, articleID)
	assert.False(t, found)

	cache.Set(ctx, userID, articleID, true)
	allowed, found := cache.Get(ctx, userID, articleID)
	require.True(t, found)
	assert.True(t, allowed)

	cache.Set(ctx, userID, articleID, false)
	allowed, found = cache.Get(ctx, userID, articleID)
	require.True(t, found)
	assert.False(t, allowed)
}

func TestEntitlementCacheInvalidateUser(t *testing.T) {
	_, cache := newCacheFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	otherUser := uuid.New()
	articleA := uuid.New()
	articleB := uuid.New()

	cache.Set(ctx, userID, articleA, true)
	cache.Set(ctx, userID, articleB, false)
	cache.Set(ctx, otherUser, articleA, true)

	cache.InvalidateUser(ctx, userID)

	_, found := cache.Get(ctx, userID, articleA)
	assert.False(t, found)
	_, found = cache.Get(ctx, userID, articleB)
	assert.False(t, found)

	// Other users keep their entries.
	allowed, found := cache.Get(ctx, otherUser, articleA)
	require.True(t, found)
	assert.True(t, allowed)
}

func TestEntitlementCacheEntriesExpire(t *testing.T) {
	mr, cache := newCacheFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	articleID := uuid.New()

	cache.Set(ctx, userID, articleID, true)
	mr.FastForward(2 * time.Minute)

	_, found := cache.Get(ctx, userID, articleID)
	assert.False(t, found)
}
