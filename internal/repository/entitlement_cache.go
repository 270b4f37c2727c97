package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/paywall-labs/paywall-service/pkg/logger"
)

const (
	entitlementKeyPrefix = "entitlement:"

	// defaultEntitlementTTL bounds how long a stale decision can survive a
	// missed invalidation.
	defaultEntitlementTTL = 5 * time.Minute
)

// EntitlementCache caches per-user, per-article access decisions in Redis.
// The webhook service invalidates a user's entries when billing state changes.
type EntitlementCache interface {
	Get(ctx context.Context, userID, articleID uuid.UUID) (allowed bool, found bool)
	Set(ctx context.Context, userID, articleID uuid.UUID, allowed bool)
	InvalidateUser(ctx context.Context, userID uuid.UUID)
	Close() error
}

// RedisEntitlementCache implements EntitlementCache with go-redis.
type RedisEntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisEntitlementCache connects to Redis and returns the cache.
func NewRedisEntitlementCache(addr, password string, db int, log *logger.Logger) (*RedisEntitlementCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisEntitlementCache{
		client: client,
		ttl:    defaultEntitlementTTL,
		log:    log,
	}, nil
}

// NewRedisEntitlementCacheWithClient wraps an existing client, mainly for tests.
func NewRedisEntitlementCacheWithClient(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisEntitlementCache {
	if ttl <= 0 {
		ttl = defaultEntitlementTTL
	}
	return &RedisEntitlementCache{client: client, ttl: ttl, log: log}
}

func entitlementKey(userID, articleID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", entitlementKeyPrefix, userID, articleID)
}

// Get returns a cached decision. Cache errors degrade to a miss.
func (c *RedisEntitlementCache) Get(ctx context.Context, userID, articleID uuid.UUID) (bool, bool) {
	val, err := c.client.Get(ctx, entitlementKey(userID, articleID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnw("Entitlement cache read failed", "error", err, "userID", userID)
		}
		return false, false
	}

	return val == "1", true
}

// Set stores a decision with the configured TTL. Failures are logged only:
// the cache is an optimization, never a source of truth.
func (c *RedisEntitlementCache) Set(ctx context.Context, userID, articleID uuid.UUID, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}

	if err := c.client.Set(ctx, entitlementKey(userID, articleID), val, c.ttl).Err(); err != nil {
		c.log.Warnw("Entitlement cache write failed", "error", err, "userID", userID)
	}
}

// InvalidateUser drops every cached decision for the user.
func (c *RedisEntitlementCache) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	pattern := fmt.Sprintf("%s%s:*", entitlementKeyPrefix, userID)

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warnw("Entitlement cache scan failed", "error", err, "userID", userID)
		return
	}

	if len(keys) == 0 {
		return
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warnw("Entitlement cache invalidation failed", "error", err, "userID", userID)
		return
	}

	c.log.Debugw("Entitlement cache invalidated", "userID", userID, "keys", len(keys))
}

// Close closes the underlying Redis connection.
func (c *RedisEntitlementCache) Close() error {
	return c.client.Close()
}
