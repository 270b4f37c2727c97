package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/internal/metrics"
	"github.com/paywall-labs/paywall-service/internal/repository"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

type entitlementFixture struct {
	subscriptions *repository.InMemorySubscriptionRepository
	purchases     *repository.InMemoryPurchaseRepository
	cache         *repository.RedisEntitlementCache
	redis         *miniredis.Miniredis
	service       EntitlementService
}

func newEntitlementFixture(t *testing.T) *entitlementFixture {
	t.Helper()

	log := logger.New(logger.ERROR)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := repository.NewRedisEntitlementCacheWithClient(client, time.Minute, log)

	subs := repository.NewInMemorySubscriptionRepository(log)
	purchases := repository.NewInMemoryPurchaseRepository(log)

	return &entitlementFixture{
		subscriptions: subs,
		purchases:     purchases,
		cache:         cache,
		redis:         mr,
		service:       NewEntitlementService(subs, purchases, cache, metrics.NoOpBillingMetrics{}, log),
	}
}

func premiumArticle() domain.Article {
	return domain.Article{ID: uuid.New(), AccessLevel: domain.AccessLevelPremium}
}

func TestCanReadFreeArticle(t *testing.T) {
	f := newEntitlementFixture(t)

	allowed, err := f.service.CanRead(context.Background(), uuid.New(), domain.Article{
		ID:          uuid.New(),
		AccessLevel: domain.AccessLevelFree,
	})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCanReadNoEntitlement(t *testing.T) {
	f := newEntitlementFixture(t)

	allowed, err := f.service.CanRead(context.Background(), uuid.New(), premiumArticle())
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCanReadActiveSubscription(t *testing.T) {
	f := newEntitlementFixture(t)
	userID := uuid.New()

	_, err := f.subscriptions.Upsert(context.Background(), domain.Subscription{
		UserID:               userID,
		StripeSubscriptionID: "sub_1",
		Level:                domain.PlanLevelPremium,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	allowed, err := f.service.CanRead(context.Background(), userID, premiumArticle())
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCanReadStandardPlanDoesNotCoverPremium(t *testing.T) {
	f := newEntitlementFixture(t)
	userID := uuid.New()

	_, err := f.subscriptions.Upsert(context.Background(), domain.Subscription{
		UserID:               userID,
		StripeSubscriptionID: "sub_2",
		Level:                domain.PlanLevelStandard,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	allowed, err := f.service.CanRead(context.Background(), userID, premiumArticle())
	require.NoError(t, err)
	assert.False(t, allowed)

	// The same plan covers standard articles.
	allowed, err = f.service.CanRead(context.Background(), userID, domain.Article{
		ID:          uuid.New(),
		AccessLevel: domain.AccessLevelStandard,
	})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCanReadExpiredPeriod(t *testing.T) {
	f := newEntitlementFixture(t)
	userID := uuid.New()

	_, err := f.subscriptions.Upsert(context.Background(), domain.Subscription{
		UserID:               userID,
		StripeSubscriptionID: "sub_3",
		Level:                domain.PlanLevelPremium,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	allowed, err := f.service.CanRead(context.Background(), userID, premiumArticle())
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCanReadPurchasedArticle(t *testing.T) {
	f := newEntitlementFixture(t)
	userID := uuid.New()
	article := premiumArticle()

	_, err := f.purchases.Upsert(context.Background(), domain.Purchase{
		UserID:                userID,
		ArticleID:             article.ID,
		StripePaymentIntentID: "pi_1",
		Status:                domain.PaymentStatusAuthorized,
	})
	require.NoError(t, err)

	allowed, err := f.service.CanRead(context.Background(), userID, article)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCanReadFailedPurchaseDeniesAccess(t *testing.T) {
	f := newEntitlementFixture(t)
	userID := uuid.New()
	article := premiumArticle()

	_, err := f.purchases.Upsert(context.Background(), domain.Purchase{
		UserID:                userID,
		ArticleID:             article.ID,
		StripePaymentIntentID: "pi_2",
		Status:                domain.PaymentStatusFailed,
	})
	require.NoError(t, err)

	allowed, err := f.service.CanRead(context.Background(), userID, article)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCanReadServesCachedDecision(t *testing.T) {
	f := newEntitlementFixture(t)
	userID := uuid.New()
	article := premiumArticle()

	allowed, err := f.service.CanRead(context.Background(), userID, article)
	require.NoError(t, err)
	require.False(t, allowed)

	// Entitlement appears, but the cached denial still wins until it is
	// invalidated.
	_, err = f.purchases.Upsert(context.Background(), domain.Purchase{
		UserID:                userID,
		ArticleID:             article.ID,
		StripePaymentIntentID: "pi_3",
		Status:                domain.PaymentStatusSucceeded,
	})
	require.NoError(t, err)

	allowed, err = f.service.CanRead(context.Background(), userID, article)
	require.NoError(t, err)
	assert.False(t, allowed)

	f.cache.InvalidateUser(context.Background(), userID)

	allowed, err = f.service.CanRead(context.Background(), userID, article)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCanReadWithoutCache(t *testing.T) {
	log := logger.New(logger.ERROR)
	subs := repository.NewInMemorySubscriptionRepository(log)
	purchases := repository.NewInMemoryPurchaseRepository(log)
	svc := NewEntitlementService(subs, purchases, nil, metrics.NoOpBillingMetrics{}, log)

	allowed, err := svc.CanRead(context.Background(), uuid.New(), premiumArticle())
	require.NoError(t, err)
	assert.False(t, allowed)
}
