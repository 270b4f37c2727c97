package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/internal/metrics"
	"github.com/paywall-labs/paywall-service/internal/repository"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// EntitlementService computes whether a user may read an article. Free
// articles are always readable; otherwise an active subscription covering the
// access level or an authorized/succeeded purchase of the article grants
// access.
type EntitlementService interface {
	CanRead(ctx context.Context, userID uuid.UUID, article domain.Article) (bool, error)
}

type entitlementService struct {
	subscriptions repository.SubscriptionRepository
	purchases     repository.PurchaseRepository
	cache         repository.EntitlementCache
	metrics       metrics.BillingMetrics
	log           *logger.Logger
}

// NewEntitlementService creates a new entitlement service. The cache may be
// nil, in which case every decision is computed from the repositories.
func NewEntitlementService(
	subscriptions repository.SubscriptionRepository,
	purchases repository.PurchaseRepository,
	cache repository.EntitlementCache,
	m metrics.BillingMetrics,
	log *logger.Logger,
) EntitlementService {
	return &entitlementService{
		subscriptions: subscriptions,
		purchases:     purchases,
		cache:         cache,
		metrics:       m,
		log:           log,
	}
}

// CanRead derives the entitlement for the user/article pair.
func (s *entitlementService) CanRead(ctx context.Context, userID uuid.UUID, article domain.Article) (bool, error) {
	if article.AccessLevel == domain.AccessLevelFree {
		return true, nil
	}

	if s.cache != nil {
		if allowed, found := s.cache.Get(ctx, userID, article.ID); found {
			s.metrics.IncEntitlementDecision(allowed, true)
			return allowed, nil
		}
	}

	allowed, err := s.compute(ctx, userID, article)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, userID, article.ID, allowed)
	}

	s.metrics.IncEntitlementDecision(allowed, false)
	return allowed, nil
}

func (s *entitlementService) compute(ctx context.Context, userID uuid.UUID, article domain.Article) (bool, error) {
	// Subscription first: one row by user id, cheaper than the pair lookup.
	sub, err := s.subscriptions.GetByUserID(ctx, userID)
	if err == nil {
		if sub.Status.Entitled() && sub.Level.Covers(article.AccessLevel) && sub.CurrentPeriodEnd.After(time.Now()) {
			return true, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	purchase, err := s.purchases.GetByUserAndArticle(ctx, userID, article.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	return purchase.Status.Entitled(), nil
}
