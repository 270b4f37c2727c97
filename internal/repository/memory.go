package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// In-memory repository implementations. They back the service tests and are
// a drop-in replacement for the Postgres repositories in local development.

// InMemoryUserRepository implements UserRepository in memory.
type InMemoryUserRepository struct {
	users map[uuid.UUID]domain.User
	mutex sync.RWMutex
	log   *logger.Logger
}

// NewInMemoryUserRepository creates a new in-memory user repository.
func NewInMemoryUserRepository(log *logger.Logger) *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users: make(map[uuid.UUID]domain.User),
		log:   log,
	}
}

// GetByID returns the user with the given id.
func (r *InMemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return domain.User{}, ErrNotFound
	}

	return user, nil
}

// GetByStripeCustomerID returns the user owning the given Stripe customer.
func (r *InMemoryUserRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (domain.User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, user := range r.users {
		if user.StripeCustomerID != nil && *user.StripeCustomerID == customerID {
			return user, nil
		}
	}

	return domain.User{}, ErrNotFound
}

// Create stores a new user.
func (r *InMemoryUserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.users {
		if existing.Email == user.Email {
			return domain.User{}, ErrDuplicate
		}
	}

	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user

	return user, nil
}

// SetStripeCustomerID sets the customer id only when none is set yet.
func (r *InMemoryUserRepository) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	user, exists := r.users[id]
	if !exists {
		return false, ErrNotFound
	}

	if user.HasCustomer() {
		return false, nil
	}

	user.StripeCustomerID = &customerID
	user.UpdatedAt = time.Now()
	r.users[id] = user

	return true, nil
}

// InMemoryArticleRepository implements ArticleRepository in memory.
type InMemoryArticleRepository struct {
	articles map[uuid.UUID]domain.Article
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewInMemoryArticleRepository creates a new in-memory article repository.
func NewInMemoryArticleRepository(log *logger.Logger) *InMemoryArticleRepository {
	return &InMemoryArticleRepository{
		articles: make(map[uuid.UUID]domain.Article),
		log:      log,
	}
}

// GetByID returns the article with the given id.
func (r *InMemoryArticleRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Article, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	article, exists := r.articles[id]
	if !exists {
		return domain.Article{}, ErrNotFound
	}

	return article, nil
}

// GetAll returns all articles.
func (r *InMemoryArticleRepository) GetAll(ctx context.Context) ([]domain.Article, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	articles := make([]domain.Article, 0, len(r.articles))
	for _, article := range r.articles {
		articles = append(articles, article)
	}

	return articles, nil
}

// Create stores a new article.
func (r *InMemoryArticleRepository) Create(ctx context.Context, article domain.Article) (domain.Article, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	article.CreatedAt = time.Now()
	article.UpdatedAt = article.CreatedAt
	r.articles[article.ID] = article

	return article, nil
}

// InMemorySubscriptionRepository implements SubscriptionRepository in memory.
type InMemorySubscriptionRepository struct {
	subscriptions map[string]domain.Subscription // keyed by stripe subscription id
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionRepository creates a new in-memory subscription repository.
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[string]domain.Subscription),
		log:           log,
	}
}

// GetByUserID returns the subscription owned by the given user.
func (r *InMemorySubscriptionRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, sub := range r.subscriptions {
		if sub.UserID == userID {
			return sub, nil
		}
	}

	return domain.Subscription{}, ErrNotFound
}

// Upsert inserts or updates the row for the Stripe subscription id.
func (r *InMemorySubscriptionRepository) Upsert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	existing, exists := r.subscriptions[sub.StripeSubscriptionID]
	if exists {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		if sub.ID == uuid.Nil {
			sub.ID = uuid.New()
		}
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = time.Now()
	r.subscriptions[sub.StripeSubscriptionID] = sub

	return sub, nil
}

// DeleteByStripeID removes the row for the Stripe subscription id.
func (r *InMemorySubscriptionRepository) DeleteByStripeID(ctx context.Context, stripeSubscriptionID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.subscriptions, stripeSubscriptionID)
	return nil
}

// InMemoryPurchaseRepository implements PurchaseRepository in memory.
type InMemoryPurchaseRepository struct {
	purchases map[string]domain.Purchase // keyed by stripe payment intent id
	mutex     sync.RWMutex
	log       *logger.Logger
}

// NewInMemoryPurchaseRepository creates a new in-memory purchase repository.
func NewInMemoryPurchaseRepository(log *logger.Logger) *InMemoryPurchaseRepository {
	return &InMemoryPurchaseRepository{
		purchases: make(map[string]domain.Purchase),
		log:       log,
	}
}

// GetByUserAndArticle returns the purchase for the given user/article pair.
func (r *InMemoryPurchaseRepository) GetByUserAndArticle(ctx context.Context, userID, articleID uuid.UUID) (domain.Purchase, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, purchase := range r.purchases {
		if purchase.UserID == userID && purchase.ArticleID == articleID {
			return purchase, nil
		}
	}

	return domain.Purchase{}, ErrNotFound
}

// Upsert inserts or updates the row for the Stripe payment intent id.
func (r *InMemoryPurchaseRepository) Upsert(ctx context.Context, purchase domain.Purchase) (domain.Purchase, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	existing, exists := r.purchases[purchase.StripePaymentIntentID]
	if exists {
		purchase.ID = existing.ID
		purchase.CreatedAt = existing.CreatedAt
	} else {
		// Enforce the unique (user, article) pair
		for _, other := range r.purchases {
			if other.UserID == purchase.UserID && other.ArticleID == purchase.ArticleID {
				return domain.Purchase{}, ErrDuplicate
			}
		}
		if purchase.ID == uuid.Nil {
			purchase.ID = uuid.New()
		}
		purchase.CreatedAt = time.Now()
	}
	purchase.UpdatedAt = time.Now()
	r.purchases[purchase.StripePaymentIntentID] = purchase

	return purchase, nil
}

// DeleteByPaymentIntentID removes the row for the Stripe payment intent id.
func (r *InMemoryPurchaseRepository) DeleteByPaymentIntentID(ctx context.Context, paymentIntentID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.purchases, paymentIntentID)
	return nil
}

// UpdateStatusByPaymentIntentID sets the status of the correlated purchase.
func (r *InMemoryPurchaseRepository) UpdateStatusByPaymentIntentID(ctx context.Context, paymentIntentID string, status domain.PaymentStatus) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	purchase, exists := r.purchases[paymentIntentID]
	if !exists {
		return ErrNotFound
	}

	purchase.Status = status
	purchase.UpdatedAt = time.Now()
	r.purchases[paymentIntentID] = purchase

	return nil
}
