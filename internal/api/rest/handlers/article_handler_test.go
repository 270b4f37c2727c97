package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/internal/metrics"
	"github.com/paywall-labs/paywall-service/internal/middleware"
	"github.com/paywall-labs/paywall-service/internal/repository"
	"github.com/paywall-labs/paywall-service/internal/service"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

type articleHandlerFixture struct {
	articles      *repository.InMemoryArticleRepository
	subscriptions *repository.InMemorySubscriptionRepository
	purchases     *repository.InMemoryPurchaseRepository
	router        *gin.Engine
	userID        uuid.UUID
}

func newArticleHandlerFixture(t *testing.T) *articleHandlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.ERROR)
	articles := repository.NewInMemoryArticleRepository(log)
	subs := repository.NewInMemorySubscriptionRepository(log)
	purchases := repository.NewInMemoryPurchaseRepository(log)
	entitlement := service.NewEntitlementService(subs, purchases, nil, metrics.NoOpBillingMetrics{}, log)

	handler := NewArticleHandler(articles, entitlement, log)
	userID := uuid.New()

	r := gin.New()
	r.GET("/articles", handler.GetArticles)
	r.GET("/articles/:id", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, userID)
	}, handler.GetArticle)

	return &articleHandlerFixture{
		articles:      articles,
		subscriptions: subs,
		purchases:     purchases,
		router:        r,
		userID:        userID,
	}
}

func (f *articleHandlerFixture) addArticle(t *testing.T, level domain.AccessLevel) domain.Article {
	t.Helper()

	article, err := f.articles.Create(context.Background(), domain.Article{
		ID:          uuid.New(),
		Title:       "Paid Words",
		Content:     "the full text",
		AccessLevel: level,
	})
	require.NoError(t, err)
	return article
}

func (f *articleHandlerFixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestGetArticlesOmitsContent(t *testing.T) {
	f := newArticleHandlerFixture(t)
	f.addArticle(t, domain.AccessLevelPremium)

	w := f.get("/articles")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Paid Words")
	assert.NotContains(t, w.Body.String(), "the full text")
}

func TestGetArticleFreeIsOpen(t *testing.T) {
	f := newArticleHandlerFixture(t)
	article := f.addArticle(t, domain.AccessLevelFree)

	w := f.get("/articles/" + article.ID.String())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "the full text")
}

func TestGetArticleLockedWithoutEntitlement(t *testing.T) {
	f := newArticleHandlerFixture(t)
	article := f.addArticle(t, domain.AccessLevelPremium)

	w := f.get("/articles/" + article.ID.String())
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), `"locked":true`)
	assert.NotContains(t, w.Body.String(), "the full text")
}

func TestGetArticleUnlockedBySubscription(t *testing.T) {
	f := newArticleHandlerFixture(t)
	article := f.addArticle(t, domain.AccessLevelPremium)

	_, err := f.subscriptions.Upsert(context.Background(), domain.Subscription{
		UserID:               f.userID,
		StripeSubscriptionID: "sub_1",
		Level:                domain.PlanLevelPremium,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	w := f.get("/articles/" + article.ID.String())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "the full text")
}

func TestGetArticleUnlockedByPurchase(t *testing.T) {
	f := newArticleHandlerFixture(t)
	article := f.addArticle(t, domain.AccessLevelStandard)

	_, err := f.purchases.Upsert(context.Background(), domain.Purchase{
		UserID:                f.userID,
		ArticleID:             article.ID,
		StripePaymentIntentID: "pi_1",
		Status:                domain.PaymentStatusSucceeded,
	})
	require.NoError(t, err)

	w := f.get("/articles/" + article.ID.String())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "the full text")
}

func TestGetArticleUnknownID(t *testing.T) {
	f := newArticleHandlerFixture(t)

	w := f.get("/articles/" + uuid.New().String())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.get("/articles/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
