package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paywall-labs/paywall-service/internal/api/rest/handlers"
	restmiddleware "github.com/paywall-labs/paywall-service/internal/api/rest/middleware"
	"github.com/paywall-labs/paywall-service/internal/middleware"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// RouterDeps bundles the constructed handlers and middleware the router
// mounts.
type RouterDeps struct {
	Auth     *middleware.JWTMiddleware
	Billing  *handlers.BillingHandler
	Articles *handlers.ArticleHandler
	Webhooks *handlers.WebhookHandler
	Registry *prometheus.Registry
}

// SetupRouter configures the gin router with routes and middleware.
func SetupRouter(log *logger.Logger, deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(restmiddleware.RequestLogger(log))
	r.Use(gin.Recovery())

	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		billing := v1.Group("/billing", deps.Auth.RequireAuth())
		{
			billing.POST("/customer", deps.Billing.EnsureCustomer)
			billing.GET("/prices", deps.Billing.GetPrices)
			billing.POST("/checkout/subscription", deps.Billing.CreateSubscriptionCheckout)
			billing.POST("/checkout/articles/:id", deps.Billing.CreateArticleCheckout)
			billing.POST("/portal", deps.Billing.CreatePortalSession)
			billing.GET("/shipping", deps.Billing.GetShipping)
		}

		articles := v1.Group("/articles")
		{
			articles.GET("", deps.Articles.GetArticles)
			articles.GET("/:id", deps.Auth.RequireAuth(), deps.Articles.GetArticle)
		}
	}

	// Webhooks stay outside the authenticated groups; Stripe signs them.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", deps.Webhooks.HandleStripeWebhook)
	}

	return r
}
