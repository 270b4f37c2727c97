package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/paywall-labs/paywall-service/internal/api/rest"
	"github.com/paywall-labs/paywall-service/internal/api/rest/handlers"
	"github.com/paywall-labs/paywall-service/internal/config"
	"github.com/paywall-labs/paywall-service/internal/db"
	"github.com/paywall-labs/paywall-service/internal/kafka"
	"github.com/paywall-labs/paywall-service/internal/metrics"
	"github.com/paywall-labs/paywall-service/internal/middleware"
	"github.com/paywall-labs/paywall-service/internal/repository"
	"github.com/paywall-labs/paywall-service/internal/service"
	"github.com/paywall-labs/paywall-service/internal/stripe"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

func main() {
	log := initLogger()

	log.Infow("Paywall service starting up...")

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warnw("JWT secret is not set; authenticated endpoints will reject everything")
	}
	if cfg.Stripe.APIKey == "" {
		log.Warnw("Stripe API key is not set")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	if err := db.Migrate(cfg.Database.DSN, log); err != nil {
		log.Fatalw("Failed to run database migrations", "error", err)
	}

	pool, err := db.Connect(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Infow("Database connection established")

	userRepo := repository.NewPostgresUserRepository(pool, log)
	articleRepo := repository.NewPostgresArticleRepository(pool, log)
	subscriptionRepo := repository.NewPostgresSubscriptionRepository(pool, log)
	purchaseRepo := repository.NewPostgresPurchaseRepository(pool, log)

	var entitlementCache repository.EntitlementCache
	redisCache, err := repository.NewRedisEntitlementCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
	} else {
		log.Infow("Redis entitlement cache initialized")
		entitlementCache = redisCache
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Errorw("Error closing Redis connection", "error", err)
			}
		}()
	}

	var producer kafka.Producer
	producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	if err != nil {
		log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		producer = kafka.NoOpProducer{}
	} else {
		log.Infow("Kafka producer initialized")
		defer func() {
			if err := producer.Close(); err != nil {
				log.Errorw("Error closing Kafka producer", "error", err)
			}
		}()
	}

	stripeCfg := stripe.Config{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}
	// Test clocks never reach production customers.
	if !cfg.IsProduction() {
		stripeCfg.TestClockID = cfg.Stripe.TestClockID
	}
	stripeClient := stripe.NewClient(stripeCfg, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	billingMetrics := metrics.NewBillingMetrics(registry)

	billingService := service.NewBillingService(cfg, userRepo, articleRepo, purchaseRepo, stripeClient, billingMetrics, log)
	entitlementService := service.NewEntitlementService(subscriptionRepo, purchaseRepo, entitlementCache, billingMetrics, log)
	webhookService := service.NewWebhookService(subscriptionRepo, purchaseRepo, entitlementCache, stripeClient, producer, billingMetrics, log)

	validator := &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)}
	auth := middleware.NewJWTMiddleware(log, validator)

	router := rest.SetupRouter(log, rest.RouterDeps{
		Auth:     auth,
		Billing:  handlers.NewBillingHandler(billingService, log),
		Articles: handlers.NewArticleHandler(articleRepo, entitlementService, log),
		Webhooks: handlers.NewWebhookHandler(stripeClient, webhookService, log),
		Registry: registry,
	})

	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

func initLogger() *logger.Logger {
	logLevel := logger.INFO
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = logger.DEBUG
	}
	return logger.New(logLevel)
}
