package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripesdk "github.com/stripe/stripe-go/v78"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/internal/kafka"
	"github.com/paywall-labs/paywall-service/internal/metrics"
	"github.com/paywall-labs/paywall-service/internal/repository"
	"github.com/paywall-labs/paywall-service/internal/stripe"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// WebhookService reconciles local billing state from verified Stripe events.
// Every write is an idempotent upsert keyed by the Stripe-side id, so
// replayed events converge on the same rows.
type WebhookService interface {
	ProcessEvent(ctx context.Context, event stripesdk.Event) error
}

type webhookService struct {
	subscriptions repository.SubscriptionRepository
	purchases     repository.PurchaseRepository
	cache         repository.EntitlementCache
	stripe        stripe.Client
	producer      kafka.Producer
	metrics       metrics.BillingMetrics
	log           *logger.Logger
}

// NewWebhookService creates a new webhook reconciliation service.
func NewWebhookService(
	subscriptions repository.SubscriptionRepository,
	purchases repository.PurchaseRepository,
	cache repository.EntitlementCache,
	stripeClient stripe.Client,
	producer kafka.Producer,
	m metrics.BillingMetrics,
	log *logger.Logger,
) WebhookService {
	return &webhookService{
		subscriptions: subscriptions,
		purchases:     purchases,
		cache:         cache,
		stripe:        stripeClient,
		producer:      producer,
		metrics:       m,
		log:           log,
	}
}

// ProcessEvent dispatches a verified event to its handler. Unhandled event
// types are acknowledged and ignored.
func (s *webhookService) ProcessEvent(ctx context.Context, event stripesdk.Event) error {
	s.log.Infow("Processing Stripe webhook event", "eventID", event.ID, "type", event.Type)

	var err error
	switch string(event.Type) {
	case "customer.subscription.created", "customer.subscription.updated":
		err = s.handleSubscriptionUpserted(ctx, event)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event)
	case "payment_intent.amount_capturable_updated":
		err = s.handlePaymentAuthorized(ctx, event)
	case "payment_intent.succeeded":
		err = s.handlePaymentSucceeded(ctx, event)
	case "payment_intent.payment_failed":
		err = s.handlePaymentTerminal(ctx, event, domain.PaymentStatusFailed, kafka.EventPurchaseFailed)
	case "payment_intent.canceled":
		err = s.handlePaymentTerminal(ctx, event, domain.PaymentStatusCanceled, kafka.EventPurchaseFailed)
	default:
		s.log.Debugw("Ignored webhook event type", "type", event.Type)
		s.metrics.IncWebhookEvent(string(event.Type), "ignored")
		return nil
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.IncWebhookEvent(string(event.Type), outcome)
	return err
}

// handleSubscriptionUpserted mirrors a created or updated Stripe subscription
// into the local table.
func (s *webhookService) handleSubscriptionUpserted(ctx context.Context, event stripesdk.Event) error {
	var sub stripesdk.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription payload: %w", err)
	}

	userID, err := metadataUUID(sub.Metadata, stripe.MetadataUserIDKey)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", sub.ID, err)
	}

	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return fmt.Errorf("subscription %s has no price item", sub.ID)
	}
	price := sub.Items.Data[0].Price

	level, err := domain.PlanLevelFromMetadata(price.Metadata)
	if err != nil {
		return fmt.Errorf("subscription %s price %s: %w", sub.ID, price.ID, err)
	}

	row := domain.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		PriceID:              price.ID,
		Level:                level,
		Status:               domain.SubscriptionStatus(sub.Status),
		CurrentPeriodEnd:     time.Unix(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}

	if _, err := s.subscriptions.Upsert(ctx, row); err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	s.publish(kafka.BillingEvent{
		Type:           kafka.EventSubscriptionUpdated,
		UserID:         userID.String(),
		SubscriptionID: sub.ID,
		Level:          level,
	})

	s.log.Infow("Subscription reconciled",
		"stripeSubscriptionID", sub.ID, "userID", userID, "status", sub.Status, "level", level)
	return nil
}

// handleSubscriptionDeleted drops the local mirror row.
func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, event stripesdk.Event) error {
	var sub stripesdk.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription payload: %w", err)
	}

	if err := s.subscriptions.DeleteByStripeID(ctx, sub.ID); err != nil {
		return err
	}

	userID, err := metadataUUID(sub.Metadata, stripe.MetadataUserIDKey)
	if err != nil {
		// The row is gone either way; without a user id there is no cache to
		// invalidate and no event key.
		s.log.Warnw("Deleted subscription has no user metadata", "stripeSubscriptionID", sub.ID)
		return nil
	}

	s.invalidate(ctx, userID)
	s.publish(kafka.BillingEvent{
		Type:           kafka.EventSubscriptionDeleted,
		UserID:         userID.String(),
		SubscriptionID: sub.ID,
	})

	s.log.Infow("Subscription deleted", "stripeSubscriptionID", sub.ID, "userID", userID)
	return nil
}

// handlePaymentAuthorized records the purchase and captures the manually
// authorized funds.
func (s *webhookService) handlePaymentAuthorized(ctx context.Context, event stripesdk.Event) error {
	intent, userID, articleID, err := parsePaymentIntent(event)
	if err != nil {
		return err
	}

	row := domain.Purchase{
		ID:                    uuid.New(),
		UserID:                userID,
		ArticleID:             articleID,
		StripePaymentIntentID: intent.ID,
		Status:                domain.PaymentStatusAuthorized,
		Amount:                intent.Amount,
	}

	if err := s.upsertPurchase(ctx, row); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Another intent already paid for this article. Release the extra
			// authorization and acknowledge the event so Stripe stops
			// redelivering it.
			s.log.Warnw("Duplicate purchase authorization, releasing intent",
				"paymentIntentID", intent.ID, "userID", userID, "articleID", articleID)
			return s.stripe.CancelPaymentIntent(ctx, intent.ID)
		}
		return err
	}

	if err := s.stripe.CapturePaymentIntent(ctx, intent.ID); err != nil {
		// The purchase row stays authorized; the retry arrives as a webhook
		// redelivery.
		return err
	}

	s.invalidate(ctx, userID)
	s.publish(kafka.BillingEvent{
		Type:          kafka.EventPurchaseAuthorized,
		UserID:        userID.String(),
		ArticleID:     articleID.String(),
		PaymentStatus: domain.PaymentStatusAuthorized,
		Amount:        intent.Amount,
	})

	s.log.Infow("Purchase authorized and capture requested",
		"paymentIntentID", intent.ID, "userID", userID, "articleID", articleID)
	return nil
}

// handlePaymentSucceeded marks the purchase settled. If the authorization
// event was never seen the row is created here.
func (s *webhookService) handlePaymentSucceeded(ctx context.Context, event stripesdk.Event) error {
	intent, userID, articleID, err := parsePaymentIntent(event)
	if err != nil {
		return err
	}

	row := domain.Purchase{
		ID:                    uuid.New(),
		UserID:                userID,
		ArticleID:             articleID,
		StripePaymentIntentID: intent.ID,
		Status:                domain.PaymentStatusSucceeded,
		Amount:                intent.Amount,
	}

	if err := s.upsertPurchase(ctx, row); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// The article is already owned through a different intent. The
			// funds were captured, so this needs a manual refund; failing the
			// event would only make Stripe redeliver it forever.
			s.log.Errorw("Duplicate purchase settled, refund required",
				"paymentIntentID", intent.ID, "userID", userID, "articleID", articleID)
			return nil
		}
		return err
	}

	s.invalidate(ctx, userID)
	s.publish(kafka.BillingEvent{
		Type:          kafka.EventPurchaseCompleted,
		UserID:        userID.String(),
		ArticleID:     articleID.String(),
		PaymentStatus: domain.PaymentStatusSucceeded,
		Amount:        intent.Amount,
	})

	s.log.Infow("Purchase settled", "paymentIntentID", intent.ID, "userID", userID)
	return nil
}

// handlePaymentTerminal marks the purchase failed or canceled.
func (s *webhookService) handlePaymentTerminal(ctx context.Context, event stripesdk.Event, status domain.PaymentStatus, eventType string) error {
	intent, userID, articleID, err := parsePaymentIntent(event)
	if err != nil {
		return err
	}

	if err := s.purchases.UpdateStatusByPaymentIntentID(ctx, intent.ID, status); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// A payment that failed before authorization never produced a row.
			s.log.Debugw("No purchase row for terminal payment event", "paymentIntentID", intent.ID)
			return nil
		}
		return err
	}

	s.invalidate(ctx, userID)
	s.publish(kafka.BillingEvent{
		Type:          eventType,
		UserID:        userID.String(),
		ArticleID:     articleID.String(),
		PaymentStatus: status,
	})

	s.log.Infow("Purchase marked terminal", "paymentIntentID", intent.ID, "status", status)
	return nil
}

// upsertPurchase writes the purchase row. The pair slot may be held by an
// earlier attempt under a different payment intent: a non-entitled one is
// displaced and the write retried, an entitled one surfaces as ErrDuplicate
// for the caller to settle with the processor.
func (s *webhookService) upsertPurchase(ctx context.Context, row domain.Purchase) error {
	_, err := s.purchases.Upsert(ctx, row)
	if err == nil || !errors.Is(err, domain.ErrDuplicate) {
		return err
	}

	existing, getErr := s.purchases.GetByUserAndArticle(ctx, row.UserID, row.ArticleID)
	if getErr != nil {
		if errors.Is(getErr, domain.ErrNotFound) {
			// The conflicting row vanished between the two calls.
			_, err = s.purchases.Upsert(ctx, row)
			return err
		}
		return getErr
	}

	if existing.Status.Entitled() {
		return domain.ErrDuplicate
	}

	s.log.Infow("Displacing stale purchase attempt",
		"stalePaymentIntentID", existing.StripePaymentIntentID,
		"paymentIntentID", row.StripePaymentIntentID, "userID", row.UserID)
	if err := s.purchases.DeleteByPaymentIntentID(ctx, existing.StripePaymentIntentID); err != nil {
		return err
	}

	_, err = s.purchases.Upsert(ctx, row)
	return err
}

func (s *webhookService) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.cache != nil {
		s.cache.InvalidateUser(ctx, userID)
	}
}

func (s *webhookService) publish(event kafka.BillingEvent) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishBillingEvent(event); err != nil {
		// Event publishing is best effort, reconciliation already succeeded.
		s.log.Errorw("Failed to publish billing event", "type", event.Type, "error", err)
	}
}

// parsePaymentIntent unmarshals the event payload and extracts the
// correlation ids from the intent metadata.
func parsePaymentIntent(event stripesdk.Event) (stripesdk.PaymentIntent, uuid.UUID, uuid.UUID, error) {
	var intent stripesdk.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return intent, uuid.Nil, uuid.Nil, fmt.Errorf("failed to parse payment intent payload: %w", err)
	}

	userID, err := metadataUUID(intent.Metadata, stripe.MetadataUserIDKey)
	if err != nil {
		return intent, uuid.Nil, uuid.Nil, fmt.Errorf("payment intent %s: %w", intent.ID, err)
	}

	articleID, err := metadataUUID(intent.Metadata, stripe.MetadataArticleIDKey)
	if err != nil {
		return intent, uuid.Nil, uuid.Nil, fmt.Errorf("payment intent %s: %w", intent.ID, err)
	}

	return intent, userID, articleID, nil
}

// metadataUUID extracts and parses a UUID value from Stripe metadata.
func metadataUUID(metadata map[string]string, key string) (uuid.UUID, error) {
	value, ok := metadata[key]
	if !ok || value == "" {
		return uuid.Nil, fmt.Errorf("metadata key %q missing", key)
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("metadata key %q is not a UUID: %w", key, err)
	}

	return id, nil
}
