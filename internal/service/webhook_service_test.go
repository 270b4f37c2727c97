package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	stripesdk "github.com/stripe/stripe-go/v78"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/internal/kafka"
	"github.com/paywall-labs/paywall-service/internal/metrics"
	"github.com/paywall-labs/paywall-service/internal/repository"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// recordingProducer collects published events in order.
type recordingProducer struct {
	events []kafka.BillingEvent
}

func (p *recordingProducer) PublishBillingEvent(event kafka.BillingEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type webhookFixture struct {
	subscriptions *repository.InMemorySubscriptionRepository
	purchases     *repository.InMemoryPurchaseRepository
	stripe        *stubStripeClient
	producer      *recordingProducer
	service       WebhookService
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	log := logger.New(logger.ERROR)
	subs := repository.NewInMemorySubscriptionRepository(log)
	purchases := repository.NewInMemoryPurchaseRepository(log)
	stub := &stubStripeClient{}
	producer := &recordingProducer{}

	svc := NewWebhookService(subs, purchases, nil, stub, producer, metrics.NoOpBillingMetrics{}, log)
	return &webhookFixture{
		subscriptions: subs,
		purchases:     purchases,
		stripe:        stub,
		producer:      producer,
		service:       svc,
	}
}

func subscriptionEvent(t *testing.T, eventType, subID string, userID uuid.UUID, level, status string, periodEnd time.Time) stripesdk.Event {
	t.Helper()

	payload := fmt.Sprintf(`{
		"id": %q,
		"status": %q,
		"current_period_end": %d,
		"cancel_at_period_end": false,
		"metadata": {"user_id": %q},
		"items": {"data": [{"price": {"id": "price_test", "metadata": {"level": %q}}}]}
	}`, subID, status, periodEnd.Unix(), userID, level)

	return stripesdk.Event{
		ID:   "evt_" + subID,
		Type: stripesdk.EventType(eventType),
		Data: &stripesdk.EventData{Raw: json.RawMessage(payload)},
	}
}

func paymentIntentEvent(t *testing.T, eventType, intentID string, userID, articleID uuid.UUID, amount int64) stripesdk.Event {
	t.Helper()

	payload := fmt.Sprintf(`{
		"id": %q,
		"amount": %d,
		"metadata": {"user_id": %q, "article_id": %q}
	}`, intentID, amount, userID, articleID)

	return stripesdk.Event{
		ID:   "evt_" + intentID,
		Type: stripesdk.EventType(eventType),
		Data: &stripesdk.EventData{Raw: json.RawMessage(payload)},
	}
}

func TestProcessEventSubscriptionCreated(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour)

	event := subscriptionEvent(t, "customer.subscription.created", "sub_1", userID, "Premium", "active", periodEnd)
	require.NoError(t, f.service.ProcessEvent(context.Background(), event))

	sub, err := f.subscriptions.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	assert.Equal(t, domain.PlanLevelPremium, sub.Level)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.WithinDuration(t, periodEnd, sub.CurrentPeriodEnd, time.Second)

	require.Len(t, f.producer.events, 1)
	assert.Equal(t, kafka.EventSubscriptionUpdated, f.producer.events[0].Type)
	assert.Equal(t, userID.String(), f.producer.events[0].UserID)
}

func TestProcessEventSubscriptionUpdateIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour)

	created := subscriptionEvent(t, "customer.subscription.created", "sub_1", userID, "Premium", "active", periodEnd)
	require.NoError(t, f.service.ProcessEvent(context.Background(), created))

	first, err := f.subscriptions.GetByUserID(context.Background(), userID)
	require.NoError(t, err)

	// A replay and a genuine update both hit the same row.
	require.NoError(t, f.service.ProcessEvent(context.Background(), created))
	updated := subscriptionEvent(t, "customer.subscription.updated", "sub_1", userID, "Standard", "past_due", periodEnd)
	require.NoError(t, f.service.ProcessEvent(context.Background(), updated))

	sub, err := f.subscriptions.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, sub.ID)
	assert.Equal(t, domain.PlanLevelStandard, sub.Level)
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
}

func TestProcessEventSubscriptionDeleted(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour)

	created := subscriptionEvent(t, "customer.subscription.created", "sub_1", userID, "Premium", "active", periodEnd)
	require.NoError(t, f.service.ProcessEvent(context.Background(), created))

	deleted := subscriptionEvent(t, "customer.subscription.deleted", "sub_1", userID, "Premium", "canceled", periodEnd)
	require.NoError(t, f.service.ProcessEvent(context.Background(), deleted))

	_, err := f.subscriptions.GetByUserID(context.Background(), userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Redelivery of the delete is harmless.
	require.NoError(t, f.service.ProcessEvent(context.Background(), deleted))
}

func TestProcessEventSubscriptionBadLevelTag(t *testing.T) {
	f := newWebhookFixture(t)

	event := subscriptionEvent(t, "customer.subscription.created", "sub_bad", uuid.New(), "Gold", "active", time.Now())
	err := f.service.ProcessEvent(context.Background(), event)
	assert.ErrorIs(t, err, domain.ErrInvalidMetadata)
}

func TestProcessEventPaymentAuthorizedCaptures(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	articleID := uuid.New()

	event := paymentIntentEvent(t, "payment_intent.amount_capturable_updated", "pi_1", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), event))

	purchase, err := f.purchases.GetByUserAndArticle(context.Background(), userID, articleID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusAuthorized, purchase.Status)
	assert.Equal(t, int64(499), purchase.Amount)

	require.Equal(t, 1, f.stripe.captureCalls)
	assert.Equal(t, []string{"pi_1"}, f.stripe.capturedIntentIDs)

	require.Len(t, f.producer.events, 1)
	assert.Equal(t, kafka.EventPurchaseAuthorized, f.producer.events[0].Type)
}

func TestProcessEventPaymentSucceeded(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	articleID := uuid.New()

	authorized := paymentIntentEvent(t, "payment_intent.amount_capturable_updated", "pi_1", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), authorized))

	succeeded := paymentIntentEvent(t, "payment_intent.succeeded", "pi_1", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), succeeded))

	purchase, err := f.purchases.GetByUserAndArticle(context.Background(), userID, articleID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSucceeded, purchase.Status)
}

func TestProcessEventPaymentSucceededWithoutPriorRow(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	articleID := uuid.New()

	// Out-of-order delivery: succeeded arrives before the authorization event
	// was ever seen.
	succeeded := paymentIntentEvent(t, "payment_intent.succeeded", "pi_2", userID, articleID, 199)
	require.NoError(t, f.service.ProcessEvent(context.Background(), succeeded))

	purchase, err := f.purchases.GetByUserAndArticle(context.Background(), userID, articleID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSucceeded, purchase.Status)
	assert.Equal(t, int64(199), purchase.Amount)
}

func TestProcessEventDuplicateAuthorizationIsReleased(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	articleID := uuid.New()

	first := paymentIntentEvent(t, "payment_intent.succeeded", "pi_first", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), first))

	// A second checkout produced a second intent for the same article. The
	// extra authorization is canceled, not captured, and the event is
	// acknowledged so it is not redelivered.
	second := paymentIntentEvent(t, "payment_intent.amount_capturable_updated", "pi_second", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), second))

	assert.Zero(t, f.stripe.captureCalls)
	assert.Equal(t, []string{"pi_second"}, f.stripe.canceledIntentIDs)

	purchase, err := f.purchases.GetByUserAndArticle(context.Background(), userID, articleID)
	require.NoError(t, err)
	assert.Equal(t, "pi_first", purchase.StripePaymentIntentID)
	assert.Equal(t, domain.PaymentStatusSucceeded, purchase.Status)
}

func TestProcessEventDuplicateSettlementIsAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	articleID := uuid.New()

	first := paymentIntentEvent(t, "payment_intent.succeeded", "pi_first", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), first))
	require.Len(t, f.producer.events, 1)

	second := paymentIntentEvent(t, "payment_intent.succeeded", "pi_second", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), second))

	// The original row survives and no second ownership event goes out.
	purchase, err := f.purchases.GetByUserAndArticle(context.Background(), userID, articleID)
	require.NoError(t, err)
	assert.Equal(t, "pi_first", purchase.StripePaymentIntentID)
	assert.Len(t, f.producer.events, 1)
}

func TestProcessEventRetryAfterFailureDisplacesStaleRow(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	articleID := uuid.New()

	authorized := paymentIntentEvent(t, "payment_intent.amount_capturable_updated", "pi_first", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), authorized))
	failed := paymentIntentEvent(t, "payment_intent.payment_failed", "pi_first", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), failed))

	// The retry runs under a fresh intent; the failed attempt must not hold
	// the article hostage.
	retry := paymentIntentEvent(t, "payment_intent.amount_capturable_updated", "pi_retry", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), retry))

	purchase, err := f.purchases.GetByUserAndArticle(context.Background(), userID, articleID)
	require.NoError(t, err)
	assert.Equal(t, "pi_retry", purchase.StripePaymentIntentID)
	assert.Equal(t, domain.PaymentStatusAuthorized, purchase.Status)
	assert.Contains(t, f.stripe.capturedIntentIDs, "pi_retry")
	assert.Empty(t, f.stripe.canceledIntentIDs)
}

func TestProcessEventPaymentFailed(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	articleID := uuid.New()

	authorized := paymentIntentEvent(t, "payment_intent.amount_capturable_updated", "pi_3", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), authorized))

	failed := paymentIntentEvent(t, "payment_intent.payment_failed", "pi_3", userID, articleID, 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), failed))

	purchase, err := f.purchases.GetByUserAndArticle(context.Background(), userID, articleID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, purchase.Status)
}

func TestProcessEventPaymentFailedWithoutRow(t *testing.T) {
	f := newWebhookFixture(t)

	// A payment that failed before authorization never produced a local row;
	// the event is acknowledged without error.
	failed := paymentIntentEvent(t, "payment_intent.payment_failed", "pi_unknown", uuid.New(), uuid.New(), 499)
	require.NoError(t, f.service.ProcessEvent(context.Background(), failed))
	assert.Empty(t, f.producer.events)
}

func TestProcessEventIgnoresUnknownTypes(t *testing.T) {
	f := newWebhookFixture(t)

	event := stripesdk.Event{
		ID:   "evt_other",
		Type: "invoice.paid",
		Data: &stripesdk.EventData{Raw: json.RawMessage(`{}`)},
	}
	require.NoError(t, f.service.ProcessEvent(context.Background(), event))
	assert.Empty(t, f.producer.events)
}

func TestProcessEventMissingUserMetadata(t *testing.T) {
	f := newWebhookFixture(t)

	event := stripesdk.Event{
		ID:   "evt_nometa",
		Type: "payment_intent.succeeded",
		Data: &stripesdk.EventData{Raw: json.RawMessage(`{"id": "pi_x", "amount": 499, "metadata": {}}`)},
	}
	assert.Error(t, f.service.ProcessEvent(context.Background(), event))
}
