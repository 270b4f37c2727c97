package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// Stripe metadata keys. The processor echoes them back verbatim in webhook
// payloads; they are the correlation mechanism between checkout sessions and
// local rows.
const (
	MetadataUserIDKey    = "user_id"
	MetadataArticleIDKey = "article_id"
)

// Lookup keys of the two standing recurring prices.
const (
	LookupKeyPremium  = "premium"
	LookupKeyStandard = "standard"
)

// preferredLocale is fixed for all created customers.
const preferredLocale = "en"

// Config configures the Stripe client.
type Config struct {
	APIKey        string
	WebhookSecret string
	// TestClockID, when set, is attached to every created customer. Only
	// populated outside production.
	TestClockID string
}

// CustomerParams carries what the platform knows about a user when creating
// the Stripe-side customer.
type CustomerParams struct {
	UserID string
	Email  string
	Name   string
}

// SubscriptionCheckoutParams opens a recurring-mode checkout session.
type SubscriptionCheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	SuccessURL string
	CancelURL  string
}

// PurchaseCheckoutParams opens a one-off payment-mode checkout session with
// manual capture.
type PurchaseCheckoutParams struct {
	CustomerID   string
	UserID       string
	ArticleID    string
	ArticleTitle string
	UnitAmount   int64
	Currency     string
	SuccessURL   string
	CancelURL    string
}

// Client defines the Stripe operations the platform uses.
type Client interface {
	// CreateCustomer creates a Stripe customer for the user and returns its id.
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)

	// GetCustomer retrieves a customer, including its shipping sub-object.
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)

	// ListPlanPrices returns the standing premium/standard prices with their
	// parent product expanded.
	ListPlanPrices(ctx context.Context) ([]*stripe.Price, error)

	// CreateSubscriptionCheckout opens a hosted checkout session in
	// subscription mode and returns the redirect URL.
	CreateSubscriptionCheckout(ctx context.Context, params SubscriptionCheckoutParams) (string, error)

	// CreatePurchaseCheckout opens a hosted checkout session in payment mode
	// with manual capture and returns the redirect URL.
	CreatePurchaseCheckout(ctx context.Context, params PurchaseCheckoutParams) (string, error)

	// CreateBillingPortalSession opens a self-service billing portal session
	// and returns the redirect URL.
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// CapturePaymentIntent captures previously authorized funds.
	CapturePaymentIntent(ctx context.Context, paymentIntentID string) error

	// CancelPaymentIntent releases an uncaptured authorization.
	CancelPaymentIntent(ctx context.Context, paymentIntentID string) error

	// ConstructWebhookEvent verifies a webhook payload signature.
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// stripeClient implements Client on top of the official SDK.
type stripeClient struct {
	api *client.API
	cfg Config
	log *logger.Logger
}

// NewClient creates a new Stripe client.
func NewClient(cfg Config, log *logger.Logger) Client {
	api := &client.API{}
	api.Init(cfg.APIKey, nil)
	return &stripeClient{
		api: api,
		cfg: cfg,
		log: log,
	}
}

// CreateCustomer creates a new customer in Stripe.
func (sc *stripeClient) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Email:            stripe.String(p.Email),
		Name:             stripe.String(p.Name),
		PreferredLocales: stripe.StringSlice([]string{preferredLocale}),
		Metadata: map[string]string{
			MetadataUserIDKey: p.UserID,
		},
	}
	params.Context = ctx

	if sc.cfg.TestClockID != "" {
		params.TestClock = stripe.String(sc.cfg.TestClockID)
	}

	cus, err := sc.api.Customers.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCustomer", err)
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	sc.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "userID", p.UserID)
	return cus.ID, nil
}

// GetCustomer retrieves the customer record.
func (sc *stripeClient) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cus, err := sc.api.Customers.Get(customerID, params)
	if err != nil {
		logStripeError(sc.log, "GetCustomer", err)
		return nil, fmt.Errorf("stripe: failed to retrieve customer: %w", err)
	}

	return cus, nil
}

// ListPlanPrices returns the two standing prices tagged premium/standard.
func (sc *stripeClient) ListPlanPrices(ctx context.Context) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice([]string{LookupKeyPremium, LookupKeyStandard}),
	}
	params.Context = ctx
	params.AddExpand("data.product")

	iter := sc.api.Prices.List(params)

	var prices []*stripe.Price
	for iter.Next() {
		prices = append(prices, iter.Price())
	}
	if err := iter.Err(); err != nil {
		logStripeError(sc.log, "ListPlanPrices", err)
		return nil, fmt.Errorf("stripe: failed to list prices: %w", err)
	}

	return prices, nil
}

// CreateSubscriptionCheckout opens a recurring-mode checkout session. The
// user id rides along as metadata on both the session and the subscription
// object so webhook reconciliation can correlate.
func (sc *stripeClient) CreateSubscriptionCheckout(ctx context.Context, p SubscriptionCheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(p.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataUserIDKey: p.UserID,
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserIDKey, p.UserID)

	sess, err := sc.api.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateSubscriptionCheckout", err)
		return "", fmt.Errorf("stripe: failed to create subscription checkout session: %w", err)
	}

	sc.log.Infow("Subscription checkout session created", "sessionID", sess.ID, "userID", p.UserID)
	return sess.URL, nil
}

// CreatePurchaseCheckout opens a payment-mode checkout session. Funds are
// authorized at checkout and captured later by webhook reconciliation.
func (sc *stripeClient) CreatePurchaseCheckout(ctx context.Context, p PurchaseCheckoutParams) (string, error) {
	metadata := map[string]string{
		MetadataUserIDKey:    p.UserID,
		MetadataArticleIDKey: p.ArticleID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(p.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(p.UnitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.ArticleTitle),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			Metadata:      metadata,
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := sc.api.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreatePurchaseCheckout", err)
		return "", fmt.Errorf("stripe: failed to create purchase checkout session: %w", err)
	}

	sc.log.Infow("Purchase checkout session created", "sessionID", sess.ID, "userID", p.UserID, "articleID", p.ArticleID)
	return sess.URL, nil
}

// CreateBillingPortalSession opens a hosted billing portal session.
func (sc *stripeClient) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := sc.api.BillingPortalSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateBillingPortalSession", err)
		return "", fmt.Errorf("stripe: failed to create billing portal session: %w", err)
	}

	return sess.URL, nil
}

// CapturePaymentIntent captures previously authorized funds. Capturing an
// already captured intent is treated as success so webhook replays converge.
func (sc *stripeClient) CapturePaymentIntent(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	_, err := sc.api.PaymentIntents.Capture(paymentIntentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			sc.log.Warnw("Payment intent already captured or not capturable", "paymentIntentID", paymentIntentID)
			return nil
		}
		logStripeError(sc.log, "CapturePaymentIntent", err)
		return fmt.Errorf("stripe: failed to capture payment intent: %w", err)
	}

	sc.log.Infow("Payment intent captured", "paymentIntentID", paymentIntentID)
	return nil
}

// CancelPaymentIntent releases an uncaptured authorization. Canceling an
// intent that already reached a terminal state is treated as success.
func (sc *stripeClient) CancelPaymentIntent(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	_, err := sc.api.PaymentIntents.Cancel(paymentIntentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			sc.log.Warnw("Payment intent already terminal, cancel skipped", "paymentIntentID", paymentIntentID)
			return nil
		}
		logStripeError(sc.log, "CancelPaymentIntent", err)
		return fmt.Errorf("stripe: failed to cancel payment intent: %w", err)
	}

	sc.log.Infow("Payment intent canceled", "paymentIntentID", paymentIntentID)
	return nil
}

// ConstructWebhookEvent verifies the signature and parses the event.
func (sc *stripeClient) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		sigHeader,
		sc.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", domain.ErrWebhookValidationFailed, err)
	}

	return event, nil
}

// logStripeError logs the details of a Stripe API error.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
