package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	stripesdk "github.com/stripe/stripe-go/v78"

	"github.com/paywall-labs/paywall-service/internal/config"
	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/internal/metrics"
	"github.com/paywall-labs/paywall-service/internal/repository"
	"github.com/paywall-labs/paywall-service/internal/stripe"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// Paths the hosted checkout redirects back to.
const (
	checkoutSuccessPath = "/billing/success"
	checkoutCancelPath  = "/billing/cancel"
)

// BillingService is the integration glue between users, articles and the
// payment processor.
type BillingService interface {
	// EnsureCustomer provisions a Stripe customer for the user exactly once
	// and returns its id. Calling it again is a no-op returning the same id.
	EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error)

	// Prices returns the two standing plan prices from the processor catalog.
	Prices(ctx context.Context) ([]domain.PlanPrice, error)

	// SubscriptionCheckoutURL opens a recurring-mode checkout session and
	// returns the redirect URL.
	SubscriptionCheckoutURL(ctx context.Context, userID uuid.UUID, priceID string) (string, error)

	// PurchaseCheckoutURL opens a one-off payment-mode checkout session for
	// the article and returns the redirect URL.
	PurchaseCheckoutURL(ctx context.Context, userID, articleID uuid.UUID) (string, error)

	// BillingPortalURL opens a self-service billing portal session. The
	// return path is resolved against the configured app base URL.
	BillingPortalURL(ctx context.Context, userID uuid.UUID, returnPath string) (string, error)

	// ShippingByCustomerID returns the shipping sub-object of the Stripe
	// customer, or nil when none is set.
	ShippingByCustomerID(ctx context.Context, customerID string) (*domain.ShippingDetails, error)

	// Shipping resolves the user's customer and returns its shipping details.
	Shipping(ctx context.Context, userID uuid.UUID) (*domain.ShippingDetails, error)
}

type billingService struct {
	cfg       *config.Config
	users     repository.UserRepository
	articles  repository.ArticleRepository
	purchases repository.PurchaseRepository
	stripe    stripe.Client
	metrics   metrics.BillingMetrics
	log       *logger.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(
	cfg *config.Config,
	users repository.UserRepository,
	articles repository.ArticleRepository,
	purchases repository.PurchaseRepository,
	stripeClient stripe.Client,
	m metrics.BillingMetrics,
	log *logger.Logger,
) BillingService {
	return &billingService{
		cfg:       cfg,
		users:     users,
		articles:  articles,
		purchases: purchases,
		stripe:    stripeClient,
		metrics:   m,
		log:       log,
	}
}

// EnsureCustomer provisions the Stripe customer lazily. The persistence step
// is a conditional "set if null" update, so two concurrent calls cannot both
// persist an id; the loser's freshly created customer is logged and left
// orphaned on the processor side.
func (s *billingService) EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.NewNotFoundError("user", userID.String())
		}
		return "", err
	}

	if user.HasCustomer() {
		return *user.StripeCustomerID, nil
	}

	customerID, err := s.stripe.CreateCustomer(ctx, stripe.CustomerParams{
		UserID: userID.String(),
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		return "", err
	}

	won, err := s.users.SetStripeCustomerID(ctx, userID, customerID)
	if err != nil {
		return "", err
	}
	if !won {
		// A concurrent call provisioned the user first. Keep its id; the
		// customer created above has no local reference.
		s.log.Warnw("Customer provisioning lost the race, orphaned Stripe customer",
			"userID", userID, "orphanedCustomerID", customerID)

		user, err = s.users.GetByID(ctx, userID)
		if err != nil {
			return "", err
		}
		if !user.HasCustomer() {
			return "", fmt.Errorf("customer id missing after provisioning race for user %s", userID)
		}
		return *user.StripeCustomerID, nil
	}

	s.metrics.IncCustomerProvisioned()
	s.log.Infow("Customer provisioned", "userID", userID, "stripeCustomerID", customerID)
	return customerID, nil
}

// Prices reads the plan catalog straight through from the processor.
func (s *billingService) Prices(ctx context.Context) ([]domain.PlanPrice, error) {
	stripePrices, err := s.stripe.ListPlanPrices(ctx)
	if err != nil {
		return nil, err
	}

	prices := make([]domain.PlanPrice, 0, len(stripePrices))
	for _, p := range stripePrices {
		level, err := domain.PlanLevelFromMetadata(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", p.ID, err)
		}

		price := domain.PlanPrice{
			ID:         p.ID,
			LookupKey:  p.LookupKey,
			Level:      level,
			UnitAmount: p.UnitAmount,
			Currency:   string(p.Currency),
		}
		if p.Recurring != nil {
			price.Interval = string(p.Recurring.Interval)
		}
		if p.Product != nil {
			price.ProductName = p.Product.Name
		}
		prices = append(prices, price)
	}

	return prices, nil
}

// requireCustomer loads the user and fails with ErrMissingCustomer before any
// external call when no customer is provisioned.
func (s *billingService) requireCustomer(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.NewNotFoundError("user", userID.String())
		}
		return domain.User{}, err
	}

	if !user.HasCustomer() {
		return domain.User{}, domain.ErrMissingCustomer
	}

	return user, nil
}

// SubscriptionCheckoutURL opens a recurring-mode checkout session.
func (s *billingService) SubscriptionCheckoutURL(ctx context.Context, userID uuid.UUID, priceID string) (string, error) {
	user, err := s.requireCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	successURL, err := absoluteURL(s.cfg.App.BaseURL, checkoutSuccessPath)
	if err != nil {
		return "", err
	}
	cancelURL, err := absoluteURL(s.cfg.App.BaseURL, checkoutCancelPath)
	if err != nil {
		return "", err
	}

	checkoutURL, err := s.stripe.CreateSubscriptionCheckout(ctx, stripe.SubscriptionCheckoutParams{
		CustomerID: *user.StripeCustomerID,
		PriceID:    priceID,
		UserID:     userID.String(),
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return "", err
	}

	s.metrics.IncCheckoutStarted("subscription")
	return checkoutURL, nil
}

// PurchaseCheckoutURL opens a one-off payment-mode checkout for the article.
// Free and already-owned articles are rejected before any external call.
func (s *billingService) PurchaseCheckoutURL(ctx context.Context, userID, articleID uuid.UUID) (string, error) {
	user, err := s.requireCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	article, err := s.articles.GetByID(ctx, articleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.NewNotFoundError("article", articleID.String())
		}
		return "", err
	}

	amount, err := article.PurchasePrice()
	if err != nil {
		return "", err
	}

	// A failed or canceled earlier attempt does not block a retry; an
	// entitled row means paying again would only create a duplicate intent.
	existing, err := s.purchases.GetByUserAndArticle(ctx, userID, articleID)
	if err == nil && existing.Status.Entitled() {
		return "", domain.ErrAlreadyPurchased
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	successURL, err := absoluteURL(s.cfg.App.BaseURL, checkoutSuccessPath)
	if err != nil {
		return "", err
	}
	cancelURL, err := absoluteURL(s.cfg.App.BaseURL, checkoutCancelPath)
	if err != nil {
		return "", err
	}

	checkoutURL, err := s.stripe.CreatePurchaseCheckout(ctx, stripe.PurchaseCheckoutParams{
		CustomerID:   *user.StripeCustomerID,
		UserID:       userID.String(),
		ArticleID:    articleID.String(),
		ArticleTitle: article.Title,
		UnitAmount:   amount,
		Currency:     domain.PurchaseCurrency,
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
	})
	if err != nil {
		return "", err
	}

	s.metrics.IncCheckoutStarted("payment")
	s.metrics.ObservePurchaseAmount(amount)
	return checkoutURL, nil
}

// BillingPortalURL opens a billing portal session returning to the given
// relative path.
func (s *billingService) BillingPortalURL(ctx context.Context, userID uuid.UUID, returnPath string) (string, error) {
	user, err := s.requireCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	returnURL, err := absoluteURL(s.cfg.App.BaseURL, returnPath)
	if err != nil {
		return "", err
	}

	return s.stripe.CreateBillingPortalSession(ctx, *user.StripeCustomerID, returnURL)
}

// ShippingByCustomerID returns the customer's shipping sub-object.
func (s *billingService) ShippingByCustomerID(ctx context.Context, customerID string) (*domain.ShippingDetails, error) {
	cus, err := s.stripe.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if cus.Deleted {
		return nil, domain.ErrCustomerDeleted
	}

	return shippingFromStripe(cus.Shipping), nil
}

// Shipping resolves the user's customer and returns its shipping details.
func (s *billingService) Shipping(ctx context.Context, userID uuid.UUID) (*domain.ShippingDetails, error) {
	user, err := s.requireCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.ShippingByCustomerID(ctx, *user.StripeCustomerID)
}

// shippingFromStripe maps the SDK shipping object to the domain type.
func shippingFromStripe(shipping *stripesdk.ShippingDetails) *domain.ShippingDetails {
	if shipping == nil {
		return nil
	}

	details := &domain.ShippingDetails{
		Name:  shipping.Name,
		Phone: shipping.Phone,
	}
	if shipping.Address != nil {
		details.Address = &domain.Address{
			Line1:      shipping.Address.Line1,
			Line2:      shipping.Address.Line2,
			City:       shipping.Address.City,
			State:      shipping.Address.State,
			PostalCode: shipping.Address.PostalCode,
			Country:    shipping.Address.Country,
		}
	}
	return details
}

// absoluteURL resolves a relative path, query string included, against the
// configured app base URL.
func absoluteURL(base, path string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid return path %q: %w", path, err)
	}

	return baseURL.ResolveReference(ref).String(), nil
}
