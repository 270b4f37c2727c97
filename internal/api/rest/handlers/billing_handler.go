package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/internal/middleware"
	"github.com/paywall-labs/paywall-service/internal/service"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// BillingHandler exposes customer provisioning, price catalog, checkout and
// portal endpoints.
type BillingHandler struct {
	service service.BillingService
	log     *logger.Logger
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(svc service.BillingService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		service: svc,
		log:     log,
	}
}

type subscriptionCheckoutRequest struct {
	PriceID string `json:"price_id" binding:"required"`
}

type portalRequest struct {
	ReturnPath string `json:"return_path"`
}

// EnsureCustomer provisions a Stripe customer for the authenticated user.
func (h *BillingHandler) EnsureCustomer(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	customerID, err := h.service.EnsureCustomer(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "Failed to provision customer")
		return
	}

	c.JSON(http.StatusOK, gin.H{"customer_id": customerID})
}

// GetPrices returns the standing plan prices.
func (h *BillingHandler) GetPrices(c *gin.Context) {
	prices, err := h.service.Prices(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to load prices")
		return
	}

	c.JSON(http.StatusOK, prices)
}

// CreateSubscriptionCheckout opens a subscription checkout session and
// returns its redirect URL.
func (h *BillingHandler) CreateSubscriptionCheckout(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req subscriptionCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price_id is required"})
		return
	}

	url, err := h.service.SubscriptionCheckoutURL(c.Request.Context(), userID, req.PriceID)
	if err != nil {
		h.respondError(c, err, "Failed to create checkout session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// CreateArticleCheckout opens a one-off payment checkout session for the
// article in the path.
func (h *BillingHandler) CreateArticleCheckout(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	articleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid article ID format"})
		return
	}

	url, err := h.service.PurchaseCheckoutURL(c.Request.Context(), userID, articleID)
	if err != nil {
		h.respondError(c, err, "Failed to create checkout session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// CreatePortalSession opens a billing portal session and returns its URL.
func (h *BillingHandler) CreatePortalSession(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	// The body is optional; an empty or absent return_path falls back to the
	// app base URL. An absent body binds as io.EOF, including chunked
	// requests where ContentLength is unknown.
	var req portalRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}

	url, err := h.service.BillingPortalURL(c.Request.Context(), userID, req.ReturnPath)
	if err != nil {
		h.respondError(c, err, "Failed to create portal session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// GetShipping returns the shipping details stored on the user's Stripe
// customer.
func (h *BillingHandler) GetShipping(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	shipping, err := h.service.Shipping(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "Failed to load shipping details")
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipping": shipping})
}

// respondError maps domain errors to HTTP statuses.
func (h *BillingHandler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, domain.ErrMissingCustomer):
		c.JSON(http.StatusConflict, gin.H{"error": "User has no billing customer yet"})
	case errors.Is(err, domain.ErrArticleNotPurchasable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Article is free and cannot be purchased"})
	case errors.Is(err, domain.ErrAlreadyPurchased):
		c.JSON(http.StatusConflict, gin.H{"error": "Article already purchased"})
	case errors.Is(err, domain.ErrCustomerDeleted):
		c.JSON(http.StatusGone, gin.H{"error": "Billing customer no longer exists"})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
	default:
		h.log.Errorw(fallback, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
