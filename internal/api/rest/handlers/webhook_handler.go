package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paywall-labs/paywall-service/internal/service"
	"github.com/paywall-labs/paywall-service/internal/stripe"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// Stripe webhook payloads are small; anything beyond this is rejected before
// signature verification.
const maxWebhookBodyBytes = 65536

// WebhookHandler receives Stripe webhook deliveries, verifies their
// signature and hands the event to the reconciliation service.
type WebhookHandler struct {
	stripe  stripe.Client
	service service.WebhookService
	log     *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(stripeClient stripe.Client, svc service.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		stripe:  stripeClient,
		service: svc,
		log:     log,
	}
}

// HandleStripeWebhook verifies and processes one webhook delivery. A
// non-2xx response makes Stripe redeliver the event.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		h.log.Errorw("Failed to read webhook body", "error", err)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Failed to read webhook body"})
		return
	}

	event, err := h.stripe.ConstructWebhookEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.log.Errorw("Webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to verify webhook signature"})
		return
	}

	if err := h.service.ProcessEvent(c.Request.Context(), event); err != nil {
		h.log.Errorw("Webhook processing failed", "eventID", event.ID, "type", event.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
