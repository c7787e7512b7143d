package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/adapter"
	"github.com/storefront/service-coupon/internal/application"
	"github.com/storefront/service-coupon/internal/domain/coupon"
	"github.com/storefront/service-coupon/internal/domain/payment"
	"github.com/storefront/service-coupon/internal/platform/response"
)

// maxWebhookBody bounds the payload read from a provider.
const maxWebhookBody = 64 << 10

// Issuer turns a payment confirmation into a coupon.
type Issuer interface {
	IssueCoupon(ctx context.Context, c payment.Confirmation) (*application.IssuanceResult, error)
}

// WebhookHandler receives payment confirmations from the payment provider.
type WebhookHandler struct {
	provider adapter.PaymentProvider
	issuer   Issuer
	logger   *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(provider adapter.PaymentProvider, issuer Issuer, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{provider: provider, issuer: issuer, logger: logger}
}

// RegisterRoutes registers the webhook route. It is authenticated by the
// provider's signature, not a JWT.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/payments", h.HandlePayment)
}

// HandlePayment handles POST /api/v1/webhooks/payments. A non-2xx response
// makes the provider redeliver, so only failures worth retrying return 500.
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unable to read request body")
		return
	}

	confirmation, err := h.provider.ParseWebhook(c.Request.Context(), payload, c.Request.Header)
	if errors.Is(err, adapter.ErrInvalidSignature) {
		h.logger.Warn("payment webhook rejected", zap.String("provider", h.provider.Name()), zap.Error(err))
		response.BadRequest(c, "invalid signature")
		return
	}
	if err != nil {
		h.logger.Error("payment webhook could not be resolved", zap.String("provider", h.provider.Name()), zap.Error(err))
		response.Error(c, err)
		return
	}
	if confirmation == nil {
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	result, err := h.issuer.IssueCoupon(c.Request.Context(), *confirmation)
	if err != nil {
		h.logger.Error("coupon issuance failed for webhook",
			zap.String("provider", h.provider.Name()),
			zap.String("external_payment_id", confirmation.ExternalPaymentID),
			zap.Error(err),
		)
		if errors.Is(err, coupon.ErrInvalidConfirmation) {
			response.Error(c, err)
			return
		}
		c.JSON(http.StatusInternalServerError, response.Envelope{Success: false, Error: "coupon issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":    true,
		"instance_id": result.Instance.ID(),
		"duplicate":   result.Duplicate,
	})
}
