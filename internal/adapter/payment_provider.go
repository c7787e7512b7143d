package adapter

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/domain/payment"
)

// ErrInvalidSignature is returned when a webhook fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// PaymentProvider is the Anti-Corruption Layer for the payment provider's
// webhooks. It verifies a delivery and turns it into a payment confirmation.
type PaymentProvider interface {
	// Name identifies the provider in logs and persisted confirmations.
	Name() string

	// ParseWebhook verifies payload against the request headers and returns
	// the confirmation it describes. Deliveries for unrelated event types
	// return (nil, nil).
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*payment.Confirmation, error)
}

// MockSignatureHeader carries the shared secret for the mock provider.
const MockSignatureHeader = "X-Mock-Signature"

// MockPaymentProvider is a development/testing implementation of
// PaymentProvider. It accepts a confirmation as the raw JSON body.
type MockPaymentProvider struct {
	secret string
	logger *zap.Logger
}

// NewMockPaymentProvider creates a mock provider. An empty secret disables
// signature checks.
func NewMockPaymentProvider(secret string, logger *zap.Logger) *MockPaymentProvider {
	return &MockPaymentProvider{secret: secret, logger: logger}
}

// Name implements PaymentProvider.
func (m *MockPaymentProvider) Name() string { return "mock" }

// ParseWebhook decodes the body as a confirmation.
func (m *MockPaymentProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*payment.Confirmation, error) {
	if m.secret != "" && !hmac.Equal([]byte(header.Get(MockSignatureHeader)), []byte(m.secret)) {
		return nil, ErrInvalidSignature
	}

	var c payment.Confirmation
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode mock confirmation: %w", err)
	}
	c.Provider = m.Name()
	if c.OccurredAt.IsZero() {
		c.OccurredAt = time.Now().UTC()
	}

	m.logger.Info("[MOCK PROVIDER] payment confirmation received",
		zap.String("external_payment_id", c.ExternalPaymentID),
		zap.Int64("paid_amount_cents", c.PaidAmountCents),
	)
	return &c, nil
}
