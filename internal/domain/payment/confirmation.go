// Package payment models the payment confirmations the coupon service
// consumes. Payments themselves are owned by the payment provider.
package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/service-coupon/internal/domain/coupon"
)

// Confirmation is a confirmed payment for a coupon sale. It is delivered at
// least once and possibly out of order; ExternalPaymentID is the idempotency
// key for issuance.
type Confirmation struct {
	Provider          string     `json:"provider"`
	ExternalPaymentID string     `json:"external_payment_id"`
	PaidAmountCents   int64      `json:"paid_amount_cents"`
	PayerEmail        string     `json:"payer_email"`
	BuyerHint         *uuid.UUID `json:"buyer_id,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// Validate checks the fields issuance depends on and normalises the payer
// email. A zero OccurredAt is replaced with now.
func (c *Confirmation) Validate(now time.Time) error {
	c.ExternalPaymentID = strings.TrimSpace(c.ExternalPaymentID)
	if c.ExternalPaymentID == "" {
		return fmt.Errorf("%w: external payment id is required", coupon.ErrInvalidConfirmation)
	}
	if c.PaidAmountCents <= 0 {
		return fmt.Errorf("%w: paid amount must be positive, got %d", coupon.ErrInvalidConfirmation, c.PaidAmountCents)
	}
	if c.BuyerHint != nil && *c.BuyerHint == uuid.Nil {
		c.BuyerHint = nil
	}
	c.PayerEmail = strings.ToLower(strings.TrimSpace(c.PayerEmail))
	if c.OccurredAt.IsZero() {
		c.OccurredAt = now
	}
	c.OccurredAt = c.OccurredAt.UTC()
	return nil
}
