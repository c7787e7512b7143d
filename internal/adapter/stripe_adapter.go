package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/domain/payment"
)

const (
	stripeSignatureHeader   = "Stripe-Signature"
	stripePaymentSucceeded  = "payment_intent.succeeded"
	metadataBuyerID         = "buyer_id"
	metadataPayerEmail      = "payer_email"
	paymentIntentsExpansion = "latest_charge"
)

// PaymentIntentGetter fetches a PaymentIntent by id. Satisfied by the
// PaymentIntents client of stripe-go.
type PaymentIntentGetter interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripePaymentProvider verifies Stripe webhooks and looks the paid
// PaymentIntent up again so the amount comes from the API rather than the
// delivery body.
type StripePaymentProvider struct {
	intents       PaymentIntentGetter
	webhookSecret string
	logger        *zap.Logger
}

// NewStripePaymentProvider creates a provider backed by the Stripe API.
func NewStripePaymentProvider(secretKey, webhookSecret string, logger *zap.Logger) *StripePaymentProvider {
	sc := client.New(secretKey, nil)
	return NewStripePaymentProviderWithClient(sc.PaymentIntents, webhookSecret, logger)
}

// NewStripePaymentProviderWithClient creates a provider with a custom
// PaymentIntent lookup.
func NewStripePaymentProviderWithClient(intents PaymentIntentGetter, webhookSecret string, logger *zap.Logger) *StripePaymentProvider {
	return &StripePaymentProvider{
		intents:       intents,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// Name implements PaymentProvider.
func (s *StripePaymentProvider) Name() string { return "stripe" }

// ParseWebhook implements PaymentProvider.
func (s *StripePaymentProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*payment.Confirmation, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(stripeSignatureHeader), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn("stripe webhook verification failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if string(event.Type) != stripePaymentSucceeded {
		s.logger.Debug("ignoring stripe event", zap.String("type", string(event.Type)), zap.String("event_id", event.ID))
		return nil, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data", event.ID)
	}

	var delivered stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &delivered); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if delivered.ID == "" {
		return nil, fmt.Errorf("stripe event %s carries no payment intent id", event.ID)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand(paymentIntentsExpansion)
	intent, err := s.intents.Get(delivered.ID, params)
	if err != nil {
		return nil, fmt.Errorf("lookup payment intent %s: %w", delivered.ID, err)
	}

	confirmation := confirmationFromIntent(intent, s.Name(), event.Created)
	s.logger.Info("stripe payment confirmed",
		zap.String("event_id", event.ID),
		zap.String("payment_intent_id", intent.ID),
		zap.Int64("amount_received", intent.AmountReceived),
	)
	return confirmation, nil
}

// confirmationFromIntent builds a confirmation stamped with the verified
// event's creation time, which is when the payment succeeded. The intent's own
// Created field marks the start of checkout and is not used.
func confirmationFromIntent(pi *stripe.PaymentIntent, provider string, confirmedAt int64) *payment.Confirmation {
	c := &payment.Confirmation{
		Provider:          provider,
		ExternalPaymentID: pi.ID,
		PaidAmountCents:   pi.AmountReceived,
		PayerEmail:        payerEmail(pi),
	}
	if confirmedAt > 0 {
		c.OccurredAt = time.Unix(confirmedAt, 0).UTC()
	}
	if raw, ok := pi.Metadata[metadataBuyerID]; ok {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
			c.BuyerHint = &id
		}
	}
	return c
}

// payerEmail prefers the receipt address, then the billing address of the
// charge, then checkout metadata.
func payerEmail(pi *stripe.PaymentIntent) string {
	if pi.ReceiptEmail != "" {
		return pi.ReceiptEmail
	}
	if pi.LatestCharge != nil && pi.LatestCharge.BillingDetails != nil && pi.LatestCharge.BillingDetails.Email != "" {
		return pi.LatestCharge.BillingDetails.Email
	}
	return pi.Metadata[metadataPayerEmail]
}
