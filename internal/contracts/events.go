// Package contracts defines the topics, event types and payloads exchanged
// with other storefront services over Kafka.
package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	TopicPaymentEvents      = "payment.events"
	TopicPaymentEventsDLT   = "payment.events.dlt"
	TopicNotificationEvents = "notification.events"
)

// Event types.
const (
	PaymentConfirmed            = "payment.confirmed"
	CouponNotificationRequested = "coupon.notification.requested"
	PaymentEventDeadLettered    = "payment.event.dead_lettered"
)

// Sources.
const (
	SourceCouponService = "service-coupon"
)

// PaymentConfirmedEvent is published by the payment provider bridge once a
// coupon sale has been paid.
type PaymentConfirmedEvent struct {
	Provider          string     `json:"provider"`
	ExternalPaymentID string     `json:"external_payment_id"`
	PaidAmountCents   int64      `json:"paid_amount_cents"`
	PayerEmail        string     `json:"payer_email"`
	BuyerID           *uuid.UUID `json:"buyer_id,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// CouponNotificationRequestedEvent asks the email service to send a coupon
// to its buyer.
type CouponNotificationRequestedEvent struct {
	To         string    `json:"to"`
	Code       string    `json:"code"`
	FaceValue  string    `json:"face_value"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeadLetter wraps a message that could not be processed.
type DeadLetter struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Error     string    `json:"error"`
	Payload   []byte    `json:"payload"`
	FailedAt  time.Time `json:"failed_at"`
}
