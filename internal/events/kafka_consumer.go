package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/adapter"
	"github.com/storefront/service-coupon/internal/application"
	"github.com/storefront/service-coupon/internal/contracts"
	"github.com/storefront/service-coupon/internal/domain/payment"
	"github.com/storefront/service-coupon/internal/platform/kafka"
)

// Issuer turns a payment confirmation into a coupon.
type Issuer interface {
	IssueCoupon(ctx context.Context, c payment.Confirmation) (*application.IssuanceResult, error)
}

// PaymentEventConsumer listens to payment events and issues coupons for
// confirmed sales. Messages that cannot be processed are dead-lettered, then
// committed with the rest. A message is never committed before it has been
// either issued or dead-lettered.
type PaymentEventConsumer struct {
	consumer   *kafka.Consumer
	issuer     Issuer
	deadLetter adapter.EventPublisher
	now        func() time.Time
	logger     *zap.Logger
}

// NewPaymentEventConsumer creates a new consumer for payment events.
func NewPaymentEventConsumer(
	brokers []string,
	groupID string,
	issuer Issuer,
	deadLetter adapter.EventPublisher,
	logger *zap.Logger,
) *PaymentEventConsumer {
	consumer := kafka.NewConsumer(brokers, groupID, contracts.TopicPaymentEvents, logger)
	return newPaymentEventConsumer(consumer, issuer, deadLetter, logger)
}

func newPaymentEventConsumer(consumer *kafka.Consumer, issuer Issuer, deadLetter adapter.EventPublisher, logger *zap.Logger) *PaymentEventConsumer {
	return &PaymentEventConsumer{
		consumer:   consumer,
		issuer:     issuer,
		deadLetter: deadLetter,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Start begins consuming payment events. It blocks until the context is cancelled.
func (c *PaymentEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// handleMessage processes one message. A failed message is dead-lettered and
// then counts as handled. Only a failed dead-letter publish is returned, which
// keeps the offset uncommitted until the message is issued or parked.
func (c *PaymentEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	err := c.process(ctx, msg)
	if err == nil {
		return nil
	}
	if dlErr := c.publishDeadLetter(ctx, msg, err); dlErr != nil {
		return errors.Join(err, dlErr)
	}
	return nil
}

// process routes incoming Kafka messages to the appropriate handler.
func (c *PaymentEventConsumer) process(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from payment topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return err
	}

	c.logger.Info("received payment event",
		zap.String("type", cloudEvent.Type),
		zap.String("id", cloudEvent.ID),
	)

	switch {
	case strings.EqualFold(cloudEvent.Type, contracts.PaymentConfirmed):
		return c.handlePaymentConfirmed(ctx, cloudEvent)

	default:
		c.logger.Debug("ignoring unhandled payment event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

// handlePaymentConfirmed processes a PaymentConfirmedEvent.
func (c *PaymentEventConsumer) handlePaymentConfirmed(ctx context.Context, ce kafka.CloudEvent) error {
	var event contracts.PaymentConfirmedEvent
	if err := ce.ParseData(&event); err != nil {
		c.logger.Error("failed to parse PaymentConfirmedEvent data", zap.Error(err))
		return err
	}

	provider := event.Provider
	if provider == "" {
		provider = ce.Source
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = ce.Time
	}

	result, err := c.issuer.IssueCoupon(ctx, payment.Confirmation{
		Provider:          provider,
		ExternalPaymentID: event.ExternalPaymentID,
		PaidAmountCents:   event.PaidAmountCents,
		PayerEmail:        event.PayerEmail,
		BuyerHint:         event.BuyerID,
		OccurredAt:        occurredAt,
	})
	if err != nil {
		return fmt.Errorf("issue coupon for payment %s: %w", event.ExternalPaymentID, err)
	}

	c.logger.Info("payment event processed",
		zap.String("external_payment_id", event.ExternalPaymentID),
		zap.String("instance_id", result.Instance.ID().String()),
		zap.Bool("duplicate", result.Duplicate),
	)
	return nil
}

func (c *PaymentEventConsumer) publishDeadLetter(ctx context.Context, msg kafkago.Message, cause error) error {
	ce, err := kafka.NewCloudEvent(contracts.SourceCouponService, contracts.PaymentEventDeadLettered, contracts.DeadLetter{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Error:     cause.Error(),
		Payload:   msg.Value,
		FailedAt:  c.now(),
	})
	if err != nil {
		return err
	}
	ce.Subject = string(msg.Key)

	if err := c.deadLetter.PublishEvent(ctx, contracts.TopicPaymentEventsDLT, ce); err != nil {
		c.logger.Error("failed to dead-letter payment event",
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return fmt.Errorf("publish dead letter: %w", err)
	}

	c.logger.Warn("payment event dead-lettered",
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause),
	)
	return nil
}

// Close closes the underlying Kafka consumer.
func (c *PaymentEventConsumer) Close() error {
	if c.consumer == nil {
		return nil
	}
	return c.consumer.Close()
}
