package adapter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/contracts"
	"github.com/storefront/service-coupon/internal/platform/kafka"
)

// Notifier delivers issued coupons to their buyers.
type Notifier interface {
	SendCouponNotification(ctx context.Context, to, code, faceValue string) error
}

// EventPublisher is the subset of the Kafka producer the notifier needs.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, ce kafka.CloudEvent) error
}

// KafkaNotifier asks the email service to send the coupon by publishing a
// notification request.
type KafkaNotifier struct {
	publisher EventPublisher
	logger    *zap.Logger
}

// NewKafkaNotifier creates a KafkaNotifier.
func NewKafkaNotifier(publisher EventPublisher, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, logger: logger}
}

// SendCouponNotification implements Notifier.
func (n *KafkaNotifier) SendCouponNotification(ctx context.Context, to, code, faceValue string) error {
	event := contracts.CouponNotificationRequestedEvent{
		To:         to,
		Code:       code,
		FaceValue:  faceValue,
		OccurredAt: time.Now().UTC(),
	}
	ce, err := kafka.NewCloudEvent(contracts.SourceCouponService, contracts.CouponNotificationRequested, event)
	if err != nil {
		return fmt.Errorf("failed to create cloud event: %w", err)
	}
	ce.Subject = code
	if err := n.publisher.PublishEvent(ctx, contracts.TopicNotificationEvents, ce); err != nil {
		return fmt.Errorf("publish coupon notification: %w", err)
	}
	return nil
}

// LogNotifier is a development Notifier that only logs.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendCouponNotification implements Notifier.
func (n *LogNotifier) SendCouponNotification(_ context.Context, to, code, faceValue string) error {
	n.logger.Info("[MOCK NOTIFIER] coupon notification",
		zap.String("to", to),
		zap.String("code", code),
		zap.String("face_value", faceValue),
	)
	return nil
}
