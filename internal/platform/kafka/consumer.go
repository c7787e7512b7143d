package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HandlerFunc processes one message. A nil return means the message is done
// with and its offset may be committed; an error means it was not handled and
// must be delivered again.
type HandlerFunc func(ctx context.Context, msg kafkago.Message) error

// MessageReader is the part of *kafkago.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads one topic as part of a consumer group.
type Consumer struct {
	reader  MessageReader
	logger  *zap.Logger
	backOff func() backoff.BackOff
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithRedeliveryBackOff sets the schedule used between attempts at a message
// whose handler failed.
func WithRedeliveryBackOff(fn func() backoff.BackOff) ConsumerOption {
	return func(c *Consumer) { c.backOff = fn }
}

// NewConsumer creates a group consumer for topic.
func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewReaderConsumer(reader, logger.With(zap.String("topic", topic), zap.String("group_id", groupID)), opts...)
}

// NewReaderConsumer creates a Consumer over an existing reader.
func NewReaderConsumer(reader MessageReader, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:  reader,
		logger:  logger,
		backOff: defaultRedeliveryBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultRedeliveryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Consume blocks, feeding messages to handler until ctx is cancelled. A message
// is committed only after its handler succeeds; while the handler fails the
// message is retried in place, and cancellation leaves it uncommitted so the
// next group member starts from it.
func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch kafka message: %w", err)
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to commit offset",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler HandlerFunc, msg kafkago.Message) error {
	return backoff.RetryNotify(func() error {
		return handler(ctx, msg)
	}, backoff.WithContext(c.backOff(), ctx), func(err error, next time.Duration) {
		c.logger.Error("message handler failed, redelivering",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}

// Close closes the reader and leaves the group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
