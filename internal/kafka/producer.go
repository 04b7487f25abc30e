package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
)

// HeaderEventType is the message header consumers dispatch on.
const HeaderEventType = "event-type"

// HeaderRetryCount carries the delivery retry counter on requeued copies of a
// failed message. Living in the message itself, it survives consumer restarts.
const HeaderRetryCount = "retry-count"

// Producer publishes integration events. Messages are hash-balanced by key,
// so everything keyed by the same order id stays on one partition.
type Producer struct {
	w      *kafka.Writer
	retry  *RetryPolicy
	logger *zap.Logger
}

func NewProducer(brokers []string, retry *RetryPolicy, logger *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		retry:  retry,
		logger: logger,
	}
}

// Publish marshals event to JSON and writes it to topic with the event-type
// header set and key as the message key. Writes are retried with backoff;
// once retries are exhausted the failure surfaces as an ExhaustedRetry error.
func (p *Producer) Publish(ctx context.Context, topic, key, eventType string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(eventType)},
		},
	}

	if err := p.writeWithRetry(ctx, eventType, msg); err != nil {
		return err
	}

	p.logger.Info("event published",
		zap.String("event_type", eventType),
		zap.String("topic", topic),
		zap.String("key", key))
	return nil
}

// PublishMessage writes a prebuilt message, preserving its headers. Used by
// the dead letter store to replay messages to their original topic.
func (p *Producer) PublishMessage(ctx context.Context, msg kafka.Message) error {
	return p.writeWithRetry(ctx, "raw message", msg)
}

func (p *Producer) writeWithRetry(ctx context.Context, what string, msg kafka.Message) error {
	err := p.retry.Do(ctx, "publish "+what, func(ctx context.Context) error {
		if err := p.w.WriteMessages(ctx, msg); err != nil {
			return errs.Wrap(errs.KindTransientChannel, err, "write to %s", msg.Topic)
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindExhaustedRetry, err, "publish %s to %s", what, msg.Topic)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}

// EventType extracts the event-type header from a message, or "" when absent.
func EventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderEventType {
			return string(h.Value)
		}
	}
	return ""
}
