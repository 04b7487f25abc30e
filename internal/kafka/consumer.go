package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
)

// Message aliases the wire message type so callers do not import the driver
// alongside this package.
type Message = kafka.Message

// Handler processes one consumed message. A nil return lets the consumer
// commit the offset; errors are classified by kind to decide between retry
// and dead-lettering.
type Handler func(ctx context.Context, msg kafka.Message) error

// reader is the slice of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// republisher writes requeued retry copies and dead letter envelopes;
// satisfied by *Producer.
type republisher interface {
	PublishMessage(ctx context.Context, msg kafka.Message) error
}

// ConsumerConfig configures one consumer group loop over one topic.
type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	Topic           string
	DeadLetterTopic string
	// MaxAttempts bounds the deliveries one message gets. Each transient
	// failure below the bound requeues a copy of the message to the tail of
	// its topic with the retry counter bumped in a header; at the bound the
	// message moves to the dead letter topic instead.
	MaxAttempts int
}

// Consumer runs an at-least-once loop: fetch, handle, commit. A failed message
// is either requeued or dead-lettered before its offset is committed, so
// committing a later offset on the partition can never drop it.
type Consumer struct {
	r           reader
	pub         republisher
	retry       *RetryPolicy
	logger      *zap.Logger
	topic       string
	dlqTopic    string
	maxAttempts int
}

func NewConsumer(cfg ConsumerConfig, pub republisher, retry *RetryPolicy, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{
		r:           r,
		pub:         pub,
		retry:       retry,
		logger:      logger,
		topic:       cfg.Topic,
		dlqTopic:    cfg.DeadLetterTopic,
		maxAttempts: maxAttempts,
	}
}

// Run consumes until ctx is cancelled, then closes the reader. It returns nil
// on clean shutdown and the underlying error when the broker connection is
// lost for good.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	defer c.r.Close()

	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return errs.Wrap(errs.KindTransientChannel, err, "fetch from %s", c.topic)
		}

		c.handle(ctx, msg, h)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, h Handler) {
	key := messageKey(msg)
	retries := RetryCount(msg)

	// The retry policy covers transient failures within this delivery. A
	// non-retryable error stops the in-call retries immediately; lastErr
	// keeps it for the decision below.
	var lastErr error
	err := c.retry.Do(ctx, "handle "+EventType(msg), func(ctx context.Context) error {
		lastErr = h(ctx, msg)
		if lastErr != nil && !errs.Retryable(lastErr) {
			return nil
		}
		return lastErr
	})
	if err == nil {
		err = lastErr
	}

	if err == nil {
		c.commit(ctx, msg)
		return
	}

	if !errs.Retryable(err) {
		c.logger.Error("message failed with a final error, dead-lettering",
			zap.String("message", key),
			zap.String("kind", errs.KindOf(err).String()),
			zap.Error(err))
		c.deadLetter(ctx, msg, err, retries)
		c.commit(ctx, msg)
		return
	}

	retries++
	if retries >= c.maxAttempts {
		c.logger.Error("message failed too many deliveries, dead-lettering",
			zap.String("message", key),
			zap.Int("attempts", retries),
			zap.Error(err))
		c.deadLetter(ctx, msg, err, retries)
		c.commit(ctx, msg)
		return
	}

	// Requeue a copy to the tail of the topic carrying the bumped counter,
	// then commit the original offset. The copy is the redelivery: the
	// counter travels in the message, so it survives restarts and is immune
	// to a later offset commit on the same partition swallowing the failure.
	if reqErr := c.requeue(ctx, msg, retries); reqErr != nil {
		// Keep the offset uncommitted; a rebalance or restart redelivers the
		// original.
		c.logger.Error("failed to requeue message for retry, leaving offset uncommitted",
			zap.String("message", key),
			zap.Int("attempt", retries),
			zap.Error(reqErr))
		return
	}
	c.logger.Warn("message handling failed, requeued for retry",
		zap.String("message", key),
		zap.Int("attempt", retries),
		zap.Int("max_attempts", c.maxAttempts),
		zap.Error(err))
	c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if ctx.Err() != nil {
		return
	}
	err := c.retry.Do(ctx, "commit offset", func(ctx context.Context) error {
		return c.r.CommitMessages(ctx, msg)
	})
	if err != nil {
		c.logger.Error("commit failed",
			zap.String("message", messageKey(msg)),
			zap.Error(err))
	}
}

func (c *Consumer) requeue(ctx context.Context, msg kafka.Message, retries int) error {
	out := kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Time:    time.Now().UTC(),
		Headers: withRetryCount(msg.Headers, retries),
	}
	return c.pub.PublishMessage(ctx, out)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error, retries int) {
	dead := NewDeadLetterMessage(msg, cause, retries)
	value, err := json.Marshal(dead)
	if err != nil {
		c.logger.Error("marshal dead letter", zap.Error(err))
		return
	}
	out := kafka.Message{
		Topic: c.dlqTopic,
		Key:   msg.Key,
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := c.pub.PublishMessage(ctx, out); err != nil {
		// Never silently dropped: this log line is the alerting hook.
		c.logger.Error("failed to move message to dead letter topic",
			zap.String("message", messageKey(msg)),
			zap.Error(err))
	}
}

// RetryCount reads the retry counter header, zero when absent or unparseable.
func RetryCount(msg kafka.Message) int {
	for _, h := range msg.Headers {
		if h.Key == HeaderRetryCount {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				return n
			}
			return 0
		}
	}
	return 0
}

func withRetryCount(headers []kafka.Header, retries int) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != HeaderRetryCount {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{
		Key:   HeaderRetryCount,
		Value: []byte(strconv.Itoa(retries)),
	})
}

func messageKey(msg kafka.Message) string {
	return fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
}
