package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/kafka"
	"github.com/samuniv/saga-commerce/internal/testutil"
)

func newBrokerProducer(t *testing.T, brokers []string) *kafka.Producer {
	t.Helper()
	logger := zap.NewNop()
	// Generous write retries: the first write to an auto-created topic can
	// race leader election.
	producer := kafka.NewProducer(brokers, kafka.NewRetryPolicy(logger, 8, 250*time.Millisecond, 2.0), logger)
	t.Cleanup(func() { _ = producer.Close() })
	return producer
}

func TestBrokerRequeueRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	brokers, _ := testutil.StartKafka(t)
	producer := newBrokerProducer(t, brokers)

	const topic = "it-orders"
	require.NoError(t, producer.Publish(context.Background(), topic, "order-1", "OrderCreated",
		map[string]string{"orderId": "order-1"}))

	logger := zap.NewNop()
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         brokers,
		GroupID:         "it-orders-group",
		Topic:           topic,
		DeadLetterTopic: "it-orders-dlq",
		MaxAttempts:     3,
	}, producer, kafka.NewRetryPolicy(logger, 0, 10*time.Millisecond, 1.0), logger)

	type delivery struct {
		retries int
		value   string
	}
	deliveries := make(chan delivery, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
			d := delivery{retries: kafka.RetryCount(msg), value: string(msg.Value)}
			deliveries <- d
			if d.retries == 0 {
				return errs.New(errs.KindTransientChannel, "simulated downstream outage")
			}
			return nil
		})
	}()

	var first, second delivery
	select {
	case first = <-deliveries:
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for the first delivery")
	}
	assert.Equal(t, 0, first.retries)

	select {
	case second = <-deliveries:
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for the requeued delivery")
	}
	assert.Equal(t, 1, second.retries, "the requeued copy carries the bumped counter")
	assert.Equal(t, first.value, second.value)

	cancel()
	require.NoError(t, <-done)
}

func TestBrokerDeadLettersFinalError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	brokers, _ := testutil.StartKafka(t)
	producer := newBrokerProducer(t, brokers)

	const topic = "it-payments"
	const dlqTopic = "it-payments-dlq"
	require.NoError(t, producer.Publish(context.Background(), topic, "order-1", "RequestPaymentProcessing",
		map[string]string{"orderId": "order-1"}))

	logger := zap.NewNop()
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         brokers,
		GroupID:         "it-payments-group",
		Topic:           topic,
		DeadLetterTopic: dlqTopic,
		MaxAttempts:     3,
	}, producer, kafka.NewRetryPolicy(logger, 0, 10*time.Millisecond, 1.0), logger)

	handled := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
			select {
			case handled <- struct{}{}:
			default:
			}
			return errs.New(errs.KindInvalidState, "malformed payment request")
		})
	}()

	select {
	case <-handled:
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for the delivery")
	}

	dlqReader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "it-dlq-check",
		Topic:       dlqTopic,
		StartOffset: kafkago.FirstOffset,
	})
	defer dlqReader.Close()

	readCtx, readCancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer readCancel()
	msg, err := dlqReader.ReadMessage(readCtx)
	require.NoError(t, err)

	var envelope kafka.DeadLetterMessage
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, topic, envelope.OriginalTopic)
	assert.Equal(t, "order-1", envelope.MessageKey)
	assert.Contains(t, envelope.ErrorReason, "malformed payment request")
	assert.Equal(t, "RequestPaymentProcessing", envelope.Headers[kafka.HeaderEventType])

	cancel()
	require.NoError(t, <-done)
}
