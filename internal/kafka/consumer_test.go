package kafka

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
)

type fakeReader struct {
	messages  []kafkago.Message
	committed []kafkago.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(f.messages) == 0 {
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type fakeRepublisher struct {
	published []kafkago.Message
	err       error
}

func (f *fakeRepublisher) PublishMessage(ctx context.Context, msg kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeRepublisher) byTopic(topic string) []kafkago.Message {
	var out []kafkago.Message
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func newTestConsumer(r reader, pub republisher, maxAttempts int) *Consumer {
	return &Consumer{
		r:           r,
		pub:         pub,
		retry:       NewRetryPolicy(zap.NewNop(), 0, time.Millisecond, 1.0),
		logger:      zap.NewNop(),
		topic:       "orders",
		dlqTopic:    "dead-letter-queue",
		maxAttempts: maxAttempts,
	}
}

func testMessage(offset int64) kafkago.Message {
	return kafkago.Message{
		Topic:     "orders",
		Partition: 0,
		Offset:    offset,
		Key:       []byte("order-1"),
		Value:     []byte(`{"orderId":"order-1"}`),
		Headers:   []kafkago.Header{{Key: HeaderEventType, Value: []byte("OrderCreated")}},
	}
}

func withRetries(msg kafkago.Message, retries int) kafkago.Message {
	msg.Headers = append(msg.Headers, kafkago.Header{
		Key:   HeaderRetryCount,
		Value: []byte(strconv.Itoa(retries)),
	})
	return msg
}

func TestConsumerCommitsAfterSuccess(t *testing.T) {
	fr := &fakeReader{}
	fp := &fakeRepublisher{}
	c := newTestConsumer(fr, fp, 3)

	c.handle(context.Background(), testMessage(7), func(ctx context.Context, msg kafkago.Message) error {
		return nil
	})

	require.Len(t, fr.committed, 1)
	assert.Equal(t, int64(7), fr.committed[0].Offset)
	assert.Empty(t, fp.published)
}

func TestConsumerRequeuesTransientFailure(t *testing.T) {
	fr := &fakeReader{}
	fp := &fakeRepublisher{}
	c := newTestConsumer(fr, fp, 3)

	c.handle(context.Background(), testMessage(7), func(ctx context.Context, msg kafkago.Message) error {
		return errs.New(errs.KindTransientChannel, "db down")
	})

	require.Len(t, fr.committed, 1, "original offset committed once the copy is requeued")
	requeued := fp.byTopic("orders")
	require.Len(t, requeued, 1)
	assert.Equal(t, "order-1", string(requeued[0].Key))
	assert.Equal(t, []byte(`{"orderId":"order-1"}`), requeued[0].Value)
	assert.Equal(t, 1, RetryCount(requeued[0]), "counter travels in the message")
	assert.Equal(t, "OrderCreated", EventType(requeued[0]), "event type header preserved")
	assert.Empty(t, fp.byTopic("dead-letter-queue"))
}

func TestConsumerRequeuedCopyCarriesCounterForward(t *testing.T) {
	fr := &fakeReader{}
	fp := &fakeRepublisher{}
	c := newTestConsumer(fr, fp, 5)

	c.handle(context.Background(), withRetries(testMessage(42), 2), func(ctx context.Context, msg kafkago.Message) error {
		return errs.New(errs.KindTransientChannel, "db down")
	})

	requeued := fp.byTopic("orders")
	require.Len(t, requeued, 1)
	assert.Equal(t, 3, RetryCount(requeued[0]))
}

func TestConsumerRequeueFailureLeavesOffsetUncommitted(t *testing.T) {
	fr := &fakeReader{}
	fp := &fakeRepublisher{err: errors.New("broker unavailable")}
	c := newTestConsumer(fr, fp, 3)

	c.handle(context.Background(), testMessage(7), func(ctx context.Context, msg kafkago.Message) error {
		return errs.New(errs.KindTransientChannel, "db down")
	})

	assert.Empty(t, fr.committed, "without the requeued copy the original must be redelivered")
}

func TestConsumerDeadLettersAfterMaxAttempts(t *testing.T) {
	fr := &fakeReader{}
	fp := &fakeRepublisher{}
	c := newTestConsumer(fr, fp, 3)

	c.handle(context.Background(), withRetries(testMessage(7), 2), func(ctx context.Context, msg kafkago.Message) error {
		return errs.New(errs.KindTransientChannel, "db down")
	})

	dead := fp.byTopic("dead-letter-queue")
	require.Len(t, dead, 1, "third delivery hits max attempts")
	assert.Empty(t, fp.byTopic("orders"), "no further requeue")
	assert.Len(t, fr.committed, 1, "the offset is committed so the partition moves on")
}

func TestConsumerDeadLettersNonRetryableImmediately(t *testing.T) {
	fr := &fakeReader{}
	fp := &fakeRepublisher{}
	c := newTestConsumer(fr, fp, 5)

	calls := 0
	c.handle(context.Background(), testMessage(7), func(ctx context.Context, msg kafkago.Message) error {
		calls++
		return errs.InvalidState("bad transition")
	})

	assert.Equal(t, 1, calls, "final errors are not retried in-call")
	require.Len(t, fp.byTopic("dead-letter-queue"), 1)
	assert.Empty(t, fp.byTopic("orders"))
	assert.Len(t, fr.committed, 1)
}

func TestConsumerRetriesWithinDelivery(t *testing.T) {
	fr := &fakeReader{}
	fp := &fakeRepublisher{}
	c := newTestConsumer(fr, fp, 3)
	c.retry = NewRetryPolicy(zap.NewNop(), 2, time.Millisecond, 1.0)

	calls := 0
	c.handle(context.Background(), testMessage(7), func(ctx context.Context, msg kafkago.Message) error {
		calls++
		if calls < 2 {
			return errs.New(errs.KindTransientChannel, "blip")
		}
		return nil
	})

	assert.Equal(t, 2, calls)
	assert.Len(t, fr.committed, 1, "in-call retry recovered, offset committed")
	assert.Empty(t, fp.published)
}

func TestConsumerRunFailedMessageSurvivesLaterCommits(t *testing.T) {
	// A transiently failing message followed by a successful one: the failure
	// must not be swallowed by the later offset commit on the same partition.
	fr := &fakeReader{messages: []kafkago.Message{testMessage(7), testMessage(8)}}
	fp := &fakeRepublisher{}
	c := newTestConsumer(fr, fp, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ctx context.Context, msg kafkago.Message) error {
			if msg.Offset == 7 && RetryCount(msg) == 0 {
				return errs.New(errs.KindTransientChannel, "db down")
			}
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	require.Len(t, fr.committed, 2, "both offsets committed")
	requeued := fp.byTopic("orders")
	require.Len(t, requeued, 1, "the failed message lives on as a requeued copy")
	assert.Equal(t, 1, RetryCount(requeued[0]))
	assert.Empty(t, fp.byTopic("dead-letter-queue"))
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	fr := &fakeReader{messages: []kafkago.Message{testMessage(1)}}
	fp := &fakeRepublisher{}
	c := newTestConsumer(fr, fp, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ctx context.Context, msg kafkago.Message) error {
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.True(t, fr.closed)
	assert.Len(t, fr.committed, 1)
}

func TestDeadLetterEnvelopeRoundTrip(t *testing.T) {
	msg := withRetries(testMessage(42), 3)

	dead := NewDeadLetterMessage(msg, errors.New("handler exploded"), 3)
	assert.Equal(t, "orders", dead.OriginalTopic)
	assert.Equal(t, "order-1", dead.MessageKey)
	assert.Equal(t, 3, dead.RetryCount)
	assert.Equal(t, "handler exploded", dead.ErrorReason)
	assert.Equal(t, "OrderCreated", dead.Headers[HeaderEventType])

	rebuilt := dead.OriginalMessage()
	assert.Equal(t, msg.Topic, rebuilt.Topic)
	assert.Equal(t, msg.Key, rebuilt.Key)
	assert.Equal(t, msg.Value, rebuilt.Value)
	assert.Equal(t, "OrderCreated", EventType(rebuilt))
	assert.Zero(t, RetryCount(rebuilt), "replayed messages start with fresh attempts")
}
