package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	policy := NewRetryPolicy(zap.NewNop(), 3, time.Millisecond, 2.0)

	calls := 0
	err := policy.Do(context.Background(), "test op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustion(t *testing.T) {
	policy := NewRetryPolicy(zap.NewNop(), 2, time.Millisecond, 2.0)

	last := errors.New("still broken")
	calls := 0
	err := policy.Do(context.Background(), "test op", func(ctx context.Context) error {
		calls++
		return last
	})
	assert.ErrorIs(t, err, last, "the last error propagates unchanged")
	assert.Equal(t, 3, calls, "one initial attempt plus maxRetries retries")
}

func TestRetryNoRetriesRunsOnce(t *testing.T) {
	policy := NewRetryPolicy(zap.NewNop(), 0, time.Millisecond, 2.0)

	calls := 0
	err := policy.Do(context.Background(), "test op", func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryBackoffGrows(t *testing.T) {
	policy := NewRetryPolicy(zap.NewNop(), 2, 20*time.Millisecond, 2.0)

	var stamps []time.Time
	_ = policy.Do(context.Background(), "test op", func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("transient")
	})
	require.Len(t, stamps, 3)

	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.GreaterOrEqual(t, second, 40*time.Millisecond)
}

func TestRetryHonorsCancellation(t *testing.T) {
	policy := NewRetryPolicy(zap.NewNop(), 5, time.Hour, 2.0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, "test op", func(ctx context.Context) error {
			return errors.New("transient")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}
