package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy wraps a fallible operation with exponential backoff. The first
// attempt runs immediately; each failure while fewer than maxRetries retries
// have happened waits initialDelay * multiplier^retries and tries again. Once
// exhausted the last error propagates unchanged.
type RetryPolicy struct {
	maxRetries   int
	initialDelay time.Duration
	multiplier   float64
	logger       *zap.Logger
}

func NewRetryPolicy(logger *zap.Logger, maxRetries int, initialDelay time.Duration, multiplier float64) *RetryPolicy {
	return &RetryPolicy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		multiplier:   multiplier,
		logger:       logger,
	}
}

// DefaultRetryPolicy matches the broker-facing defaults: three retries
// starting at one second, doubling.
func DefaultRetryPolicy(logger *zap.Logger) *RetryPolicy {
	return NewRetryPolicy(logger, 3, time.Second, 2.0)
}

// Do runs op, retrying per the policy. The backoff sleep honors ctx
// cancellation; a cancelled wait returns ctx.Err().
func (p *RetryPolicy) Do(ctx context.Context, operation string, op func(context.Context) error) error {
	delay := p.initialDelay

	for retries := 0; ; retries++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retries >= p.maxRetries {
			return err
		}

		p.logger.Warn("operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("retry", retries+1),
			zap.Int("max_retries", p.maxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * p.multiplier)
	}
}
