package background

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/order"
)

type staleLister interface {
	ListStaleCreated(ctx context.Context, olderThan time.Time) ([]order.Order, error)
}

type canceller interface {
	Cancel(ctx context.Context, orderID, reason string) (*order.Order, error)
}

// Cleanup periodically cancels orders stuck in Created past maxAge. An order
// stays in Created only when its saga never started or its first event was
// lost, so cancelling is safe: nothing is reserved yet.
type Cleanup struct {
	repo     staleLister
	orders   canceller
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

func NewCleanup(repo staleLister, orders canceller, interval, maxAge time.Duration, logger *zap.Logger) *Cleanup {
	return &Cleanup{repo: repo, orders: orders, interval: interval, maxAge: maxAge, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (c *Cleanup) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cleanup) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.maxAge)
	stale, err := c.repo.ListStaleCreated(ctx, cutoff)
	if err != nil {
		c.logger.Error("stale order sweep failed", zap.Error(err))
		return
	}
	for _, o := range stale {
		if _, err := c.orders.Cancel(ctx, o.ID, "cancelled by cleanup: order stuck in Created"); err != nil {
			c.logger.Error("stale order not cancelled",
				zap.String("order_id", o.ID),
				zap.Error(err))
			continue
		}
		c.logger.Info("stale order cancelled",
			zap.String("order_id", o.ID),
			zap.Time("created_at", o.CreatedAt))
	}
}
