package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
)

func TestDispatcherRoutesByEventType(t *testing.T) {
	var got []byte
	d := NewDispatcher(zap.NewNop()).
		On(TypeOrderCreated, func(ctx context.Context, payload []byte) error {
			got = payload
			return nil
		})

	err := d.Dispatch(context.Background(), TypeOrderCreated, []byte(`{"orderId":"order-1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":"order-1"}`, string(got))
}

func TestDispatcherSkipsUnknownEventType(t *testing.T) {
	called := false
	d := NewDispatcher(zap.NewNop()).
		On(TypeOrderCreated, func(ctx context.Context, payload []byte) error {
			called = true
			return nil
		})

	err := d.Dispatch(context.Background(), TypePaymentCompleted, nil)
	assert.NoError(t, err, "unregistered types are skipped so shared topics do not stall")
	assert.False(t, called)
}

func TestDispatcherPreservesErrorKind(t *testing.T) {
	d := NewDispatcher(zap.NewNop()).
		On(TypeOrderCreated, func(ctx context.Context, payload []byte) error {
			return errs.InvalidState("order already completed")
		})

	err := d.Dispatch(context.Background(), TypeOrderCreated, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
	assert.False(t, errs.Retryable(err))
}

func TestDispatcherReplacesHandler(t *testing.T) {
	first, second := 0, 0
	d := NewDispatcher(zap.NewNop())
	d.On(TypeOrderCreated, func(ctx context.Context, payload []byte) error {
		first++
		return nil
	})
	d.On(TypeOrderCreated, func(ctx context.Context, payload []byte) error {
		second++
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), TypeOrderCreated, nil))
	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}
