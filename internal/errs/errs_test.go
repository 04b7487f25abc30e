package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := map[string]struct {
		err  error
		want Kind
	}{
		"kinded error":             {New(KindInvalidState, "bad"), KindInvalidState},
		"wrapped kinded error":     {fmt.Errorf("outer: %w", NotFound("gone")), KindNotFound},
		"plain error is transient": {errors.New("boom"), KindTransientChannel},
		"doubly wrapped": {
			Wrap(KindExhaustedRetry, New(KindTransientChannel, "write failed"), "publish"),
			KindExhaustedRetry,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		"invalid state is final":      {InvalidState("nope"), false},
		"insufficient stock is final": {InsufficientStock("p1", 5, 2), false},
		"not found is final":          {NotFound("missing"), false},
		"conflict is final":           {New(KindConflict, "exists"), false},
		"transient retries":           {New(KindTransientChannel, "broker down"), true},
		"unclassified retries":        {errors.New("who knows"), true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestInsufficientStockContext(t *testing.T) {
	err := InsufficientStock("widget-1", 5, 2)
	assert.Equal(t, "widget-1", err.ProductID)
	assert.Equal(t, 5, err.Requested)
	assert.Equal(t, 2, err.Available)
	assert.Contains(t, err.Error(), "insufficient_stock")
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := Wrap(KindTransientChannel, inner, "publish to orders")
	assert.True(t, errors.Is(err, inner))
}
