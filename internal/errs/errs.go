package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so that consumers and HTTP handlers can decide
// programmatically whether to retry, dead-letter, or report a caller error.
type Kind int

const (
	// KindUnknown is the zero value; consumers treat it as transient.
	KindUnknown Kind = iota
	// KindInvalidState marks an illegal lifecycle transition or a mutation
	// attempted in the wrong state. Never retried.
	KindInvalidState
	// KindInsufficientStock is a business rejection, not a fault. It triggers
	// saga compensation, never a retry.
	KindInsufficientStock
	// KindNotFound marks a missing order/inventory item/payment.
	KindNotFound
	// KindTransientChannel marks a publish/consume failure against the
	// messaging substrate. Retried with backoff.
	KindTransientChannel
	// KindExhaustedRetry marks a terminal failure after max attempts. Routed
	// to the dead letter store.
	KindExhaustedRetry
	// KindConflict marks a uniqueness violation, e.g. creating an inventory
	// item for a product that already has one.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidState:
		return "invalid_state"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindNotFound:
		return "not_found"
	case KindTransientChannel:
		return "transient_channel"
	case KindExhaustedRetry:
		return "exhausted_retry"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a kinded error carrying structured context about the entity that
// caused it.
type Error struct {
	Kind      Kind
	Msg       string
	OrderID   string
	ProductID string
	Requested int
	Available int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// InvalidState reports an illegal transition.
func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// InsufficientStock reports a reservation shortfall with its counters.
func InsufficientStock(productID string, requested, available int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Msg:       fmt.Sprintf("cannot reserve %d of product %s, available %d", requested, productID, available),
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// KindOf extracts the Kind from err, unwrapping as needed. Errors that were
// never classified default to KindTransientChannel so that consumer loops
// retry and eventually dead-letter them instead of dropping them.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransientChannel
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether a consumer should retry the failed handling.
// Business rejections and caller bugs are final; everything else gets the
// retry/dead-letter treatment.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindInvalidState, KindInsufficientStock, KindNotFound, KindConflict:
		return false
	default:
		return true
	}
}
