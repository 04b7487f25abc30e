package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
)

// HandlerFunc processes the JSON payload of a single event. Returning nil
// allows the consumer to commit the offset; a non-nil error is classified by
// its kind and either retried or dead-lettered.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Dispatcher routes messages to handlers by their event-type header. Unknown
// event types are skipped, not failed: one topic carries several event types
// and each service only cares about a subset.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On registers the handler for an event type. Registering twice for the same
// type replaces the previous handler.
func (d *Dispatcher) On(eventType string, h HandlerFunc) *Dispatcher {
	d.handlers[eventType] = h
	return d
}

// Dispatch invokes the handler registered for eventType, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload []byte) error {
	h, ok := d.handlers[eventType]
	if !ok {
		d.logger.Debug("no handler for event type, skipping",
			zap.String("event_type", eventType))
		return nil
	}
	if err := h(ctx, payload); err != nil {
		return errs.Wrap(errs.KindOf(err), err, "handle %s", eventType)
	}
	return nil
}
