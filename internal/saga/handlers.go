package saga

import (
	"context"
	"encoding/json"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

// RegisterHandlers wires the saga's event handlers onto a dispatcher consuming
// the orders topic.
func RegisterHandlers(d *events.Dispatcher, s *Orchestrator) {
	d.On(events.TypeInventoryReserved, reservedHandler(s))
	d.On(events.TypeInventoryReservationFailed, reservationFailedHandler(s))
	d.On(events.TypePaymentCompleted, paymentCompletedHandler(s))
	d.On(events.TypePaymentFailed, paymentFailedHandler(s))
}

func reservedHandler(s *Orchestrator) events.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var ev events.InventoryReserved
		if err := json.Unmarshal(payload, &ev); err != nil {
			return errs.Wrap(errs.KindInvalidState, err, "decoding inventory reserved event")
		}
		return s.HandleInventoryReserved(ctx, ev)
	}
}

func reservationFailedHandler(s *Orchestrator) events.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var ev events.InventoryReservationFailed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return errs.Wrap(errs.KindInvalidState, err, "decoding reservation failed event")
		}
		return s.HandleInventoryReservationFailed(ctx, ev)
	}
}

func paymentCompletedHandler(s *Orchestrator) events.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var ev events.PaymentCompleted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return errs.Wrap(errs.KindInvalidState, err, "decoding payment completed event")
		}
		return s.HandlePaymentCompleted(ctx, ev)
	}
}

func paymentFailedHandler(s *Orchestrator) events.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var ev events.PaymentFailed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return errs.Wrap(errs.KindInvalidState, err, "decoding payment failed event")
		}
		return s.HandlePaymentFailed(ctx, ev)
	}
}
