package background

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

// Notifier reacts to saga outcomes. Delivery today is the log; the handler
// shape is what a mail or push integration would plug into.
type Notifier struct {
	logger *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// RegisterHandlers wires the notifier onto a dispatcher consuming the orders
// topic.
func (n *Notifier) RegisterHandlers(d *events.Dispatcher) {
	d.On(events.TypeOrderCompleted, n.orderCompleted)
	d.On(events.TypeOrderFailed, n.orderFailed)
}

func (n *Notifier) orderCompleted(ctx context.Context, payload []byte) error {
	var ev events.OrderCompleted
	if err := json.Unmarshal(payload, &ev); err != nil {
		return errs.Wrap(errs.KindInvalidState, err, "decoding order completed event")
	}
	n.logger.Info("notification: order completed",
		zap.String("order_id", ev.OrderID),
		zap.String("customer_id", ev.CustomerID),
		zap.Float64("final_amount", ev.FinalAmount),
		zap.String("transaction_id", ev.PaymentTransactionID))
	return nil
}

func (n *Notifier) orderFailed(ctx context.Context, payload []byte) error {
	var ev events.OrderFailed
	if err := json.Unmarshal(payload, &ev); err != nil {
		return errs.Wrap(errs.KindInvalidState, err, "decoding order failed event")
	}
	n.logger.Warn("notification: order failed",
		zap.String("order_id", ev.OrderID),
		zap.String("customer_id", ev.CustomerID),
		zap.String("reason", ev.FailureReason),
		zap.String("previous_status", ev.PreviousStatus))
	return nil
}
