package saga

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
	"github.com/samuniv/saga-commerce/internal/order"
)

// publisher emits saga commands and lifecycle events; satisfied by
// *kafka.Producer.
type publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, event any) error
}

// Orchestrator advances an order through the reserve-then-charge saga and
// compensates on failure. All decisions are made against the persisted order
// status, so a redelivered event finds the order already moved and no-ops
// instead of repeating a side effect.
type Orchestrator struct {
	orders order.Repository
	pub    publisher
	logger *zap.Logger
}

func NewOrchestrator(orders order.Repository, pub publisher, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{orders: orders, pub: pub, logger: logger}
}

// Start kicks off the saga for a freshly created order by requesting an
// inventory reservation. The order must be in Created with a valid item set.
func (s *Orchestrator) Start(ctx context.Context, o *order.Order) error {
	if o.Status != order.StatusCreated {
		return errs.InvalidState("saga can only start for an order in Created, got %s", o.Status)
	}
	if err := o.ValidateState(); err != nil {
		return err
	}

	ev := events.RequestInventoryReservation{
		Meta:  events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, o.ID),
		Items: toEventItems(o.Items),
	}
	if err := s.pub.Publish(ctx, events.TopicInventoryRequests, o.ID, events.TypeRequestInventoryReservation, ev); err != nil {
		return err
	}
	s.logger.Info("saga started",
		zap.String("order_id", o.ID),
		zap.Float64("total_amount", o.TotalAmount))
	return nil
}

// HandleInventoryReserved moves the order to PaymentProcessing and requests
// the payment. The payment request is published while the order sits in
// InventoryReserved: if the publish or the final advance fails, the
// redelivered event finds InventoryReserved again and repeats the request
// (the payment service deduplicates by order), instead of no-opping with the
// request never sent. Redelivery after full success finds PaymentProcessing
// and does nothing.
func (s *Orchestrator) HandleInventoryReserved(ctx context.Context, ev events.InventoryReserved) error {
	o, ok, err := s.load(ctx, ev.OrderID, events.TypeInventoryReserved)
	if err != nil || !ok {
		return err
	}
	switch o.Status {
	case order.StatusCreated:
		if err := s.advance(ctx, o, order.StatusInventoryReserved); err != nil {
			return err
		}
	case order.StatusInventoryReserved:
		// A previous delivery persisted the reservation but died before the
		// payment request went out; request it again.
	default:
		s.logger.Info("reservation event ignored, order already advanced",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)))
		return nil
	}

	req := events.RequestPaymentProcessing{
		Meta:          events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, ev.CorrelationID),
		PaymentMethod: "card",
		Currency:      "USD",
	}
	if err := s.pub.Publish(ctx, events.TopicPaymentRequests, o.ID, events.TypeRequestPaymentProcessing, req); err != nil {
		return err
	}
	if err := s.advance(ctx, o, order.StatusPaymentProcessing); err != nil {
		return err
	}
	s.logger.Info("payment requested for order", zap.String("order_id", o.ID))
	return nil
}

// HandleInventoryReservationFailed fails the order. Nothing was held, so no
// release is published.
func (s *Orchestrator) HandleInventoryReservationFailed(ctx context.Context, ev events.InventoryReservationFailed) error {
	o, ok, err := s.load(ctx, ev.OrderID, events.TypeInventoryReservationFailed)
	if err != nil || !ok {
		return err
	}
	if o.Status.Terminal() {
		return nil
	}

	previous := o.Status
	if err := s.advance(ctx, o, order.StatusFailed); err != nil {
		return err
	}
	s.logger.Warn("order failed at reservation",
		zap.String("order_id", o.ID),
		zap.String("reason", ev.Reason))
	return s.publishFailed(ctx, o, previous, ev.Reason, ev.CorrelationID)
}

// HandlePaymentCompleted completes the order.
func (s *Orchestrator) HandlePaymentCompleted(ctx context.Context, ev events.PaymentCompleted) error {
	o, ok, err := s.load(ctx, ev.OrderID, events.TypePaymentCompleted)
	if err != nil || !ok {
		return err
	}
	if o.Status == order.StatusCompleted {
		return nil
	}
	if o.Status.Terminal() {
		s.logger.Warn("payment completed for an order already terminal",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)))
		return nil
	}

	if err := s.advance(ctx, o, order.StatusCompleted); err != nil {
		return err
	}

	completed := events.OrderCompleted{
		Meta:                 events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, ev.CorrelationID),
		CompletedAt:          time.Now().UTC(),
		FinalAmount:          o.TotalAmount,
		PaymentTransactionID: ev.TransactionID,
	}
	if err := s.pub.Publish(ctx, events.TopicOrders, o.ID, events.TypeOrderCompleted, completed); err != nil {
		s.logger.Error("order completed event not published",
			zap.String("order_id", o.ID),
			zap.Error(err))
	}
	s.logger.Info("saga completed",
		zap.String("order_id", o.ID),
		zap.String("transaction_id", ev.TransactionID))
	return nil
}

// HandlePaymentFailed compensates and fails the order. The release goes out
// BEFORE the order is failed: if it were published after, a transient publish
// failure would leave the order Failed and every redelivery would no-op on
// the terminal check with the reservation stranded forever. Publishing first
// keeps the order in its pre-failure status, so the redelivered event retries
// the release; the inventory service deduplicates by order, so a repeat
// release after a crash is harmless. The previous status is captured before
// the order is failed, otherwise the check would always see Failed.
func (s *Orchestrator) HandlePaymentFailed(ctx context.Context, ev events.PaymentFailed) error {
	o, ok, err := s.load(ctx, ev.OrderID, events.TypePaymentFailed)
	if err != nil || !ok {
		return err
	}
	if o.Status.Terminal() {
		return nil
	}

	previous := o.Status
	if previous == order.StatusInventoryReserved || previous == order.StatusPaymentProcessing {
		release := events.ReleaseInventory{
			Meta:  events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, ev.CorrelationID),
			Items: toEventItems(o.Items),
		}
		if err := s.pub.Publish(ctx, events.TopicInventoryRequests, o.ID, events.TypeReleaseInventory, release); err != nil {
			s.logger.Error("release command not published, failing delivery for retry",
				zap.String("order_id", o.ID),
				zap.Error(err))
			return err
		}
		s.logger.Info("inventory release requested", zap.String("order_id", o.ID))
	}

	if err := s.advance(ctx, o, order.StatusFailed); err != nil {
		return err
	}
	s.logger.Warn("order failed at payment",
		zap.String("order_id", o.ID),
		zap.String("reason", ev.FailureReason))

	return s.publishFailed(ctx, o, previous, ev.FailureReason, ev.CorrelationID)
}

// load fetches the order; a missing order means a stale or foreign event and
// is skipped rather than retried.
func (s *Orchestrator) load(ctx context.Context, orderID, eventType string) (*order.Order, bool, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			s.logger.Warn("event for unknown order skipped",
				zap.String("order_id", orderID),
				zap.String("event_type", eventType))
			return nil, false, nil
		}
		return nil, false, err
	}
	return o, true, nil
}

func (s *Orchestrator) advance(ctx context.Context, o *order.Order, next order.Status) error {
	old := o.Status
	if err := o.UpdateStatus(next); err != nil {
		return err
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return err
	}

	changed := events.OrderStatusChanged{
		Meta:      events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, o.ID),
		OldStatus: string(old),
		NewStatus: string(next),
	}
	if err := s.pub.Publish(ctx, events.TopicOrders, o.ID, events.TypeOrderStatusChanged, changed); err != nil {
		s.logger.Error("status change event not published",
			zap.String("order_id", o.ID),
			zap.Error(err))
	}
	return nil
}

func (s *Orchestrator) publishFailed(ctx context.Context, o *order.Order, previous order.Status, reason, correlationID string) error {
	failed := events.OrderFailed{
		Meta:           events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, correlationID),
		FailureReason:  reason,
		PreviousStatus: string(previous),
	}
	if err := s.pub.Publish(ctx, events.TopicOrders, o.ID, events.TypeOrderFailed, failed); err != nil {
		s.logger.Error("order failed event not published",
			zap.String("order_id", o.ID),
			zap.Error(err))
	}
	return nil
}

func toEventItems(items []order.Item) []events.Item {
	out := make([]events.Item, len(items))
	for i, it := range items {
		out[i] = events.Item{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Subtotal:  it.Subtotal,
		}
	}
	return out
}
