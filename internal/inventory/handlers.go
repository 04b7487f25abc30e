package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

// ReservationRequestedHandler returns a handler for RequestInventoryReservation
// events. Shortfalls and missing products answer with a failure event for the
// saga; only infrastructure errors propagate for retry.
func ReservationRequestedHandler(svc *Service, pub publisher, logger *zap.Logger) events.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var ev events.RequestInventoryReservation
		if err := json.Unmarshal(payload, &ev); err != nil {
			return errs.Wrap(errs.KindInvalidState, err, "unmarshal RequestInventoryReservation")
		}

		lines := make([]Line, 0, len(ev.Items))
		for _, it := range ev.Items {
			lines = append(lines, Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		err := svc.ReserveForOrder(ctx, ev.OrderID, lines)
		switch {
		case err == nil:
			reserved := events.InventoryReserved{
				Meta:          events.NewMeta(ev.OrderID, ev.CustomerID, ev.TotalAmount, ev.CorrelationID),
				ReservedItems: ev.Items,
			}
			if pubErr := pub.Publish(ctx, events.TopicOrders, ev.OrderID, events.TypeInventoryReserved, reserved); pubErr != nil {
				return pubErr
			}
			logger.Info("inventory reserved for order", zap.String("order_id", ev.OrderID))
			return nil

		case errs.IsKind(err, errs.KindInsufficientStock), errs.IsKind(err, errs.KindNotFound):
			failed := events.InventoryReservationFailed{
				Meta:   events.NewMeta(ev.OrderID, ev.CustomerID, ev.TotalAmount, ev.CorrelationID),
				Reason: reservationFailureReason(err),
			}
			if pubErr := pub.Publish(ctx, events.TopicOrders, ev.OrderID, events.TypeInventoryReservationFailed, failed); pubErr != nil {
				return pubErr
			}
			logger.Warn("inventory reservation failed for order",
				zap.String("order_id", ev.OrderID),
				zap.String("reason", err.Error()))
			return nil

		default:
			return err
		}
	}
}

// ReleaseRequestedHandler returns a handler for ReleaseInventory events, the
// saga's compensation command.
func ReleaseRequestedHandler(svc *Service, pub publisher, logger *zap.Logger) events.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var ev events.ReleaseInventory
		if err := json.Unmarshal(payload, &ev); err != nil {
			return errs.Wrap(errs.KindInvalidState, err, "unmarshal ReleaseInventory")
		}

		lines := make([]Line, 0, len(ev.Items))
		for _, it := range ev.Items {
			lines = append(lines, Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		if err := svc.ReleaseForOrder(ctx, ev.OrderID, lines); err != nil {
			return err
		}

		released := events.InventoryReleased{
			Meta:  events.NewMeta(ev.OrderID, ev.CustomerID, ev.TotalAmount, ev.CorrelationID),
			Items: ev.Items,
		}
		if err := pub.Publish(ctx, events.TopicOrders, ev.OrderID, events.TypeInventoryReleased, released); err != nil {
			return err
		}
		logger.Info("inventory released for order", zap.String("order_id", ev.OrderID))
		return nil
	}
}

func reservationFailureReason(err error) string {
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.KindInsufficientStock {
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
			e.ProductID, e.Requested, e.Available)
	}
	return err.Error()
}
