package order

import (
	"context"

	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

// SagaStarter kicks off the reserve-then-charge flow for a new order;
// satisfied by *saga.Orchestrator.
type SagaStarter interface {
	Start(ctx context.Context, o *Order) error
}

// publisher emits order lifecycle events; satisfied by *kafka.Producer.
type publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, event any) error
}

// NewItem is one requested line on order creation.
type NewItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Service fronts the order aggregate for the HTTP API and ties creation to
// the saga.
type Service struct {
	repo   Repository
	saga   SagaStarter
	pub    publisher
	logger *zap.Logger
}

func NewService(repo Repository, saga SagaStarter, pub publisher, logger *zap.Logger) *Service {
	return &Service{repo: repo, saga: saga, pub: pub, logger: logger}
}

// Create builds and persists an order and starts its saga. The order is
// persisted before the saga publish: if the publish fails the order stays in
// Created and the cleanup task eventually cancels it.
func (s *Service) Create(ctx context.Context, customerID string, items []NewItem) (*Order, error) {
	o, err := New(customerID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.New(errs.KindInvalidState, "order must have at least one item")
	}
	for _, it := range items {
		if err := o.AddItem(it.ProductID, it.Quantity, it.Price); err != nil {
			return nil, err
		}
	}
	if err := o.ValidateState(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	created := events.OrderCreated{
		Meta:  events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, o.ID),
		Items: toEventItems(o.Items),
	}
	if err := s.pub.Publish(ctx, events.TopicOrders, o.ID, events.TypeOrderCreated, created); err != nil {
		s.logger.Error("order created event not published",
			zap.String("order_id", o.ID),
			zap.Error(err))
	}

	if err := s.saga.Start(ctx, o); err != nil {
		s.logger.Error("saga start failed, order left in Created for cleanup",
			zap.String("order_id", o.ID),
			zap.Error(err))
		return o, nil
	}
	return o, nil
}

func (s *Service) GetByID(ctx context.Context, orderID string) (*Order, error) {
	return s.repo.GetByID(ctx, orderID)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

// Cancel cancels an order that has not started payment. Cancelling an
// InventoryReserved order releases its hold.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	previous := o.Status
	if err := o.UpdateStatus(StatusCancelled); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}

	if previous == StatusInventoryReserved {
		release := events.ReleaseInventory{
			Meta:  events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, o.ID),
			Items: toEventItems(o.Items),
		}
		if err := s.pub.Publish(ctx, events.TopicInventoryRequests, o.ID, events.TypeReleaseInventory, release); err != nil {
			s.logger.Error("release command not published on cancel",
				zap.String("order_id", o.ID),
				zap.Error(err))
		}
	}

	cancelled := events.OrderCancelled{
		Meta:   events.NewMeta(o.ID, o.CustomerID, o.TotalAmount, o.ID),
		Reason: reason,
	}
	if err := s.pub.Publish(ctx, events.TopicOrders, o.ID, events.TypeOrderCancelled, cancelled); err != nil {
		s.logger.Error("order cancelled event not published",
			zap.String("order_id", o.ID),
			zap.Error(err))
	}
	s.logger.Info("order cancelled",
		zap.String("order_id", o.ID),
		zap.String("previous_status", string(previous)))
	return o, nil
}

func toEventItems(items []Item) []events.Item {
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
