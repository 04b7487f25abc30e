package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

// Gateway charges a payment against the outside world, returning a
// transaction id. The saga only needs success or failure; declines come back
// as errors.
type Gateway interface {
	Charge(ctx context.Context, orderID string, amount float64) (string, error)
}

// SimulatedGateway stands in for a real processor. A DeclineAbove of zero
// approves everything.
type SimulatedGateway struct {
	DeclineAbove float64
}

func (g SimulatedGateway) Charge(ctx context.Context, orderID string, amount float64) (string, error) {
	if g.DeclineAbove > 0 && amount > g.DeclineAbove {
		return "", errs.New(errs.KindInvalidState, "payment declined: amount %0.2f exceeds limit", amount)
	}
	return uuid.NewString(), nil
}

// publisher emits payment outcome events; satisfied by *kafka.Producer.
type publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, event any) error
}

// Service owns payment state transitions. Per-order locking keeps
// read-modify-write cycles atomic against concurrent redelivery of the same
// payment request.
type Service struct {
	repo    Repository
	gateway Gateway
	pub     publisher
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(repo Repository, gateway Gateway, pub publisher, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		pub:     pub,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) orderLock(orderID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[orderID] = l
	}
	return l
}

// Initiate creates a pending payment for an order. An order with a payment
// that is not Failed keeps it; initiating again is a conflict.
func (s *Service) Initiate(ctx context.Context, orderID string, amount float64) (*Payment, error) {
	lock := s.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil && !errs.IsKind(err, errs.KindNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status != StatusFailed {
		return nil, errs.New(errs.KindConflict, "order %s already has an active payment", orderID)
	}

	p, err := New(orderID, amount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("payment initiated",
		zap.String("payment_id", p.ID),
		zap.String("order_id", orderID),
		zap.Float64("amount", amount))
	return p, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*Payment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	return s.repo.GetByOrderID(ctx, orderID)
}

// Process moves a payment to Processing with the given transaction id.
func (s *Service) Process(ctx context.Context, id, transactionID string) (*Payment, error) {
	return s.transition(ctx, id, func(p *Payment) error {
		return p.Process(transactionID)
	})
}

// Complete finishes a processing payment.
func (s *Service) Complete(ctx context.Context, id string) (*Payment, error) {
	return s.transition(ctx, id, func(p *Payment) error {
		return p.Complete()
	})
}

// Fail fails a processing payment with a reason.
func (s *Service) Fail(ctx context.Context, id, reason string) (*Payment, error) {
	return s.transition(ctx, id, func(p *Payment) error {
		return p.Fail(reason)
	})
}

// Refund refunds a completed payment and publishes the refund event.
func (s *Service) Refund(ctx context.Context, id, reason string) (*Payment, error) {
	p, err := s.transition(ctx, id, func(p *Payment) error {
		return p.Refund(reason)
	})
	if err != nil {
		return nil, err
	}

	ev := events.PaymentRefunded{
		Meta:          events.NewMeta(p.OrderID, "", p.Amount, ""),
		TransactionID: p.TransactionID,
		Reason:        reason,
		RefundedAt:    *p.RefundedAt,
	}
	if err := s.pub.Publish(ctx, events.TopicOrders, p.OrderID, events.TypePaymentRefunded, ev); err != nil {
		s.logger.Error("refund event not published",
			zap.String("payment_id", p.ID),
			zap.Error(err))
	}
	return p, nil
}

func (s *Service) transition(ctx context.Context, id string, fn func(*Payment) error) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	lock := s.orderLock(p.OrderID)
	lock.Lock()
	defer lock.Unlock()

	// Re-fetch under the lock; the first read raced other transitions.
	p, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// HandlePaymentRequest drives a payment for a saga's RequestPaymentProcessing
// command: create, process through the gateway, complete or fail, and publish
// the outcome. Redelivery of a request whose payment already finished
// republishes the outcome instead of charging twice.
func (s *Service) HandlePaymentRequest(ctx context.Context, ev events.RequestPaymentProcessing) error {
	lock := s.orderLock(ev.OrderID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.GetByOrderID(ctx, ev.OrderID)
	if err != nil && !errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	if existing != nil {
		switch existing.Status {
		case StatusCompleted:
			s.logger.Info("payment request redelivered, republishing completion",
				zap.String("order_id", ev.OrderID))
			return s.publishCompleted(ctx, ev, existing)
		case StatusFailed:
			s.logger.Info("payment request redelivered, republishing failure",
				zap.String("order_id", ev.OrderID))
			return s.publishFailed(ctx, ev, existing)
		default:
			// Pending/Processing from a crashed run: fall through and drive
			// it to an outcome below.
		}
	}

	p := existing
	if p == nil {
		p, err = New(ev.OrderID, ev.TotalAmount)
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, p); err != nil {
			return err
		}
	}

	if p.Status == StatusPending {
		// Provisional id until the gateway answers with its own reference.
		if err := p.Process(uuid.NewString()); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, p); err != nil {
			return err
		}
	}

	txID, chargeErr := s.gateway.Charge(ctx, ev.OrderID, ev.TotalAmount)
	if chargeErr != nil {
		if err := p.Fail(chargeErr.Error()); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, p); err != nil {
			return err
		}
		s.logger.Warn("payment failed",
			zap.String("order_id", ev.OrderID),
			zap.String("reason", chargeErr.Error()))
		return s.publishFailed(ctx, ev, p)
	}

	p.TransactionID = txID
	if err := p.Complete(); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return err
	}
	s.logger.Info("payment completed",
		zap.String("order_id", ev.OrderID),
		zap.String("transaction_id", p.TransactionID))
	return s.publishCompleted(ctx, ev, p)
}

func (s *Service) publishCompleted(ctx context.Context, req events.RequestPaymentProcessing, p *Payment) error {
	completed := events.PaymentCompleted{
		Meta:          events.NewMeta(p.OrderID, req.CustomerID, p.Amount, req.CorrelationID),
		TransactionID: p.TransactionID,
		ProcessedAt:   *p.ProcessedAt,
	}
	return s.pub.Publish(ctx, events.TopicOrders, p.OrderID, events.TypePaymentCompleted, completed)
}

func (s *Service) publishFailed(ctx context.Context, req events.RequestPaymentProcessing, p *Payment) error {
	failed := events.PaymentFailed{
		Meta:          events.NewMeta(p.OrderID, req.CustomerID, p.Amount, req.CorrelationID),
		FailureReason: p.FailureReason,
		PaymentMethod: req.PaymentMethod,
	}
	return s.pub.Publish(ctx, events.TopicOrders, p.OrderID, events.TypePaymentFailed, failed)
}
