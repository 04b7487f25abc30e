package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

// publisher emits observational stock events; satisfied by *kafka.Producer.
type publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, event any) error
}

// Thresholds tune the stock-level side effects of every mutation.
type Thresholds struct {
	WarningLevel      int
	CriticalLevel     int
	NormalLevel       int
	ReorderPoint      int
	ReorderQuantity   int
	EnableAutoReorder bool
}

// DefaultThresholds mirror the shipped configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningLevel:      10,
		CriticalLevel:     5,
		NormalLevel:       20,
		ReorderPoint:      15,
		ReorderQuantity:   50,
		EnableAutoReorder: true,
	}
}

// Service owns all mutations of inventory counters. The service itself is
// stateless: counter updates serialize per product through the repository's
// row-locked transactions, and reserve/release idempotency lives in the
// persisted per-order reservation record.
type Service struct {
	repo       Repository
	pub        publisher
	thresholds Thresholds
	logger     *zap.Logger
}

func NewService(repo Repository, pub publisher, thresholds Thresholds, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		pub:        pub,
		thresholds: thresholds,
		logger:     logger,
	}
}

// CreateItem registers stock for a new product. A product can have only one
// inventory item.
func (s *Service) CreateItem(ctx context.Context, productID, name string, quantity int, unitPrice float64, sku string) (*Item, error) {
	exists, err := s.repo.ExistsByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.New(errs.KindConflict, "inventory item for product %s already exists", productID)
	}

	item, err := NewItem(productID, name, quantity, unitPrice, sku)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("inventory item created",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity))
	s.checkStockLevels(ctx, item)
	return item, nil
}

func (s *Service) GetByProductID(ctx context.Context, productID string) (*Item, error) {
	return s.repo.GetByProductID(ctx, productID)
}

func (s *Service) List(ctx context.Context) ([]Item, error) {
	return s.repo.List(ctx)
}

func (s *Service) ListLowStock(ctx context.Context, threshold int) ([]Item, error) {
	return s.repo.ListLowStock(ctx, threshold)
}

// TryReserve attempts to move quantity from available to reserved for one
// product. A shortfall returns false with no change; the caller decides what
// that means for the order.
func (s *Service) TryReserve(ctx context.Context, productID string, quantity int) (bool, error) {
	reserved := false
	item, err := s.repo.Mutate(ctx, productID, func(item *Item) error {
		ok, err := item.TryReserve(quantity)
		if err != nil {
			return err
		}
		reserved = ok
		return nil
	})
	if err != nil {
		return false, err
	}

	if !reserved {
		s.logger.Warn("reservation rejected",
			zap.String("product_id", productID),
			zap.Int("requested", quantity),
			zap.Int("available", item.Available))
		s.checkStockLevels(ctx, item)
		return false, nil
	}

	s.logger.Info("stock reserved",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("available", item.Available))
	s.checkStockLevels(ctx, item)
	return true, nil
}

// ReserveForOrder reserves every line or nothing: a short line rolls back the
// lines already reserved for this request and reports the shortfall. The
// reservation record persisted at the end makes a redelivered request a
// no-op, even on a fresh process.
func (s *Service) ReserveForOrder(ctx context.Context, orderID string, lines []Line) error {
	rec, err := s.repo.GetReservation(ctx, orderID)
	if err != nil && !errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	if rec != nil {
		s.logger.Info("reservation request redelivered, already recorded",
			zap.String("order_id", orderID),
			zap.String("state", string(rec.State)))
		return nil
	}

	reserved := make([]Line, 0, len(lines))
	for _, line := range lines {
		ok, err := s.TryReserve(ctx, line.ProductID, line.Quantity)
		if err != nil {
			s.rollback(ctx, orderID, reserved)
			return err
		}
		if !ok {
			item, getErr := s.repo.GetByProductID(ctx, line.ProductID)
			available := 0
			if getErr == nil {
				available = item.Available
			}
			s.rollback(ctx, orderID, reserved)
			e := errs.InsufficientStock(line.ProductID, line.Quantity, available)
			e.OrderID = orderID
			return e
		}
		reserved = append(reserved, line)
	}

	now := time.Now().UTC()
	rec = &Reservation{
		OrderID:   orderID,
		State:     ReservationReserved,
		Lines:     reserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.SaveReservation(ctx, rec); err != nil {
		// Without the record a redelivery would reserve twice, so undo the
		// counters and let the command retry from scratch.
		s.rollback(ctx, orderID, reserved)
		return err
	}
	return nil
}

func (s *Service) rollback(ctx context.Context, orderID string, reserved []Line) {
	for _, line := range reserved {
		if err := s.Release(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger.Error("rollback of partial reservation failed",
				zap.String("order_id", orderID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		}
	}
}

// ReleaseForOrder is the compensation path: put every line back. The stored
// reservation record supplies the lines when the command carries none and
// flips to Released afterwards, so a redelivered release is a no-op.
func (s *Service) ReleaseForOrder(ctx context.Context, orderID string, lines []Line) error {
	rec, err := s.repo.GetReservation(ctx, orderID)
	if err != nil && !errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	if rec != nil {
		if rec.State == ReservationReleased {
			s.logger.Info("release request redelivered, already released",
				zap.String("order_id", orderID))
			return nil
		}
		if len(lines) == 0 {
			lines = rec.Lines
		}
	}

	var firstErr error
	for _, line := range lines {
		if err := s.Release(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger.Error("inventory release failed",
				zap.String("order_id", orderID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	now := time.Now().UTC()
	if rec == nil {
		rec = &Reservation{OrderID: orderID, Lines: lines, CreatedAt: now}
	}
	rec.State = ReservationReleased
	rec.UpdatedAt = now
	return s.repo.SaveReservation(ctx, rec)
}

// Commit fulfils part of a reservation, shrinking the total on hand.
func (s *Service) Commit(ctx context.Context, productID string, quantity int) error {
	return s.mutate(ctx, productID, func(item *Item) error {
		return item.Commit(quantity)
	})
}

// Release moves a reserved quantity back to available.
func (s *Service) Release(ctx context.Context, productID string, quantity int) error {
	return s.mutate(ctx, productID, func(item *Item) error {
		return item.Release(quantity)
	})
}

// Restock adds stock, publishing a stock-updated event.
func (s *Service) Restock(ctx context.Context, productID string, quantity int) error {
	err := s.mutate(ctx, productID, func(item *Item) error {
		return item.Restock(quantity)
	})
	if err != nil {
		return err
	}
	s.publishStockUpdated(ctx, productID, quantity)
	return nil
}

// RemoveStock takes unreserved stock off hand.
func (s *Service) RemoveStock(ctx context.Context, productID string, quantity int) error {
	err := s.mutate(ctx, productID, func(item *Item) error {
		return item.RemoveStock(quantity)
	})
	if err != nil {
		return err
	}
	s.publishStockUpdated(ctx, productID, -quantity)
	return nil
}

// UpdateUnitPrice changes the unit price of a product's stock.
func (s *Service) UpdateUnitPrice(ctx context.Context, productID string, price float64) error {
	return s.mutate(ctx, productID, func(item *Item) error {
		return item.UpdateUnitPrice(price)
	})
}

func (s *Service) mutate(ctx context.Context, productID string, fn func(*Item) error) error {
	item, err := s.repo.Mutate(ctx, productID, fn)
	if err != nil {
		return err
	}
	s.checkStockLevels(ctx, item)
	return nil
}

// checkStockLevels emits observational level events after a mutation. These
// never affect the success or failure of the operation that triggered them.
func (s *Service) checkStockLevels(ctx context.Context, item *Item) {
	var eventType string
	var threshold int
	switch {
	case item.Available == 0:
		eventType, threshold = events.TypeStockDepleted, 0
	case item.Available <= s.thresholds.CriticalLevel:
		eventType, threshold = events.TypeStockLevelCritical, s.thresholds.CriticalLevel
	case item.Available <= s.thresholds.WarningLevel:
		eventType, threshold = events.TypeStockLevelWarning, s.thresholds.WarningLevel
	case item.Available >= s.thresholds.NormalLevel:
		eventType, threshold = events.TypeStockLevelNormalized, s.thresholds.NormalLevel
	}

	if eventType != "" {
		ev := events.NewStockLevel(item.ProductID, item.Name, item.Available, item.Reserved, threshold)
		if err := s.pub.Publish(ctx, events.TopicInventoryEvents, item.ProductID, eventType, ev); err != nil {
			s.logger.Warn("stock level event not published",
				zap.String("event_type", eventType),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	if s.thresholds.EnableAutoReorder && item.Available <= s.thresholds.ReorderPoint {
		ev := events.ReorderTriggered{
			StockLevel:      events.NewStockLevel(item.ProductID, item.Name, item.Available, item.Reserved, s.thresholds.ReorderPoint),
			ReorderQuantity: s.thresholds.ReorderQuantity,
		}
		if err := s.pub.Publish(ctx, events.TopicInventoryEvents, item.ProductID, events.TypeReorderTriggered, ev); err != nil {
			s.logger.Warn("reorder event not published",
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}

func (s *Service) publishStockUpdated(ctx context.Context, productID string, delta int) {
	item, err := s.repo.GetByProductID(ctx, productID)
	if err != nil {
		return
	}
	ev := events.StockUpdated{
		StockLevel: events.NewStockLevel(item.ProductID, item.Name, item.Available, item.Reserved, 0),
		Delta:      delta,
	}
	if err := s.pub.Publish(ctx, events.TopicInventoryEvents, productID, events.TypeStockUpdated, ev); err != nil {
		s.logger.Warn("stock updated event not published",
			zap.String("product_id", productID),
			zap.Error(err))
	}
}
