package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

type fakeRepository struct {
	mu           sync.Mutex
	items        map[string]Item
	reservations map[string]Reservation

	saveReservationErr error
}

func newFakeRepository(items ...*Item) *fakeRepository {
	f := &fakeRepository{
		items:        make(map[string]Item),
		reservations: make(map[string]Reservation),
	}
	for _, it := range items {
		f.items[it.ProductID] = *it
	}
	return f
}

func (f *fakeRepository) GetByProductID(ctx context.Context, productID string) (*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[productID]
	if !ok {
		return nil, errs.NotFound("inventory item for product %s not found", productID)
	}
	cp := it
	return &cp, nil
}

func (f *fakeRepository) ExistsByProductID(ctx context.Context, productID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[productID]
	return ok, nil
}

func (f *fakeRepository) Save(ctx context.Context, item *Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ProductID] = *item
	return nil
}

// Mutate holds the lock across read-apply-write, standing in for the row
// lock the real repository takes.
func (f *fakeRepository) Mutate(ctx context.Context, productID string, fn func(*Item) error) (*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[productID]
	if !ok {
		return nil, errs.NotFound("inventory item for product %s not found", productID)
	}
	if err := fn(&it); err != nil {
		return nil, err
	}
	f.items[productID] = it
	cp := it
	return &cp, nil
}

func (f *fakeRepository) GetReservation(ctx context.Context, orderID string) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[orderID]
	if !ok {
		return nil, errs.NotFound("reservation for order %s not found", orderID)
	}
	cp := res
	return &cp, nil
}

func (f *fakeRepository) SaveReservation(ctx context.Context, res *Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveReservationErr != nil {
		return f.saveReservationErr
	}
	f.reservations[res.OrderID] = *res
	return nil
}

func (f *fakeRepository) List(ctx context.Context) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Item, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeRepository) ListLowStock(ctx context.Context, threshold int) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Item
	for _, it := range f.items {
		if it.Available <= threshold {
			out = append(out, it)
		}
	}
	return out, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (c *capturingPublisher) Publish(ctx context.Context, topic, key, eventType string, event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
	return nil
}

func (c *capturingPublisher) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func mustItem(t *testing.T, productID string, available int) *Item {
	t.Helper()
	item, err := NewItem(productID, "Widget "+productID, available, 9.99, "SKU-"+productID)
	require.NoError(t, err)
	return item
}

// quietThresholds keep level events out of tests that are not about them.
func quietThresholds() Thresholds {
	return Thresholds{WarningLevel: -1, CriticalLevel: -1, NormalLevel: 1 << 30, ReorderPoint: -1}
}

func TestCreateItemConflict(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 5))
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	_, err := svc.CreateItem(context.Background(), "p1", "Widget", 5, 9.99, "SKU-1")
	assert.True(t, errs.IsKind(err, errs.KindConflict))

	item, err := svc.CreateItem(context.Background(), "p2", "Widget", 5, 9.99, "SKU-2")
	require.NoError(t, err)
	assert.Equal(t, 5, item.Available)
}

func TestReserveForOrderAllOrNothing(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 10), mustItem(t, "p2", 1))
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	err := svc.ReserveForOrder(context.Background(), "order-1", []Line{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p2", Quantity: 2},
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInsufficientStock))

	var kerr *errs.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "order-1", kerr.OrderID)
	assert.Equal(t, "p2", kerr.ProductID)
	assert.Equal(t, 2, kerr.Requested)
	assert.Equal(t, 1, kerr.Available)

	// The p1 line was rolled back.
	p1, err := repo.GetByProductID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Available)
	assert.Zero(t, p1.Reserved)
}

func TestReserveForOrderIdempotent(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 10))
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	lines := []Line{{ProductID: "p1", Quantity: 4}}
	require.NoError(t, svc.ReserveForOrder(context.Background(), "order-1", lines))
	require.NoError(t, svc.ReserveForOrder(context.Background(), "order-1", lines), "redelivery is a no-op")

	p1, err := repo.GetByProductID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 6, p1.Available, "reserved once, not twice")
	assert.Equal(t, 4, p1.Reserved)
}

func TestReleaseForOrderIdempotent(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 10))
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	lines := []Line{{ProductID: "p1", Quantity: 4}}
	require.NoError(t, svc.ReserveForOrder(context.Background(), "order-1", lines))
	require.NoError(t, svc.ReleaseForOrder(context.Background(), "order-1", lines))
	require.NoError(t, svc.ReleaseForOrder(context.Background(), "order-1", lines), "redelivery is a no-op")

	p1, err := repo.GetByProductID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Available)
	assert.Zero(t, p1.Reserved)
}

func TestReleaseForOrderUsesRecordedLines(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 10))
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	require.NoError(t, svc.ReserveForOrder(context.Background(), "order-1", []Line{{ProductID: "p1", Quantity: 4}}))
	require.NoError(t, svc.ReleaseForOrder(context.Background(), "order-1", nil), "empty lines fall back to the recorded reservation")

	p1, err := repo.GetByProductID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Available)
}

func TestReserveForOrderIdempotentAcrossRestart(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 10))
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	lines := []Line{{ProductID: "p1", Quantity: 4}}
	require.NoError(t, svc.ReserveForOrder(context.Background(), "order-1", lines))

	// A fresh service over the same storage, as after a crash. The
	// redelivered command must find the persisted record and do nothing.
	restarted := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())
	require.NoError(t, restarted.ReserveForOrder(context.Background(), "order-1", lines))

	p1, err := repo.GetByProductID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 6, p1.Available, "reserved once, not once per process")
	assert.Equal(t, 4, p1.Reserved)
}

func TestReleaseForOrderIdempotentAcrossRestart(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 10))
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	lines := []Line{{ProductID: "p1", Quantity: 4}}
	require.NoError(t, svc.ReserveForOrder(context.Background(), "order-1", lines))
	require.NoError(t, svc.ReleaseForOrder(context.Background(), "order-1", lines))

	restarted := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())
	require.NoError(t, restarted.ReleaseForOrder(context.Background(), "order-1", lines))

	p1, err := repo.GetByProductID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Available, "released once, not once per process")
	assert.Zero(t, p1.Reserved)

	rec, err := repo.GetReservation(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, ReservationReleased, rec.State)
}

func TestReserveForOrderRollsBackWhenRecordNotPersisted(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 10))
	repo.saveReservationErr = errs.New(errs.KindTransientChannel, "db down")
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	err := svc.ReserveForOrder(context.Background(), "order-1", []Line{{ProductID: "p1", Quantity: 4}})
	require.Error(t, err)

	p1, err := repo.GetByProductID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Available, "counters restored so the retry starts clean")
	assert.Zero(t, p1.Reserved)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	const initial = 50
	repo := newFakeRepository(mustItem(t, "p1", initial))
	svc := NewService(repo, &capturingPublisher{}, quietThresholds(), zap.NewNop())

	const workers = 40
	var wg sync.WaitGroup
	granted := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := svc.TryReserve(context.Background(), "p1", 3)
			if err != nil {
				t.Errorf("TryReserve: %v", err)
				return
			}
			granted[i] = ok
		}(i)
	}
	wg.Wait()

	grantedTotal := 0
	for _, ok := range granted {
		if ok {
			grantedTotal += 3
		}
	}

	p1, err := repo.GetByProductID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, grantedTotal, p1.Reserved)
	assert.Equal(t, initial-grantedTotal, p1.Available)
	assert.LessOrEqual(t, grantedTotal, initial)
	assert.GreaterOrEqual(t, p1.Available, 0)
}

func TestStockLevelEvents(t *testing.T) {
	tests := map[string]struct {
		available int
		reserve   int
		want      string
	}{
		"depleted":   {available: 3, reserve: 3, want: events.TypeStockDepleted},
		"critical":   {available: 8, reserve: 4, want: events.TypeStockLevelCritical},
		"warning":    {available: 12, reserve: 4, want: events.TypeStockLevelWarning},
		"normalized": {available: 30, reserve: 5, want: events.TypeStockLevelNormalized},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			repo := newFakeRepository(mustItem(t, "p1", tt.available))
			pub := &capturingPublisher{}
			svc := NewService(repo, pub, DefaultThresholds(), zap.NewNop())

			ok, err := svc.TryReserve(context.Background(), "p1", tt.reserve)
			require.NoError(t, err)
			require.True(t, ok)

			assert.Equal(t, 1, pub.count(tt.want))
		})
	}
}

func TestAutoReorder(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 20))
	pub := &capturingPublisher{}
	svc := NewService(repo, pub, DefaultThresholds(), zap.NewNop())

	ok, err := svc.TryReserve(context.Background(), "p1", 6)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 1, pub.count(events.TypeReorderTriggered), "available 14 is at or below the reorder point")
}

func TestRestockPublishesStockUpdated(t *testing.T) {
	repo := newFakeRepository(mustItem(t, "p1", 5))
	pub := &capturingPublisher{}
	svc := NewService(repo, pub, quietThresholds(), zap.NewNop())

	require.NoError(t, svc.Restock(context.Background(), "p1", 10))
	assert.Equal(t, 1, pub.count(events.TypeStockUpdated))

	require.NoError(t, svc.RemoveStock(context.Background(), "p1", 2))
	assert.Equal(t, 2, pub.count(events.TypeStockUpdated))
}
