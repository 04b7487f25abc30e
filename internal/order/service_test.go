package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

type fakeRepo struct {
	orders map[string]*Order
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: make(map[string]*Order)}
}

func (f *fakeRepo) Create(ctx context.Context, o *Order) error {
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, errs.NotFound("order %s not found", orderID)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	var out []Order
	for _, o := range f.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeRepo) Update(ctx context.Context, o *Order) error {
	if _, ok := f.orders[o.ID]; !ok {
		return errs.NotFound("order %s not found", o.ID)
	}
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeRepo) ListStaleCreated(ctx context.Context, olderThan time.Time) ([]Order, error) {
	var out []Order
	for _, o := range f.orders {
		if o.Status == StatusCreated && o.CreatedAt.Before(olderThan) {
			out = append(out, *o)
		}
	}
	return out, nil
}

type fakePublisher struct {
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	topic     string
	eventType string
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key, eventType string, event any) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedEvent{topic: topic, eventType: eventType})
	return nil
}

func (f *fakePublisher) count(eventType string) int {
	n := 0
	for _, p := range f.published {
		if p.eventType == eventType {
			n++
		}
	}
	return n
}

type fakeSaga struct {
	started int
	err     error
}

func (f *fakeSaga) Start(ctx context.Context, o *Order) error {
	f.started++
	return f.err
}

func TestServiceCreateStartsSaga(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	sg := &fakeSaga{}
	svc := NewService(repo, sg, pub, zap.NewNop())

	o, err := svc.Create(context.Background(), "cust-1", []NewItem{
		{ProductID: "p1", Quantity: 2, Price: 10.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, o.TotalAmount)
	assert.Equal(t, 1, sg.started)
	assert.Equal(t, 1, pub.count(events.TypeOrderCreated))

	stored, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, stored.Status)
}

func TestServiceCreateRejectsEmptyItems(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeSaga{}, &fakePublisher{}, zap.NewNop())

	_, err := svc.Create(context.Background(), "cust-1", nil)
	assert.True(t, errs.IsKind(err, errs.KindInvalidState))
}

func TestServiceCreateSurvivesSagaStartFailure(t *testing.T) {
	repo := newFakeRepo()
	sg := &fakeSaga{err: errors.New("broker down")}
	svc := NewService(repo, sg, &fakePublisher{}, zap.NewNop())

	o, err := svc.Create(context.Background(), "cust-1", []NewItem{
		{ProductID: "p1", Quantity: 1, Price: 5.0},
	})
	require.NoError(t, err, "order creation succeeds even when the saga publish fails")

	stored, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, stored.Status, "order stays in Created for the cleanup sweep")
}

func TestServiceCancel(t *testing.T) {
	tests := map[string]struct {
		status      Status
		wantErr     bool
		wantRelease int
	}{
		"created cancels without release": {StatusCreated, false, 0},
		"reserved cancels with release":   {StatusInventoryReserved, false, 1},
		"payment processing cannot":       {StatusPaymentProcessing, true, 0},
		"completed cannot be cancelled":   {StatusCompleted, true, 0},
		"failed cannot be cancelled":      {StatusFailed, true, 0},
		"cancelled order stays cancelled": {StatusCancelled, true, 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			repo := newFakeRepo()
			pub := &fakePublisher{}
			svc := NewService(repo, &fakeSaga{}, pub, zap.NewNop())

			o, err := New("cust-1")
			require.NoError(t, err)
			require.NoError(t, o.AddItem("p1", 1, 10.0))
			o.Status = tt.status
			require.NoError(t, repo.Create(context.Background(), o))

			_, err = svc.Cancel(context.Background(), o.ID, "changed my mind")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsKind(err, errs.KindInvalidState))
				return
			}
			require.NoError(t, err)

			stored, err := repo.GetByID(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, stored.Status)
			assert.Equal(t, tt.wantRelease, pub.count(events.TypeReleaseInventory))
			assert.Equal(t, 1, pub.count(events.TypeOrderCancelled))
		})
	}
}

func TestServiceCancelMissingOrder(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeSaga{}, &fakePublisher{}, zap.NewNop())

	_, err := svc.Cancel(context.Background(), "nope", "")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
