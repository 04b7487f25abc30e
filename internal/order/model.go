package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/samuniv/saga-commerce/internal/errs"
)

// Item is one order line. Subtotal is always Quantity * Price.
type Item struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Subtotal  float64 `json:"subtotal"`
}

// Order is the aggregate the saga drives. Items are mutable only while the
// order is in Created; afterwards only the status moves, through the
// transitions defined in status.go.
type Order struct {
	ID          string    `json:"orderId"`
	CustomerID  string    `json:"customerId"`
	Items       []Item    `json:"items"`
	Status      Status    `json:"status"`
	TotalAmount float64   `json:"totalAmount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// New creates an empty order in Created for the given customer.
func New(customerID string) (*Order, error) {
	if customerID == "" {
		return nil, errs.New(errs.KindInvalidState, "customerId cannot be empty")
	}
	now := time.Now().UTC()
	return &Order{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// AddItem appends a line, merging the quantity into an existing line for the
// same product instead of duplicating it. Only legal while Created.
func (o *Order) AddItem(productID string, quantity int, price float64) error {
	if o.Status != StatusCreated {
		return errs.InvalidState("cannot add items to an order in %s", o.Status)
	}
	if productID == "" {
		return errs.New(errs.KindInvalidState, "productId cannot be empty")
	}
	if quantity < 1 {
		return errs.New(errs.KindInvalidState, "quantity must be at least 1")
	}
	if price < 0 {
		return errs.New(errs.KindInvalidState, "price cannot be negative")
	}

	merged := false
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			o.Items[i].Quantity += quantity
			o.Items[i].Subtotal = float64(o.Items[i].Quantity) * o.Items[i].Price
			merged = true
			break
		}
	}
	if !merged {
		o.Items = append(o.Items, Item{
			ProductID: productID,
			Quantity:  quantity,
			Price:     price,
			Subtotal:  float64(quantity) * price,
		})
	}

	o.recomputeTotal()
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveItem drops the line for productID. Only legal while Created; removing
// an absent product is a no-op, matching AddItem's merge semantics.
func (o *Order) RemoveItem(productID string) error {
	if o.Status != StatusCreated {
		return errs.InvalidState("cannot remove items from an order in %s", o.Status)
	}
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			o.recomputeTotal()
			o.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return nil
}

// UpdateStatus moves the order to next if the transition is legal, stamping
// the update time.
func (o *Order) UpdateStatus(next Status) error {
	if !o.Status.CanTransitionTo(next) {
		e := errs.InvalidState("cannot transition order from %s to %s", o.Status, next)
		e.OrderID = o.ID
		return e
	}
	o.Status = next
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// ValidateState checks the standing invariants: the total equals the sum of
// subtotals and the order has at least one item before entering the saga.
func (o *Order) ValidateState() error {
	if len(o.Items) == 0 {
		return errs.InvalidState("order %s has no items", o.ID)
	}
	var sum float64
	for _, it := range o.Items {
		if it.Quantity < 1 {
			return errs.InvalidState("order %s: item %s has quantity %d", o.ID, it.ProductID, it.Quantity)
		}
		if it.Price < 0 {
			return errs.InvalidState("order %s: item %s has negative price", o.ID, it.ProductID)
		}
		sum += it.Subtotal
	}
	if sum != o.TotalAmount {
		return errs.InvalidState("order %s total %0.2f does not equal item sum %0.2f", o.ID, o.TotalAmount, sum)
	}
	return nil
}

func (o *Order) recomputeTotal() {
	var sum float64
	for _, it := range o.Items {
		sum += it.Subtotal
	}
	o.TotalAmount = sum
}
