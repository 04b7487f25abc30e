package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/samuniv/saga-commerce/internal/errs"
)

// Item tracks the stock counters for one product. Available and Reserved are
// each non-negative at all times; the total on hand is their sum. All
// mutations go through the methods below, serialized per product by Service.
type Item struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	Name        string    `json:"name"`
	SKU         string    `json:"sku"`
	Available   int       `json:"available"`
	Reserved    int       `json:"reserved"`
	UnitPrice   float64   `json:"unitPrice"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NewItem creates stock for a product with an initial on-hand quantity.
func NewItem(productID, name string, initialQuantity int, unitPrice float64, sku string) (*Item, error) {
	if productID == "" {
		return nil, errs.New(errs.KindInvalidState, "productId cannot be empty")
	}
	if initialQuantity < 0 {
		return nil, errs.New(errs.KindInvalidState, "initial quantity cannot be negative")
	}
	if unitPrice <= 0 {
		return nil, errs.New(errs.KindInvalidState, "unit price must be greater than zero")
	}
	return &Item{
		ID:          uuid.NewString(),
		ProductID:   productID,
		Name:        name,
		SKU:         sku,
		Available:   initialQuantity,
		Reserved:    0,
		UnitPrice:   unitPrice,
		LastUpdated: time.Now().UTC(),
	}, nil
}

// TryReserve atomically moves quantity from available to reserved. It returns
// false and changes nothing when available is short; the only error is a
// non-positive quantity.
func (i *Item) TryReserve(quantity int) (bool, error) {
	if quantity <= 0 {
		return false, errs.New(errs.KindInvalidState, "quantity must be greater than zero")
	}
	if i.Available < quantity {
		return false, nil
	}
	i.Available -= quantity
	i.Reserved += quantity
	i.LastUpdated = time.Now().UTC()
	return true, nil
}

// Commit fulfils a reservation: the reserved quantity leaves the building,
// shrinking the total on hand.
func (i *Item) Commit(quantity int) error {
	if quantity <= 0 {
		return errs.New(errs.KindInvalidState, "quantity must be greater than zero")
	}
	if quantity > i.Reserved {
		return errs.InvalidState("cannot commit %d of product %s, only %d reserved", quantity, i.ProductID, i.Reserved)
	}
	i.Reserved -= quantity
	i.LastUpdated = time.Now().UTC()
	return nil
}

// Release moves a reserved quantity back to available (compensation path).
func (i *Item) Release(quantity int) error {
	if quantity <= 0 {
		return errs.New(errs.KindInvalidState, "quantity must be greater than zero")
	}
	if quantity > i.Reserved {
		return errs.InvalidState("cannot release %d of product %s, only %d reserved", quantity, i.ProductID, i.Reserved)
	}
	i.Reserved -= quantity
	i.Available += quantity
	i.LastUpdated = time.Now().UTC()
	return nil
}

// Restock adds stock outside of any reservation.
func (i *Item) Restock(quantity int) error {
	if quantity <= 0 {
		return errs.New(errs.KindInvalidState, "quantity must be greater than zero")
	}
	i.Available += quantity
	i.LastUpdated = time.Now().UTC()
	return nil
}

// RemoveStock takes unreserved stock off hand. The total can never drop
// below the reserved amount, which is exactly the available floor.
func (i *Item) RemoveStock(quantity int) error {
	if quantity <= 0 {
		return errs.New(errs.KindInvalidState, "quantity must be greater than zero")
	}
	if quantity > i.Available {
		return errs.InvalidState("cannot remove %d of product %s, only %d available", quantity, i.ProductID, i.Available)
	}
	i.Available -= quantity
	i.LastUpdated = time.Now().UTC()
	return nil
}

// UpdateUnitPrice changes the unit price.
func (i *Item) UpdateUnitPrice(price float64) error {
	if price <= 0 {
		return errs.New(errs.KindInvalidState, "unit price must be greater than zero")
	}
	i.UnitPrice = price
	i.LastUpdated = time.Now().UTC()
	return nil
}

// Total is the quantity on hand: available plus reserved.
func (i *Item) Total() int {
	return i.Available + i.Reserved
}
