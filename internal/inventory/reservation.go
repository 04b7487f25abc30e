package inventory

import "time"

// Line is one product/quantity pair in a reservation or release request.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ReservationState tracks where an order's reservation sits in its lifecycle.
type ReservationState string

const (
	ReservationReserved ReservationState = "Reserved"
	ReservationReleased ReservationState = "Released"
)

// Reservation is the durable record of what was reserved for one order. It is
// keyed by order id, so a redelivered reserve or release command finds the
// record and becomes a no-op, including after a restart.
type Reservation struct {
	OrderID   string
	State     ReservationState
	Lines     []Line
	CreatedAt time.Time
	UpdatedAt time.Time
}
