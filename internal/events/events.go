package events

import (
	"time"

	"github.com/google/uuid"
)

// Topic names. Partition key is always the order id so every event for one
// order lands on the same partition and keeps its order.
const (
	TopicOrders            = "orders"
	TopicInventoryRequests = "inventory-requests"
	TopicPaymentRequests   = "payment-requests"
	TopicInventoryEvents   = "inventory-events"
	TopicDeadLetter        = "dead-letter-queue"
)

// Event type names, carried in the event-type message header and used for
// dispatch on the consumer side.
const (
	TypeRequestInventoryReservation = "RequestInventoryReservation"
	TypeInventoryReserved           = "InventoryReserved"
	TypeInventoryReservationFailed  = "InventoryReservationFailed"
	TypeReleaseInventory            = "ReleaseInventory"
	TypeInventoryReleased           = "InventoryReleased"
	TypeRequestPaymentProcessing    = "RequestPaymentProcessing"
	TypePaymentCompleted            = "PaymentCompleted"
	TypePaymentFailed               = "PaymentFailed"
	TypePaymentRefunded             = "PaymentRefunded"
	TypeOrderCreated                = "OrderCreated"
	TypeOrderCancelled              = "OrderCancelled"
	TypeOrderCompleted              = "OrderCompleted"
	TypeOrderFailed                 = "OrderFailed"
	TypeOrderStatusChanged          = "OrderStatusChanged"
	TypeStockDepleted               = "StockDepleted"
	TypeStockLevelWarning           = "StockLevelWarning"
	TypeStockLevelCritical          = "StockLevelCritical"
	TypeStockLevelNormalized        = "StockLevelNormalized"
	TypeStockUpdated                = "StockUpdated"
	TypeReorderTriggered            = "ReorderTriggered"
)

// Meta carries the fields common to every integration event.
type Meta struct {
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	OrderID       string    `json:"orderId"`
	CustomerID    string    `json:"customerId,omitempty"`
	TotalAmount   float64   `json:"totalAmount,omitempty"`
}

// NewMeta stamps a fresh event identity for the given order. The correlation
// id traces one saga instance end to end; pass the same value through every
// event of the saga.
func NewMeta(orderID, customerID string, totalAmount float64, correlationID string) Meta {
	return Meta{
		EventID:       uuid.NewString(),
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
		OrderID:       orderID,
		CustomerID:    customerID,
		TotalAmount:   totalAmount,
	}
}

// Item is the line-item contract shared by reservation and release events.
type Item struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Subtotal  float64 `json:"subtotal"`
}

type RequestInventoryReservation struct {
	Meta
	Items []Item `json:"items"`
}

type InventoryReserved struct {
	Meta
	ReservedItems []Item `json:"reservedItems"`
}

type InventoryReservationFailed struct {
	Meta
	Reason string `json:"reason"`
}

type ReleaseInventory struct {
	Meta
	Items []Item `json:"items"`
}

type InventoryReleased struct {
	Meta
	Items []Item `json:"items"`
}

type RequestPaymentProcessing struct {
	Meta
	PaymentMethod string `json:"paymentMethod"`
	Currency      string `json:"currency"`
}

type PaymentCompleted struct {
	Meta
	TransactionID string    `json:"transactionId"`
	ProcessedAt   time.Time `json:"processedAt"`
}

type PaymentFailed struct {
	Meta
	FailureReason string `json:"failureReason"`
	PaymentMethod string `json:"paymentMethod"`
}

type PaymentRefunded struct {
	Meta
	TransactionID string    `json:"transactionId"`
	Reason        string    `json:"reason"`
	RefundedAt    time.Time `json:"refundedAt"`
}

type OrderCreated struct {
	Meta
	Items []Item `json:"items"`
}

type OrderCancelled struct {
	Meta
	Reason string `json:"reason,omitempty"`
}

type OrderCompleted struct {
	Meta
	CompletedAt          time.Time `json:"completedAt"`
	FinalAmount          float64   `json:"finalAmount"`
	PaymentTransactionID string    `json:"paymentTransactionId"`
}

type OrderFailed struct {
	Meta
	FailureReason  string `json:"failureReason"`
	PreviousStatus string `json:"previousStatus"`
}

type OrderStatusChanged struct {
	Meta
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
}

// StockLevel is shared by the stock observation events.
type StockLevel struct {
	EventID    string    `json:"eventId"`
	OccurredAt time.Time `json:"occurredAt"`
	ProductID  string    `json:"productId"`
	Name       string    `json:"name,omitempty"`
	Available  int       `json:"available"`
	Reserved   int       `json:"reserved"`
	Threshold  int       `json:"threshold,omitempty"`
}

// NewStockLevel stamps identity for a stock observation event.
func NewStockLevel(productID, name string, available, reserved, threshold int) StockLevel {
	return StockLevel{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		ProductID:  productID,
		Name:       name,
		Available:  available,
		Reserved:   reserved,
		Threshold:  threshold,
	}
}

type ReorderTriggered struct {
	StockLevel
	ReorderQuantity int `json:"reorderQuantity"`
}

type StockUpdated struct {
	StockLevel
	Delta int `json:"delta"`
}
