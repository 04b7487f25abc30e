package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/samuniv/saga-commerce/internal/errs"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusRefunded   Status = "Refunded"
)

// Terminal reports whether the payment permits no further transition except
// Completed→Refunded.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Payment is one order's payment. It is never deleted, only transitioned;
// each transition stamps its own timestamp. Undefined transitions fail with
// an InvalidState error and leave the payment untouched.
type Payment struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"orderId"`
	Amount        float64    `json:"amount"`
	Status        Status     `json:"status"`
	TransactionID string     `json:"transactionId,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	RefundReason  string     `json:"refundReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	RefundedAt    *time.Time `json:"refundedAt,omitempty"`
}

// New creates a pending payment for an order.
func New(orderID string, amount float64) (*Payment, error) {
	if orderID == "" {
		return nil, errs.New(errs.KindInvalidState, "orderId cannot be empty")
	}
	if amount <= 0 {
		return nil, errs.New(errs.KindInvalidState, "amount must be greater than zero")
	}
	now := time.Now().UTC()
	return &Payment{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Process moves Pending→Processing, attaching the transaction id.
func (p *Payment) Process(transactionID string) error {
	if p.Status != StatusPending {
		return p.invalid("process")
	}
	if transactionID == "" {
		return errs.New(errs.KindInvalidState, "transaction id is required")
	}
	p.Status = StatusProcessing
	p.TransactionID = transactionID
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete moves Processing→Completed, stamping the processed time.
func (p *Payment) Complete() error {
	if p.Status != StatusProcessing {
		return p.invalid("complete")
	}
	now := time.Now().UTC()
	p.Status = StatusCompleted
	p.ProcessedAt = &now
	p.UpdatedAt = now
	return nil
}

// Fail moves Processing→Failed with a reason, stamping the failure time.
func (p *Payment) Fail(reason string) error {
	if p.Status != StatusProcessing {
		return p.invalid("fail")
	}
	now := time.Now().UTC()
	p.Status = StatusFailed
	p.FailureReason = reason
	p.FailedAt = &now
	p.UpdatedAt = now
	return nil
}

// Refund moves Completed→Refunded with a reason, stamping the refund time.
func (p *Payment) Refund(reason string) error {
	if p.Status != StatusCompleted {
		return p.invalid("refund")
	}
	now := time.Now().UTC()
	p.Status = StatusRefunded
	p.RefundReason = reason
	p.RefundedAt = &now
	p.UpdatedAt = now
	return nil
}

func (p *Payment) invalid(op string) error {
	e := errs.InvalidState("cannot %s payment in %s status", op, p.Status)
	e.OrderID = p.OrderID
	return e
}
