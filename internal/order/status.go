package order

// Status is the order lifecycle state.
type Status string

const (
	StatusCreated           Status = "Created"
	StatusInventoryReserved Status = "InventoryReserved"
	StatusPaymentProcessing Status = "PaymentProcessing"
	StatusCompleted         Status = "Completed"
	StatusFailed            Status = "Failed"
	StatusCancelled         Status = "Cancelled"
)

// transitions holds the legal status moves. Created→Failed covers the saga
// failing an order whose reservation was rejected before anything was held.
var transitions = map[Status][]Status{
	StatusCreated:           {StatusInventoryReserved, StatusCancelled, StatusFailed},
	StatusInventoryReserved: {StatusPaymentProcessing, StatusFailed, StatusCancelled},
	StatusPaymentProcessing: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Terminal reports whether the order permits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusInventoryReserved, StatusPaymentProcessing,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
