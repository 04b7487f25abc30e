package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/samuniv/saga-commerce/internal/dlq"
	"github.com/samuniv/saga-commerce/internal/inventory"
	"github.com/samuniv/saga-commerce/internal/order"
	"github.com/samuniv/saga-commerce/internal/payment"
)

func newRouter(service string, limiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
		})
	})
	return r
}

// NewOrderRouter builds the order service API. A nil limiter disables rate
// limiting.
func NewOrderRouter(svc *order.Service, limiter *RateLimiter) http.Handler {
	r := newRouter("order-service", limiter)
	h := NewOrderHandler(svc)

	r.Post("/api/orders", h.CreateOrder)
	r.Get("/api/orders/{orderId}", h.GetOrder)
	r.Get("/api/orders/{orderId}/status", h.GetOrderStatus)
	r.Post("/api/orders/{orderId}/cancel", h.CancelOrder)
	r.Get("/api/customers/{customerId}/orders", h.ListOrdersByCustomer)

	return r
}

// NewInventoryRouter builds the inventory service API.
func NewInventoryRouter(svc *inventory.Service, limiter *RateLimiter) http.Handler {
	r := newRouter("inventory-service", limiter)
	h := NewInventoryHandler(svc)

	r.Post("/api/inventory", h.CreateItem)
	r.Get("/api/inventory", h.ListItems)
	r.Get("/api/inventory/low-stock", h.ListLowStock)
	r.Get("/api/inventory/{productId}", h.GetItem)
	r.Post("/api/inventory/{productId}/restock", h.Restock)
	r.Post("/api/inventory/{productId}/remove-stock", h.RemoveStock)
	r.Put("/api/inventory/{productId}/price", h.UpdatePrice)

	return r
}

// NewPaymentRouter builds the payment service API, including the DLQ admin
// endpoints.
func NewPaymentRouter(svc *payment.Service, store *dlq.Store, limiter *RateLimiter) http.Handler {
	r := newRouter("payment-service", limiter)
	h := NewPaymentHandler(svc)

	r.Post("/api/payments", h.InitiatePayment)
	r.Get("/api/payments/{paymentId}", h.GetPayment)
	r.Get("/api/orders/{orderId}/payment", h.GetPaymentByOrder)
	r.Post("/api/payments/{paymentId}/process", h.ProcessPayment)
	r.Post("/api/payments/{paymentId}/complete", h.CompletePayment)
	r.Post("/api/payments/{paymentId}/fail", h.FailPayment)
	r.Post("/api/payments/{paymentId}/refund", h.RefundPayment)

	d := NewDLQHandler(store)
	r.Get("/api/dlq/statistics", d.Statistics)
	r.Post("/api/dlq/replay/{key}", d.Replay)
	r.Post("/api/dlq/replay-all", d.ReplayAll)

	return r
}
