package payment

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/events"
)

// PaymentRequestedHandler consumes RequestPaymentProcessing commands from the
// payment-requests topic and drives the payment to an outcome.
func PaymentRequestedHandler(svc *Service, logger *zap.Logger) events.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var ev events.RequestPaymentProcessing
		if err := json.Unmarshal(payload, &ev); err != nil {
			return errs.Wrap(errs.KindInvalidState, err, "decoding payment request")
		}
		logger.Info("payment requested",
			zap.String("order_id", ev.OrderID),
			zap.Float64("amount", ev.TotalAmount))
		return svc.HandlePaymentRequest(ctx, ev)
	}
}
