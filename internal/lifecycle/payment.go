package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// PaymentWindow finalizes an order with the operator's payments and tells the
// other contexts about it.
type PaymentWindow struct {
	Finalizer Finalizer
	Channel   Channel
	Log       *zap.Logger
}

// Pay treats AlreadyCompleted as success. Insufficient stock is returned as
// is so the operator can see the shortfall.
func (w *PaymentWindow) Pay(ctx context.Context, orderID string, payments []orders.PaymentInput) (orders.FinalizeResult, error) {
	log := w.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("order_id", orderID))

	res, err := w.Finalizer.FinalizeOrder(ctx, orderID, payments)
	if err != nil {
		return orders.FinalizeResult{}, fmt.Errorf("finalize: %w", err)
	}
	if err := w.Channel.Publish(ctx, newMessage(MsgCompleted, orderID, SourcePayment)); err != nil {
		log.Warn("announce completed", zap.Error(err))
	}
	log.Info("payment recorded", zap.Bool("already_completed", res.AlreadyCompleted))
	return res, nil
}
