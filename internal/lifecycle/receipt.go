package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

const DefaultAckTimeout = 6 * time.Second

type ReceiptOutcome struct {
	// Acknowledged is true when a completion notice arrived in time.
	Acknowledged bool
	// FellBack is true when the receipt window finalized the order itself.
	FellBack         bool
	AlreadyCompleted bool
}

// ReceiptWindow prints a receipt and makes sure the order does not stay
// pending when no other context confirms completion.
type ReceiptWindow struct {
	Finalizer Finalizer
	Channel   Channel
	Timeout   time.Duration
	Log       *zap.Logger
}

// Print announces the receipt, then waits up to Timeout for a completion
// notice. On expiry it finalizes with the print_fallback method for amount.
// The fallback runs at most once per call.
func (w *ReceiptWindow) Print(ctx context.Context, orderID string, amount decimal.Decimal) (ReceiptOutcome, error) {
	log := w.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("order_id", orderID))
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}

	sub, err := w.Channel.Subscribe(ctx, orderID)
	if err != nil {
		return ReceiptOutcome{}, fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	if err := w.Channel.Publish(ctx, newMessage(MsgPrinted, orderID, SourceReceipt)); err != nil {
		log.Warn("announce printed", zap.Error(err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			return ReceiptOutcome{}, ctx.Err()
		case m, ok := <-sub.C():
			if !ok {
				break wait
			}
			if m.Type == MsgCompleted && m.Source != SourceReceipt {
				return ReceiptOutcome{Acknowledged: true}, nil
			}
		case <-timer.C:
			break wait
		}
	}

	log.Warn("no completion notice, finalizing with fallback", zap.Duration("timeout", timeout))
	res, err := w.Finalizer.FinalizeOrder(ctx, orderID, []orders.PaymentInput{
		{Method: orders.MethodPrintFallback, Amount: amount},
	})
	if err != nil {
		return ReceiptOutcome{FellBack: true}, fmt.Errorf("fallback finalize: %w", err)
	}
	if err := w.Channel.Publish(ctx, newMessage(MsgCompleted, orderID, SourceReceipt)); err != nil {
		log.Warn("announce completed", zap.Error(err))
	}
	return ReceiptOutcome{FellBack: true, AlreadyCompleted: res.AlreadyCompleted}, nil
}
