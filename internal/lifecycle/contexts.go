package lifecycle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// OrderRequest is the cart as sent to the order API.
type OrderRequest struct {
	Items          []orders.ItemInput   `json:"items"`
	Discount       decimal.Decimal      `json:"discount"`
	Note           string               `json:"note,omitempty"`
	Currency       string               `json:"currency,omitempty"`
	ExchangeRate   *orders.ExchangeRate `json:"exchange_rate,omitempty"`
	TableID        *string              `json:"table_id,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (orders.CreateResult, error)
}

type Finalizer interface {
	FinalizeOrder(ctx context.Context, orderID string, payments []orders.PaymentInput) (orders.FinalizeResult, error)
}

const (
	SourceTerminal = "terminal"
	SourcePayment  = "payment"
	SourceReceipt  = "receipt"
)
