package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderCompleted = "OrderCompleted"
	EventStockLow       = "StockLow"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID        string      `json:"order_id"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Currency       string      `json:"currency"`
	Items          []OrderItem `json:"items"`
}

type OrderCompletedPayload struct {
	OrderID     string          `json:"order_id"`
	Items       []ItemQty       `json:"items"`
	Methods     []string        `json:"methods"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	CompletedAt time.Time       `json:"completed_at"`
}

type StockLowPayload struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}
