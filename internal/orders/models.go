package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"` // base currency
	Stock     int             `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ExchangeRate is the display-currency snapshot captured when an order is created.
// Rate is units of Code per one unit of base currency.
type ExchangeRate struct {
	Code string          `json:"code"`
	Rate decimal.Decimal `json:"rate"`
}

type Order struct {
	ID             string          `json:"id"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Currency       string          `json:"currency"`
	ExchangeRate   ExchangeRate    `json:"exchange_rate"`
	Discount       decimal.Decimal `json:"discount"` // fraction of subtotal
	TaxRate        decimal.Decimal `json:"tax_rate"`
	ServiceRate    decimal.Decimal `json:"service_rate"`
	Note           string          `json:"note"`
	TableID        *string         `json:"table_id,omitempty"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Items          []OrderItem     `json:"items"`
	Payments       []Payment       `json:"payments"`
}

type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"` // captured at creation, never re-read
}

type Payment struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"order_id"`
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type StockMovement struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	OrderID   *string   `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SalesSummary is the denormalized row the reporting side reads.
type SalesSummary struct {
	OrderID       string          `json:"order_id"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ServiceCharge decimal.Decimal `json:"service_charge"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	CompletedAt   time.Time       `json:"completed_at"`
}
