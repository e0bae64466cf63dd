package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/ariefcatur/go-pos-orders/internal/totals"
)

const DefaultBaseCurrency = "PHP"

type ItemInput struct {
	ProductID int64           `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateOrderInput struct {
	Items          []ItemInput
	Discount       decimal.Decimal
	Note           string
	Currency       string
	ExchangeRate   *ExchangeRate
	TableID        *string
	IdempotencyKey string
	// Rates is the settings snapshot taken by the caller; it is stored on the
	// order and reused at finalization.
	Rates totals.Rates
}

type CreateResult struct {
	OrderID        string `json:"order_id"`
	AlreadyExisted bool   `json:"already_existed"`
}

type Repo struct {
	DB           *pgxpool.Pool
	BaseCurrency string
}

func (r *Repo) baseCurrency() string {
	if r.BaseCurrency == "" {
		return DefaultBaseCurrency
	}
	return r.BaseCurrency
}

func (r *Repo) normalize(in CreateOrderInput) (CreateOrderInput, error) {
	if len(in.Items) == 0 {
		return in, validationError("items required")
	}
	for i, it := range in.Items {
		if it.ProductID <= 0 || it.Qty <= 0 || it.UnitPrice.IsNegative() {
			return in, validationError("invalid item values at index %d", i)
		}
		if err := totals.ValidateAmount(it.UnitPrice); err != nil {
			return in, validationError("item %d: %v", i, err)
		}
	}
	if err := totals.ValidateDiscount(in.Discount); err != nil {
		return in, validationError("%v", err)
	}
	if err := in.Rates.Validate(); err != nil {
		return in, validationError("%v", err)
	}

	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	in.Note = strings.TrimSpace(in.Note)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = r.baseCurrency()
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return in, validationError("currency[%s] is not valid", in.Currency)
	}

	switch {
	case in.ExchangeRate == nil && in.Currency == r.baseCurrency():
		in.ExchangeRate = &ExchangeRate{Code: in.Currency, Rate: decimal.NewFromInt(1)}
	case in.ExchangeRate == nil:
		return in, validationError("exchange_rate required for currency %s", in.Currency)
	default:
		code := strings.ToUpper(in.ExchangeRate.Code)
		if _, err := currency.ParseISO(code); err != nil {
			return in, validationError("exchange_rate code[%s] is not valid", in.ExchangeRate.Code)
		}
		if err := totals.ValidateExchangeRate(in.ExchangeRate.Rate); err != nil {
			return in, validationError("%v", err)
		}
		in.ExchangeRate = &ExchangeRate{Code: code, Rate: in.ExchangeRate.Rate}
	}
	return in, nil
}

// Create persists an order and its items atomically. When the idempotency key
// was already used, the existing order id is returned and nothing is written.
// Stock is not touched here; that happens at finalization.
func (r *Repo) Create(ctx context.Context, in CreateOrderInput) (CreateResult, error) {
	in, err := r.normalize(in)
	if err != nil {
		return CreateResult{}, err
	}

	if in.IdempotencyKey != "" {
		id, found, err := r.findByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return CreateResult{}, err
		}
		if found {
			return CreateResult{OrderID: id, AlreadyExisted: true}, nil
		}
	}

	orderID, err := withTx(ctx, r.DB, func(tx pgx.Tx) (string, error) {
		orderID := uuid.NewString()
		_, err := tx.Exec(ctx, `
			INSERT INTO orders(id, idempotency_key, currency, exchange_code, exchange_rate,
			                   discount, tax_rate, service_rate, note, table_id, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')`,
			orderID, nilIfEmpty(in.IdempotencyKey), in.Currency, in.ExchangeRate.Code, in.ExchangeRate.Rate,
			in.Discount, in.Rates.Tax, in.Rates.Service, in.Note, in.TableID,
		)
		if err != nil {
			return "", fmt.Errorf("insert order: %w", err)
		}

		b := &pgx.Batch{}
		for _, it := range in.Items {
			b.Queue(`INSERT INTO order_items(order_id, product_id, qty, unit_price) VALUES ($1, $2, $3, $4)`,
				orderID, it.ProductID, it.Qty, it.UnitPrice)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return "", fmt.Errorf("insert order items: %w", err)
		}
		return orderID, nil
	})
	if err != nil {
		// a concurrent request with the same key won the insert
		if in.IdempotencyKey != "" && isUniqueViolation(err, "orders_idempotency_key_key") {
			id, found, lookupErr := r.findByIdempotencyKey(ctx, in.IdempotencyKey)
			if lookupErr == nil && found {
				return CreateResult{OrderID: id, AlreadyExisted: true}, nil
			}
		}
		return CreateResult{}, fmt.Errorf("withTx: %w", err)
	}

	return CreateResult{OrderID: orderID}, nil
}

func (r *Repo) findByIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE idempotency_key=$1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: lookup idempotency key: %v", ErrTransient, err)
	}
	return id, true, nil
}

// Get returns the order with its items and payments.
func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	var (
		o      Order
		status string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, idempotency_key, currency, exchange_code, exchange_rate, discount,
		       tax_rate, service_rate, note, table_id, status, created_at, completed_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.IdempotencyKey, &o.Currency, &o.ExchangeRate.Code, &o.ExchangeRate.Rate, &o.Discount,
			&o.TaxRate, &o.ServiceRate, &o.Note, &o.TableID, &status, &o.CreatedAt, &o.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return Order{}, fmt.Errorf("select order: %w", err)
	}
	if o.Status, err = ToStatus(status); err != nil {
		return Order{}, err
	}

	if o.Items, err = loadItems(ctx, r.DB, orderID); err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, method, amount, reference, created_at
		FROM payments WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()
	o.Payments = []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Reference, &p.CreatedAt); err != nil {
			return Order{}, fmt.Errorf("scan payment: %w", err)
		}
		o.Payments = append(o.Payments, p)
	}
	return o, rows.Err()
}

func (r *Repo) GetStatus(ctx context.Context, orderID string) (Status, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return "", fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("select status: %w", err)
	}
	return ToStatus(s)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderID string) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, qty, unit_price FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// aggregate sums quantities per product and sorts by product id so every
// transaction locks stock rows in the same order.
func aggregate(items []OrderItem) []ItemQty {
	sums := lo.MapValues(lo.GroupBy(items, func(it OrderItem) int64 { return it.ProductID }),
		func(group []OrderItem, _ int64) int {
			return lo.SumBy(group, func(it OrderItem) int { return it.Qty })
		})
	ids := lo.Keys(sums)
	slices.Sort(ids)
	return lo.Map(ids, func(id int64, _ int) ItemQty { return ItemQty{ProductID: id, Qty: sums[id]} })
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
