package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

const (
	ReasonOrderFinalized = "order_finalized"
	ReasonLegacyDeduct   = "legacy_deduct"
	ReasonDecrement      = "decrement"
)

type DeductResult struct {
	AlreadyApplied bool `json:"already_applied"`
}

// StockLedger owns the per-product stock counts. Every change locks the
// product row before reading it.
type StockLedger struct{ DB *pgxpool.Pool }

// Decrement removes qty units of one product. Stock never goes below zero.
func (l *StockLedger) Decrement(ctx context.Context, productID int64, qty int) error {
	if productID <= 0 || qty <= 0 {
		return validationError("invalid decrement (product=%d, qty=%d)", productID, qty)
	}
	_, err := withTx(ctx, l.DB, func(tx pgx.Tx) (struct{}, error) {
		return struct{}{}, decrementAll(ctx, tx, []ItemQty{{ProductID: productID, Qty: qty}}, ReasonDecrement, nil)
	})
	return err
}

// DeductAll is the bill-out-then-deduct path used for carts that never became
// orders. It is all-or-nothing across items and guarded by a caller supplied
// key: a replayed key reports AlreadyApplied without touching stock again.
func (l *StockLedger) DeductAll(ctx context.Context, key string, items []ItemQty) (DeductResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return DeductResult{}, validationError("deduction key required")
	}
	if len(items) == 0 {
		return DeductResult{}, validationError("items required")
	}
	for i, it := range items {
		if it.ProductID <= 0 || it.Qty <= 0 {
			return DeductResult{}, validationError("invalid item data at index %d (id=%d, qty=%d)", i, it.ProductID, it.Qty)
		}
	}

	orderItems := lo.Map(items, func(it ItemQty, _ int) OrderItem { return OrderItem{ProductID: it.ProductID, Qty: it.Qty} })

	return withTx(ctx, l.DB, func(tx pgx.Tx) (DeductResult, error) {
		tag, err := tx.Exec(ctx, `INSERT INTO stock_deductions(deduction_key) VALUES ($1) ON CONFLICT DO NOTHING`, key)
		if err != nil {
			return DeductResult{}, fmt.Errorf("insert deduction key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return DeductResult{AlreadyApplied: true}, nil
		}
		if err := decrementAll(ctx, tx, aggregate(orderItems), ReasonLegacyDeduct, nil); err != nil {
			return DeductResult{}, err
		}
		return DeductResult{}, nil
	})
}

// Adjust applies an explicit stock correction (receiving, spoilage, recount)
// and returns the resulting stock.
func (l *StockLedger) Adjust(ctx context.Context, productID int64, delta int, reason string) (int, error) {
	reason = strings.TrimSpace(reason)
	if productID <= 0 || delta == 0 || reason == "" {
		return 0, validationError("adjustment needs product, non-zero delta and reason")
	}

	return withTx(ctx, l.DB, func(tx pgx.Tx) (int, error) {
		stock, err := lockStock(ctx, tx, productID)
		if err != nil {
			return 0, err
		}
		if stock+delta < 0 {
			return 0, &InsufficientStockError{Shortfalls: []Shortfall{{ProductID: productID, Required: -delta, Available: stock}}}
		}
		if err := applyDelta(ctx, tx, productID, delta, reason, nil); err != nil {
			return 0, err
		}
		return stock + delta, nil
	})
}

// Movements lists the audit trail of one product, newest first.
func (l *StockLedger) Movements(ctx context.Context, productID int64, limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.DB.Query(ctx, `
		SELECT id, product_id, delta, reason, order_id, created_at
		FROM stock_movements WHERE product_id=$1 ORDER BY id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StockMovement, error) {
		var m StockMovement
		err := row.Scan(&m.ID, &m.ProductID, &m.Delta, &m.Reason, &m.OrderID, &m.CreatedAt)
		return m, err
	})
}

func lockStock(ctx context.Context, tx pgx.Tx, productID int64) (int, error) {
	var stock int
	err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lock stock: %w", err)
	}
	return stock, nil
}

func applyDelta(ctx context.Context, tx pgx.Tx, productID int64, delta int, reason string, orderID *string) error {
	if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`, productID, delta); err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_movements(product_id, delta, reason, order_id) VALUES ($1, $2, $3, $4)`,
		productID, delta, reason, orderID); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// decrementAll checks every item before it writes anything. Shortfalls are
// collected across all items so the operator sees the whole picture.
func decrementAll(ctx context.Context, tx pgx.Tx, items []ItemQty, reason string, orderID *string) error {
	var shortfalls []Shortfall
	for _, it := range items {
		stock, err := lockStock(ctx, tx, it.ProductID)
		if err != nil {
			return err
		}
		if stock < it.Qty {
			shortfalls = append(shortfalls, Shortfall{ProductID: it.ProductID, Required: it.Qty, Available: stock})
		}
	}
	if len(shortfalls) > 0 {
		return &InsufficientStockError{Shortfalls: shortfalls}
	}

	for _, it := range items {
		if err := applyDelta(ctx, tx, it.ProductID, -it.Qty, reason, orderID); err != nil {
			return err
		}
	}
	return nil
}
