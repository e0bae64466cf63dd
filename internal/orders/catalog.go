package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

func scanProduct(row pgx.CollectableRow) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, category, price, stock, created_at, updated_at
		FROM products ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *Repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, category, price, stock, created_at, updated_at
		FROM products WHERE id=$1`, id)
	if err != nil {
		return Product{}, fmt.Errorf("select product: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, err
}

// ProductsByID returns the known products among ids; unknown ids are skipped.
func (r *Repo) ProductsByID(ctx context.Context, ids []int64) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, category, price, stock, created_at, updated_at
		FROM products WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products by id: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ListSales feeds the reporting side with completed-order summaries in [from, to).
func (r *Repo) ListSales(ctx context.Context, from, to time.Time) ([]SalesSummary, error) {
	if !to.After(from) {
		return nil, validationError("report range end must be after start")
	}
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, subtotal, service_charge, tax, discount, total, currency, completed_at
		FROM sales_report WHERE completed_at >= $1 AND completed_at < $2
		ORDER BY completed_at`, from, to)
	if err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SalesSummary, error) {
		var s SalesSummary
		err := row.Scan(&s.OrderID, &s.Subtotal, &s.ServiceCharge, &s.Tax, &s.Discount, &s.Total, &s.Currency, &s.CompletedAt)
		return s, err
	})
}
