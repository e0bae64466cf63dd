package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-orders/internal/totals"
)

type PaymentInput struct {
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference,omitempty"`
}

type FinalizeResult struct {
	OrderID          string          `json:"order_id"`
	AlreadyCompleted bool            `json:"already_completed"`
	Totals           *totals.Totals  `json:"totals,omitempty"`
	Items            []ItemQty       `json:"-"`
	Methods          []PaymentMethod `json:"-"`
	Currency         string          `json:"-"`
	CompletedAt      time.Time       `json:"-"`
}

func validatePayments(payments []PaymentInput) error {
	if len(payments) == 0 {
		return validationError("at least one payment required")
	}
	for i, p := range payments {
		if _, ok := validMethods[p.Method]; !ok {
			return validationError("unknown payment method %q at index %d", p.Method, i)
		}
		if p.Amount.IsNegative() {
			return validationError("negative payment amount at index %d", i)
		}
		if err := totals.ValidateAmount(p.Amount); err != nil {
			return validationError("payment %d: %v", i, err)
		}
	}
	return nil
}

// Finalize records payments, decrements stock, completes the order and writes
// its sales summary in one transaction. The order row is locked first, so
// concurrent calls for the same order serialize; every caller after the first
// gets AlreadyCompleted and nothing is written.
func (r *Repo) Finalize(ctx context.Context, orderID string, payments []PaymentInput) (FinalizeResult, error) {
	if err := validatePayments(payments); err != nil {
		return FinalizeResult{}, err
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return FinalizeResult{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	res, err := withTx(ctx, r.DB, func(tx pgx.Tx) (FinalizeResult, error) {
		var (
			o      Order
			status string
		)
		err := tx.QueryRow(ctx, `
			SELECT status, currency, discount, tax_rate, service_rate
			FROM orders WHERE id=$1 FOR UPDATE`, orderID).
			Scan(&status, &o.Currency, &o.Discount, &o.TaxRate, &o.ServiceRate)
		if errors.Is(err, pgx.ErrNoRows) {
			return FinalizeResult{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("lock order: %w", err)
		}
		if o.Status, err = ToStatus(status); err != nil {
			return FinalizeResult{}, err
		}
		if o.Status == StatusCompleted {
			return FinalizeResult{OrderID: orderID, AlreadyCompleted: true}, nil
		}
		if !CanTransition(o.Status, StatusCompleted) {
			return FinalizeResult{}, fmt.Errorf("order %s cannot complete from %s", orderID, o.Status)
		}

		items, err := loadItems(ctx, tx, orderID)
		if err != nil {
			return FinalizeResult{}, err
		}
		sum, err := totals.Compute(
			lo.Map(items, func(it OrderItem, _ int) totals.Line { return totals.Line{UnitPrice: it.UnitPrice, Qty: it.Qty} }),
			totals.Rates{Tax: o.TaxRate, Service: o.ServiceRate},
			o.Discount,
		)
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("totals.Compute: %w", err)
		}

		for _, p := range payments {
			if _, err := tx.Exec(ctx, `
				INSERT INTO payments(order_id, method, amount, reference) VALUES ($1, $2, $3, $4)`,
				orderID, string(p.Method), p.Amount, p.Reference); err != nil {
				return FinalizeResult{}, fmt.Errorf("insert payment: %w", err)
			}
		}

		qtys := aggregate(items)
		if err := decrementAll(ctx, tx, qtys, ReasonOrderFinalized, &orderID); err != nil {
			return FinalizeResult{}, err
		}

		var completedAt time.Time
		if err := tx.QueryRow(ctx, `
			UPDATE orders SET status='completed', completed_at=now()
			WHERE id=$1 AND status='pending' RETURNING completed_at`, orderID).Scan(&completedAt); err != nil {
			return FinalizeResult{}, fmt.Errorf("complete order: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO sales_report(order_id, subtotal, service_charge, tax, discount, total, currency, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			orderID, sum.Subtotal, sum.ServiceCharge, sum.Tax, sum.Discount, sum.Payable, o.Currency, completedAt); err != nil {
			return FinalizeResult{}, fmt.Errorf("insert sales summary: %w", err)
		}

		return FinalizeResult{
			OrderID:     orderID,
			Totals:      &sum,
			Items:       qtys,
			Methods:     lo.Map(payments, func(p PaymentInput, _ int) PaymentMethod { return p.Method }),
			Currency:    o.Currency,
			CompletedAt: completedAt,
		}, nil
	})
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("withTx: %w", err)
	}
	return res, nil
}
