package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	keyTaxRate      = "tax_rate"
	keyServiceRate  = "service_rate"
	keyCurrency     = "currency"
	keyExchangeRate = "exchange_rate."
)

// Store persists raw setting overrides as key/value text.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
}

// PGStore keeps overrides in the pos_settings table.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT key, value FROM pos_settings`)
	if err != nil {
		return nil, fmt.Errorf("select pos_settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan pos_settings: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Save upserts every value in a single transaction.
func (s *PGStore) Save(ctx context.Context, values map[string]string) (err error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db.Begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("tx.Rollback: %w", rbErr))
			}
		}
	}()

	b := &pgx.Batch{}
	for k, v := range values {
		b.Queue(`
			INSERT INTO pos_settings(key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, k, v)
	}
	if err = tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upsert pos_settings: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx.Commit: %w", err)
	}
	return nil
}
