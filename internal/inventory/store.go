// Package inventory reserves and releases product stock with conditional
// updates, so concurrent orders can never drive stock below zero.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Line is a quantity of one product.
type Line struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

// Level is the stock left for a product after a reservation.
type Level struct {
	ProductID string `json:"productId"`
	Remaining int    `json:"remaining"`
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct{ DB *pgxpool.Pool }

// Reserve decrements stock for every line or for none. A shortfall on any
// line rolls back the decrements already applied in the batch.
func (s *Store) Reserve(ctx context.Context, lines []Line) ([]Level, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	levels, err := ReserveWith(ctx, tx, lines)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}
	return levels, nil
}

// Release gives the quantities back in one transaction.
func (s *Store) Release(ctx context.Context, lines []Line) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ReleaseWith(ctx, tx, lines); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReserveWith runs the conditional decrements on q. Callers own the
// transaction; on error it must be rolled back.
func ReserveWith(ctx context.Context, q Querier, lines []Line) ([]Level, error) {
	merged, err := Merge(lines)
	if err != nil {
		return nil, err
	}
	levels := make([]Level, 0, len(merged))
	for _, l := range merged {
		var remaining int
		err := q.QueryRow(ctx, `
			UPDATE products
			SET stock = stock - $2, sales_count = sales_count + $2, updated_at = now()
			WHERE id = $1 AND is_active AND stock >= $2
			RETURNING stock`, l.ProductID, l.Qty).Scan(&remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, explainShortfall(ctx, q, l)
		}
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", l.ProductID, err)
		}
		levels = append(levels, Level{ProductID: l.ProductID, Remaining: remaining})
	}
	return levels, nil
}

// ReleaseWith restores stock and the sales counter on q.
func ReleaseWith(ctx context.Context, q Querier, lines []Line) error {
	merged, err := Merge(lines)
	if err != nil {
		return err
	}
	for _, l := range merged {
		ct, err := q.Exec(ctx, `
			UPDATE products
			SET stock = stock + $2, sales_count = GREATEST(sales_count - $2, 0), updated_at = now()
			WHERE id = $1`, l.ProductID, l.Qty)
		if err != nil {
			return fmt.Errorf("release %s: %w", l.ProductID, err)
		}
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("release %s: product missing", l.ProductID)
		}
	}
	return nil
}

func explainShortfall(ctx context.Context, q Querier, l Line) error {
	var (
		stock  int
		active bool
	)
	err := q.QueryRow(ctx, `SELECT stock, is_active FROM products WHERE id = $1`, l.ProductID).Scan(&stock, &active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperr.ErrProductNotFound.With("productId", l.ProductID)
	case err != nil:
		return fmt.Errorf("reserve %s: %w", l.ProductID, err)
	case !active:
		return apperr.ErrProductInactive.With("productId", l.ProductID)
	default:
		return apperr.OutOfStock(l.ProductID, stock, l.Qty)
	}
}

// Merge sums quantities per product and orders lines by product id so that
// concurrent batches lock rows in the same order.
func Merge(lines []Line) ([]Line, error) {
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == "" || l.Qty <= 0 {
			return nil, apperr.InvalidInput(fmt.Sprintf("invalid stock line %q x%d", l.ProductID, l.Qty))
		}
		if i, ok := idx[l.ProductID]; ok {
			out[i].Qty += l.Qty
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
