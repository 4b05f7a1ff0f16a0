// Package sequence hands out collision-free order sequence numbers from a
// named Postgres counter.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Allocator struct {
	DB     *pgxpool.Pool
	Logger *slog.Logger
}

// Next atomically increments the named counter and returns the new value,
// creating the counter at 1 on first use.
func (a *Allocator) Next(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := a.DB.QueryRow(ctx, `
		INSERT INTO counters (name, seq) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET seq = counters.seq + 1
		RETURNING seq`, name).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", name, err)
	}
	return seq, nil
}

// Current returns the last issued value, 0 when the counter does not exist.
func (a *Allocator) Current(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := a.DB.QueryRow(ctx, `SELECT seq FROM counters WHERE name = $1`, name).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("current %s: %w", name, err)
	}
	return seq, nil
}

type SyncResult struct {
	Counter  string `json:"counter"`
	Previous int64  `json:"previous"`
	Current  int64  `json:"current"`
	Scanned  int    `json:"scanned"`
	Skipped  int    `json:"skipped"`
}

// Sync realigns the counter with the highest sequence found among existing
// order numbers. The counter row is locked for the duration so concurrent
// allocations wait for the repair to commit.
func (a *Allocator) Sync(ctx context.Context, name string) (SyncResult, error) {
	res := SyncResult{Counter: name}

	tx, err := a.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO counters (name, seq) VALUES ($1, 0) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return res, fmt.Errorf("ensure counter: %w", err)
	}
	if err := tx.QueryRow(ctx,
		`SELECT seq FROM counters WHERE name = $1 FOR UPDATE`, name).Scan(&res.Previous); err != nil {
		return res, fmt.Errorf("lock counter: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT order_number FROM orders`)
	if err != nil {
		return res, fmt.Errorf("scan orders: %w", err)
	}
	var maxSeq int64
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return res, err
		}
		res.Scanned++
		n, err := Parse(s)
		if err != nil {
			res.Skipped++
			a.logger().WarnContext(ctx, "unparseable order number", slog.String("order_number", s))
			continue
		}
		maxSeq = max(maxSeq, n.Seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, err
	}

	if _, err := tx.Exec(ctx, `UPDATE counters SET seq = $2 WHERE name = $1`, name, maxSeq); err != nil {
		return res, fmt.Errorf("reset counter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return res, err
	}
	res.Current = maxSeq

	a.logger().InfoContext(ctx, "order counter synced",
		slog.String("counter", name),
		slog.Int64("previous", res.Previous),
		slog.Int64("current", res.Current),
		slog.Int("scanned", res.Scanned))
	return res, nil
}

func (a *Allocator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
