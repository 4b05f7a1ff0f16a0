// Package pgtest starts a throwaway Postgres for integration tests.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Start runs a migrated postgres:16 container and returns a pool connected
// to it. The container is terminated when the test finishes. Skipped with -short.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn))

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type Product struct {
	ID     string
	SKU    string
	NameEN string
	NameNO string
	Price  string
	Stock  int
	Active bool
}

func SeedProduct(t *testing.T, db *pgxpool.Pool, p Product) {
	t.Helper()
	if p.SKU == "" {
		p.SKU = "SKU-" + p.ID
	}
	if p.NameEN == "" {
		p.NameEN = "Product " + p.ID
	}
	_, err := db.Exec(context.Background(), `
		INSERT INTO products (id, sku, name_en, name_no, price, stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SKU, p.NameEN, p.NameNO, decimal.RequireFromString(p.Price), p.Stock, p.Active)
	require.NoError(t, err)
}

// Stock reads the current stock and sales counter of a product.
func Stock(t *testing.T, db *pgxpool.Pool, productID string) (stock, sales int) {
	t.Helper()
	err := db.QueryRow(context.Background(),
		`SELECT stock, sales_count FROM products WHERE id = $1`, productID).Scan(&stock, &sales)
	require.NoError(t, err)
	return stock, sales
}
