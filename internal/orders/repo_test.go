package orders

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres/pgtest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(number, key, intent string) *Order {
	return &Order{
		ID:             uuid.NewString(),
		Number:         number,
		SessionID:      "sess-1",
		IdempotencyKey: key,
		Customer:       Customer{Name: "Kari", Email: "kari@example.com", Phone: "12345678"},
		ShippingAddress: Address{
			Street: "Storgata 1", City: "Oslo", PostalCode: "0155", Country: "NO",
		},
		Items: []Item{
			{ProductID: "p1", SKU: "SKU-p1", Name: catalog.Localized{EN: "Candle", NO: "Lys"}, Quantity: 2, Price: decimal.RequireFromString("100")},
		},
		Subtotal:        decimal.RequireFromString("200"),
		Tax:             decimal.RequireFromString("50"),
		ShippingFee:     decimal.Zero,
		Discount:        decimal.Zero,
		Total:           decimal.RequireFromString("250"),
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   "stripe",
		PaymentIntentID: intent,
		Language:        "no",
	}
}

func TestRepo_CreateAndGet(t *testing.T) {
	db := pgtest.Start(t)
	repo := &Repo{DB: db}
	ctx := context.Background()
	pgtest.SeedProduct(t, db, pgtest.Product{ID: "p1", Price: "100", Stock: 3, Active: true})

	o := newOrder("ALX-2025-0001", "key-1", "pi_1")
	require.NoError(t, repo.Create(ctx, o))
	assert.False(t, o.CreatedAt.IsZero())

	got, err := repo.Get(ctx, "alx-2025-0001")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Lys", got.Items[0].Name.NO)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("250")))

	byKey, err := repo.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byKey.ID)

	byIntent, err := repo.GetByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byIntent.ID)

	_, err = repo.Get(ctx, "ALX-2025-0404")
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)

	err = repo.Create(ctx, newOrder("ALX-2025-0002", "key-1", ""))
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	err = repo.Create(ctx, newOrder("ALX-2025-0003", "", "pi_1"))
	assert.ErrorIs(t, err, ErrPaymentIntentInUse)
}

func TestRepo_ConditionalUpdates(t *testing.T) {
	db := pgtest.Start(t)
	repo := &Repo{DB: db}
	ctx := context.Background()
	pgtest.SeedProduct(t, db, pgtest.Product{ID: "p1", Price: "100", Stock: 3, Active: true})

	o := newOrder("ALX-2025-0001", "", "")
	require.NoError(t, repo.Create(ctx, o))

	_, applied, err := repo.Transition(ctx, o.ID, StatusProcessing, StatusShipped)
	require.NoError(t, err)
	assert.False(t, applied)

	paid, applied, err := repo.MarkPaid(ctx, o.ID, "pi_9", time.Now())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusProcessing, paid.Status)
	assert.Equal(t, "pi_9", paid.PaymentIntentID)

	_, applied, err = repo.MarkPaid(ctx, o.ID, "pi_9", time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	rf := Refund{ID: "re_1", Amount: decimal.RequireFromString("50"), Reason: "requested_by_customer", CreatedAt: time.Now().UTC()}
	withRefund, applied, err := repo.AddRefund(ctx, o.ID, rf)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Len(t, withRefund.Refunds, 1)
	_, applied, err = repo.AddRefund(ctx, o.ID, rf)
	require.NoError(t, err)
	assert.False(t, applied)

	tracking := "TRK-1"
	shipped, prev, err := repo.UpdateShipping(ctx, o.ID, ShippingUpdate{TrackingNumber: &tracking})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, prev)
	assert.Equal(t, StatusShipped, shipped.Status)
	assert.NotNil(t, shipped.ShippedAt)
}

func TestRepo_CancelReleasesStockOnce(t *testing.T) {
	db := pgtest.Start(t)
	repo := &Repo{DB: db}
	ctx := context.Background()
	pgtest.SeedProduct(t, db, pgtest.Product{ID: "p1", Price: "100", Stock: 3, Active: true})

	o := newOrder("ALX-2025-0001", "", "")
	require.NoError(t, repo.Create(ctx, o))

	cancelled, applied, err := repo.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	stock, _ := pgtest.Stock(t, db, "p1")
	assert.Equal(t, 5, stock)

	_, applied, err = repo.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	stock, _ = pgtest.Stock(t, db, "p1")
	assert.Equal(t, 5, stock)
}

func TestRepo_List(t *testing.T) {
	db := pgtest.Start(t)
	repo := &Repo{DB: db}
	ctx := context.Background()
	pgtest.SeedProduct(t, db, pgtest.Product{ID: "p1", Price: "100", Stock: 3, Active: true})

	for _, n := range []string{"ALX-2025-0001", "ALX-2025-0002", "ALX-2025-0003"} {
		require.NoError(t, repo.Create(ctx, newOrder(n, "", "")))
	}
	third, err := repo.Get(ctx, "ALX-2025-0003")
	require.NoError(t, err)
	_, _, err = repo.Transition(ctx, third.ID, StatusPending, StatusProcessing)
	require.NoError(t, err)

	pending, err := repo.List(ctx, ListFilter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	page, err := repo.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	mine, err := repo.ListByEmail(ctx, "KARI@example.com")
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}
