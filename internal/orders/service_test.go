package orders_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = auth.Staff{ID: "staff-1", Email: "ops@example.com", Role: auth.RoleAdmin}

func reason(r string) error { return &apperr.Error{Reason: r} }

// seed stores order o1 (ALX-2025-0001) holding two units of p1 in status st.
// p1 has three units left on the shelf.
func seed(st orders.Status) (*testutil.Memory, *testutil.Notifier, *orders.Service) {
	mem := testutil.NewMemory()
	mem.Products.Put(testutil.Product("p1", "1000", 3))
	pay := orders.PaymentPending
	if st != orders.StatusPending {
		pay = orders.PaymentPaid
	}
	mem.Orders.Put(&orders.Order{
		ID:            "o1",
		Number:        "ALX-2025-0001",
		Customer:      orders.Customer{Name: "Kari", Email: "Kari@Example.com"},
		Items:         []orders.Item{{ProductID: "p1", SKU: "SKU-P1", Quantity: 2, Price: decimal.NewFromInt(1000)}},
		Total:         decimal.NewFromInt(2500),
		Status:        st,
		PaymentStatus: pay,
	})
	n := &testutil.Notifier{}
	return mem, n, orders.NewService(mem.Orders, n, nil, nil)
}

func TestUpdateStatus_FollowsGraph(t *testing.T) {
	mem, n, svc := seed(orders.StatusPending)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, admin, "ALX-2025-0001", "shipped")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidTransition))

	o, err := svc.UpdateStatus(ctx, admin, "alx-2025-0001", "processing")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.Equal(t, 1, n.Count(orders.EventOrderStatusChanged))

	o, err = svc.UpdateStatus(ctx, admin, "o1", "shipped")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, o.Status)
	assert.NotNil(t, o.ShippedAt)
	assert.Equal(t, 1, n.Count(orders.EventOrderShipped))

	_, err = svc.UpdateStatus(ctx, admin, "o1", "cancelled")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidTransition))
	stock, _ := mem.Products.Stock("p1")
	assert.Equal(t, 3, stock)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	_, n, svc := seed(orders.StatusProcessing)

	o, err := svc.UpdateStatus(context.Background(), admin, "o1", "Processing")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.Empty(t, n.Events())
}

func TestUpdateStatus_Rejects(t *testing.T) {
	_, _, svc := seed(orders.StatusPending)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, auth.Staff{ID: "x"}, "o1", "processing")
	assert.ErrorIs(t, err, reason(apperr.ReasonUnauthorized))

	_, err = svc.UpdateStatus(ctx, admin, "o1", "lost")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidStatus))

	_, err = svc.UpdateStatus(ctx, admin, "ALX-2025-9999", "processing")
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestUpdateStatus_CancelReleasesStockOnce(t *testing.T) {
	mem, n, svc := seed(orders.StatusProcessing)
	ctx := context.Background()

	o, err := svc.UpdateStatus(ctx, admin, "o1", "cancelled")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.NotNil(t, o.CancelledAt)

	again, err := svc.UpdateStatus(ctx, admin, "o1", "cancelled")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, again.Status)

	stock, _ := mem.Products.Stock("p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 1, n.Count(orders.EventOrderCancelled))
}

func TestUpdatePaymentStatus_MarksPaidOnce(t *testing.T) {
	_, n, svc := seed(orders.StatusPending)
	ctx := context.Background()

	_, err := svc.UpdatePaymentStatus(ctx, auth.Staff{ID: "x"}, "o1", "paid")
	assert.ErrorIs(t, err, reason(apperr.ReasonUnauthorized))
	_, err = svc.UpdatePaymentStatus(ctx, admin, "o1", "settled")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidStatus))

	o, err := svc.UpdatePaymentStatus(ctx, admin, "ALX-2025-0001", "Paid")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.NotNil(t, o.PaidAt)

	again, err := svc.UpdatePaymentStatus(ctx, admin, "o1", "paid")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, again.PaymentStatus)
	assert.Equal(t, 1, n.Count(orders.EventPaymentConfirmed))

	_, err = svc.UpdatePaymentStatus(ctx, admin, "o1", "failed")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidTransition))
	_, err = svc.UpdatePaymentStatus(ctx, admin, "o1", "refunded")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidTransition))
}

func TestUpdatePaymentStatus_FailedThenPaid(t *testing.T) {
	_, n, svc := seed(orders.StatusPending)
	ctx := context.Background()

	o, err := svc.UpdatePaymentStatus(ctx, admin, "o1", "failed")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFailed, o.PaymentStatus)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, 1, n.Count(orders.EventPaymentFailed))

	o, err = svc.UpdatePaymentStatus(ctx, admin, "o1", "paid")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.StatusProcessing, o.Status)
}

func TestUpdatePaymentStatus_CancelledOrder(t *testing.T) {
	_, n, svc := seed(orders.StatusPending)
	ctx := context.Background()
	_, err := svc.CancelByCustomer(ctx, "o1", "kari@example.com")
	require.NoError(t, err)

	_, err = svc.UpdatePaymentStatus(ctx, admin, "o1", "paid")
	assert.ErrorIs(t, err, reason(apperr.ReasonOrderCancelled))
	assert.Zero(t, n.Count(orders.EventPaymentConfirmed))
}

func TestCancelByCustomer(t *testing.T) {
	mem, _, svc := seed(orders.StatusPending)
	ctx := context.Background()

	_, err := svc.CancelByCustomer(ctx, "ALX-2025-0001", "")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidInput))

	_, err = svc.CancelByCustomer(ctx, "ALX-2025-0001", "someone@example.com")
	assert.ErrorIs(t, err, reason(apperr.ReasonEmailMismatch))

	o, err := svc.CancelByCustomer(ctx, "ALX-2025-0001", " kari@example.com ")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	stock, _ := mem.Products.Stock("p1")
	assert.Equal(t, 5, stock)

	_, err = svc.CancelByCustomer(ctx, "ALX-2025-0001", "kari@example.com")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidTransition))
	stock, _ = mem.Products.Stock("p1")
	assert.Equal(t, 5, stock)
}

func TestCancelForRefund_KeepsShippedOrders(t *testing.T) {
	mem, n, svc := seed(orders.StatusShipped)

	o, applied, err := svc.CancelForRefund(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, orders.StatusShipped, o.Status)
	stock, _ := mem.Products.Stock("p1")
	assert.Equal(t, 3, stock)
	assert.Zero(t, n.Count(orders.EventOrderCancelled))
}

func TestUpdateShipping(t *testing.T) {
	_, n, svc := seed(orders.StatusProcessing)
	ctx := context.Background()

	_, err := svc.UpdateShipping(ctx, admin, "o1", orders.ShippingUpdate{})
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidInput))

	carrier := "Posten"
	o, err := svc.UpdateShipping(ctx, admin, "o1", orders.ShippingUpdate{Carrier: &carrier})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.Equal(t, "Posten", o.Shipping.Carrier)

	tracking := "TRK-1"
	o, err = svc.UpdateShipping(ctx, admin, "o1", orders.ShippingUpdate{TrackingNumber: &tracking})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, o.Status)
	assert.Equal(t, "TRK-1", o.Shipping.TrackingNumber)
	assert.Equal(t, "Posten", o.Shipping.Carrier)
	assert.Equal(t, 1, n.Count(orders.EventOrderShipped))

	tracking = "TRK-2"
	_, err = svc.UpdateShipping(ctx, admin, "o1", orders.ShippingUpdate{TrackingNumber: &tracking})
	require.NoError(t, err)
	assert.Equal(t, 1, n.Count(orders.EventOrderShipped))
}

func TestUpdateShipping_ClosedOrder(t *testing.T) {
	_, _, svc := seed(orders.StatusCancelled)
	tracking := "TRK-1"

	_, err := svc.UpdateShipping(context.Background(), admin, "o1", orders.ShippingUpdate{TrackingNumber: &tracking})
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidTransition))
}

func TestLookup(t *testing.T) {
	_, _, svc := seed(orders.StatusPending)
	ctx := context.Background()

	_, err := svc.Lookup(ctx, "  ")
	assert.ErrorIs(t, err, reason(apperr.ReasonInvalidInput))

	list, err := svc.Lookup(ctx, "KARI@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ALX-2025-0001", list[0].Number)

	list, err = svc.Lookup(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTrack_CachesUntilStatusChanges(t *testing.T) {
	mem := testutil.NewMemory()
	mem.Products.Put(testutil.Product("p1", "1000", 3))
	mem.Orders.Put(&orders.Order{
		ID: "o1", Number: "ALX-2025-0001", Status: orders.StatusPending, PaymentStatus: orders.PaymentPending,
		Items: []orders.Item{{ProductID: "p1", Quantity: 1, Price: decimal.NewFromInt(1000)}},
	})
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	svc := orders.NewService(mem.Orders, nil, &orders.RedisTrackingCache{Client: rdb}, nil)
	ctx := context.Background()

	tr, err := svc.Track(ctx, "alx-2025-0001")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, tr.Status)
	assert.Len(t, mr.Keys(), 1)

	_, err = svc.UpdateStatus(ctx, admin, "o1", "processing")
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())

	tr, err = svc.Track(ctx, "ALX-2025-0001")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, tr.Status)

	_, err = svc.Track(ctx, "ALX-2025-4242")
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}
