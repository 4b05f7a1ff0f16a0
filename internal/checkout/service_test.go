package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/sequence"
	"github.com/ariefcatur/go-storefront-orders/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reason(r string) error { return &apperr.Error{Reason: r} }

type env struct {
	mem      *testutil.Memory
	carts    *cart.Service
	provider *testutil.Provider
	notifier *testutil.Notifier
	locker   *testutil.Locker
	svc      *checkout.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := testutil.NewMemory()
	mem.Products.Put(testutil.Product("p1", "1000", 5))

	provider := testutil.NewProvider()
	notifier := &testutil.Notifier{}
	locker := &testutil.Locker{}
	carts := cart.NewService(mem.Carts, nil, mem.Products, 30*24*time.Hour, nil)
	svc := checkout.NewService(checkout.Deps{
		Carts:     carts,
		Catalog:   mem.Products,
		Inventory: mem.Products,
		Sequencer: mem.Counters,
		Orders:    mem.Orders,
		Payments:  payments.NewService(mem.Orders, provider, payments.Options{}),
		Locker:    locker,
		Notifier:  notifier,
	}, checkout.Config{
		TaxRate:           decimal.RequireFromString("0.25"),
		ShippingFee:       decimal.Zero,
		OrderPrefix:       "ALX",
		CounterName:       "orderId",
		LowStockThreshold: 3,
	})
	return &env{mem: mem, carts: carts, provider: provider, notifier: notifier, locker: locker, svc: svc}
}

func request(session string) checkout.Request {
	return checkout.Request{
		SessionID:       session,
		Customer:        orders.Customer{Name: "Kari Nordmann", Email: "Kari@Example.com ", Phone: "+4712345678"},
		ShippingAddress: orders.Address{Street: "Storgata 1", City: "Oslo", PostalCode: "0155", Country: "NO"},
	}
}

func (e *env) add(t *testing.T, session, product string, qty int) {
	t.Helper()
	_, err := e.carts.AddItem(context.Background(), session, product, qty)
	require.NoError(t, err)
}

func (e *env) stock(id string) int {
	s, _ := e.mem.Products.Stock(id)
	return s
}

func TestCheckout_EndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.add(t, "s1", "p1", 2)

	res, err := e.svc.Checkout(ctx, request("s1"))
	require.NoError(t, err)
	o := res.Order

	assert.False(t, res.Replayed)
	assert.Equal(t, "2000", o.Subtotal.String())
	assert.Equal(t, "500", o.Tax.String())
	assert.Equal(t, "2500", o.Total.String())
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, "kari@example.com", o.Customer.Email)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "SKU-P1", o.Items[0].SKU)
	assert.Equal(t, "Produkt p1", o.Items[0].Name.NO)

	n, err := sequence.Parse(o.Number)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Seq)
	assert.Equal(t, time.Now().UTC().Year(), n.Year)

	assert.Equal(t, 3, e.stock("p1"))
	assert.False(t, e.mem.Carts.Exists("s1"))

	fresh, err := e.carts.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, fresh.IsEmpty())

	assert.Equal(t, 1, e.notifier.Count(orders.EventOrderPlaced))
	assert.Equal(t, 1, e.notifier.Count(orders.EventAdminNewOrder))
	assert.Equal(t, 1, e.notifier.Count(orders.EventLowStock))
}

func TestCheckout_PriceSnapshotFromCart(t *testing.T) {
	e := newEnv(t)
	e.add(t, "s1", "p1", 2)
	e.mem.Products.Put(testutil.Product("p1", "1500", 5))

	res, err := e.svc.Checkout(context.Background(), request("s1"))
	require.NoError(t, err)

	assert.Equal(t, "2500", res.Order.Total.String())
}

func TestCheckout_EmptyCart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Checkout(ctx, request("nobody"))
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)

	e.add(t, "s1", "p1", 1)
	_, err = e.svc.Checkout(ctx, request("s1"))
	require.NoError(t, err)

	_, err = e.svc.Checkout(ctx, request("s1"))
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)
	assert.Len(t, e.mem.Orders.All(), 1)
	assert.Equal(t, 4, e.stock("p1"))
}

func TestCheckout_Validation(t *testing.T) {
	e := newEnv(t)
	e.add(t, "s1", "p1", 1)

	req := request("s1")
	req.Customer.Email = "not-an-email"
	req.ShippingAddress.City = ""

	_, err := e.svc.Checkout(context.Background(), req)

	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	ae, _ := apperr.As(err)
	fields := ae.Details["fields"].(map[string]string)
	assert.Equal(t, "invalid", fields["customer.email"])
	assert.Equal(t, "required", fields["shippingAddress.city"])
	assert.Equal(t, 5, e.stock("p1"))
}

func TestCheckout_CatalogChangedSinceAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("stock dropped", func(t *testing.T) {
		e := newEnv(t)
		e.add(t, "s1", "p1", 4)
		e.mem.Products.Put(testutil.Product("p1", "1000", 3))

		_, err := e.svc.Checkout(ctx, request("s1"))
		require.ErrorIs(t, err, apperr.ErrOutOfStock)
		ae, _ := apperr.As(err)
		assert.Equal(t, "insufficient stock: available 3, requested 4", ae.Message)
		assert.True(t, e.mem.Carts.Exists("s1"))
	})

	t.Run("deactivated", func(t *testing.T) {
		e := newEnv(t)
		e.add(t, "s1", "p1", 1)
		p := testutil.Product("p1", "1000", 5)
		p.IsActive = false
		e.mem.Products.Put(p)

		_, err := e.svc.Checkout(ctx, request("s1"))
		assert.ErrorIs(t, err, apperr.ErrProductInactive)
	})

	t.Run("reports first failing line", func(t *testing.T) {
		e := newEnv(t)
		e.mem.Products.Put(testutil.Product("p2", "10", 5))
		e.add(t, "s1", "p1", 5)
		e.add(t, "s1", "p2", 5)
		e.mem.Products.Put(testutil.Product("p1", "1000", 1), testutil.Product("p2", "10", 1))

		_, err := e.svc.Checkout(ctx, request("s1"))
		ae, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, "p1", ae.Details["productId"])
	})
}

func TestCheckout_PaymentAmountTolerance(t *testing.T) {
	cases := []struct {
		paid string
		ok   bool
	}{
		{"2499", false},
		{"2501", false},
		{"2500.00", true},
		{"2500.009", true},
	}
	for _, tc := range cases {
		t.Run(tc.paid, func(t *testing.T) {
			e := newEnv(t)
			e.add(t, "s1", "p1", 2)
			e.provider.SetIntent("pi_1", payments.IntentSucceeded, tc.paid, nil)

			req := request("s1")
			req.PaymentIntentID = "pi_1"
			res, err := e.svc.Checkout(context.Background(), req)

			if !tc.ok {
				require.ErrorIs(t, err, reason(apperr.ReasonPaymentAmountMismatch))
				assert.Equal(t, 5, e.stock("p1"))
				assert.True(t, e.mem.Carts.Exists("s1"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, orders.PaymentPaid, res.Order.PaymentStatus)
			assert.Equal(t, orders.StatusProcessing, res.Order.Status)
			assert.Equal(t, "pi_1", res.Order.PaymentIntentID)
		})
	}
}

func TestCheckout_PaymentCannotBackTwoOrders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.provider.SetIntent("pi_1", payments.IntentSucceeded, "1250", nil)
	e.add(t, "s1", "p1", 1)
	e.add(t, "s2", "p1", 1)

	req := request("s1")
	req.PaymentIntentID = "pi_1"
	_, err := e.svc.Checkout(ctx, req)
	require.NoError(t, err)

	req.SessionID = "s2"
	_, err = e.svc.Checkout(ctx, req)
	assert.ErrorIs(t, err, reason(apperr.ReasonPaymentAlreadyUsed))
	assert.Equal(t, 4, e.stock("p1"))
}

func TestCheckout_CompensatesWhenLaterStepsFail(t *testing.T) {
	ctx := context.Background()

	t.Run("order number", func(t *testing.T) {
		e := newEnv(t)
		e.add(t, "s1", "p1", 2)
		e.mem.Counters.NextErr = errors.New("connection reset")

		_, err := e.svc.Checkout(ctx, request("s1"))

		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
		assert.Equal(t, 5, e.stock("p1"))
		assert.True(t, e.mem.Carts.Exists("s1"))
		assert.Empty(t, e.mem.Orders.All())
	})

	t.Run("order write", func(t *testing.T) {
		e := newEnv(t)
		e.add(t, "s1", "p1", 2)
		e.mem.Orders.CreateErr = errors.New("disk full")

		_, err := e.svc.Checkout(ctx, request("s1"))

		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
		assert.Equal(t, 5, e.stock("p1"))
		_, sales := e.mem.Products.Stock("p1")
		assert.Equal(t, 0, sales)
		assert.True(t, e.mem.Carts.Exists("s1"))
		assert.Empty(t, e.notifier.Events())
	})

	t.Run("cancelled request", func(t *testing.T) {
		e := newEnv(t)
		e.add(t, "s1", "p1", 2)
		e.mem.Orders.CreateErr = context.Canceled
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := e.svc.Checkout(cctx, request("s1"))

		require.Error(t, err)
		assert.Equal(t, 5, e.stock("p1"))
	})
}

func TestCheckout_NotificationFailureKeepsOrder(t *testing.T) {
	e := newEnv(t)
	e.add(t, "s1", "p1", 1)
	e.notifier.Err = errors.New("broker down")

	res, err := e.svc.Checkout(context.Background(), request("s1"))

	require.NoError(t, err)
	assert.NotEmpty(t, res.Order.Number)
	assert.Len(t, e.mem.Orders.All(), 1)
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.add(t, "s1", "p1", 2)

	req := request("s1")
	req.IdempotencyKey = "key-1"
	first, err := e.svc.Checkout(ctx, req)
	require.NoError(t, err)

	again, err := e.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Order.Number, again.Order.Number)
	assert.Equal(t, 3, e.stock("p1"))
	assert.Len(t, e.mem.Orders.All(), 1)

	e.add(t, "s2", "p1", 1)
	other := request("s2")
	other.IdempotencyKey = "key-1"
	_, err = e.svc.Checkout(ctx, other)
	assert.ErrorIs(t, err, reason(apperr.ReasonIdempotencyReuse))
}

func TestCheckout_SessionLockHeld(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.add(t, "s1", "p1", 1)

	release, ok, err := e.locker.Acquire(ctx, fmt.Sprintf(redisx.KeyCheckoutLock, "s1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.svc.Checkout(ctx, request("s1"))
	assert.ErrorIs(t, err, reason(apperr.ReasonCheckoutInProgress))
	assert.Equal(t, 5, e.stock("p1"))

	release()
	_, err = e.svc.Checkout(ctx, request("s1"))
	assert.NoError(t, err)
}

func TestCheckout_LockerDownStillCheckout(t *testing.T) {
	e := newEnv(t)
	e.add(t, "s1", "p1", 1)
	e.locker.Err = errors.New("redis unavailable")

	_, err := e.svc.Checkout(context.Background(), request("s1"))
	assert.NoError(t, err)
}

func TestCheckout_ConcurrentOrdersGetDistinctNumbers(t *testing.T) {
	e := newEnv(t)
	const k = 64
	e.mem.Products.Put(testutil.Product("p1", "10", 1000))
	for i := range k {
		e.add(t, fmt.Sprintf("s%d", i), "p1", 1)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
		seqs    = map[int64]bool{}
	)
	for i := range k {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.svc.Checkout(context.Background(), request(fmt.Sprintf("s%d", i)))
			if !assert.NoError(t, err) {
				return
			}
			n, err := sequence.Parse(res.Order.Number)
			assert.NoError(t, err)
			mu.Lock()
			numbers[res.Order.Number] = true
			seqs[n.Seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, k)
	for i := int64(1); i <= k; i++ {
		assert.True(t, seqs[i], "missing sequence %d", i)
	}
	assert.Equal(t, 1000-k, e.stock("p1"))
}

func TestCheckout_ConcurrentBuyersNeverOversell(t *testing.T) {
	e := newEnv(t)
	const buyers = 20
	for i := range buyers {
		e.add(t, fmt.Sprintf("s%d", i), "p1", 1)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok, failed int
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Checkout(context.Background(), request(fmt.Sprintf("s%d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, apperr.ErrOutOfStock)
			failed++
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, buyers-5, failed)
	assert.Equal(t, 0, e.stock("p1"))
}
