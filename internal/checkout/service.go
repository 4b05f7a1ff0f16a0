// Package checkout turns a session cart into a numbered order. Stock is
// reserved before the order is written and released again if anything after
// the reservation fails, so a checkout either commits fully or not at all.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/sequence"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const compensationTimeout = 10 * time.Second

type Request struct {
	SessionID       string          `json:"sessionId"`
	Customer        orders.Customer `json:"customer"`
	ShippingAddress orders.Address  `json:"shippingAddress"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	Language        string          `json:"language,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Result is the placed order. Replayed is set when an earlier request with
// the same idempotency key already created it.
type Result struct {
	Order    *orders.Order
	Replayed bool
}

type Carts interface {
	Load(ctx context.Context, sessionID string) (*cart.Cart, error)
	Clear(ctx context.Context, sessionID string) error
}

type Catalog interface {
	Get(ctx context.Context, id string) (*catalog.Product, error)
}

type Inventory interface {
	Reserve(ctx context.Context, lines []inventory.Line) ([]inventory.Level, error)
	Release(ctx context.Context, lines []inventory.Line) error
}

type Sequencer interface {
	Next(ctx context.Context, name string) (int64, error)
}

type OrderStore interface {
	Create(ctx context.Context, o *orders.Order) error
	GetByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*orders.Order, error)
}

// PaymentVerifier checks a payment made before checkout against the total.
type PaymentVerifier interface {
	Verify(ctx context.Context, paymentIntentID string, expected decimal.Decimal) (*payments.Intent, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Config struct {
	TaxRate           decimal.Decimal
	ShippingFee       decimal.Decimal
	OrderPrefix       string
	CounterName       string
	LowStockThreshold int
	LockTTL           time.Duration
}

type Deps struct {
	Carts     Carts
	Catalog   Catalog
	Inventory Inventory
	Sequencer Sequencer
	Orders    OrderStore
	Payments  PaymentVerifier
	Locker    Locker
	Notifier  orders.Notifier
	Logger    *slog.Logger
}

type Service struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.OrderPrefix == "" {
		cfg.OrderPrefix = "ALX"
	}
	if cfg.CounterName == "" {
		cfg.CounterName = "orderId"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Service{Deps: deps, cfg: cfg, now: time.Now}
}

// Checkout places an order for the session's cart.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	req = normalize(req)
	if err := validate(req); err != nil {
		return nil, err
	}
	log := s.Logger.With(slog.String("session", req.SessionID))

	if res, err := s.replay(ctx, req); res != nil || err != nil {
		return res, err
	}

	if s.Locker != nil {
		release, ok, err := s.Locker.Acquire(ctx, fmt.Sprintf(redisx.KeyCheckoutLock, req.SessionID), s.cfg.LockTTL)
		switch {
		case err != nil:
			log.WarnContext(ctx, "checkout lock unavailable, continuing without it", slog.String("error", err.Error()))
		case !ok:
			return nil, apperr.Conflict(apperr.ReasonCheckoutInProgress, "a checkout for this cart is already in progress")
		default:
			defer release()
			// the previous holder may have finished this very request
			if res, err := s.replay(ctx, req); res != nil || err != nil {
				return res, err
			}
		}
	}

	c, err := s.Carts.Load(ctx, req.SessionID)
	if errors.Is(err, apperr.ErrCartNotFound) {
		return nil, apperr.ErrEmptyCart
	}
	if err != nil {
		return nil, apperr.Internal("load cart", err)
	}
	if c.IsEmpty() {
		return nil, apperr.ErrEmptyCart
	}

	items, err := s.snapshot(ctx, c)
	if err != nil {
		return nil, err
	}
	totals := orders.ComputeTotals(items, s.cfg.TaxRate, s.cfg.ShippingFee, decimal.Zero)

	paid := false
	if req.PaymentIntentID != "" {
		if err := s.verifyPayment(ctx, req.PaymentIntentID, totals.Total); err != nil {
			return nil, err
		}
		paid = true
	}

	o := s.newOrder(req, items, totals, paid)
	lines := o.Lines()
	levels, err := s.Inventory.Reserve(ctx, lines)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Internal("reserve stock", err)
	}

	seq, err := s.Sequencer.Next(ctx, s.cfg.CounterName)
	if err != nil {
		s.release(ctx, lines, "allocate order number")
		return nil, apperr.Internal("allocate order number", err)
	}
	o.Number = sequence.Format(s.cfg.OrderPrefix, o.CreatedAt.Year(), seq)

	if err := s.Orders.Create(ctx, o); err != nil {
		s.release(ctx, lines, "persist order")
		switch {
		case errors.Is(err, orders.ErrDuplicateIdempotencyKey):
			return s.replay(ctx, req)
		case errors.Is(err, orders.ErrPaymentIntentInUse):
			return nil, paymentAlreadyUsed()
		}
		return nil, apperr.Internal("persist order", err)
	}

	if err := s.Carts.Clear(ctx, req.SessionID); err != nil {
		log.ErrorContext(ctx, "cart not cleared after checkout",
			slog.String("order", o.Number), slog.String("error", err.Error()))
	}

	log.InfoContext(ctx, "order placed",
		slog.String("order", o.Number),
		slog.String("total", o.Total.StringFixed(2)),
		slog.Int("lines", len(o.Items)),
		slog.Bool("paid", paid))
	s.announce(ctx, o, levels)
	return &Result{Order: o}, nil
}

// replay returns the order already created for the request's idempotency
// key, if any.
func (s *Service) replay(ctx context.Context, req Request) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	o, err := s.Orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, apperr.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("look up idempotency key", err)
	}
	if o.SessionID != req.SessionID {
		return nil, apperr.Conflict(apperr.ReasonIdempotencyReuse, "idempotency key was used for another checkout")
	}
	return &Result{Order: o, Replayed: true}, nil
}

// snapshot re-reads every cart product concurrently and freezes the order
// lines. The first failing line in cart order decides the error.
func (s *Service) snapshot(ctx context.Context, c *cart.Cart) ([]orders.Item, error) {
	items := make([]orders.Item, len(c.Items))
	errs := make([]error, len(c.Items))

	var g errgroup.Group
	g.SetLimit(8)
	for i, it := range c.Items {
		g.Go(func() error {
			p, err := s.Catalog.Get(ctx, it.ProductID)
			switch {
			case err != nil:
				errs[i] = err
			case !p.IsActive:
				errs[i] = apperr.ErrProductInactive.With("productId", p.ID).With("sku", p.SKU)
			case p.Stock < it.Quantity:
				errs[i] = apperr.OutOfStock(p.ID, p.Stock, it.Quantity)
			default:
				items[i] = orders.Item{
					ProductID: p.ID,
					SKU:       p.SKU,
					Name:      p.Name,
					Quantity:  it.Quantity,
					Price:     it.Price,
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err == nil {
			continue
		}
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Internal("load product", err)
	}
	return items, nil
}

func (s *Service) verifyPayment(ctx context.Context, paymentIntentID string, total decimal.Decimal) error {
	_, err := s.Orders.GetByPaymentIntent(ctx, paymentIntentID)
	switch {
	case err == nil:
		return paymentAlreadyUsed()
	case !errors.Is(err, apperr.ErrOrderNotFound):
		return apperr.Internal("look up payment", err)
	}
	if s.Payments == nil {
		return apperr.InvalidInput("payment confirmation is not available")
	}
	_, err = s.Payments.Verify(ctx, paymentIntentID, total)
	return err
}

func (s *Service) newOrder(req Request, items []orders.Item, t orders.Totals, paid bool) *orders.Order {
	now := s.now().UTC()
	o := &orders.Order{
		ID:              uuid.NewString(),
		SessionID:       req.SessionID,
		IdempotencyKey:  req.IdempotencyKey,
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
		Items:           items,
		Subtotal:        t.Subtotal,
		Tax:             t.Tax,
		ShippingFee:     t.ShippingFee,
		Discount:        t.Discount,
		Total:           t.Total,
		Status:          orders.StatusPending,
		PaymentStatus:   orders.PaymentPending,
		PaymentMethod:   "stripe",
		PaymentIntentID: req.PaymentIntentID,
		Language:        req.Language,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if paid {
		o.Status, o.PaymentStatus, o.PaidAt = orders.StatusProcessing, orders.PaymentPaid, &now
	}
	return o
}

// release gives reserved stock back after a failed checkout. It runs even if
// the request context is already cancelled.
func (s *Service) release(ctx context.Context, lines []inventory.Line, step string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.Inventory.Release(ctx, lines); err != nil {
		s.Logger.ErrorContext(ctx, "stock release after failed checkout failed",
			slog.String("step", step), slog.Any("lines", lines), slog.String("error", err.Error()))
		return
	}
	s.Logger.WarnContext(ctx, "checkout aborted, stock released", slog.String("step", step), slog.Int("lines", len(lines)))
}

func (s *Service) announce(ctx context.Context, o *orders.Order, levels []inventory.Level) {
	if s.Notifier == nil {
		return
	}
	s.notify(ctx, orders.EventOrderPlaced, o.Number, orders.OrderPayload{Order: *o})
	s.notify(ctx, orders.EventAdminNewOrder, o.Number, orders.OrderPayload{Order: *o})

	byID := make(map[string]orders.Item, len(o.Items))
	for _, it := range o.Items {
		byID[it.ProductID] = it
	}
	for _, l := range levels {
		if l.Remaining > s.cfg.LowStockThreshold {
			continue
		}
		it := byID[l.ProductID]
		s.notify(ctx, orders.EventLowStock, l.ProductID, orders.LowStockPayload{
			ProductID: l.ProductID,
			SKU:       it.SKU,
			Name:      it.Name,
			Remaining: l.Remaining,
			Threshold: s.cfg.LowStockThreshold,
			OrderRef:  o.Number,
		})
	}
}

func (s *Service) notify(ctx context.Context, eventType, key string, payload any) {
	if err := s.Notifier.Notify(ctx, eventType, key, payload); err != nil {
		s.Logger.WarnContext(ctx, "notification dropped",
			slog.String("event", eventType), slog.String("key", key), slog.String("error", err.Error()))
	}
}

func paymentAlreadyUsed() *apperr.Error {
	return apperr.Conflict(apperr.ReasonPaymentAlreadyUsed, "payment is already bound to another order")
}

func normalize(r Request) Request {
	trim := strings.TrimSpace
	r.SessionID = trim(r.SessionID)
	r.Customer.Name = trim(r.Customer.Name)
	r.Customer.Email = strings.ToLower(trim(r.Customer.Email))
	r.Customer.Phone = trim(r.Customer.Phone)
	r.ShippingAddress.Street = trim(r.ShippingAddress.Street)
	r.ShippingAddress.City = trim(r.ShippingAddress.City)
	r.ShippingAddress.PostalCode = trim(r.ShippingAddress.PostalCode)
	r.ShippingAddress.Country = trim(r.ShippingAddress.Country)
	r.PaymentIntentID = trim(r.PaymentIntentID)
	r.IdempotencyKey = trim(r.IdempotencyKey)
	r.Notes = trim(r.Notes)
	if strings.EqualFold(trim(r.Language), "no") {
		r.Language = "no"
	} else {
		r.Language = "en"
	}
	return r
}

func validate(r Request) error {
	fields := map[string]string{}
	required := map[string]string{
		"sessionId":                  r.SessionID,
		"customer.name":              r.Customer.Name,
		"customer.phone":             r.Customer.Phone,
		"shippingAddress.street":     r.ShippingAddress.Street,
		"shippingAddress.city":       r.ShippingAddress.City,
		"shippingAddress.postalCode": r.ShippingAddress.PostalCode,
		"shippingAddress.country":    r.ShippingAddress.Country,
	}
	for name, v := range required {
		if v == "" {
			fields[name] = "required"
		}
	}
	if r.Customer.Email == "" {
		fields["customer.email"] = "required"
	} else if a, err := mail.ParseAddress(r.Customer.Email); err != nil || a.Address != r.Customer.Email {
		fields["customer.email"] = "invalid"
	}
	if len(r.IdempotencyKey) > 255 {
		fields["idempotencyKey"] = "too long"
	}
	if len(fields) > 0 {
		return apperr.InvalidInput("invalid checkout request").With("fields", fields)
	}
	return nil
}
