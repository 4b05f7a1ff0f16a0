package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrPaymentIntentInUse      = errors.New("payment intent bound to another order")
)

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, order_number, session_id, idempotency_key,
	customer_name, customer_email, customer_phone,
	ship_street, ship_city, ship_postal_code, ship_country,
	subtotal, tax, shipping_fee, discount, total,
	order_status, payment_status, payment_method, payment_intent_id,
	tracking_number, carrier, estimated_delivery, language, notes,
	paid_at, cancelled_at, shipped_at, delivered_at, created_at, updated_at`

// Create persists the order and its items in one transaction.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, order_number, session_id, idempotency_key,
			customer_name, customer_email, customer_phone,
			ship_street, ship_city, ship_postal_code, ship_country,
			subtotal, tax, shipping_fee, discount, total,
			order_status, payment_status, payment_method, payment_intent_id,
			language, notes, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at, updated_at`,
		o.ID, o.Number, o.SessionID, nullable(o.IdempotencyKey),
		o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.ShippingAddress.Street, o.ShippingAddress.City, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.Subtotal, o.Tax, o.ShippingFee, o.Discount, o.Total,
		string(o.Status), string(o.PaymentStatus), o.PaymentMethod, nullable(o.PaymentIntentID),
		o.Language, o.Notes, o.PaidAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return classifyInsert(err)
	}

	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, position, product_id, sku, name_en, name_no, quantity, price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			o.ID, i, it.ProductID, it.SKU, it.Name.EN, it.Name.NO, it.Quantity, it.Price); err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

func classifyInsert(err error) error {
	constraint, ok := postgres.UniqueViolation(err)
	switch {
	case !ok:
		return fmt.Errorf("insert order: %w", err)
	case strings.Contains(constraint, "idempotency"):
		return ErrDuplicateIdempotencyKey
	case strings.Contains(constraint, "payment_intent"):
		return ErrPaymentIntentInUse
	default:
		return fmt.Errorf("insert order: %w", err)
	}
}

// Get resolves an order by order number or surrogate id.
func (r *Repo) Get(ctx context.Context, ref string) (*Order, error) {
	return getOne(ctx, r.DB, `order_number = upper($1) OR id = $1`, strings.TrimSpace(ref))
}

func (r *Repo) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	return getOne(ctx, r.DB, `idempotency_key = $1`, key)
}

func (r *Repo) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*Order, error) {
	return getOne(ctx, r.DB, `payment_intent_id = $1`, paymentIntentID)
}

// ListByEmail returns the customer's most recent orders, newest first.
func (r *Repo) ListByEmail(ctx context.Context, email string) ([]Order, error) {
	return loadMany(ctx, r.DB,
		`WHERE lower(customer_email) = lower($1) ORDER BY created_at DESC LIMIT 50`, strings.TrimSpace(email))
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Order, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if f.Status != "" {
		return loadMany(ctx, r.DB, `WHERE order_status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			string(f.Status), limit, max(f.Offset, 0))
	}
	return loadMany(ctx, r.DB, `ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, max(f.Offset, 0))
}

// Transition moves the order from one status to another. applied is false
// when the order was no longer in from.
func (r *Repo) Transition(ctx context.Context, id string, from, to Status) (*Order, bool, error) {
	return r.update(ctx, id, `
		UPDATE orders SET order_status = $3, updated_at = now(),
			shipped_at = CASE WHEN $3 = 'shipped' THEN now() ELSE shipped_at END,
			delivered_at = CASE WHEN $3 = 'delivered' THEN now() ELSE delivered_at END
		WHERE id = $1 AND order_status = $2`, id, string(from), string(to))
}

// Cancel flips a pending or processing order to cancelled and restores its
// stock in the same transaction, so stock is released at most once per order.
func (r *Repo) Cancel(ctx context.Context, id string) (*Order, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET order_status = 'cancelled', cancelled_at = now(), updated_at = now()
		WHERE id = $1 AND order_status IN ('pending', 'processing')`, id)
	if err != nil {
		return nil, false, fmt.Errorf("cancel order: %w", err)
	}
	o, err := getOne(ctx, tx, `id = $1`, id)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 0 {
		return o, false, nil
	}
	if err := inventory.ReleaseWith(ctx, tx, o.Lines()); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// UpdateShipping writes the supplied tracking fields. A tracking number on a
// processing order also moves it to shipped. prev is the status before.
func (r *Repo) UpdateShipping(ctx context.Context, id string, u ShippingUpdate) (o *Order, prev Status, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT order_status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", apperr.ErrOrderNotFound
	}
	if err != nil {
		return nil, "", err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET
			tracking_number = COALESCE($2, tracking_number),
			carrier = COALESCE($3, carrier),
			estimated_delivery = COALESCE($4, estimated_delivery),
			order_status = CASE WHEN COALESCE($2, '') <> '' AND order_status = 'processing' THEN 'shipped' ELSE order_status END,
			shipped_at = CASE WHEN COALESCE($2, '') <> '' AND order_status = 'processing' THEN now() ELSE shipped_at END,
			updated_at = now()
		WHERE id = $1`, id, u.TrackingNumber, u.Carrier, u.EstimatedDelivery)
	if err != nil {
		return nil, "", fmt.Errorf("update shipping: %w", err)
	}
	if o, err = getOne(ctx, tx, `id = $1`, id); err != nil {
		return nil, "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", err
	}
	return o, Status(current), nil
}

// SetPaymentIntent binds a provider payment to an unpaid order.
func (r *Repo) SetPaymentIntent(ctx context.Context, id, paymentIntentID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_intent_id = $2, updated_at = now()
		WHERE id = $1 AND payment_status IN ('pending', 'failed')`, id, paymentIntentID)
	if err != nil {
		if _, ok := postgres.UniqueViolation(err); ok {
			return false, ErrPaymentIntentInUse
		}
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// MarkPaid records a successful payment once. A pending order moves to
// processing; any other order status is left alone.
func (r *Repo) MarkPaid(ctx context.Context, id, paymentIntentID string, at time.Time) (*Order, bool, error) {
	return r.update(ctx, id, `
		UPDATE orders SET payment_status = 'paid', paid_at = $3,
			payment_intent_id = COALESCE(NULLIF($2, ''), payment_intent_id),
			order_status = CASE WHEN order_status = 'pending' THEN 'processing' ELSE order_status END,
			updated_at = now()
		WHERE id = $1 AND payment_status IN ('pending', 'failed')`, id, paymentIntentID, at)
}

func (r *Repo) MarkPaymentFailed(ctx context.Context, id string) (*Order, bool, error) {
	return r.update(ctx, id, `
		UPDATE orders SET payment_status = 'failed', updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`, id)
}

func (r *Repo) MarkRefunded(ctx context.Context, id string) (*Order, bool, error) {
	return r.update(ctx, id, `
		UPDATE orders SET payment_status = 'refunded', updated_at = now()
		WHERE id = $1 AND payment_status = 'paid'`, id)
}

// AddRefund appends a refund record. Recording the same provider refund id
// twice is a no-op.
func (r *Repo) AddRefund(ctx context.Context, id string, rf Refund) (*Order, bool, error) {
	return r.update(ctx, id, `
		INSERT INTO refunds (refund_id, order_id, amount, reason, created_at)
		VALUES ($2, $1, $3, $4, $5)
		ON CONFLICT (refund_id) DO NOTHING`, id, rf.ID, rf.Amount, rf.Reason, rf.CreatedAt)
}

// update runs a conditional statement and returns the order as it is after.
func (r *Repo) update(ctx context.Context, id, sql string, args ...any) (*Order, bool, error) {
	ct, err := r.DB.Exec(ctx, sql, args...)
	if err != nil {
		if constraint, ok := postgres.UniqueViolation(err); ok && strings.Contains(constraint, "payment_intent") {
			return nil, false, ErrPaymentIntentInUse
		}
		return nil, false, err
	}
	o, err := getOne(ctx, r.DB, `id = $1`, id)
	if err != nil {
		return nil, false, err
	}
	return o, ct.RowsAffected() > 0, nil
}

func getOne(ctx context.Context, q inventory.Querier, where string, args ...any) (*Order, error) {
	list, err := loadMany(ctx, q, `WHERE `+where+` LIMIT 1`, args...)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperr.ErrOrderNotFound
	}
	return &list[0], nil
}

func loadMany(ctx context.Context, q inventory.Querier, tail string, args ...any) ([]Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	var (
		out []Order
		ids []string
	)
	for rows.Next() {
		var (
			o              Order
			idem, intentID *string
			status, pay    string
		)
		err := rows.Scan(&o.ID, &o.Number, &o.SessionID, &idem,
			&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
			&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
			&o.Subtotal, &o.Tax, &o.ShippingFee, &o.Discount, &o.Total,
			&status, &pay, &o.PaymentMethod, &intentID,
			&o.Shipping.TrackingNumber, &o.Shipping.Carrier, &o.Shipping.EstimatedDelivery, &o.Language, &o.Notes,
			&o.PaidAt, &o.CancelledAt, &o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			rows.Close()
			return nil, err
		}
		o.Status, o.PaymentStatus = Status(status), PaymentStatus(pay)
		if idem != nil {
			o.IdempotencyKey = *idem
		}
		if intentID != nil {
			o.PaymentIntentID = *intentID
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	byID := make(map[string]*Order, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	if err := loadItems(ctx, q, ids, byID); err != nil {
		return nil, err
	}
	if err := loadRefunds(ctx, q, ids, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func loadItems(ctx context.Context, q inventory.Querier, ids []string, byID map[string]*Order) error {
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, sku, name_en, name_no, quantity, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.SKU, &it.Name.EN, &it.Name.NO, &it.Quantity, &it.Price); err != nil {
			return err
		}
		o := byID[orderID]
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func loadRefunds(ctx context.Context, q inventory.Querier, ids []string, byID map[string]*Order) error {
	rows, err := q.Query(ctx, `
		SELECT order_id, refund_id, amount, reason, created_at
		FROM refunds WHERE order_id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return fmt.Errorf("load refunds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			rf      Refund
		)
		if err := rows.Scan(&orderID, &rf.ID, &rf.Amount, &rf.Reason, &rf.CreatedAt); err != nil {
			return err
		}
		o := byID[orderID]
		o.Refunds = append(o.Refunds, rf)
	}
	return rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
