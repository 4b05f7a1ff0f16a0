package testutil

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Orders mirrors orders.Repo: every mutation is conditional on the current
// status and reports whether it applied.
type Orders struct {
	m *Memory

	CreateErr   error
	MarkPaidErr error
}

func (s *Orders) Create(_ context.Context, o *orders.Order) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	for _, cur := range s.m.orders {
		switch {
		case o.IdempotencyKey != "" && cur.IdempotencyKey == o.IdempotencyKey:
			return orders.ErrDuplicateIdempotencyKey
		case o.PaymentIntentID != "" && cur.PaymentIntentID == o.PaymentIntentID:
			return orders.ErrPaymentIntentInUse
		case cur.Number == o.Number || cur.ID == o.ID:
			return errors.New("duplicate order")
		}
	}
	now := s.m.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.m.orders[o.ID] = copyOrder(o)
	s.m.created = append(s.m.created, o.ID)
	return nil
}

// Put stores o as is, bypassing the uniqueness checks.
func (s *Orders) Put(o *orders.Order) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.orders[o.ID]; !ok {
		s.m.created = append(s.m.created, o.ID)
	}
	s.m.orders[o.ID] = copyOrder(o)
}

// All returns every order in creation order.
func (s *Orders) All() []orders.Order {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]orders.Order, 0, len(s.m.created))
	for _, id := range s.m.created {
		out = append(out, *copyOrder(s.m.orders[id]))
	}
	return out
}

func (s *Orders) Get(_ context.Context, ref string) (*orders.Order, error) {
	ref = strings.TrimSpace(ref)
	return s.find(func(o *orders.Order) bool { return o.ID == ref || o.Number == strings.ToUpper(ref) })
}

func (s *Orders) GetByIdempotencyKey(_ context.Context, key string) (*orders.Order, error) {
	return s.find(func(o *orders.Order) bool { return o.IdempotencyKey != "" && o.IdempotencyKey == key })
}

func (s *Orders) GetByPaymentIntent(_ context.Context, paymentIntentID string) (*orders.Order, error) {
	return s.find(func(o *orders.Order) bool { return o.PaymentIntentID != "" && o.PaymentIntentID == paymentIntentID })
}

func (s *Orders) ListByEmail(_ context.Context, email string) ([]orders.Order, error) {
	email = strings.TrimSpace(email)
	return s.filter(func(o *orders.Order) bool { return strings.EqualFold(o.Customer.Email, email) }, 50, 0), nil
}

func (s *Orders) List(_ context.Context, f orders.ListFilter) ([]orders.Order, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.filter(func(o *orders.Order) bool { return f.Status == "" || o.Status == f.Status }, limit, max(f.Offset, 0)), nil
}

func (s *Orders) Transition(_ context.Context, id string, from, to orders.Status) (*orders.Order, bool, error) {
	return s.update(id, func(o *orders.Order, now time.Time) bool {
		if o.Status != from {
			return false
		}
		o.Status = to
		switch to {
		case orders.StatusShipped:
			o.ShippedAt = &now
		case orders.StatusDelivered:
			o.DeliveredAt = &now
		}
		return true
	})
}

func (s *Orders) Cancel(_ context.Context, id string) (*orders.Order, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	o, ok := s.m.orders[id]
	if !ok {
		return nil, false, apperr.ErrOrderNotFound
	}
	if !o.Status.Cancellable() {
		return copyOrder(o), false, nil
	}
	if err := s.m.release(o.Lines()); err != nil {
		return nil, false, err
	}
	now := s.m.Now().UTC()
	o.Status, o.CancelledAt, o.UpdatedAt = orders.StatusCancelled, &now, now
	return copyOrder(o), true, nil
}

func (s *Orders) UpdateShipping(_ context.Context, id string, u orders.ShippingUpdate) (*orders.Order, orders.Status, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	o, ok := s.m.orders[id]
	if !ok {
		return nil, "", apperr.ErrOrderNotFound
	}
	prev := o.Status
	now := s.m.Now().UTC()
	if u.TrackingNumber != nil {
		o.Shipping.TrackingNumber = *u.TrackingNumber
		if *u.TrackingNumber != "" && o.Status == orders.StatusProcessing {
			o.Status, o.ShippedAt = orders.StatusShipped, &now
		}
	}
	if u.Carrier != nil {
		o.Shipping.Carrier = *u.Carrier
	}
	if u.EstimatedDelivery != nil {
		d := *u.EstimatedDelivery
		o.Shipping.EstimatedDelivery = &d
	}
	o.UpdatedAt = now
	return copyOrder(o), prev, nil
}

func (s *Orders) SetPaymentIntent(_ context.Context, id, paymentIntentID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	o, ok := s.m.orders[id]
	if !ok {
		return false, nil
	}
	for _, cur := range s.m.orders {
		if cur.ID != id && cur.PaymentIntentID == paymentIntentID {
			return false, orders.ErrPaymentIntentInUse
		}
	}
	if o.PaymentStatus != orders.PaymentPending && o.PaymentStatus != orders.PaymentFailed {
		return false, nil
	}
	o.PaymentIntentID = paymentIntentID
	return true, nil
}

func (s *Orders) MarkPaid(_ context.Context, id, paymentIntentID string, at time.Time) (*orders.Order, bool, error) {
	s.m.mu.Lock()
	if s.MarkPaidErr != nil {
		s.m.mu.Unlock()
		return nil, false, s.MarkPaidErr
	}
	for _, cur := range s.m.orders {
		if paymentIntentID != "" && cur.ID != id && cur.PaymentIntentID == paymentIntentID {
			s.m.mu.Unlock()
			return nil, false, orders.ErrPaymentIntentInUse
		}
	}
	s.m.mu.Unlock()
	return s.update(id, func(o *orders.Order, _ time.Time) bool {
		if o.PaymentStatus != orders.PaymentPending && o.PaymentStatus != orders.PaymentFailed {
			return false
		}
		o.PaymentStatus, o.PaidAt = orders.PaymentPaid, &at
		if paymentIntentID != "" {
			o.PaymentIntentID = paymentIntentID
		}
		if o.Status == orders.StatusPending {
			o.Status = orders.StatusProcessing
		}
		return true
	})
}

func (s *Orders) MarkPaymentFailed(_ context.Context, id string) (*orders.Order, bool, error) {
	return s.update(id, func(o *orders.Order, _ time.Time) bool {
		if o.PaymentStatus != orders.PaymentPending {
			return false
		}
		o.PaymentStatus = orders.PaymentFailed
		return true
	})
}

func (s *Orders) MarkRefunded(_ context.Context, id string) (*orders.Order, bool, error) {
	return s.update(id, func(o *orders.Order, _ time.Time) bool {
		if o.PaymentStatus != orders.PaymentPaid {
			return false
		}
		o.PaymentStatus = orders.PaymentRefunded
		return true
	})
}

func (s *Orders) AddRefund(_ context.Context, id string, rf orders.Refund) (*orders.Order, bool, error) {
	return s.update(id, func(o *orders.Order, _ time.Time) bool {
		for _, r := range o.Refunds {
			if r.ID == rf.ID {
				return false
			}
		}
		o.Refunds = append(o.Refunds, rf)
		return true
	})
}

func (s *Orders) update(id string, fn func(o *orders.Order, now time.Time) bool) (*orders.Order, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	o, ok := s.m.orders[id]
	if !ok {
		return nil, false, apperr.ErrOrderNotFound
	}
	now := s.m.Now().UTC()
	applied := fn(o, now)
	if applied {
		o.UpdatedAt = now
	}
	return copyOrder(o), applied, nil
}

func (s *Orders) find(match func(*orders.Order) bool) (*orders.Order, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, id := range s.m.created {
		if o := s.m.orders[id]; match(o) {
			return copyOrder(o), nil
		}
	}
	return nil, apperr.ErrOrderNotFound
}

func (s *Orders) filter(match func(*orders.Order) bool, limit, offset int) []orders.Order {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []orders.Order
	for _, id := range slices.Backward(s.m.created) {
		if o := s.m.orders[id]; match(o) {
			out = append(out, *copyOrder(o))
		}
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyOrder(o *orders.Order) *orders.Order {
	cp := *o
	cp.Items = append([]orders.Item(nil), o.Items...)
	cp.Refunds = append([]orders.Refund(nil), o.Refunds...)
	return &cp
}
