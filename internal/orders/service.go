package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/auth"
)

// Store is the persistence the state machine needs. Every mutating call is
// conditional on the current status and reports whether it applied.
type Store interface {
	Get(ctx context.Context, ref string) (*Order, error)
	ListByEmail(ctx context.Context, email string) ([]Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	Transition(ctx context.Context, id string, from, to Status) (*Order, bool, error)
	Cancel(ctx context.Context, id string) (*Order, bool, error)
	UpdateShipping(ctx context.Context, id string, u ShippingUpdate) (*Order, Status, error)
	MarkPaid(ctx context.Context, id, paymentIntentID string, at time.Time) (*Order, bool, error)
	MarkPaymentFailed(ctx context.Context, id string) (*Order, bool, error)
}

type Service struct {
	store    Store
	notifier Notifier
	cache    TrackingCache
	logger   *slog.Logger
}

func NewService(store Store, notifier Notifier, cache TrackingCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, notifier: notifier, cache: cache, logger: logger}
}

func (s *Service) Get(ctx context.Context, ref string) (*Order, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, apperr.InvalidInput("order id is required")
	}
	return s.store.Get(ctx, ref)
}

// Track returns the public progress view, served from cache when possible.
func (s *Service) Track(ctx context.Context, ref string) (*Tracking, error) {
	key := strings.ToUpper(strings.TrimSpace(ref))
	if s.cache != nil {
		if t, err := s.cache.Get(ctx, key); err == nil {
			return t, nil
		} else if !errors.Is(err, ErrTrackingMiss) {
			s.logger.WarnContext(ctx, "tracking cache read failed", slog.String("order", key), slog.String("error", err.Error()))
		}
	}
	o, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	t := NewTracking(o)
	if s.cache != nil && key == o.Number {
		if err := s.cache.Set(ctx, t); err != nil {
			s.logger.WarnContext(ctx, "tracking cache write failed", slog.String("order", o.Number), slog.String("error", err.Error()))
		}
	}
	return t, nil
}

// Lookup lists a customer's orders by contact email.
func (s *Service) Lookup(ctx context.Context, email string) ([]Order, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.InvalidInput("email is required")
	}
	return s.store.ListByEmail(ctx, email)
}

func (s *Service) List(ctx context.Context, staff auth.Staff, f ListFilter) ([]Order, error) {
	if !staff.IsStaff() {
		return nil, apperr.Unauthorized("staff identity required")
	}
	return s.store.List(ctx, f)
}

// UpdateStatus applies a staff-requested status change. Writing the current
// status again is a no-op; anything off the allowed graph is rejected.
func (s *Service) UpdateStatus(ctx context.Context, staff auth.Staff, ref, raw string) (*Order, error) {
	if !staff.IsStaff() {
		return nil, apperr.Unauthorized("staff identity required")
	}
	to, err := ParseStatus(raw)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, apperr.ReasonInvalidStatus, err.Error()).
			With("allowed", []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled})
	}
	o, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.Status == to {
		return o, nil
	}
	if to == StatusCancelled {
		return s.cancel(ctx, o, "staff:"+staff.ID)
	}
	if !CanTransition(o.Status, to) {
		return nil, invalidTransition(o.Status, to)
	}

	updated, applied, err := s.store.Transition(ctx, o.ID, o.Status, to)
	if err != nil {
		return nil, err
	}
	if !applied {
		if updated.Status == to {
			return updated, nil
		}
		return nil, apperr.Conflict(apperr.ReasonConcurrentUpdate, "order status changed concurrently, reload and retry").
			With("orderStatus", updated.Status)
	}

	s.logger.InfoContext(ctx, "order status changed",
		slog.String("order", updated.Number),
		slog.String("from", string(o.Status)),
		slog.String("to", string(to)),
		slog.String("staff", staff.ID))
	s.forget(ctx, updated.Number)
	event := EventOrderStatusChanged
	if to == StatusShipped {
		event = EventOrderShipped
	}
	s.emit(ctx, event, updated, o.Status)
	return updated, nil
}

// UpdatePaymentStatus is the staff override for payments settled outside the
// provider flow. Only pending or failed payments may be marked paid and only
// pending ones failed; refunds go through the refund endpoint.
func (s *Service) UpdatePaymentStatus(ctx context.Context, staff auth.Staff, ref, raw string) (*Order, error) {
	if !staff.IsStaff() {
		return nil, apperr.Unauthorized("staff identity required")
	}
	to, err := ParsePaymentStatus(raw)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, apperr.ReasonInvalidStatus, err.Error()).
			With("allowed", []PaymentStatus{PaymentPaid, PaymentFailed})
	}
	o, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == to {
		return o, nil
	}

	var (
		updated *Order
		applied bool
		event   string
	)
	switch {
	case to == PaymentPaid && o.Status == StatusCancelled:
		return nil, apperr.Conflict(apperr.ReasonOrderCancelled, "cannot mark a cancelled order paid")
	case to == PaymentPaid && (o.PaymentStatus == PaymentPending || o.PaymentStatus == PaymentFailed):
		updated, applied, err = s.store.MarkPaid(ctx, o.ID, "", time.Now().UTC())
		event = EventPaymentConfirmed
	case to == PaymentFailed && o.PaymentStatus == PaymentPending:
		updated, applied, err = s.store.MarkPaymentFailed(ctx, o.ID)
		event = EventPaymentFailed
	default:
		return nil, apperr.Conflict(apperr.ReasonInvalidTransition,
			fmt.Sprintf("cannot change payment status from %s to %s", o.PaymentStatus, to)).
			With("from", o.PaymentStatus).With("to", to)
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		if updated.PaymentStatus == to {
			return updated, nil
		}
		return nil, apperr.Conflict(apperr.ReasonConcurrentUpdate, "payment status changed concurrently, reload and retry").
			With("paymentStatus", updated.PaymentStatus)
	}

	s.logger.InfoContext(ctx, "payment status overridden",
		slog.String("order", updated.Number),
		slog.String("from", string(o.PaymentStatus)),
		slog.String("to", string(to)),
		slog.String("staff", staff.ID))
	s.forget(ctx, updated.Number)
	var prev Status
	if updated.Status != o.Status {
		prev = o.Status
	}
	s.emit(ctx, event, updated, prev)
	return updated, nil
}

// CancelByCustomer lets a customer cancel their own order while it has not
// shipped. The email must match the one stored on the order.
func (s *Service) CancelByCustomer(ctx context.Context, ref, email string) (*Order, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.InvalidInput("email is required")
	}
	o, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(email, strings.TrimSpace(o.Customer.Email)) {
		return nil, apperr.Forbidden(apperr.ReasonEmailMismatch, "email does not match the order")
	}
	if !o.Status.Cancellable() {
		return nil, invalidTransition(o.Status, StatusCancelled)
	}
	return s.cancel(ctx, o, "customer")
}

// CancelForRefund cancels an unshipped order after a full refund. Orders that
// already shipped keep their status and their stock.
func (s *Service) CancelForRefund(ctx context.Context, id string) (*Order, bool, error) {
	o, applied, err := s.store.Cancel(ctx, id)
	if err != nil || !applied {
		return o, applied, err
	}
	s.afterCancel(ctx, o, "refund")
	return o, true, nil
}

// UpdateShipping records tracking details. A tracking number on a processing
// order implies it shipped.
func (s *Service) UpdateShipping(ctx context.Context, staff auth.Staff, ref string, u ShippingUpdate) (*Order, error) {
	if !staff.IsStaff() {
		return nil, apperr.Unauthorized("staff identity required")
	}
	if u.Empty() {
		return nil, apperr.InvalidInput("at least one of trackingNumber, carrier, estimatedDelivery is required")
	}
	o, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusCancelled || o.Status == StatusDelivered {
		return nil, apperr.Conflict(apperr.ReasonInvalidTransition,
			fmt.Sprintf("cannot update shipping of a %s order", o.Status))
	}

	updated, prev, err := s.store.UpdateShipping(ctx, o.ID, u)
	if err != nil {
		return nil, err
	}
	s.forget(ctx, updated.Number)
	if prev != StatusShipped && updated.Status == StatusShipped {
		s.logger.InfoContext(ctx, "order shipped", slog.String("order", updated.Number), slog.String("staff", staff.ID))
		s.emit(ctx, EventOrderShipped, updated, prev)
	}
	return updated, nil
}

func (s *Service) cancel(ctx context.Context, o *Order, actor string) (*Order, error) {
	updated, applied, err := s.store.Cancel(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if !applied {
		if updated.Status == StatusCancelled {
			return updated, nil
		}
		return nil, invalidTransition(updated.Status, StatusCancelled)
	}
	s.afterCancel(ctx, updated, actor)
	return updated, nil
}

func (s *Service) afterCancel(ctx context.Context, o *Order, actor string) {
	s.logger.InfoContext(ctx, "order cancelled, stock released",
		slog.String("order", o.Number),
		slog.String("by", actor),
		slog.Int("lines", len(o.Items)))
	s.forget(ctx, o.Number)
	s.emit(ctx, EventOrderCancelled, o, "")
}

func (s *Service) forget(ctx context.Context, number string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Forget(ctx, number); err != nil {
		s.logger.WarnContext(ctx, "tracking cache invalidation failed", slog.String("order", number), slog.String("error", err.Error()))
	}
}

func (s *Service) emit(ctx context.Context, eventType string, o *Order, prev Status) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, eventType, o.Number, OrderPayload{Order: *o, PreviousStatus: prev}); err != nil {
		s.logger.WarnContext(ctx, "notification dropped",
			slog.String("event", eventType), slog.String("order", o.Number), slog.String("error", err.Error()))
	}
}

func invalidTransition(from, to Status) *apperr.Error {
	return apperr.Conflict(apperr.ReasonInvalidTransition,
		fmt.Sprintf("cannot change order status from %s to %s", from, to)).
		With("from", from).With("to", to)
}
