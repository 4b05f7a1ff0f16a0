package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/money"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
)

const DefaultRefundReason = "requested_by_customer"

// Store is the payment side of order persistence. Mark* calls are conditional
// on the current payment status and report whether they applied.
type Store interface {
	Get(ctx context.Context, ref string) (*orders.Order, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*orders.Order, error)
	SetPaymentIntent(ctx context.Context, id, paymentIntentID string) (bool, error)
	MarkPaid(ctx context.Context, id, paymentIntentID string, at time.Time) (*orders.Order, bool, error)
	MarkPaymentFailed(ctx context.Context, id string) (*orders.Order, bool, error)
	MarkRefunded(ctx context.Context, id string) (*orders.Order, bool, error)
	AddRefund(ctx context.Context, id string, rf orders.Refund) (*orders.Order, bool, error)
}

// Canceller cancels an unshipped order once its payment is fully refunded.
type Canceller interface {
	CancelForRefund(ctx context.Context, id string) (*orders.Order, bool, error)
}

// Deduper remembers webhook event ids that were applied.
type Deduper interface {
	Processed(ctx context.Context, id string) (bool, error)
	Remember(ctx context.Context, id string) error
}

const rememberTimeout = 2 * time.Second

type Options struct {
	Currency  string
	Canceller Canceller
	Deduper   Deduper
	Notifier  orders.Notifier
	Cache     orders.TrackingCache
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	store    Store
	provider Provider
	opts     Options
	logger   *slog.Logger
}

func NewService(store Store, provider Provider, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Currency == "" {
		opts.Currency = "nok"
	}
	return &Service{store: store, provider: provider, opts: opts, logger: opts.Logger}
}

// CreateIntent opens a provider payment for an unpaid order and binds it to
// the order. amount defaults to the order total and may not differ from it.
func (s *Service) CreateIntent(ctx context.Context, ref string, amount *decimal.Decimal) (*Intent, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, apperr.InvalidInput("orderId is required")
	}
	o, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := payable(o); err != nil {
		return nil, err
	}
	if amount != nil && !money.Within(*amount, o.Total) {
		return nil, amountMismatch(o.Total, *amount)
	}

	in, err := s.provider.CreateIntent(ctx, o.Total, s.opts.Currency, map[string]string{
		"order_id":     o.ID,
		"order_number": o.Number,
	})
	if err != nil {
		return nil, apperr.Upstream("payment provider unavailable", err)
	}
	bound, err := s.store.SetPaymentIntent(ctx, o.ID, in.ID)
	if err != nil {
		return nil, apperr.Internal("bind payment intent", err)
	}
	if !bound {
		return nil, apperr.Conflict(apperr.ReasonAlreadyPaid, "order is already paid")
	}
	s.logger.InfoContext(ctx, "payment intent created",
		slog.String("order", o.Number), slog.String("intent", in.ID), slog.String("amount", o.Total.StringFixed(2)))
	return in, nil
}

// Verify fetches an intent and checks it succeeded for expected. It touches
// no order state.
func (s *Service) Verify(ctx context.Context, paymentIntentID string, expected decimal.Decimal) (*Intent, error) {
	in, err := s.intent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if in.Status != IntentSucceeded {
		return nil, apperr.New(apperr.KindConflict, apperr.ReasonPaymentNotCompleted, "payment has not succeeded").
			With("status", in.Status)
	}
	if !money.Within(in.Amount, expected) {
		return nil, amountMismatch(expected, in.Amount)
	}
	return in, nil
}

// Confirm is the synchronous path: it trusts only the provider's view of the
// intent and converges with the webhook on the same conditional transition.
func (s *Service) Confirm(ctx context.Context, ref, paymentIntentID string) (*orders.Order, error) {
	if strings.TrimSpace(ref) == "" || strings.TrimSpace(paymentIntentID) == "" {
		return nil, apperr.InvalidInput("orderId and paymentIntentId are required")
	}
	o, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == orders.PaymentPaid || o.PaymentStatus == orders.PaymentRefunded {
		if o.PaymentIntentID == paymentIntentID {
			if o.Status == orders.StatusCancelled && o.PaymentStatus == orders.PaymentPaid {
				return nil, paidAfterCancel(o)
			}
			return o, nil
		}
		return nil, apperr.Conflict(apperr.ReasonAlreadyPaid, "order is already paid with another payment")
	}

	in, err := s.Verify(ctx, paymentIntentID, o.Total)
	if err != nil {
		return nil, err
	}
	if owner := in.Metadata["order_id"]; owner != "" && owner != o.ID {
		return nil, apperr.Conflict(apperr.ReasonPaymentAlreadyUsed, "payment belongs to another order")
	}

	updated, applied, err := s.store.MarkPaid(ctx, o.ID, paymentIntentID, s.opts.Now().UTC())
	if errors.Is(err, orders.ErrPaymentIntentInUse) {
		return nil, apperr.Conflict(apperr.ReasonPaymentAlreadyUsed, "payment is already bound to another order")
	}
	if err != nil {
		return nil, apperr.Internal("mark order paid", err)
	}
	if !applied {
		if updated.PaymentStatus == orders.PaymentPaid && updated.PaymentIntentID == paymentIntentID {
			if updated.Status == orders.StatusCancelled {
				return nil, paidAfterCancel(updated)
			}
			return updated, nil
		}
		return nil, apperr.Conflict(apperr.ReasonAlreadyPaid, "order is already paid with another payment")
	}
	s.paid(ctx, updated, "confirm")
	if updated.Status == orders.StatusCancelled {
		return nil, paidAfterCancel(updated)
	}
	return updated, nil
}

// HandleWebhook verifies and applies one provider event. Redeliveries of an
// event already applied are acknowledged without side effects. An event is
// remembered only after it applied, so a failed delivery stays retryable.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return apperr.New(apperr.KindValidation, apperr.ReasonInvalidSignature, "invalid webhook signature")
		}
		return apperr.InvalidInput("malformed webhook payload")
	}
	log := s.logger.With(slog.String("event_id", ev.ID), slog.String("type", ev.Type))

	if s.opts.Deduper != nil {
		done, err := s.opts.Deduper.Processed(ctx, ev.ID)
		switch {
		case err != nil:
			log.WarnContext(ctx, "webhook dedup unavailable", slog.String("error", err.Error()))
		case done:
			log.DebugContext(ctx, "duplicate webhook ignored")
			return nil
		}
	}

	if err := s.apply(ctx, ev, log); err != nil {
		return err
	}

	if s.opts.Deduper != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rememberTimeout)
		defer cancel()
		if err := s.opts.Deduper.Remember(rctx, ev.ID); err != nil {
			log.WarnContext(ctx, "webhook dedup write failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *Service) apply(ctx context.Context, ev *Event, log *slog.Logger) error {
	switch ev.Type {
	case EventIntentSucceeded, EventIntentFailed, EventIntentCanceled, EventChargeRefunded:
	default:
		log.DebugContext(ctx, "webhook type not handled")
		return nil
	}
	if ev.PaymentIntentID == "" {
		log.WarnContext(ctx, "webhook without payment intent")
		return nil
	}
	o, err := s.store.GetByPaymentIntent(ctx, ev.PaymentIntentID)
	if errors.Is(err, apperr.ErrOrderNotFound) {
		log.WarnContext(ctx, "webhook for unknown payment", slog.String("intent", ev.PaymentIntentID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find order for %s: %w", ev.PaymentIntentID, err)
	}
	log = log.With(slog.String("order", o.Number))

	switch ev.Type {
	case EventIntentSucceeded:
		if !money.Within(ev.Amount, o.Total) {
			log.ErrorContext(ctx, "webhook amount does not match order total",
				slog.String("expected", o.Total.StringFixed(2)), slog.String("paid", ev.Amount.StringFixed(2)))
			return nil
		}
		updated, applied, err := s.store.MarkPaid(ctx, o.ID, ev.PaymentIntentID, s.opts.Now().UTC())
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if applied {
			s.paid(ctx, updated, "webhook")
		}

	case EventIntentFailed, EventIntentCanceled:
		updated, applied, err := s.store.MarkPaymentFailed(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("mark payment failed: %w", err)
		}
		if applied {
			log.InfoContext(ctx, "payment failed")
			s.forget(ctx, updated.Number)
			s.emit(ctx, orders.EventPaymentFailed, updated, nil)
		}

	case EventChargeRefunded:
		if !ev.FullyRefunded {
			log.InfoContext(ctx, "partial refund reported by provider", slog.String("amount", ev.Amount.StringFixed(2)))
			return nil
		}
		updated, applied, err := s.store.MarkRefunded(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
		if applied {
			updated = s.settleRefund(ctx, updated)
			log.InfoContext(ctx, "order refunded by provider", slog.String("status", string(updated.Status)))
			s.emit(ctx, orders.EventRefundIssued, updated, nil)
		}
	}
	return nil
}

// Refund refunds amount, or the remaining balance, of a paid order. A refund
// that covers the total marks the payment refunded and cancels the order if
// it has not shipped.
func (s *Service) Refund(ctx context.Context, staff auth.Staff, paymentIntentID string, amount *decimal.Decimal, reason string) (*orders.Order, *orders.Refund, error) {
	if !staff.IsStaff() {
		return nil, nil, apperr.Unauthorized("staff identity required")
	}
	if strings.TrimSpace(paymentIntentID) == "" {
		return nil, nil, apperr.InvalidInput("paymentIntentId is required")
	}
	o, err := s.store.GetByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, nil, err
	}
	if o.PaymentStatus != orders.PaymentPaid {
		return nil, nil, apperr.Conflict(apperr.ReasonNotRefundable, "only paid orders can be refunded").
			With("paymentStatus", o.PaymentStatus)
	}
	remaining := o.Total.Sub(o.Refunded())
	if amount != nil {
		a := money.Round(*amount)
		if !a.IsPositive() || a.GreaterThan(remaining.Add(money.Epsilon)) {
			return nil, nil, apperr.InvalidInput("refund amount must be positive and not exceed the remaining balance").
				With("remaining", remaining.StringFixed(2)).With("requested", a.StringFixed(2))
		}
		amount = &a
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultRefundReason
	}

	rf, err := s.provider.Refund(ctx, paymentIntentID, amount, reason)
	if err != nil {
		return nil, nil, apperr.Upstream("refund failed at payment provider", err)
	}
	record := orders.Refund{ID: rf.ID, Amount: rf.Amount, Reason: reason, CreatedAt: rf.Created}
	if record.Amount.IsZero() {
		record.Amount = remaining
		if amount != nil {
			record.Amount = *amount
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.opts.Now().UTC()
	}

	// the provider refund stands; losing the record here needs manual repair
	updated, _, err := s.store.AddRefund(ctx, o.ID, record)
	if err != nil {
		s.logger.ErrorContext(ctx, "refund issued but not recorded",
			slog.String("order", o.Number), slog.String("refund", rf.ID), slog.String("error", err.Error()))
		return nil, nil, apperr.Internal("record refund", err)
	}
	if money.Within(updated.Refunded(), updated.Total) || updated.Refunded().GreaterThan(updated.Total) {
		refunded, applied, err := s.store.MarkRefunded(ctx, o.ID)
		if err != nil {
			return nil, nil, apperr.Internal("mark refunded", err)
		}
		updated = refunded
		if applied {
			updated = s.settleRefund(ctx, updated)
		}
	}

	s.logger.InfoContext(ctx, "refund issued",
		slog.String("order", updated.Number),
		slog.String("refund", record.ID),
		slog.String("amount", record.Amount.StringFixed(2)),
		slog.String("payment_status", string(updated.PaymentStatus)),
		slog.String("staff", staff.ID))
	s.forget(ctx, updated.Number)
	s.emit(ctx, orders.EventRefundIssued, updated, &record)
	return updated, &record, nil
}

// Status returns the provider's current view of an intent.
func (s *Service) Status(ctx context.Context, paymentIntentID string) (*Intent, error) {
	return s.intent(ctx, paymentIntentID)
}

func (s *Service) intent(ctx context.Context, id string) (*Intent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.InvalidInput("paymentIntentId is required")
	}
	in, err := s.provider.GetIntent(ctx, id)
	if errors.Is(err, ErrIntentNotFound) {
		return nil, apperr.NotFound(apperr.ReasonPaymentNotFound, "payment intent not found").With("paymentIntentId", id)
	}
	if err != nil {
		return nil, apperr.Upstream("payment provider unavailable", err)
	}
	return in, nil
}

// settleRefund cancels a fully refunded order that has not shipped.
func (s *Service) settleRefund(ctx context.Context, o *orders.Order) *orders.Order {
	if s.opts.Canceller == nil || !o.Status.Cancellable() {
		return o
	}
	cancelled, applied, err := s.opts.Canceller.CancelForRefund(ctx, o.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "cancel after refund failed", slog.String("order", o.Number), slog.String("error", err.Error()))
		return o
	}
	if applied {
		return cancelled
	}
	return o
}

// paid announces a recorded payment. A payment that lands on a cancelled
// order is not confirmed to the customer; staff are asked to refund it.
func (s *Service) paid(ctx context.Context, o *orders.Order, via string) {
	s.forget(ctx, o.Number)
	if o.Status == orders.StatusCancelled {
		s.logger.WarnContext(ctx, "payment received for cancelled order, refund required",
			slog.String("order", o.Number),
			slog.String("intent", o.PaymentIntentID),
			slog.String("via", via))
		s.emit(ctx, orders.EventRefundRequired, o, nil)
		return
	}
	s.logger.InfoContext(ctx, "payment confirmed",
		slog.String("order", o.Number),
		slog.String("intent", o.PaymentIntentID),
		slog.String("via", via))
	s.emit(ctx, orders.EventPaymentConfirmed, o, nil)
}

func (s *Service) forget(ctx context.Context, number string) {
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.Forget(ctx, number); err != nil {
		s.logger.WarnContext(ctx, "tracking cache invalidation failed", slog.String("order", number), slog.String("error", err.Error()))
	}
}

func (s *Service) emit(ctx context.Context, eventType string, o *orders.Order, rf *orders.Refund) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.Notify(ctx, eventType, o.Number, orders.OrderPayload{Order: *o, Refund: rf}); err != nil {
		s.logger.WarnContext(ctx, "notification dropped",
			slog.String("event", eventType), slog.String("order", o.Number), slog.String("error", err.Error()))
	}
}

func payable(o *orders.Order) error {
	switch {
	case o.PaymentStatus == orders.PaymentPaid || o.PaymentStatus == orders.PaymentRefunded:
		return apperr.Conflict(apperr.ReasonAlreadyPaid, "order is already paid")
	case o.Status == orders.StatusCancelled:
		return apperr.Conflict(apperr.ReasonInvalidTransition, "order is cancelled")
	}
	return nil
}

func paidAfterCancel(o *orders.Order) *apperr.Error {
	return apperr.Conflict(apperr.ReasonOrderCancelled, "order was cancelled, the payment will be refunded").
		With("orderStatus", o.Status).With("paymentStatus", o.PaymentStatus)
}

func amountMismatch(expected, paid decimal.Decimal) *apperr.Error {
	return apperr.New(apperr.KindConflict, apperr.ReasonPaymentAmountMismatch,
		fmt.Sprintf("payment amount %s does not match order total %s", paid.StringFixed(2), expected.StringFixed(2))).
		With("expected", expected.StringFixed(2)).With("paid", paid.StringFixed(2))
}
