package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/money"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Refund reasons the provider accepts; anything else is sent as
// requested_by_customer and kept verbatim on our record.
var stripeRefundReasons = map[string]bool{
	"duplicate":             true,
	"fraudulent":            true,
	"requested_by_customer": true,
}

type StripeProvider struct {
	api           *client.API
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
}

func NewStripeProvider(secretKey, webhookSecret string, logger *slog.Logger) *StripeProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeProvider{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "stripe",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
			IsSuccessful: func(err error) bool {
				// client errors say nothing about provider health
				var se *stripe.Error
				if errors.As(err, &se) && se.HTTPStatusCode > 0 && se.HTTPStatusCode < 500 {
					return true
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			},
		}),
	}
}

func call[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (p *StripeProvider) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(money.ToMinor(amount)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := call(p.breaker, func() (*stripe.PaymentIntent, error) {
		return p.api.PaymentIntents.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return intentFrom(pi), nil
}

func (p *StripeProvider) GetIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := call(p.breaker, func() (*stripe.PaymentIntent, error) {
		return p.api.PaymentIntents.Get(id, params)
	})
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}
	return intentFrom(pi), nil
}

func (p *StripeProvider) Refund(ctx context.Context, paymentIntentID string, amount *decimal.Decimal, reason string) (*Refund, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	if amount != nil {
		params.Amount = stripe.Int64(money.ToMinor(*amount))
	}
	if stripeRefundReasons[reason] {
		params.Reason = stripe.String(reason)
	} else {
		params.Reason = stripe.String("requested_by_customer")
		if reason != "" {
			params.AddMetadata("reason", reason)
		}
	}
	rf, err := call(p.breaker, func() (*stripe.Refund, error) {
		return p.api.Refunds.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", paymentIntentID, err)
	}
	return &Refund{
		ID:       rf.ID,
		Amount:   money.FromMinor(rf.Amount),
		Currency: string(rf.Currency),
		Reason:   reason,
		Status:   string(rf.Status),
		Created:  time.Unix(rf.Created, 0).UTC(),
	}, nil
}

func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return eventFrom(ev)
}

func eventFrom(ev stripe.Event) (*Event, error) {
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}
	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed, EventIntentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		in := intentFrom(&pi)
		out.PaymentIntentID, out.Amount = in.ID, in.Amount
	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		out.Amount = money.FromMinor(ch.AmountRefunded)
		out.FullyRefunded = ch.Refunded
	}
	return out, nil
}

func intentFrom(pi *stripe.PaymentIntent) *Intent {
	amount := pi.Amount
	if pi.Status == stripe.PaymentIntentStatusSucceeded && pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}
	return &Intent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		Amount:       money.FromMinor(amount),
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
}
