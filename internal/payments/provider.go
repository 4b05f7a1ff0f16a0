// Package payments reconciles provider payments with orders. Synchronous
// confirmation and signed webhooks converge on the same conditional
// transitions, so replays and out-of-order deliveries apply at most once.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	IntentSucceeded      = "succeeded"
	IntentProcessing     = "processing"
	IntentRequiresAction = "requires_action"
	IntentCanceled       = "canceled"
)

// Webhook event types handled by the reconciler.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
	EventChargeRefunded  = "charge.refunded"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrIntentNotFound   = errors.New("payment intent not found")
)

type Intent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       decimal.Decimal   `json:"amount"`
	Currency     string            `json:"currency"`
	ClientSecret string            `json:"-"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Refund struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Reason   string          `json:"reason"`
	Status   string          `json:"status"`
	Created  time.Time       `json:"created"`
}

// Event is the provider-neutral shape of a verified webhook.
type Event struct {
	ID              string
	Type            string
	PaymentIntentID string
	Amount          decimal.Decimal
	FullyRefunded   bool
}

// Provider is the external payment processor.
type Provider interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	// Refund refunds amount, or the remaining balance when amount is nil.
	Refund(ctx context.Context, paymentIntentID string, amount *decimal.Decimal, reason string) (*Refund, error)
	// ParseWebhook verifies the signature before decoding anything and
	// returns ErrInvalidSignature when it does not match.
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
