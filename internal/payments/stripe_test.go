package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

const testWebhookSecret = "whsec_unit"

func signStripe(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeParseWebhook_PaymentSucceeded(t *testing.T) {
	p := NewStripeProvider("sk_test_unit", testWebhookSecret, nil)
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"api_version": "2020-08-27",
		"data": {"object": {
			"id": "pi_1",
			"object": "payment_intent",
			"amount": 250000,
			"amount_received": 250000,
			"currency": "nok",
			"status": "succeeded"
		}}
	}`)

	ev, err := p.ParseWebhook(payload, signStripe(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventIntentSucceeded, ev.Type)
	assert.Equal(t, "pi_1", ev.PaymentIntentID)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(2500)))
}

func TestStripeParseWebhook_ChargeRefunded(t *testing.T) {
	p := NewStripeProvider("sk_test_unit", testWebhookSecret, nil)
	payload := []byte(`{
		"id": "evt_2",
		"object": "event",
		"type": "charge.refunded",
		"data": {"object": {
			"id": "ch_1",
			"object": "charge",
			"amount": 250000,
			"amount_refunded": 250000,
			"refunded": true,
			"payment_intent": "pi_1"
		}}
	}`)

	ev, err := p.ParseWebhook(payload, signStripe(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "pi_1", ev.PaymentIntentID)
	assert.True(t, ev.FullyRefunded)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(2500)))
}

func TestStripeParseWebhook_RejectsBadSignatures(t *testing.T) {
	p := NewStripeProvider("sk_test_unit", testWebhookSecret, nil)
	payload := []byte(`{"id":"evt_3","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	cases := map[string]string{
		"wrong secret": signStripe(payload, "whsec_other", time.Now()),
		"expired":      signStripe(payload, testWebhookSecret, time.Now().Add(-time.Hour)),
		"missing":      "",
		"garbage":      "t=abc,v1=zz",
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.ParseWebhook(payload, sig)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestIntentFrom_UsesReceivedAmountOnceSucceeded(t *testing.T) {
	in := intentFrom(&stripe.PaymentIntent{
		ID:             "pi_1",
		Status:         stripe.PaymentIntentStatusSucceeded,
		Amount:         250000,
		AmountReceived: 249900,
		Currency:       "nok",
	})
	assert.Equal(t, "2499", in.Amount.String())

	in = intentFrom(&stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusProcessing, Amount: 1999})
	assert.Equal(t, "19.99", in.Amount.String())
}
