package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/shopspring/decimal"
)

// Provider is a payments.Provider keeping intents in memory. Webhook
// payloads are JSON encoded payments.Event values signed with Secret.
type Provider struct {
	mu       sync.Mutex
	intents  map[string]*payments.Intent
	refunds  []payments.Refund
	refunded map[string]decimal.Decimal
	seq      int

	Secret string
	Err    error
}

func NewProvider() *Provider {
	return &Provider{
		intents:  make(map[string]*payments.Intent),
		refunded: make(map[string]decimal.Decimal),
		Secret:   "whsec_test",
	}
}

// SetIntent stores or replaces an intent as the provider would report it.
func (p *Provider) SetIntent(id, status, amount string, metadata map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[id] = &payments.Intent{
		ID:       id,
		Status:   status,
		Amount:   decimal.RequireFromString(amount),
		Currency: "nok",
		Metadata: metadata,
	}
}

// Succeed marks an existing intent as paid.
func (p *Provider) Succeed(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if in, ok := p.intents[id]; ok {
		in.Status = payments.IntentSucceeded
	}
}

func (p *Provider) Refunds() []payments.Refund {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payments.Refund(nil), p.refunds...)
}

func (p *Provider) CreateIntent(_ context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*payments.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	p.seq++
	in := &payments.Intent{
		ID:           fmt.Sprintf("pi_test_%d", p.seq),
		Status:       "requires_payment_method",
		Amount:       amount,
		Currency:     currency,
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", p.seq),
		Metadata:     metadata,
	}
	p.intents[in.ID] = in
	cp := *in
	return &cp, nil
}

func (p *Provider) GetIntent(_ context.Context, id string) (*payments.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	in, ok := p.intents[id]
	if !ok {
		return nil, payments.ErrIntentNotFound
	}
	cp := *in
	return &cp, nil
}

func (p *Provider) Refund(_ context.Context, paymentIntentID string, amount *decimal.Decimal, reason string) (*payments.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	in, ok := p.intents[paymentIntentID]
	if !ok {
		return nil, payments.ErrIntentNotFound
	}
	amt := in.Amount.Sub(p.refunded[paymentIntentID])
	if amount != nil {
		amt = *amount
	}
	p.seq++
	rf := payments.Refund{
		ID:       fmt.Sprintf("re_test_%d", p.seq),
		Amount:   amt,
		Currency: in.Currency,
		Reason:   reason,
		Status:   "succeeded",
		Created:  time.Now().UTC(),
	}
	p.refunds = append(p.refunds, rf)
	p.refunded[paymentIntentID] = p.refunded[paymentIntentID].Add(amt)
	return &rf, nil
}

func (p *Provider) ParseWebhook(payload []byte, signature string) (*payments.Event, error) {
	if !hmac.Equal([]byte(signature), []byte(p.Sign(payload))) {
		return nil, payments.ErrInvalidSignature
	}
	var ev payments.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (p *Provider) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(p.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Webhook encodes ev and signs it.
func (p *Provider) Webhook(ev payments.Event) (payload []byte, signature string) {
	payload, _ = json.Marshal(ev)
	return payload, p.Sign(payload)
}

type Notification struct {
	Type    string
	Key     string
	Payload any
}

// Notifier records every notification it is handed.
type Notifier struct {
	mu     sync.Mutex
	events []Notification

	Err error
}

func (n *Notifier) Notify(_ context.Context, eventType, key string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.events = append(n.events, Notification{Type: eventType, Key: key, Payload: payload})
	return nil
}

func (n *Notifier) Events() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.events...)
}

func (n *Notifier) Count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == eventType {
			c++
		}
	}
	return c
}

// Locker is an in-process lock table with the redisx.Locker contract.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool

	Err error
}

func (l *Locker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, false, l.Err
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

// Deduper is an in-process redisx.Deduper.
type Deduper struct {
	mu   sync.Mutex
	done map[string]bool

	Err error
}

func (d *Deduper) Processed(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return false, d.Err
	}
	return d.done[id], nil
}

func (d *Deduper) Remember(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	if d.done == nil {
		d.done = make(map[string]bool)
	}
	d.done[id] = true
	return nil
}
