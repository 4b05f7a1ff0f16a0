// Package notify publishes order events to Kafka and turns them into email
// on the consumer side.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

// Deduper remembers event ids already mailed.
type Deduper interface {
	Processed(ctx context.Context, id string) (bool, error)
	Remember(ctx context.Context, id string) error
}

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
	rememberTimeout = 2 * time.Second
)

type audience struct{ customer, admin bool }

var routes = map[string]audience{
	orders.EventOrderPlaced:        {customer: true},
	orders.EventAdminNewOrder:      {admin: true},
	orders.EventLowStock:           {admin: true},
	orders.EventOrderCancelled:     {customer: true, admin: true},
	orders.EventOrderStatusChanged: {customer: true},
	orders.EventOrderShipped:       {customer: true},
	orders.EventPaymentConfirmed:   {customer: true},
	orders.EventPaymentFailed:      {customer: true},
	orders.EventRefundIssued:       {customer: true},
	orders.EventRefundRequired:     {admin: true},
}

// Dispatcher is the Kafka handler of the notifier binary.
type Dispatcher struct {
	Mailer     Mailer
	Deduper    Deduper
	AdminEmail string
	Logger     *slog.Logger

	// Attempts bounds the tries per mail; Backoff doubles between them.
	Attempts int
	Backoff  time.Duration
}

// Handle mails one event. Undecodable messages are logged and skipped. Each
// mail is retried up to Attempts times; a mail that still fails is logged and
// the error returned, but the consumer moves past the message either way, so
// delivery is best effort. The event id is remembered only once every mail
// went out.
func (d *Dispatcher) Handle(ctx context.Context, m kafka.Message) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env, err := kafkax.Decode[orders.Envelope](m.Value)
	if err != nil {
		logger.ErrorContext(ctx, "skipping malformed event", slog.Int64("offset", m.Offset), slog.String("error", err.Error()))
		return nil
	}
	route, ok := routes[env.EventType]
	if !ok {
		return nil
	}
	log := logger.With(slog.String("event_id", env.EventID), slog.String("event_type", env.EventType), slog.String("key", env.CorrelationID))

	if d.Deduper != nil {
		done, err := d.Deduper.Processed(ctx, env.EventID)
		switch {
		case err != nil:
			log.WarnContext(ctx, "dedup unavailable", slog.String("error", err.Error()))
		case done:
			return nil
		}
	}

	msgs, lang, err := d.compose(env, route)
	if err != nil {
		log.ErrorContext(ctx, "skipping event that cannot be rendered", slog.String("error", err.Error()))
		return nil
	}
	var sendErr error
	for _, msg := range msgs {
		if err := d.send(ctx, msg); err != nil {
			log.ErrorContext(ctx, "notification dropped", slog.String("to", msg.To), slog.String("error", err.Error()))
			sendErr = errors.Join(sendErr, err)
			continue
		}
		log.InfoContext(ctx, "notification sent", slog.String("to", msg.To), slog.String("lang", lang))
	}
	if sendErr != nil {
		return sendErr
	}
	if d.Deduper != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rememberTimeout)
		defer cancel()
		if err := d.Deduper.Remember(rctx, env.EventID); err != nil {
			log.WarnContext(ctx, "dedup write failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, msg Message) error {
	attempts, wait := d.Attempts, d.Backoff
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if wait <= 0 {
		wait = defaultBackoff
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
			wait *= 2
		}
		if err = d.Mailer.Send(ctx, msg); err == nil {
			return nil
		}
	}
	return err
}

func (d *Dispatcher) compose(env orders.Envelope, route audience) ([]Message, string, error) {
	var (
		data Data
		to   string
		lang = "en"
	)
	if env.EventType == orders.EventLowStock {
		p, err := kafkax.Decode[orders.LowStockPayload](env.Payload)
		if err != nil {
			return nil, "", err
		}
		data.LowStock = &p
	} else {
		p, err := kafkax.Decode[orders.OrderPayload](env.Payload)
		if err != nil {
			return nil, "", err
		}
		data.Order, data.Refund, data.Previous = &p.Order, p.Refund, p.PreviousStatus
		to = p.Order.Customer.Email
		if p.Order.Language != "" {
			lang = p.Order.Language
		}
	}

	var msgs []Message
	if route.customer && to != "" {
		subject, body, err := Render(lang, env.EventType, data)
		if err != nil {
			return nil, "", err
		}
		msgs = append(msgs, Message{To: to, Subject: subject, Body: body})
	}
	if route.admin && d.AdminEmail != "" {
		subject, body, err := Render("en", env.EventType, data)
		if err != nil {
			return nil, "", err
		}
		msgs = append(msgs, Message{To: d.AdminEmail, Subject: subject, Body: body})
	}
	return msgs, lang, nil
}
