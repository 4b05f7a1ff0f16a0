package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Publisher is the non-blocking side of kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header) error
}

// KafkaNotifier wraps events in an Envelope and hands them to the producer
// buffer. It implements orders.Notifier.
type KafkaNotifier struct {
	Publisher Publisher
	Producer  string
	Now       func() time.Time
}

func (n *KafkaNotifier) Notify(ctx context.Context, eventType, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  orders.EnvelopeVersion,
		OccurredAt:    now().UTC(),
		Producer:      n.Producer,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: key,
		Payload:       raw,
	}
	if err := n.Publisher.Publish(orders.PartitionKey(key), kafkax.MustMarshal(env),
		kafkax.EventHeaders(eventType, orders.EnvelopeVersion)...); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
