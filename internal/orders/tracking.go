package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type TrackingStep struct {
	Status    Status     `json:"status"`
	Completed bool       `json:"completed"`
	Current   bool       `json:"current"`
	At        *time.Time `json:"at,omitempty"`
}

// Tracking is the public, reduced view of an order's progress.
type Tracking struct {
	OrderNumber   string         `json:"orderNumber"`
	Status        Status         `json:"orderStatus"`
	PaymentStatus PaymentStatus  `json:"paymentStatus"`
	Steps         []TrackingStep `json:"steps"`
	Cancelled     bool           `json:"cancelled"`
	CancelledAt   *time.Time     `json:"cancelledAt,omitempty"`
	Shipping      Shipping       `json:"shipping"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

var progression = []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered}

func NewTracking(o *Order) *Tracking {
	t := &Tracking{
		OrderNumber:   o.Number,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Cancelled:     o.Status == StatusCancelled,
		CancelledAt:   o.CancelledAt,
		Shipping:      o.Shipping,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	reached := 0
	for i, st := range progression {
		if st == o.Status {
			reached = i
		}
	}
	created := o.CreatedAt
	times := map[Status]*time.Time{
		StatusPending:    &created,
		StatusProcessing: o.PaidAt,
		StatusShipped:    o.ShippedAt,
		StatusDelivered:  o.DeliveredAt,
	}
	for i, st := range progression {
		t.Steps = append(t.Steps, TrackingStep{
			Status:    st,
			Completed: i <= reached,
			Current:   i == reached && !t.Cancelled,
			At:        times[st],
		})
	}
	return t
}

// TrackingCache holds tracking views for a short time.
type TrackingCache interface {
	Get(ctx context.Context, orderNumber string) (*Tracking, error)
	Set(ctx context.Context, t *Tracking) error
	Forget(ctx context.Context, orderNumber string) error
}

var ErrTrackingMiss = errors.New("tracking cache miss")

type RedisTrackingCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func (c *RedisTrackingCache) Get(ctx context.Context, orderNumber string) (*Tracking, error) {
	b, err := c.Client.Get(ctx, fmt.Sprintf(redisx.KeyOrderTracking, orderNumber)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTrackingMiss
	}
	if err != nil {
		return nil, err
	}
	var t Tracking
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *RedisTrackingCache) Set(ctx context.Context, t *Tracking) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = redisx.TTLTrackingCache
	}
	return c.Client.Set(ctx, fmt.Sprintf(redisx.KeyOrderTracking, t.OrderNumber), b, ttl).Err()
}

func (c *RedisTrackingCache) Forget(ctx context.Context, orderNumber string) error {
	return c.Client.Del(ctx, fmt.Sprintf(redisx.KeyOrderTracking, orderNumber)).Err()
}
