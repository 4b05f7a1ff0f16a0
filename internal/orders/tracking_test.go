package orders

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracking_Steps(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	paid := created.Add(time.Hour)
	o := &Order{Number: "ALX-2025-0007", Status: StatusProcessing, PaymentStatus: PaymentPaid, CreatedAt: created, PaidAt: &paid}

	tr := NewTracking(o)

	require.Len(t, tr.Steps, 4)
	assert.True(t, tr.Steps[0].Completed)
	assert.True(t, tr.Steps[1].Completed)
	assert.True(t, tr.Steps[1].Current)
	assert.Equal(t, &paid, tr.Steps[1].At)
	assert.False(t, tr.Steps[2].Completed)
	assert.Nil(t, tr.Steps[2].At)
	assert.False(t, tr.Cancelled)
}

func TestNewTracking_Cancelled(t *testing.T) {
	at := time.Now().UTC()
	tr := NewTracking(&Order{Number: "ALX-2025-0008", Status: StatusCancelled, CancelledAt: &at})

	assert.True(t, tr.Cancelled)
	assert.Equal(t, &at, tr.CancelledAt)
	for _, s := range tr.Steps {
		assert.False(t, s.Current, s.Status)
	}
}

func TestRedisTrackingCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := &RedisTrackingCache{Client: rdb, TTL: time.Minute}
	ctx := context.Background()

	_, err := c.Get(ctx, "ALX-2025-0001")
	assert.ErrorIs(t, err, ErrTrackingMiss)

	require.NoError(t, c.Set(ctx, &Tracking{OrderNumber: "ALX-2025-0001", Status: StatusShipped}))
	got, err := c.Get(ctx, "ALX-2025-0001")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, got.Status)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "ALX-2025-0001")
	assert.ErrorIs(t, err, ErrTrackingMiss)

	require.NoError(t, c.Set(ctx, &Tracking{OrderNumber: "ALX-2025-0001"}))
	require.NoError(t, c.Forget(ctx, "ALX-2025-0001"))
	_, err = c.Get(ctx, "ALX-2025-0001")
	assert.ErrorIs(t, err, ErrTrackingMiss)
}
