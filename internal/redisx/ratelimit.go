package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter shared by every API instance.
type Limiter struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

// Allow counts one hit for client in bucket and reports whether it is within
// the limit for the current window.
func (l *Limiter) Allow(ctx context.Context, bucket, client string) (bool, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	window := now().UnixNano() / int64(l.Window)
	key := fmt.Sprintf(KeyRateLimit, bucket, client, window)

	var incr *redis.IntCmd
	_, err := l.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, l.Window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.Limit), nil
}
