package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed event ids for TTLDedup. Callers check
// Processed before handling an event and Remember it only once handling
// succeeded, so a failure or crash in between leaves the event retryable.
type Deduper struct {
	Client *redis.Client
	Scope  string
}

func (d *Deduper) key(id string) string { return fmt.Sprintf(KeyDedup, d.Scope, id) }

// Processed reports whether id was remembered.
func (d *Deduper) Processed(ctx context.Context, id string) (bool, error) {
	n, err := d.Client.Exists(ctx, d.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember marks id as processed.
func (d *Deduper) Remember(ctx context.Context, id string) error {
	return d.Client.Set(ctx, d.key(id), "1", TTLDedup).Err()
}
