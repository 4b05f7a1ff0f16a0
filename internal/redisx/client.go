package redisx

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// New returns a client with short timeouts so a slow Redis fails fast.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}
