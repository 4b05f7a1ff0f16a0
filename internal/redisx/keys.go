package redisx

import "time"

const (
	// Cart read cache: cart:{session_id} -> cart JSON
	KeyCart = "cart:%s"

	// Checkout lock per cart: lock:checkout:{session_id} -> owner token
	KeyCheckoutLock = "lock:checkout:%s"

	// Tracking view cache: order_tracking:{order_number} -> tracking JSON
	KeyOrderTracking = "order_tracking:%s"

	// Dedup event processing: dedup:{scope}:{id} (id = provider or bus event id)
	KeyDedup = "dedup:%s:%s"

	// Fixed window counter: ratelimit:{bucket}:{client}:{window}
	KeyRateLimit = "ratelimit:%s:%s:%d"
)

var (
	TTLCart          = 15 * time.Minute
	TTLTrackingCache = 5 * time.Minute
	TTLDedup         = 48 * time.Hour
)
