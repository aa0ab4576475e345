package redisx

import "time"

const (
	// Cart hash per user: cart:{user_id} -> {product_id: qty}
	KeyCart = "cart:%s"

	// Cached order state: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup for event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
