package checkout

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderPaid      = "OrderPaid"
	EventOrderCancelled = "OrderCancelled"
	EventOrderExpired   = "OrderExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID    string     `json:"order_id"`
	UserID     string     `json:"user_id"`
	Lines      []CartLine `json:"lines"`
	TotalCents int64      `json:"total_cents"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

type OrderPaidPayload struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	PaymentMethod string `json:"payment_method"`
	TotalCents    int64  `json:"total_cents"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type OrderExpiredPayload struct {
	OrderID string `json:"order_id"`
	LockID  string `json:"lock_id"`
}
