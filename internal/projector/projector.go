// Package projector maintains the Redis order-status cache from settlement
// events, so status reads do not have to hit the ledger.
package projector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ilive/checkout/internal/checkout"
	"github.com/ilive/checkout/internal/redisx"
)

type Projector struct {
	RDB     *redis.Client
	Service string
	Log     *zap.Logger
}

// Handle is wired as the kafka consumer handler for the settlement topics.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	var env checkout.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	var state checkout.OrderState
	switch env.EventType {
	case checkout.EventOrderCreated:
		state = checkout.StateCreated
	case checkout.EventOrderPaid:
		state = checkout.StatePaid
	case checkout.EventOrderCancelled, checkout.EventOrderExpired:
		state = checkout.StateCancelled
	default:
		return nil // not ours
	}

	// Dedup by event id; consumer offsets alone allow redelivery.
	dkey := fmt.Sprintf(redisx.KeyDedup, p.Service, env.EventID)
	if exists, _ := redisx.Exists(ctx, p.RDB, dkey); exists {
		return nil
	}

	key := fmt.Sprintf(redisx.KeyOrderStatus, env.CorrelationID)
	body, _ := json.Marshal(map[string]any{"status": state})
	if err := p.RDB.Set(ctx, key, body, redisx.TTLStatusCache).Err(); err != nil {
		return err
	}
	if err := p.RDB.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
		p.Log.Warn("dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
	}
	return nil
}
