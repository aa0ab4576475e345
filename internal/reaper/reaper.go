// Package reaper sweeps reservations whose TTL has passed: it invalidates
// their stock locks, releases the held stock, and cancels the owning orders.
// It is the only component that moves a lock from RESERVED to EXPIRED, so a
// late payment and an expiry can never both win; whichever conditional
// update commits first does.
package reaper

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ilive/checkout/internal/checkout"
	kafkax "github.com/ilive/checkout/internal/kafka"
)

type Reaper struct {
	ledger   checkout.Ledger
	producer *kafkax.Producer // order.expired; nil disables publishing
	interval time.Duration
	batch    int
	service  string
	log      *zap.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(ledger checkout.Ledger, producer *kafkax.Producer,
	interval time.Duration, batch int, service string, log *zap.Logger) *Reaper {
	return &Reaper{
		ledger:   ledger,
		producer: producer,
		interval: interval,
		batch:    batch,
		service:  service,
		log:      log,
		now:      time.Now,
	}
}

// Start launches the sweep loop. The loop is owned state: it runs until Stop
// or until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Reaper) runSweep(ctx context.Context) {
	invalidated, reconciled, err := r.Sweep(ctx)
	if err != nil {
		r.log.Error("sweep failed", zap.Error(err))
		return
	}
	if invalidated > 0 || reconciled > 0 {
		r.log.Info("swept expired reservations",
			zap.Int64("invalidated", invalidated),
			zap.Int("reconciled", reconciled))
	}
}

// Sweep runs one two-phase pass. Phase one bulk-claims every lock past its
// TTL. Phase two reconciles a bounded page of claimed locks, each in its own
// transaction; a lock whose reconcile fails stays EXPIRED and is retried on
// the next pass.
func (r *Reaper) Sweep(ctx context.Context) (invalidated int64, reconciled int, err error) {
	now := r.now()

	invalidated, err = r.ledger.InvalidateExpiredLocks(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	locks, err := r.ledger.ExpiredLocks(ctx, r.batch)
	if err != nil {
		return invalidated, 0, err
	}
	for _, lk := range locks {
		cancelled, orderID, err := r.ledger.ReconcileExpiredLock(ctx, lk.ID, now)
		if err != nil {
			r.log.Warn("reconcile failed, will retry",
				zap.String("lock_id", lk.ID),
				zap.String("order_id", lk.OrderID),
				zap.Error(err))
			continue
		}
		reconciled++
		if cancelled {
			r.publishExpired(orderID, lk.ID)
		}
	}
	return invalidated, reconciled, nil
}

func (r *Reaper) publishExpired(orderID, lockID string) {
	if r.producer == nil {
		return
	}
	ev := checkout.Envelope{
		EventID:       uuid.NewString(),
		EventType:     checkout.EventOrderExpired,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      r.service,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(checkout.OrderExpiredPayload{
			OrderID: orderID,
			LockID:  lockID,
		}),
	}
	r.producer.Publish(checkout.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(checkout.EventOrderExpired)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
