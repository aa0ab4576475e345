// Package settlement advances a reserved order to PAID or CANCELLED and
// reconciles the stock its locks were holding. Settlement is all-or-nothing
// across an order's lines; a predicate miss on any line rolls the whole
// transaction back.
package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ilive/checkout/internal/checkout"
	kafkax "github.com/ilive/checkout/internal/kafka"
	"github.com/ilive/checkout/internal/payment"
)

type Service struct {
	ledger        checkout.Ledger
	verifier      payment.Verifier
	prodPaid      *kafkax.Producer // order.paid; nil disables publishing
	prodCancelled *kafkax.Producer // order.cancelled
	service       string
	log           *zap.Logger
	now           func() time.Time
}

func NewService(ledger checkout.Ledger, verifier payment.Verifier,
	prodPaid, prodCancelled *kafkax.Producer, service string, log *zap.Logger) *Service {
	return &Service{
		ledger:        ledger,
		verifier:      verifier,
		prodPaid:      prodPaid,
		prodCancelled: prodCancelled,
		service:       service,
		log:           log,
		now:           time.Now,
	}
}

// Pay obtains the payment verdict and, if accepted, consumes the order's
// stock locks and marks it PAID in one transaction. A rejected verdict
// leaves the order untouched and retryable. If the reaper expired the
// reservation in the meantime the guarded updates miss, nothing is applied,
// and the caller gets ErrStockReconciliation.
func (s *Service) Pay(ctx context.Context, orderID, userID, method, proof string) error {
	ord, err := s.ledger.GetOrder(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if ord.State != checkout.StateCreated {
		return checkout.ErrInvalidOrderState
	}

	ok, err := s.verifier.Verify(method, proof)
	if err != nil {
		return err
	}
	if !ok {
		return checkout.ErrPaymentRejected
	}

	if err := s.ledger.MarkPaid(ctx, orderID, userID, method, s.now()); err != nil {
		return err
	}

	s.publish(s.prodPaid, checkout.EventOrderPaid, orderID, checkout.OrderPaidPayload{
		OrderID:       orderID,
		UserID:        userID,
		PaymentMethod: method,
		TotalCents:    ord.TotalCents,
	})
	return nil
}

// Cancel releases the order's held stock and marks it CANCELLED. The
// CREATED-state precondition makes it idempotent against double-cancel and
// mutually exclusive with a concurrent Pay.
func (s *Service) Cancel(ctx context.Context, orderID, userID string) error {
	if err := s.ledger.CancelOrder(ctx, orderID, userID, s.now()); err != nil {
		return err
	}
	s.publish(s.prodCancelled, checkout.EventOrderCancelled, orderID, checkout.OrderCancelledPayload{
		OrderID: orderID,
		UserID:  userID,
	})
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*checkout.Order, error) {
	return s.ledger.GetOrder(ctx, orderID, userID)
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]checkout.Order, error) {
	return s.ledger.ListOrders(ctx, userID)
}

func (s *Service) publish(p *kafkax.Producer, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	ev := checkout.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(checkout.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
