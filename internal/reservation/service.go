// Package reservation converts a cart into an order while holding the stock
// it needs. Verification and reservation of each line happen in the same
// guarded ledger write, so two concurrent checkouts can never both claim the
// last unit.
package reservation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ilive/checkout/internal/checkout"
	kafkax "github.com/ilive/checkout/internal/kafka"
	"github.com/ilive/checkout/internal/pricing"
)

// CartSource is the slice of the cart collaborator this engine needs.
type CartSource interface {
	Lines(ctx context.Context, userID string) ([]checkout.CartLine, error)
	Clear(ctx context.Context, userID string) error
}

type Service struct {
	ledger   checkout.Ledger
	cart     CartSource
	prices   pricing.Resolver
	producer *kafkax.Producer // order.created; nil disables publishing
	ttl      time.Duration
	service  string
	log      *zap.Logger
	now      func() time.Time
}

func NewService(ledger checkout.Ledger, cart CartSource, prices pricing.Resolver,
	producer *kafkax.Producer, ttl time.Duration, service string, log *zap.Logger) *Service {
	return &Service{
		ledger:   ledger,
		cart:     cart,
		prices:   prices,
		producer: producer,
		ttl:      ttl,
		service:  service,
		log:      log,
		now:      time.Now,
	}
}

// ReserveFromCart reads the user's cart lines, reserves them, and clears the
// cart once the reservation committed.
func (s *Service) ReserveFromCart(ctx context.Context, userID, shippingAddress string) (string, error) {
	lines, err := s.cart.Lines(ctx, userID)
	if err != nil {
		return "", err
	}
	orderID, err := s.Reserve(ctx, userID, lines, shippingAddress)
	if err != nil {
		return "", err
	}
	// The order is committed; a cart that fails to clear is an annoyance,
	// not a consistency problem.
	if err := s.cart.Clear(ctx, userID); err != nil {
		s.log.Warn("cart clear failed",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
	return orderID, nil
}

// Reserve creates one order with an item, a price snapshot and a stock lock
// per line, all in a single ledger transaction. Any line failing the
// availableStock >= qty guard rolls everything back.
func (s *Service) Reserve(ctx context.Context, userID string, lines []checkout.CartLine, shippingAddress string) (string, error) {
	if strings.TrimSpace(shippingAddress) == "" {
		return "", checkout.ErrInvalidShippingAddress
	}
	if len(lines) == 0 {
		return "", checkout.ErrEmptyCart
	}
	for _, ln := range lines {
		if ln.Qty <= 0 {
			return "", checkout.ErrInvalidQuantity
		}
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	orderID := uuid.NewString()

	var total int64
	items := make([]checkout.OrderItem, 0, len(lines))
	locks := make([]checkout.StockLock, 0, len(lines))
	for _, ln := range lines {
		price, err := s.prices.UnitPriceCents(ctx, ln.ProductID)
		if err != nil {
			return "", err
		}
		total += price * int64(ln.Qty)
		items = append(items, checkout.OrderItem{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			ProductID:  ln.ProductID,
			Qty:        ln.Qty,
			PriceCents: price,
		})
		locks = append(locks, checkout.StockLock{
			ID:        uuid.NewString(),
			ProductID: ln.ProductID,
			UserID:    userID,
			OrderID:   orderID,
			Qty:       ln.Qty,
			ExpiresAt: expiresAt,
			Valid:     true,
			State:     checkout.LockReserved,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	order := &checkout.Order{
		ID:              orderID,
		UserID:          userID,
		TotalCents:      total,
		ShippingAddress: shippingAddress,
		State:           checkout.StateCreated,
		CreatedAt:       now,
		Items:           items,
	}
	if err := s.ledger.CreateOrder(ctx, order, locks); err != nil {
		return "", err
	}

	s.publishCreated(orderID, userID, lines, total, expiresAt)
	return orderID, nil
}

func (s *Service) publishCreated(orderID, userID string, lines []checkout.CartLine, total int64, expiresAt time.Time) {
	if s.producer == nil {
		return
	}
	ev := checkout.Envelope{
		EventID:       uuid.NewString(),
		EventType:     checkout.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.service,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(checkout.OrderCreatedPayload{
			OrderID:    orderID,
			UserID:     userID,
			Lines:      lines,
			TotalCents: total,
			ExpiresAt:  expiresAt,
		}),
	}
	s.producer.Publish(checkout.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(checkout.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
