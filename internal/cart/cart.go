// Package cart is the cart collaborator: it supplies the (product, qty)
// lines a checkout converts into an order and is cleared by the reservation
// engine after a successful reservation.
package cart

import (
	"context"

	"github.com/ilive/checkout/internal/checkout"
)

type Store interface {
	Lines(ctx context.Context, userID string) ([]checkout.CartLine, error)
	SetItem(ctx context.Context, userID, productID string, qty int) error
	RemoveItem(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}
