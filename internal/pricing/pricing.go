// Package pricing resolves the unit price to charge per product at
// order-creation time. The reservation engine treats it as an opaque lookup;
// the snapshot it writes into order items never changes afterwards, whatever
// happens to the catalog price.
package pricing

import (
	"context"

	"github.com/ilive/checkout/internal/checkout"
)

type Resolver interface {
	UnitPriceCents(ctx context.Context, productID string) (int64, error)
}

// LedgerResolver reads the current catalog price from the ledger.
type LedgerResolver struct {
	Ledger checkout.Ledger
}

func (r *LedgerResolver) UnitPriceCents(ctx context.Context, productID string) (int64, error) {
	p, err := r.Ledger.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.PriceCents, nil
}
