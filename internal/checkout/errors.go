package checkout

import (
	"errors"
	"fmt"
)

// Validation errors: rejected before any mutation, caller must fix input.
var (
	ErrEmptyCart              = errors.New("cart is empty")
	ErrInvalidShippingAddress = errors.New("shipping address must not be blank")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
)

// Conflict errors: a guarded-update predicate failed and the whole
// transaction was rolled back. The caller may retry.
var (
	ErrInvalidOrderState   = errors.New("order state does not allow this operation")
	ErrStockReconciliation = errors.New("stock reconciliation failed")
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
)

// External errors, surfaced verbatim from the payment collaborator.
var (
	ErrPaymentRejected      = errors.New("payment rejected")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
)

// InsufficientStockError reports which product line failed the
// availableStock >= qty predicate during reservation.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}
