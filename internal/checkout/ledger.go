package checkout

import (
	"context"
	"time"
)

// Ledger is the durable record of products, orders, order items and stock
// locks. Each mutating method is one transaction: either every row change in
// it commits or none does. Stock counters are only ever touched through
// guarded single-statement conditional updates, so concurrent callers can
// never reserve or settle past what is actually available.
type Ledger interface {
	// CreateOrder inserts the order, its items and its stock locks, and for
	// every lock increments the product's locked_stock guarded by
	// stock - locked_stock >= qty. A predicate miss on any line rolls the
	// whole transaction back and returns *InsufficientStockError.
	CreateOrder(ctx context.Context, order *Order, locks []StockLock) error

	// MarkPaid advances the order CREATED→PAID, flips all its RESERVED locks
	// to CONSUMED, and decrements stock and locked_stock per lock guarded by
	// stock >= qty AND locked_stock >= qty. If the order is gone or owned by
	// another user it returns ErrOrderNotFound; if it is not CREATED,
	// ErrInvalidOrderState; if any lock was already expired or any guard
	// misses, ErrStockReconciliation and the order stays CREATED.
	MarkPaid(ctx context.Context, orderID, userID, paymentMethod string, now time.Time) error

	// CancelOrder advances the order CREATED→CANCELLED, flips its RESERVED
	// locks to RELEASED and releases their locked_stock guarded by
	// locked_stock >= qty.
	CancelOrder(ctx context.Context, orderID, userID string, now time.Time) error

	// InvalidateExpiredLocks is reaper phase one: the single bulk write that
	// claims every lock with valid AND expires_at < now, flipping it to
	// EXPIRED. Returns the number of locks claimed.
	InvalidateExpiredLocks(ctx context.Context, now time.Time) (int64, error)

	// ExpiredLocks returns up to limit EXPIRED locks not yet reconciled.
	ExpiredLocks(ctx context.Context, limit int) ([]StockLock, error)

	// ReconcileExpiredLock is reaper phase two for one lock: claim it
	// (reconciled_at IS NULL), release its locked_stock, and cancel the
	// owning order if still CREATED. Re-running on an already reconciled
	// lock is a no-op. Reports whether the owning order was cancelled here.
	ReconcileExpiredLock(ctx context.Context, lockID string, now time.Time) (orderCancelled bool, orderID string, err error)

	GetOrder(ctx context.Context, orderID, userID string) (*Order, error)
	ListOrders(ctx context.Context, userID string) ([]Order, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)
	LocksForOrder(ctx context.Context, orderID string) ([]StockLock, error)
}
