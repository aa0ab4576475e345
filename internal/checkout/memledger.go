package checkout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemLedger is a mutex-guarded in-memory Ledger with the same transactional
// semantics as PGLedger: each method either fully applies or leaves the
// ledger untouched. It backs the engine and reaper tests, including the
// concurrency properties, without a database.
type MemLedger struct {
	mu       sync.Mutex
	products map[string]*Product
	orders   map[string]*Order
	locks    map[string]*StockLock
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		products: make(map[string]*Product),
		orders:   make(map[string]*Order),
		locks:    make(map[string]*StockLock),
	}
}

// PutProduct seeds or replaces a product row.
func (l *MemLedger) PutProduct(p Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := p
	l.products[p.ID] = &cp
}

// RemoveProduct deletes a product row. Tests use it to simulate a reconcile
// that cannot complete on this pass.
func (l *MemLedger) RemoveProduct(productID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.products, productID)
}

func (l *MemLedger) CreateOrder(_ context.Context, order *Order, locks []StockLock) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Apply the guarded increments line by line, undoing on the first miss
	// so a failed reservation leaves no trace.
	applied := make([]StockLock, 0, len(locks))
	undo := func() {
		for _, lk := range applied {
			l.products[lk.ProductID].LockedStock -= lk.Qty
		}
	}
	for _, lk := range locks {
		p, ok := l.products[lk.ProductID]
		if !ok {
			undo()
			return ErrProductNotFound
		}
		if p.Stock-p.LockedStock < lk.Qty {
			available := p.Stock - p.LockedStock
			undo()
			return &InsufficientStockError{ProductID: lk.ProductID, Requested: lk.Qty, Available: available}
		}
		p.LockedStock += lk.Qty
		applied = append(applied, lk)
	}

	ord := cloneOrder(order)
	l.orders[ord.ID] = ord
	for _, lk := range locks {
		cp := lk
		l.locks[lk.ID] = &cp
	}
	return nil
}

func (l *MemLedger) MarkPaid(_ context.Context, orderID, userID, paymentMethod string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ord, ok := l.orders[orderID]
	if !ok || ord.UserID != userID {
		return ErrOrderNotFound
	}
	if ord.State != StateCreated {
		return ErrInvalidOrderState
	}

	var held []*StockLock
	total := 0
	for _, lk := range l.locks {
		if lk.OrderID != orderID {
			continue
		}
		total++
		if lk.State == LockReserved {
			held = append(held, lk)
		}
	}
	if total == 0 || len(held) != total {
		return ErrStockReconciliation
	}
	for _, lk := range held {
		p, ok := l.products[lk.ProductID]
		if !ok || p.Stock < lk.Qty || p.LockedStock < lk.Qty {
			return ErrStockReconciliation
		}
	}

	// All guards passed; commit.
	for _, lk := range held {
		p := l.products[lk.ProductID]
		p.Stock -= lk.Qty
		p.LockedStock -= lk.Qty
		p.UpdatedAt = now
		lk.State = LockConsumed
		lk.Valid = false
		lk.UpdatedAt = now
	}
	ord.State = StatePaid
	ord.PaymentMethod = paymentMethod
	d := now
	ord.OrderDate = &d
	return nil
}

func (l *MemLedger) CancelOrder(_ context.Context, orderID, userID string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ord, ok := l.orders[orderID]
	if !ok || ord.UserID != userID {
		return ErrOrderNotFound
	}
	if ord.State != StateCreated {
		return ErrInvalidOrderState
	}

	var held []*StockLock
	for _, lk := range l.locks {
		if lk.OrderID == orderID && lk.State == LockReserved {
			held = append(held, lk)
		}
	}
	for _, lk := range held {
		p, ok := l.products[lk.ProductID]
		if !ok || p.LockedStock < lk.Qty {
			return ErrStockReconciliation
		}
	}

	for _, lk := range held {
		p := l.products[lk.ProductID]
		p.LockedStock -= lk.Qty
		p.UpdatedAt = now
		lk.State = LockReleased
		lk.Valid = false
		lk.UpdatedAt = now
	}
	ord.State = StateCancelled
	return nil
}

func (l *MemLedger) InvalidateExpiredLocks(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for _, lk := range l.locks {
		if lk.Valid && lk.ExpiresAt.Before(now) {
			lk.Valid = false
			lk.State = LockExpired
			lk.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (l *MemLedger) ExpiredLocks(_ context.Context, limit int) ([]StockLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []StockLock
	for _, lk := range l.locks {
		if lk.State == LockExpired && lk.ReconciledAt == nil {
			out = append(out, *lk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemLedger) ReconcileExpiredLock(_ context.Context, lockID string, now time.Time) (bool, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.locks[lockID]
	if !ok || lk.State != LockExpired || lk.ReconciledAt != nil {
		return false, "", nil
	}
	p, ok := l.products[lk.ProductID]
	if !ok || p.LockedStock < lk.Qty {
		return false, "", ErrStockReconciliation
	}

	p.LockedStock -= lk.Qty
	p.UpdatedAt = now
	d := now
	lk.ReconciledAt = &d
	lk.UpdatedAt = now

	ord, ok := l.orders[lk.OrderID]
	if ok && ord.State == StateCreated {
		ord.State = StateCancelled
		return true, lk.OrderID, nil
	}
	return false, lk.OrderID, nil
}

func (l *MemLedger) GetOrder(_ context.Context, orderID, userID string) (*Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ord, ok := l.orders[orderID]
	if !ok || ord.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(ord), nil
}

func (l *MemLedger) ListOrders(_ context.Context, userID string) ([]Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Order
	for _, ord := range l.orders {
		if ord.UserID == userID {
			out = append(out, *cloneOrder(ord))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *MemLedger) GetProduct(_ context.Context, productID string) (*Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *MemLedger) LocksForOrder(_ context.Context, orderID string) ([]StockLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []StockLock
	for _, lk := range l.locks {
		if lk.OrderID == orderID {
			out = append(out, *lk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Products returns a snapshot of every product row, for invariant checks.
func (l *MemLedger) Products() []Product {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Product, 0, len(l.products))
	for _, p := range l.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	if o.OrderDate != nil {
		d := *o.OrderDate
		cp.OrderDate = &d
	}
	return &cp
}
