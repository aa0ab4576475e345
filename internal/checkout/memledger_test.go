package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newReservation builds an order with one item and one RESERVED lock per
// line, the way the reservation engine does.
func newReservation(userID string, ttl time.Duration, lines ...CartLine) (*Order, []StockLock) {
	orderID := uuid.NewString()
	var items []OrderItem
	var locks []StockLock
	for _, ln := range lines {
		items = append(items, OrderItem{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			ProductID: ln.ProductID,
			Qty:       ln.Qty,
		})
		locks = append(locks, StockLock{
			ID:        uuid.NewString(),
			ProductID: ln.ProductID,
			UserID:    userID,
			OrderID:   orderID,
			Qty:       ln.Qty,
			ExpiresAt: t0.Add(ttl),
			Valid:     true,
			State:     LockReserved,
			CreatedAt: t0,
			UpdatedAt: t0,
		})
	}
	return &Order{
		ID:              orderID,
		UserID:          userID,
		ShippingAddress: "1 Main St",
		State:           StateCreated,
		CreatedAt:       t0,
		Items:           items,
	}, locks
}

func seedProduct(l *MemLedger, id string, stock int) {
	l.PutProduct(Product{ID: id, Name: id, PriceCents: 1000, Stock: stock})
}

func mustProduct(t *testing.T, l *MemLedger, id string) Product {
	t.Helper()
	p, err := l.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return *p
}

func TestCreateOrder_ReservesStock(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)

	ord, locks := newReservation("u1", 30*time.Minute, CartLine{ProductID: "p1", Qty: 3})
	if err := l.CreateOrder(ctx, ord, locks); err != nil {
		t.Fatalf("create order: %v", err)
	}

	p := mustProduct(t, l, "p1")
	if p.LockedStock != 3 || p.Stock != 5 {
		t.Fatalf("want stock=5 locked=3, got stock=%d locked=%d", p.Stock, p.LockedStock)
	}
	if p.AvailableStock() != 2 {
		t.Fatalf("want available=2, got %d", p.AvailableStock())
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 2)

	ord, locks := newReservation("u1", 30*time.Minute, CartLine{ProductID: "p1", Qty: 3})
	err := l.CreateOrder(ctx, ord, locks)

	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("want InsufficientStockError, got %v", err)
	}
	if insufficient.ProductID != "p1" || insufficient.Available != 2 {
		t.Fatalf("unexpected detail: %+v", insufficient)
	}
	if _, err := l.GetOrder(ctx, ord.ID, "u1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("failed reservation must not persist the order, got %v", err)
	}
}

func TestCreateOrder_MultiLineRollsBackFully(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)
	seedProduct(l, "p2", 1)

	ord, locks := newReservation("u1", 30*time.Minute,
		CartLine{ProductID: "p1", Qty: 2},
		CartLine{ProductID: "p2", Qty: 3},
	)
	err := l.CreateOrder(ctx, ord, locks)
	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) || insufficient.ProductID != "p2" {
		t.Fatalf("want InsufficientStockError on p2, got %v", err)
	}

	if p := mustProduct(t, l, "p1"); p.LockedStock != 0 {
		t.Fatalf("first line must be rolled back, p1 locked=%d", p.LockedStock)
	}
}

func TestMarkPaid_ConsumesLocksAndStock(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)

	ord, locks := newReservation("u1", 30*time.Minute, CartLine{ProductID: "p1", Qty: 2})
	if err := l.CreateOrder(ctx, ord, locks); err != nil {
		t.Fatalf("create order: %v", err)
	}

	payAt := t0.Add(5 * time.Minute)
	if err := l.MarkPaid(ctx, ord.ID, "u1", "CREDIT_CARD", payAt); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	p := mustProduct(t, l, "p1")
	if p.Stock != 3 || p.LockedStock != 0 {
		t.Fatalf("want stock=3 locked=0, got stock=%d locked=%d", p.Stock, p.LockedStock)
	}

	got, err := l.GetOrder(ctx, ord.ID, "u1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.State != StatePaid || got.PaymentMethod != "CREDIT_CARD" {
		t.Fatalf("want PAID/CREDIT_CARD, got %s/%s", got.State, got.PaymentMethod)
	}
	if got.OrderDate == nil || !got.OrderDate.Equal(payAt) {
		t.Fatalf("order date not set at payment: %v", got.OrderDate)
	}

	lks, _ := l.LocksForOrder(ctx, ord.ID)
	for _, lk := range lks {
		if lk.State != LockConsumed || lk.Valid {
			t.Fatalf("want lock CONSUMED/invalid, got %s/valid=%v", lk.State, lk.Valid)
		}
	}
}

func TestMarkPaid_WrongUser(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)

	ord, locks := newReservation("u1", 30*time.Minute, CartLine{ProductID: "p1", Qty: 1})
	if err := l.CreateOrder(ctx, ord, locks); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := l.MarkPaid(ctx, ord.ID, "intruder", "CREDIT_CARD", t0); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("want ErrOrderNotFound, got %v", err)
	}
}

func TestMarkPaid_Twice(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)

	ord, locks := newReservation("u1", 30*time.Minute, CartLine{ProductID: "p1", Qty: 1})
	if err := l.CreateOrder(ctx, ord, locks); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := l.MarkPaid(ctx, ord.ID, "u1", "APPLE_PAY", t0); err != nil {
		t.Fatalf("first pay: %v", err)
	}
	if err := l.MarkPaid(ctx, ord.ID, "u1", "APPLE_PAY", t0); !errors.Is(err, ErrInvalidOrderState) {
		t.Fatalf("want ErrInvalidOrderState, got %v", err)
	}
	// Stock must not be decremented twice.
	if p := mustProduct(t, l, "p1"); p.Stock != 4 {
		t.Fatalf("want stock=4, got %d", p.Stock)
	}
}

// A lock already claimed by the reaper cannot also be consumed by a late
// payment: the whole payment rolls back and the order stays CREATED.
func TestMarkPaid_AfterExpiryInvalidation(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)

	ord, locks := newReservation("u1", 30*time.Minute, CartLine{ProductID: "p1", Qty: 2})
	if err := l.CreateOrder(ctx, ord, locks); err != nil {
		t.Fatalf("create order: %v", err)
	}

	past := t0.Add(31 * time.Minute)
	if n, err := l.InvalidateExpiredLocks(ctx, past); err != nil || n != 1 {
		t.Fatalf("invalidate: n=%d err=%v", n, err)
	}

	err := l.MarkPaid(ctx, ord.ID, "u1", "CREDIT_CARD", past)
	if !errors.Is(err, ErrStockReconciliation) {
		t.Fatalf("want ErrStockReconciliation, got %v", err)
	}

	got, _ := l.GetOrder(ctx, ord.ID, "u1")
	if got.State != StateCreated {
		t.Fatalf("order must stay CREATED for the reaper, got %s", got.State)
	}
	if p := mustProduct(t, l, "p1"); p.Stock != 5 || p.LockedStock != 2 {
		t.Fatalf("nothing may be applied, got stock=%d locked=%d", p.Stock, p.LockedStock)
	}
}

func TestCancelOrder_ReleasesStock(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)

	ord, locks := newReservation("u1", 30*time.Minute, CartLine{ProductID: "p1", Qty: 5})
	if err := l.CreateOrder(ctx, ord, locks); err != nil {
		t.Fatalf("create order: %v", err)
	}

	// All stock held: another reservation must fail.
	ord2, locks2 := newReservation("u2", 30*time.Minute, CartLine{ProductID: "p1", Qty: 1})
	var insufficient *InsufficientStockError
	if err := l.CreateOrder(ctx, ord2, locks2); !errors.As(err, &insufficient) {
		t.Fatalf("want InsufficientStockError, got %v", err)
	}

	if err := l.CancelOrder(ctx, ord.ID, "u1", t0); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if p := mustProduct(t, l, "p1"); p.LockedStock != 0 || p.Stock != 5 {
		t.Fatalf("want stock=5 locked=0, got stock=%d locked=%d", p.Stock, p.LockedStock)
	}

	// Freed stock is reservable again.
	ord3, locks3 := newReservation("u2", 30*time.Minute, CartLine{ProductID: "p1", Qty: 1})
	if err := l.CreateOrder(ctx, ord3, locks3); err != nil {
		t.Fatalf("reserve after cancel: %v", err)
	}

	lks, _ := l.LocksForOrder(ctx, ord.ID)
	for _, lk := range lks {
		if lk.State != LockReleased {
			t.Fatalf("want RELEASED, got %s", lk.State)
		}
	}
}

func TestCancelOrder_AfterPaid(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)

	ord, locks := newReservation("u1", 30*time.Minute, CartLine{ProductID: "p1", Qty: 1})
	if err := l.CreateOrder(ctx, ord, locks); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := l.MarkPaid(ctx, ord.ID, "u1", "CREDIT_CARD", t0); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := l.CancelOrder(ctx, ord.ID, "u1", t0); !errors.Is(err, ErrInvalidOrderState) {
		t.Fatalf("want ErrInvalidOrderState, got %v", err)
	}
}

func TestInvalidateExpiredLocks_OnlyPastTTL(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 10)

	stale, staleLocks := newReservation("u1", 10*time.Minute, CartLine{ProductID: "p1", Qty: 1})
	fresh, freshLocks := newReservation("u1", 60*time.Minute, CartLine{ProductID: "p1", Qty: 1})
	if err := l.CreateOrder(ctx, stale, staleLocks); err != nil {
		t.Fatal(err)
	}
	if err := l.CreateOrder(ctx, fresh, freshLocks); err != nil {
		t.Fatal(err)
	}

	n, err := l.InvalidateExpiredLocks(ctx, t0.Add(30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("want 1 invalidated, got n=%d err=%v", n, err)
	}

	staleLks, _ := l.LocksForOrder(ctx, stale.ID)
	if staleLks[0].State != LockExpired || staleLks[0].Valid {
		t.Fatalf("stale lock not expired: %+v", staleLks[0])
	}
	freshLks, _ := l.LocksForOrder(ctx, fresh.ID)
	if freshLks[0].State != LockReserved || !freshLks[0].Valid {
		t.Fatalf("fresh lock must stay reserved: %+v", freshLks[0])
	}
}

func TestReconcileExpiredLock_Idempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	seedProduct(l, "p1", 5)

	ord, locks := newReservation("u1", 10*time.Minute, CartLine{ProductID: "p1", Qty: 2})
	if err := l.CreateOrder(ctx, ord, locks); err != nil {
		t.Fatal(err)
	}
	now := t0.Add(11 * time.Minute)
	if _, err := l.InvalidateExpiredLocks(ctx, now); err != nil {
		t.Fatal(err)
	}

	cancelled, orderID, err := l.ReconcileExpiredLock(ctx, locks[0].ID, now)
	if err != nil || !cancelled || orderID != ord.ID {
		t.Fatalf("first reconcile: cancelled=%v orderID=%s err=%v", cancelled, orderID, err)
	}
	if p := mustProduct(t, l, "p1"); p.LockedStock != 0 {
		t.Fatalf("held stock not released, locked=%d", p.LockedStock)
	}
	got, _ := l.GetOrder(ctx, ord.ID, "u1")
	if got.State != StateCancelled {
		t.Fatalf("owning order must be cancelled, got %s", got.State)
	}

	// Re-running must not release the same stock twice.
	cancelled, _, err = l.ReconcileExpiredLock(ctx, locks[0].ID, now)
	if err != nil || cancelled {
		t.Fatalf("second reconcile must be a no-op: cancelled=%v err=%v", cancelled, err)
	}
	if p := mustProduct(t, l, "p1"); p.LockedStock != 0 || p.Stock != 5 {
		t.Fatalf("double release: stock=%d locked=%d", p.Stock, p.LockedStock)
	}
}
