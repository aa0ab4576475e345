package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger implements Ledger on Postgres. Every guarded update is a single
// UPDATE whose WHERE clause re-validates the stock invariant at write time,
// so a stale read can never turn into an oversell.
type PGLedger struct{ DB *pgxpool.Pool }

func (l *PGLedger) CreateOrder(ctx context.Context, order *Order, locks []StockLock) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, total_cents, shipping_address, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, order.UserID, order.TotalCents, order.ShippingAddress, order.State, order.CreatedAt)
	if err != nil {
		return err
	}

	for _, it := range order.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			it.ID, it.OrderID, it.ProductID, it.Qty, it.PriceCents)
		if err != nil {
			return err
		}
	}

	for _, lk := range locks {
		ct, err := tx.Exec(ctx, `
			UPDATE products
			SET locked_stock = locked_stock + $2, updated_at = $3
			WHERE id = $1 AND stock - locked_stock >= $2`,
			lk.ProductID, lk.Qty, lk.CreatedAt)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			var available int
			err := tx.QueryRow(ctx,
				`SELECT stock - locked_stock FROM products WHERE id = $1`, lk.ProductID).Scan(&available)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProductNotFound
			}
			if err != nil {
				return err
			}
			return &InsufficientStockError{ProductID: lk.ProductID, Requested: lk.Qty, Available: available}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO stock_locks(id, product_id, user_id, order_id, qty, expires_at, valid, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			lk.ID, lk.ProductID, lk.UserID, lk.OrderID, lk.Qty, lk.ExpiresAt, lk.Valid, lk.State, lk.CreatedAt, lk.UpdatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (l *PGLedger) MarkPaid(ctx context.Context, orderID, userID, paymentMethod string, now time.Time) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ownedOrderExists(ctx, tx, orderID, userID); err != nil {
		return err
	}

	// Claiming the order row first makes pay and cancel mutually exclusive:
	// only one of them can see state=CREATED.
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET state = $2, payment_method = $3, order_date = $4
		WHERE id = $1 AND state = $5`,
		orderID, StatePaid, paymentMethod, now, StateCreated)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrInvalidOrderState
	}

	var total int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_locks WHERE order_id = $1`, orderID).Scan(&total); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
		UPDATE stock_locks SET state = $2, valid = FALSE, updated_at = $3
		WHERE order_id = $1 AND state = $4
		RETURNING product_id, qty`,
		orderID, LockConsumed, now, LockReserved)
	if err != nil {
		return err
	}
	type held struct {
		pid string
		qty int
	}
	var claimed []held
	for rows.Next() {
		var h held
		if err := rows.Scan(&h.pid, &h.qty); err != nil {
			rows.Close()
			return err
		}
		claimed = append(claimed, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// A lock the reaper already expired is not claimable; the whole payment
	// rolls back and the order stays CREATED.
	if len(claimed) != total || total == 0 {
		return ErrStockReconciliation
	}

	for _, h := range claimed {
		ct, err := tx.Exec(ctx, `
			UPDATE products
			SET stock = stock - $2, locked_stock = locked_stock - $2, updated_at = $3
			WHERE id = $1 AND stock >= $2 AND locked_stock >= $2`,
			h.pid, h.qty, now)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return ErrStockReconciliation
		}
	}

	return tx.Commit(ctx)
}

func (l *PGLedger) CancelOrder(ctx context.Context, orderID, userID string, now time.Time) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ownedOrderExists(ctx, tx, orderID, userID); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET state = $2 WHERE id = $1 AND state = $3`,
		orderID, StateCancelled, StateCreated)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrInvalidOrderState
	}

	rows, err := tx.Query(ctx, `
		UPDATE stock_locks SET state = $2, valid = FALSE, updated_at = $3
		WHERE order_id = $1 AND state = $4
		RETURNING product_id, qty`,
		orderID, LockReleased, now, LockReserved)
	if err != nil {
		return err
	}
	type held struct {
		pid string
		qty int
	}
	var released []held
	for rows.Next() {
		var h held
		if err := rows.Scan(&h.pid, &h.qty); err != nil {
			rows.Close()
			return err
		}
		released = append(released, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, h := range released {
		ct, err := tx.Exec(ctx, `
			UPDATE products
			SET locked_stock = locked_stock - $2, updated_at = $3
			WHERE id = $1 AND locked_stock >= $2`,
			h.pid, h.qty, now)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return ErrStockReconciliation
		}
	}

	return tx.Commit(ctx)
}

func (l *PGLedger) InvalidateExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	ct, err := l.DB.Exec(ctx, `
		UPDATE stock_locks SET valid = FALSE, state = $2, updated_at = $1
		WHERE valid AND expires_at < $1`,
		now, LockExpired)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (l *PGLedger) ExpiredLocks(ctx context.Context, limit int) ([]StockLock, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, product_id, user_id, order_id, qty, expires_at, valid, state, reconciled_at, created_at, updated_at
		FROM stock_locks
		WHERE state = $1 AND reconciled_at IS NULL
		ORDER BY updated_at
		LIMIT $2`,
		LockExpired, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLocks(rows)
}

func (l *PGLedger) ReconcileExpiredLock(ctx context.Context, lockID string, now time.Time) (bool, string, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		productID string
		orderID   string
		qty       int
	)
	err = tx.QueryRow(ctx, `
		UPDATE stock_locks SET reconciled_at = $2, updated_at = $2
		WHERE id = $1 AND state = $3 AND reconciled_at IS NULL
		RETURNING product_id, order_id, qty`,
		lockID, now, LockExpired).Scan(&productID, &orderID, &qty)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already reconciled on an earlier pass.
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE products
		SET locked_stock = locked_stock - $2, updated_at = $3
		WHERE id = $1 AND locked_stock >= $2`,
		productID, qty, now)
	if err != nil {
		return false, "", err
	}
	if ct.RowsAffected() != 1 {
		return false, "", ErrStockReconciliation
	}

	ct, err = tx.Exec(ctx, `
		UPDATE orders SET state = $2 WHERE id = $1 AND state = $3`,
		orderID, StateCancelled, StateCreated)
	if err != nil {
		return false, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, "", err
	}
	return ct.RowsAffected() == 1, orderID, nil
}

func (l *PGLedger) GetOrder(ctx context.Context, orderID, userID string) (*Order, error) {
	var o Order
	err := l.DB.QueryRow(ctx, `
		SELECT id, user_id, total_cents, shipping_address, COALESCE(payment_method, ''), state, order_date, created_at
		FROM orders WHERE id = $1 AND user_id = $2`,
		orderID, userID).Scan(&o.ID, &o.UserID, &o.TotalCents, &o.ShippingAddress, &o.PaymentMethod, &o.State, &o.OrderDate, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := l.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, price_cents
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (l *PGLedger) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, user_id, total_cents, shipping_address, COALESCE(payment_method, ''), state, order_date, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	var ids []string
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalCents, &o.ShippingAddress, &o.PaymentMethod, &o.State, &o.OrderDate, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	itemRows, err := l.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, price_cents
		FROM order_items WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	byOrder := make(map[string][]OrderItem, len(out))
	for itemRows.Next() {
		var it OrderItem
		if err := itemRows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = byOrder[out[i].ID]
	}
	return out, nil
}

func (l *PGLedger) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	err := l.DB.QueryRow(ctx, `
		SELECT id, name, price_cents, stock, locked_stock, created_at, updated_at
		FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.LockedStock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *PGLedger) LocksForOrder(ctx context.Context, orderID string) ([]StockLock, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, product_id, user_id, order_id, qty, expires_at, valid, state, reconciled_at, created_at, updated_at
		FROM stock_locks WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLocks(rows)
}

func ownedOrderExists(ctx context.Context, tx pgx.Tx, orderID, userID string) error {
	var id string
	err := tx.QueryRow(ctx,
		`SELECT id FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	return err
}

func scanLocks(rows pgx.Rows) ([]StockLock, error) {
	var out []StockLock
	for rows.Next() {
		var lk StockLock
		if err := rows.Scan(&lk.ID, &lk.ProductID, &lk.UserID, &lk.OrderID, &lk.Qty,
			&lk.ExpiresAt, &lk.Valid, &lk.State, &lk.ReconciledAt, &lk.CreatedAt, &lk.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, lk)
	}
	return out, rows.Err()
}
