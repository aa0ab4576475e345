package checkout

import "time"

type Product struct {
	ID          string
	Name        string
	PriceCents  int64
	Stock       int
	LockedStock int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AvailableStock is derived, never stored: units a new reservation may claim.
func (p Product) AvailableStock() int { return p.Stock - p.LockedStock }

type Order struct {
	ID              string
	UserID          string
	TotalCents      int64
	ShippingAddress string
	PaymentMethod   string // empty until paid
	State           OrderState
	OrderDate       *time.Time // set at payment
	CreatedAt       time.Time
	Items           []OrderItem
}

type OrderItem struct {
	ID         string
	OrderID    string
	ProductID  string
	Qty        int
	PriceCents int64 // unit price snapshot at reservation time
}

// StockLock is a time-bounded hold of Qty units against Product.LockedStock,
// owned by one unpaid order line.
type StockLock struct {
	ID           string
	ProductID    string
	UserID       string
	OrderID      string
	Qty          int
	ExpiresAt    time.Time
	Valid        bool
	State        LockState
	ReconciledAt *time.Time // set once the reaper has released the held stock
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CartLine is one (product, quantity) pair supplied by the cart collaborator.
type CartLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}
