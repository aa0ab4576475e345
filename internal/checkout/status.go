package checkout

type OrderState string

const (
	StateCreated   OrderState = "CREATED"
	StatePaid      OrderState = "PAID"
	StateCancelled OrderState = "CANCELLED"
)

type LockState string

const (
	LockReserved LockState = "RESERVED"
	LockConsumed LockState = "CONSUMED"
	LockReleased LockState = "RELEASED"
	LockExpired  LockState = "EXPIRED"
)

var validNextOrder = map[OrderState]map[OrderState]bool{
	StateCreated:   {StatePaid: true, StateCancelled: true},
	StatePaid:      {},
	StateCancelled: {},
}

// RESERVED is the only non-terminal lock state; every transition is one-way.
var validNextLock = map[LockState]map[LockState]bool{
	LockReserved: {LockConsumed: true, LockReleased: true, LockExpired: true},
	LockConsumed: {},
	LockReleased: {},
	LockExpired:  {},
}

func CanTransitionOrder(from, to OrderState) bool { return validNextOrder[from][to] }

func CanTransitionLock(from, to LockState) bool { return validNextLock[from][to] }
