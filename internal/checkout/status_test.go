package checkout

import "testing"

func TestCanTransitionOrder(t *testing.T) {
	cases := []struct {
		from, to OrderState
		want     bool
	}{
		{StateCreated, StatePaid, true},
		{StateCreated, StateCancelled, true},
		{StatePaid, StateCancelled, false},
		{StateCancelled, StatePaid, false},
		{StatePaid, StateCreated, false},
	}
	for _, c := range cases {
		if got := CanTransitionOrder(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionOrder(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransitionLock(t *testing.T) {
	terminals := []LockState{LockConsumed, LockReleased, LockExpired}
	for _, to := range terminals {
		if !CanTransitionLock(LockReserved, to) {
			t.Errorf("RESERVED -> %s must be allowed", to)
		}
	}
	// Every terminal state is a dead end.
	all := []LockState{LockReserved, LockConsumed, LockReleased, LockExpired}
	for _, from := range terminals {
		for _, to := range all {
			if CanTransitionLock(from, to) {
				t.Errorf("%s -> %s must be forbidden", from, to)
			}
		}
	}
}
