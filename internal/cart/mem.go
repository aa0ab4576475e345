package cart

import (
	"context"
	"sort"
	"sync"

	"github.com/ilive/checkout/internal/checkout"
)

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu    sync.Mutex
	carts map[string]map[string]int
}

func NewMemStore() *MemStore {
	return &MemStore{carts: make(map[string]map[string]int)}
}

func (s *MemStore) Lines(_ context.Context, userID string) ([]checkout.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]checkout.CartLine, 0, len(s.carts[userID]))
	for pid, qty := range s.carts[userID] {
		lines = append(lines, checkout.CartLine{ProductID: pid, Qty: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (s *MemStore) SetItem(_ context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return checkout.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.carts[userID] == nil {
		s.carts[userID] = make(map[string]int)
	}
	s.carts[userID][productID] = qty
	return nil
}

func (s *MemStore) RemoveItem(_ context.Context, userID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts[userID], productID)
	return nil
}

func (s *MemStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}
