package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ilive/checkout/internal/checkout"
	"github.com/ilive/checkout/internal/redisx"
)

// RedisStore keeps one hash per user: cart:{user_id} -> {product_id: qty}.
type RedisStore struct {
	RDB *redis.Client
}

func (s *RedisStore) Lines(ctx context.Context, userID string) ([]checkout.CartLine, error) {
	key := fmt.Sprintf(redisx.KeyCart, userID)
	fields, err := s.RDB.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	lines := make([]checkout.CartLine, 0, len(fields))
	for pid, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("cart %s: bad qty for product %s: %w", userID, pid, err)
		}
		lines = append(lines, checkout.CartLine{ProductID: pid, Qty: qty})
	}
	// HGetAll order is unspecified; keep line order stable for callers.
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (s *RedisStore) SetItem(ctx context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return checkout.ErrInvalidQuantity
	}
	key := fmt.Sprintf(redisx.KeyCart, userID)
	return s.RDB.HSet(ctx, key, productID, qty).Err()
}

func (s *RedisStore) RemoveItem(ctx context.Context, userID, productID string) error {
	key := fmt.Sprintf(redisx.KeyCart, userID)
	return s.RDB.HDel(ctx, key, productID).Err()
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	key := fmt.Sprintf(redisx.KeyCart, userID)
	return s.RDB.Del(ctx, key).Err()
}
