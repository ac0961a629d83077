package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketsim/market-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.SaveOrder(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, orderKey(o.ID), ordersKey(o.UserID))
	return nil
}

func (s *CachedStore) InsertFill(ctx context.Context, f *model.Fill) error {
	if err := s.primary.InsertFill(ctx, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, userFillsKey(f.UserID), stockFillsKey(f.StockID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if s.cached(ctx, orderKey(id), &o) {
		return &o, nil
	}

	got, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, orderKey(id), got)
	return got, nil
}

func (s *CachedStore) ListOrders(ctx context.Context, userID string) ([]model.Order, error) {
	var orders []model.Order
	if s.cached(ctx, ordersKey(userID), &orders) {
		return orders, nil
	}

	orders, err := s.primary.ListOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, ordersKey(userID), orders)
	return orders, nil
}

func (s *CachedStore) GetFillsByStock(ctx context.Context, stockID string) ([]model.Fill, error) {
	var fills []model.Fill
	if s.cached(ctx, stockFillsKey(stockID), &fills) {
		return fills, nil
	}

	fills, err := s.primary.GetFillsByStock(ctx, stockID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, stockFillsKey(stockID), fills)
	return fills, nil
}

func (s *CachedStore) GetFillsByUser(ctx context.Context, userID string) ([]model.Fill, error) {
	var fills []model.Fill
	if s.cached(ctx, userFillsKey(userID), &fills) {
		return fills, nil
	}

	fills, err := s.primary.GetFillsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, userFillsKey(userID), fills)
	return fills, nil
}

// --- Cache helpers ---

// cached loads key into dst and reports whether it was a usable hit.
func (s *CachedStore) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func orderKey(id string) string { return fmt.Sprintf("order:%s", id) }
func ordersKey(uid string) string { return fmt.Sprintf("orders:%s", uid) }
func userFillsKey(uid string) string { return fmt.Sprintf("fills:user:%s", uid) }
func stockFillsKey(sid string) string { return fmt.Sprintf("fills:stock:%s", sid) }
