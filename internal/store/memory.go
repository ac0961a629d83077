package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marketsim/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used by default when no
// database is configured, and in tests. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	fills  []model.Fill
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*model.Order),
	}
}

func (s *MemoryStore) SaveOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) InsertFill(_ context.Context, f *model.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.fills {
		if existing.ID == f.ID {
			return fmt.Errorf("fill %s already recorded", f.ID)
		}
	}
	s.fills = append(s.fills, *f)
	return nil
}

func (s *MemoryStore) GetFillsByStock(_ context.Context, stockID string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Fill
	for _, f := range s.fills {
		if f.StockID == stockID {
			result = append(result, f)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetFillsByUser(_ context.Context, userID string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Fill
	for _, f := range s.fills {
		if f.UserID == userID {
			result = append(result, f)
		}
	}
	return result, nil
}
