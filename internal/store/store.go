// Package store defines the journal interface for the simulation.
// Implementations include PostgreSQL and SQLite (durable journals), Redis
// (read-through cache), and in-memory (default, and for testing).
//
// The journal is write-behind: the engine's in-memory snapshot is the source
// of truth for simulation state, and the journal records what happened.
package store

import (
	"context"
	"errors"

	"github.com/marketsim/market-engine/internal/model"
)

var ErrNotFound = errors.New("store: not found")

// Store is the journal interface.
type Store interface {
	// --- Orders ---

	// SaveOrder inserts an order or replaces its recorded state.
	SaveOrder(ctx context.Context, order *model.Order) error

	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrders returns a user's orders, oldest first.
	ListOrders(ctx context.Context, userID string) ([]model.Order, error)

	// --- Immutable fills ---

	// InsertFill appends an immutable execution record.
	InsertFill(ctx context.Context, fill *model.Fill) error

	// GetFillsByStock returns all fills for a stock, oldest first.
	GetFillsByStock(ctx context.Context, stockID string) ([]model.Fill, error)

	// GetFillsByUser returns all fills for a user, oldest first.
	GetFillsByUser(ctx context.Context, userID string) ([]model.Fill, error)
}
