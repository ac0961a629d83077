package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marketsim/market-engine/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. Decimals are stored
// as TEXT so no precision is lost.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	stock_id       TEXT NOT NULL,
	ticker         TEXT NOT NULL,
	side           TEXT NOT NULL,
	quantity       INTEGER NOT NULL,
	limit_price    TEXT,
	status         TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	executed_at    TIMESTAMP,
	executed_price TEXT
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at);

CREATE TABLE IF NOT EXISTS fills (
	id        TEXT PRIMARY KEY,
	order_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	stock_id  TEXT NOT NULL,
	ticker    TEXT NOT NULL,
	side      TEXT NOT NULL,
	quantity  INTEGER NOT NULL,
	price     TEXT NOT NULL,
	cost      TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_stock ON fills (stock_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_fills_user ON fills (user_id, timestamp);
`

// NewSQLiteStore opens (creating if needed) the database at dbPath in WAL
// mode and ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite create tables: %w", err)
	}

	slog.Info("sqlite journal opened", "path", dbPath)
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, stock_id, ticker, side, quantity, limit_price, status, created_at, executed_at, executed_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET status = excluded.status,
		     executed_at = excluded.executed_at,
		     executed_price = excluded.executed_price`,
		o.ID, o.UserID, o.StockID, o.Ticker, string(o.Side), o.Quantity,
		nullableDecimal(o.LimitPrice), string(o.Status), o.CreatedAt.UTC(),
		utcOrNil(o.ExecutedAt), nullableNullDecimal(o.ExecutedPrice),
	)
	if err != nil {
		return fmt.Errorf("sqlite save order %s: %w", o.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, stock_id, ticker, side, quantity, limit_price, status, created_at, executed_at, executed_price
		 FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get order %s: %w", id, err)
	}
	return &o, nil
}

func (s *SQLiteStore) ListOrders(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, stock_id, ticker, side, quantity, limit_price, status, created_at, executed_at, executed_price
		 FROM orders WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fills (id, order_id, user_id, stock_id, ticker, side, quantity, price, cost, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.UserID, f.StockID, f.Ticker, string(f.Side),
		f.Quantity, f.Price.String(), f.Cost.String(), f.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert fill %s: %w", f.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetFillsByStock(ctx context.Context, stockID string) ([]model.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, user_id, stock_id, ticker, side, quantity, price, cost, timestamp
		 FROM fills WHERE stock_id = ? ORDER BY timestamp`, stockID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query fills: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

func (s *SQLiteStore) GetFillsByUser(ctx context.Context, userID string) ([]model.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, user_id, stock_id, ticker, side, quantity, price, cost, timestamp
		 FROM fills WHERE user_id = ? ORDER BY timestamp`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query fills: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}
