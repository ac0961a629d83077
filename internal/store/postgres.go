package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketsim/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	stock_id       TEXT NOT NULL,
	ticker         TEXT NOT NULL,
	side           TEXT NOT NULL,
	quantity       BIGINT NOT NULL,
	limit_price    NUMERIC,
	status         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	executed_at    TIMESTAMPTZ,
	executed_price NUMERIC
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at);

CREATE TABLE IF NOT EXISTS fills (
	id        TEXT PRIMARY KEY,
	order_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	stock_id  TEXT NOT NULL,
	ticker    TEXT NOT NULL,
	side      TEXT NOT NULL,
	quantity  BIGINT NOT NULL,
	price     NUMERIC NOT NULL,
	cost      NUMERIC NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_stock ON fills (stock_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_fills_user ON fills (user_id, timestamp);
`

// Migrate creates the journal tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const orderColumns = `id, user_id, stock_id, ticker, side, quantity,
	limit_price::TEXT, status, created_at, executed_at, executed_price::TEXT`

const fillColumns = `id, order_id, user_id, stock_id, ticker, side,
	quantity, price::TEXT, cost::TEXT, timestamp`

func (s *PostgresStore) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, stock_id, ticker, side, quantity, limit_price, status, created_at, executed_at, executed_price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status,
		     executed_at = EXCLUDED.executed_at,
		     executed_price = EXCLUDED.executed_price`,
		o.ID, o.UserID, o.StockID, o.Ticker, string(o.Side), o.Quantity,
		nullableDecimal(o.LimitPrice), string(o.Status), o.CreatedAt,
		o.ExecutedAt, nullableNullDecimal(o.ExecutedPrice),
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills (id, order_id, user_id, stock_id, ticker, side, quantity, price, cost, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10)`,
		f.ID, f.OrderID, f.UserID, f.StockID, f.Ticker, string(f.Side),
		f.Quantity, f.Price.String(), f.Cost.String(), f.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetFillsByStock(ctx context.Context, stockID string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillColumns+` FROM fills WHERE stock_id = $1 ORDER BY timestamp`, stockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

func (s *PostgresStore) GetFillsByUser(ctx context.Context, userID string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillColumns+` FROM fills WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

// fillRows is the subset of pgx.Rows and *sql.Rows that scanFills needs.
type fillRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFills(rows fillRows) ([]model.Fill, error) {
	var fills []model.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
