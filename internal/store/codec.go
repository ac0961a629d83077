package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
)

// SQL journals store decimals as text and optional columns as NULL.

func nullableDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nullableNullDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// orderRow holds the raw column values of one order row.
type orderRow struct {
	limitPrice    *string
	executedAt    *time.Time
	executedPrice *string
}

func (r orderRow) apply(o *model.Order) error {
	if r.limitPrice != nil {
		lp, err := decimal.NewFromString(*r.limitPrice)
		if err != nil {
			return fmt.Errorf("order %s limit price: %w", o.ID, err)
		}
		o.LimitPrice = &lp
	}
	if r.executedAt != nil {
		t := r.executedAt.UTC()
		o.ExecutedAt = &t
	}
	if r.executedPrice != nil {
		ep, err := decimal.NewFromString(*r.executedPrice)
		if err != nil {
			return fmt.Errorf("order %s executed price: %w", o.ID, err)
		}
		o.ExecutedPrice = decimal.NewNullDecimal(ep)
	}
	return nil
}

// rowScanner is satisfied by pgx.Rows, *sql.Rows, pgx.Row and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var o model.Order
	var r orderRow
	var side, status string
	if err := row.Scan(&o.ID, &o.UserID, &o.StockID, &o.Ticker, &side, &o.Quantity,
		&r.limitPrice, &status, &o.CreatedAt, &r.executedAt, &r.executedPrice); err != nil {
		return o, err
	}
	o.Side = model.Side(side)
	o.Status = model.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, r.apply(&o)
}

func scanFill(row rowScanner) (model.Fill, error) {
	var f model.Fill
	var side, priceS, costS string
	if err := row.Scan(&f.ID, &f.OrderID, &f.UserID, &f.StockID, &f.Ticker, &side,
		&f.Quantity, &priceS, &costS, &f.Timestamp); err != nil {
		return f, err
	}
	f.Side = model.Side(side)
	f.Timestamp = f.Timestamp.UTC()

	var err error
	if f.Price, err = decimal.NewFromString(priceS); err != nil {
		return f, fmt.Errorf("fill %s price: %w", f.ID, err)
	}
	if f.Cost, err = decimal.NewFromString(costS); err != nil {
		return f, fmt.Errorf("fill %s cost: %w", f.ID, err)
	}
	return f, nil
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
