// Package model defines the core domain types shared across the simulation.
// All monetary values use shopspring/decimal; never float64 for money.
// Simulation parameters (volatility, trend) are plain float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places prices and values are rounded to.
const PriceScale int32 = 8

// MinPrice is the price floor every stock is held above.
var MinPrice = decimal.NewFromInt(10)

// PricePoint is one OHLC bar in a stock's price history.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// Stock is a simulated instrument. PriceHistory is ascending by timestamp
// and bounded to the most recent HistoryLimit points.
type Stock struct {
	ID            string          `json:"id"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	Sector        string          `json:"sector"`
	InitialPrice  decimal.Decimal `json:"initial_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	DayOpen       decimal.Decimal `json:"day_open"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	MarketCap     decimal.Decimal `json:"market_cap"`
	Volume        int64           `json:"volume"`
	Volatility    float64         `json:"volatility"` // (0,1)
	Trend         float64         `json:"trend"`      // (-0.01, 0.01)
	PriceHistory  []PricePoint    `json:"price_history"`
}

// IndexValuePoint is one entry in an index's value history.
type IndexValuePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// Index is a composite of a fixed set of stocks. Its value is the
// unweighted mean of the component stocks' current prices.
type Index struct {
	ID            string            `json:"id"`
	Ticker        string            `json:"ticker"`
	Name          string            `json:"name"`
	Components    []string          `json:"components"` // stock ids, fixed at creation
	CurrentValue  decimal.Decimal   `json:"current_value"`
	PreviousValue decimal.Decimal   `json:"previous_value"`
	DayOpen       decimal.Decimal   `json:"day_open"`
	DayHigh       decimal.Decimal   `json:"day_high"`
	DayLow        decimal.Decimal   `json:"day_low"`
	ValueHistory  []IndexValuePoint `json:"value_history"`
}

// Position is a holding in one stock. A position with zero quantity is
// removed from the portfolio rather than kept.
type Position struct {
	StockID              string          `json:"stock_id"`
	Ticker               string          `json:"ticker"`
	Quantity             int64           `json:"quantity"`
	AverageCost          decimal.Decimal `json:"average_cost"`  // weighted average across buys
	CurrentValue         decimal.Decimal `json:"current_value"` // mark-to-market
	ProfitLoss           decimal.Decimal `json:"profit_loss"`   // unrealized
	ProfitLossPercentage decimal.Decimal `json:"profit_loss_percentage"`
}

// Portfolio aggregates cash and positions for the session user.
type Portfolio struct {
	Cash                      decimal.Decimal            `json:"cash"`
	Positions                 []Position                 `json:"positions"`
	TotalValue                decimal.Decimal            `json:"total_value"`      // cash + Σ position values
	TotalInvestment           decimal.Decimal            `json:"total_investment"` // Σ averageCost * quantity
	TotalProfitLoss           decimal.Decimal            `json:"total_profit_loss"`
	TotalProfitLossPercentage decimal.Decimal            `json:"total_profit_loss_percentage"`
	ExposureBySector          map[string]decimal.Decimal `json:"exposure_by_sector"`
}

// Position returns the position held in stockID and its slice index,
// or -1 when there is none.
func (p Portfolio) Position(stockID string) (Position, int) {
	for i, pos := range p.Positions {
		if pos.StockID == stockID {
			return pos, i
		}
	}
	return Position{}, -1
}

// Clone returns a deep copy so callers can modify the result freely.
func (p Portfolio) Clone() Portfolio {
	out := p
	out.Positions = append([]Position(nil), p.Positions...)
	if p.ExposureBySector != nil {
		out.ExposureBySector = make(map[string]decimal.Decimal, len(p.ExposureBySector))
		for k, v := range p.ExposureBySector {
			out.ExposureBySector[k] = v
		}
	}
	return out
}

// Fill is an immutable record of an order execution.
// Once created, these are never modified or deleted.
type Fill struct {
	ID        string          `json:"id" db:"id"`
	OrderID   string          `json:"order_id" db:"order_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	StockID   string          `json:"stock_id" db:"stock_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Side      Side            `json:"side" db:"side"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Cost      decimal.Decimal `json:"cost" db:"cost"` // signed cash delta: -buy, +sell
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Snapshot is the full simulation state published after every mutation.
// A published snapshot is never modified.
type Snapshot struct {
	Tick      int64     `json:"tick"`
	UpdatedAt time.Time `json:"updated_at"`
	Stocks    []Stock   `json:"stocks"`
	Indices   []Index   `json:"indices"`
	Orders    []Order   `json:"orders"`
	Portfolio Portfolio `json:"portfolio"`
}

// StockByID returns the stock with the given id.
func StockByID(stocks []Stock, id string) (Stock, bool) {
	for _, s := range stocks {
		if s.ID == id {
			return s, true
		}
	}
	return Stock{}, false
}
