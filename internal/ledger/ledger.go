// Package ledger implements order execution and portfolio bookkeeping.
//
// Every function takes its state as arguments and returns new values; the
// caller owns the state and decides what to publish. Business failures are
// returned as a canceled order plus a sentinel error, never as a panic or a
// half-applied portfolio.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
)

var (
	ErrStockNotFound      = errors.New("ledger: stock not found")
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	ErrInsufficientShares = errors.New("ledger: insufficient shares")
	ErrOrderNotFound      = errors.New("ledger: order not found")
	ErrOrderNotCancelable = errors.New("ledger: order already filled")
	ErrInvalidSide        = errors.New("ledger: side must be buy or sell")
)

// InitialCash is the default starting balance of a new portfolio.
var InitialCash = decimal.NewFromInt(100_000)

// NewPortfolio returns an empty portfolio holding cash.
func NewPortfolio(cash decimal.Decimal) model.Portfolio {
	return model.Portfolio{
		Cash:                      cash,
		Positions:                 []model.Position{},
		TotalValue:                cash,
		TotalInvestment:           decimal.Zero,
		TotalProfitLoss:           decimal.Zero,
		TotalProfitLossPercentage: decimal.Zero,
		ExposureBySector:          map[string]decimal.Decimal{},
	}
}

// CreateOrder returns a new pending order. limitPrice is recorded only for
// limit orders. No validation is done here.
func CreateOrder(userID string, stock model.Stock, typ model.OrderType, side model.Side, quantity int64, limitPrice decimal.Decimal, now time.Time) model.Order {
	o := model.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		StockID:   stock.ID,
		Ticker:    stock.Ticker,
		Side:      side,
		Quantity:  quantity,
		Status:    model.OrderPending,
		CreatedAt: now,
	}
	if typ == model.OrderLimit {
		lp := limitPrice
		o.LimitPrice = &lp
	}
	return o
}

// ExecuteMarketOrder fills order at the stock's current price.
//
// On failure the order comes back canceled, the portfolio comes back
// unchanged, and err is one of ErrStockNotFound, ErrInvalidSide,
// ErrInsufficientFunds or ErrInsufficientShares.
func ExecuteMarketOrder(order model.Order, stocks []model.Stock, pf model.Portfolio, now time.Time) (model.Order, model.Portfolio, error) {
	stock, ok := model.StockByID(stocks, order.StockID)
	if !ok {
		order.Status = model.OrderCanceled
		return order, pf, fmt.Errorf("%w: %s", ErrStockNotFound, order.StockID)
	}

	price := stock.CurrentPrice
	qty := decimal.NewFromInt(order.Quantity)
	total := price.Mul(qty)

	next := pf.Clone()
	pos, i := next.Position(order.StockID)

	switch order.Side {
	case model.Buy:
		if next.Cash.LessThan(total) {
			order.Status = model.OrderCanceled
			return order, pf, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total.StringFixed(2), pf.Cash.StringFixed(2))
		}
		next.Cash = next.Cash.Sub(total)

		switch {
		case i >= 0:
			newQty := pos.Quantity + order.Quantity
			if newQty > 0 {
				held := pos.AverageCost.Mul(decimal.NewFromInt(pos.Quantity))
				pos.AverageCost = held.Add(total).Div(decimal.NewFromInt(newQty)).Round(model.PriceScale)
			}
			pos.Quantity = newQty
			pos.CurrentValue = price.Mul(decimal.NewFromInt(newQty))
			pos.ProfitLoss = price.Sub(pos.AverageCost).Mul(decimal.NewFromInt(newQty))
			pos.ProfitLossPercentage = percentChange(price, pos.AverageCost)
			next.Positions[i] = pos
		case order.Quantity > 0:
			next.Positions = append(next.Positions, model.Position{
				StockID:              stock.ID,
				Ticker:               stock.Ticker,
				Quantity:             order.Quantity,
				AverageCost:          price,
				CurrentValue:         total,
				ProfitLoss:           decimal.Zero,
				ProfitLossPercentage: decimal.Zero,
			})
		}

	case model.Sell:
		if i < 0 || pos.Quantity < order.Quantity {
			order.Status = model.OrderCanceled
			return order, pf, fmt.Errorf("%w: want %d %s, have %d", ErrInsufficientShares, order.Quantity, stock.Ticker, pos.Quantity)
		}
		next.Cash = next.Cash.Add(total)

		pos.Quantity -= order.Quantity
		if pos.Quantity == 0 {
			next.Positions = append(next.Positions[:i], next.Positions[i+1:]...)
		} else {
			pos.CurrentValue = price.Mul(decimal.NewFromInt(pos.Quantity))
			pos.ProfitLoss = price.Sub(pos.AverageCost).Mul(decimal.NewFromInt(pos.Quantity))
			pos.ProfitLossPercentage = percentChange(price, pos.AverageCost)
			next.Positions[i] = pos
		}

	default:
		order.Status = model.OrderCanceled
		return order, pf, fmt.Errorf("%w: got %q", ErrInvalidSide, order.Side)
	}

	next = RecalculatePortfolioTotals(next, stocks)

	order.Status = model.OrderFilled
	executedAt := now
	order.ExecutedAt = &executedAt
	order.ExecutedPrice = decimal.NewNullDecimal(price)
	return order, next, nil
}

// CheckLimitOrders sweeps pending limit orders against current prices.
//
// Orders are processed oldest first; the returned slice is in that order.
// A buy triggers when price <= limit and a sell when price >= limit. A
// triggered order that fails to execute, or whose stock is unknown, stays
// pending for the next sweep. executed holds the orders filled by this call.
func CheckLimitOrders(orders []model.Order, stocks []model.Stock, pf model.Portfolio, now time.Time) (out []model.Order, next model.Portfolio, executed []model.Order) {
	out = append([]model.Order(nil), orders...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	next = pf
	for i, o := range out {
		if o.Status != model.OrderPending || o.LimitPrice == nil {
			continue
		}
		stock, ok := model.StockByID(stocks, o.StockID)
		if !ok {
			continue
		}

		limit := *o.LimitPrice
		triggered := (o.Side == model.Buy && stock.CurrentPrice.LessThanOrEqual(limit)) ||
			(o.Side == model.Sell && stock.CurrentPrice.GreaterThanOrEqual(limit))
		if !triggered {
			continue
		}

		filled, pf2, err := ExecuteMarketOrder(o, stocks, next, now)
		if err != nil {
			continue
		}
		next = pf2
		out[i] = filled
		executed = append(executed, filled)
	}
	return out, next, executed
}

// CancelOrder moves a pending order to canceled. Canceling an order that is
// already canceled is a no-op.
func CancelOrder(orders []model.Order, orderID string) ([]model.Order, error) {
	out := append([]model.Order(nil), orders...)
	for i, o := range out {
		if o.ID != orderID {
			continue
		}
		switch o.Status {
		case model.OrderFilled:
			return orders, fmt.Errorf("%w: %s", ErrOrderNotCancelable, orderID)
		case model.OrderPending:
			out[i].Status = model.OrderCanceled
		}
		return out, nil
	}
	return orders, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
}
