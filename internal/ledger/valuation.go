package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// UpdatePortfolioPositions marks every position to the current price of its
// stock and recomputes the totals. Positions whose stock is unknown keep
// their previous valuation.
func UpdatePortfolioPositions(pf model.Portfolio, stocks []model.Stock) model.Portfolio {
	next := pf.Clone()
	for i, pos := range next.Positions {
		stock, ok := model.StockByID(stocks, pos.StockID)
		if !ok {
			continue
		}
		qty := decimal.NewFromInt(pos.Quantity)
		pos.CurrentValue = stock.CurrentPrice.Mul(qty)
		pos.ProfitLoss = stock.CurrentPrice.Sub(pos.AverageCost).Mul(qty)
		pos.ProfitLossPercentage = percentChange(stock.CurrentPrice, pos.AverageCost)
		next.Positions[i] = pos
	}
	return RecalculatePortfolioTotals(next, stocks)
}

// RecalculatePortfolioTotals derives the portfolio-level totals from cash,
// positions and current prices. A position whose stock is unknown counts
// toward investment but contributes no value.
func RecalculatePortfolioTotals(pf model.Portfolio, stocks []model.Stock) model.Portfolio {
	next := pf.Clone()

	investment := decimal.Zero
	value := decimal.Zero
	exposure := make(map[string]decimal.Decimal)

	for _, pos := range next.Positions {
		qty := decimal.NewFromInt(pos.Quantity)
		investment = investment.Add(pos.AverageCost.Mul(qty))

		stock, ok := model.StockByID(stocks, pos.StockID)
		if !ok {
			continue
		}
		v := stock.CurrentPrice.Mul(qty)
		value = value.Add(v)
		exposure[stock.Sector] = exposure[stock.Sector].Add(v)
	}

	next.TotalInvestment = investment
	next.TotalValue = next.Cash.Add(value)
	next.TotalProfitLoss = value.Sub(investment)
	next.TotalProfitLossPercentage = percentChange(value, investment)
	next.ExposureBySector = exposure
	return next
}

// percentChange returns (v/base - 1) * 100, or zero when base is zero.
func percentChange(v, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return v.Div(base).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(model.PriceScale)
}
