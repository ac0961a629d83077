package ledger

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
)

func TestUpdatePortfolioPositions(t *testing.T) {
	stocks := []model.Stock{
		{ID: "A", Sector: "Technology", CurrentPrice: d(120)},
		{ID: "B", Sector: "Finance", CurrentPrice: d(40)},
	}
	pf := NewPortfolio(d(1000))
	pf.Positions = []model.Position{
		{StockID: "A", Quantity: 10, AverageCost: d(100)},
		{StockID: "B", Quantity: 5, AverageCost: d(50)},
		{StockID: "gone", Quantity: 2, AverageCost: d(30), CurrentValue: d(70)},
	}

	got := UpdatePortfolioPositions(pf, stocks)

	a, _ := got.Position("A")
	if !a.CurrentValue.Equal(d(1200)) || !a.ProfitLoss.Equal(d(200)) || !a.ProfitLossPercentage.Equal(d(20)) {
		t.Errorf("A: unexpected valuation %+v", a)
	}
	b, _ := got.Position("B")
	if !b.CurrentValue.Equal(d(200)) || !b.ProfitLoss.Equal(d(-50)) || !b.ProfitLossPercentage.Equal(d(-20)) {
		t.Errorf("B: unexpected valuation %+v", b)
	}
	gone, _ := got.Position("gone")
	if !gone.CurrentValue.Equal(d(70)) {
		t.Errorf("unknown stock position should keep stale value, got %s", gone.CurrentValue)
	}

	// investment 1000+250+60, value 1200+200 (unknown contributes 0)
	if !got.TotalInvestment.Equal(d(1310)) {
		t.Errorf("expected investment 1310, got %s", got.TotalInvestment)
	}
	if !got.TotalValue.Equal(d(2400)) {
		t.Errorf("expected total value 2400, got %s", got.TotalValue)
	}
	if !got.TotalProfitLoss.Equal(d(90)) {
		t.Errorf("expected total P&L 90, got %s", got.TotalProfitLoss)
	}
	if !got.ExposureBySector["Technology"].Equal(d(1200)) || !got.ExposureBySector["Finance"].Equal(d(200)) {
		t.Errorf("unexpected sector exposure %v", got.ExposureBySector)
	}

	if !pf.Positions[0].CurrentValue.IsZero() {
		t.Error("input portfolio was modified")
	}
}

func TestRecalculatePortfolioTotals_EmptyPortfolio(t *testing.T) {
	got := RecalculatePortfolioTotals(NewPortfolio(InitialCash), nil)
	if !got.TotalValue.Equal(InitialCash) {
		t.Errorf("expected total value %s, got %s", InitialCash, got.TotalValue)
	}
	if !got.TotalProfitLossPercentage.IsZero() {
		t.Errorf("expected 0%% with no investment, got %s", got.TotalProfitLossPercentage)
	}
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		v, base, want float64
	}{
		{110, 100, 10},
		{50, 100, -50},
		{100, 100, 0},
		{5, 0, 0},
	}
	for _, tt := range tests {
		got := percentChange(d(tt.v), d(tt.base))
		if !got.Equal(decimal.NewFromFloat(tt.want)) {
			t.Errorf("percentChange(%v, %v) = %s, want %v", tt.v, tt.base, got, tt.want)
		}
	}
}
