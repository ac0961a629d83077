package ledger

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func stock(id string, price float64) model.Stock {
	return model.Stock{ID: id, Ticker: id, Sector: "Technology", CurrentPrice: d(price)}
}

func market(t *testing.T, s model.Stock, side model.Side, qty int64) model.Order {
	t.Helper()
	return CreateOrder("user-1", s, model.OrderMarket, side, qty, decimal.Zero, t0)
}

// --- CreateOrder ---

func TestCreateOrder(t *testing.T) {
	s := stock("ABC", 500)

	m := CreateOrder("user-1", s, model.OrderMarket, model.Buy, 10, d(450), t0)
	if m.ID == "" || m.Status != model.OrderPending || m.Ticker != "ABC" {
		t.Errorf("unexpected market order: %+v", m)
	}
	if m.Type() != model.OrderMarket || m.LimitPrice != nil {
		t.Error("market order must not carry a limit price")
	}

	l := CreateOrder("user-1", s, model.OrderLimit, model.Sell, 5, d(550), t0)
	if l.Type() != model.OrderLimit || l.LimitPrice == nil || !l.LimitPrice.Equal(d(550)) {
		t.Errorf("expected limit 550, got %+v", l.LimitPrice)
	}
	if l.ID == m.ID {
		t.Error("order ids must be unique")
	}
}

// --- ExecuteMarketOrder ---

func TestExecuteMarketOrder_BuyOpensPosition(t *testing.T) {
	s := stock("ABC", 500)
	stocks := []model.Stock{s}
	pf := NewPortfolio(InitialCash)

	order, pf2, err := ExecuteMarketOrder(market(t, s, model.Buy, 10), stocks, pf, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != model.OrderFilled {
		t.Errorf("expected filled, got %s", order.Status)
	}
	if order.ExecutedAt == nil || !order.ExecutedAt.Equal(t0) {
		t.Errorf("expected executed at %s", t0)
	}
	if !order.ExecutedPrice.Valid || !order.ExecutedPrice.Decimal.Equal(d(500)) {
		t.Errorf("expected executed price 500, got %v", order.ExecutedPrice)
	}
	if !pf2.Cash.Equal(d(95000)) {
		t.Errorf("expected cash 95000, got %s", pf2.Cash)
	}

	pos, i := pf2.Position("ABC")
	if i < 0 {
		t.Fatal("expected a position")
	}
	if pos.Quantity != 10 || !pos.AverageCost.Equal(d(500)) || !pos.ProfitLoss.IsZero() {
		t.Errorf("unexpected position: %+v", pos)
	}
	if !pf2.TotalValue.Equal(d(100000)) {
		t.Errorf("expected total value 100000, got %s", pf2.TotalValue)
	}
	if !pf.Cash.Equal(InitialCash) || len(pf.Positions) != 0 {
		t.Error("input portfolio was modified")
	}
}

func TestExecuteMarketOrder_AverageCost(t *testing.T) {
	tests := []struct {
		name     string
		q0       int64
		c0       float64
		q        int64
		p        float64
		wantCost float64
	}{
		{"equal lots", 10, 100, 10, 200, 150},
		{"weighted", 30, 100, 10, 140, 110},
		{"repeating fraction", 1, 10, 2, 20, 16.66666667},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stock("ABC", tt.p)
			pf := NewPortfolio(d(1_000_000))
			pf.Positions = []model.Position{{StockID: "ABC", Ticker: "ABC", Quantity: tt.q0, AverageCost: d(tt.c0)}}

			_, pf2, err := ExecuteMarketOrder(market(t, s, model.Buy, tt.q), []model.Stock{s}, pf, t0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			pos, _ := pf2.Position("ABC")
			if pos.Quantity != tt.q0+tt.q {
				t.Errorf("expected qty %d, got %d", tt.q0+tt.q, pos.Quantity)
			}
			if !pos.AverageCost.Equal(d(tt.wantCost)) {
				t.Errorf("expected average cost %v, got %s", tt.wantCost, pos.AverageCost)
			}
		})
	}
}

func TestExecuteMarketOrder_ZeroQuantityBuyOpensNothing(t *testing.T) {
	s := stock("ABC", 500)
	order, pf2, err := ExecuteMarketOrder(market(t, s, model.Buy, 0), []model.Stock{s}, NewPortfolio(InitialCash), t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != model.OrderFilled {
		t.Errorf("expected filled, got %s", order.Status)
	}
	if len(pf2.Positions) != 0 {
		t.Errorf("expected no positions, got %d", len(pf2.Positions))
	}
	if !pf2.Cash.Equal(InitialCash) {
		t.Errorf("cash changed: %s", pf2.Cash)
	}
}

func TestExecuteMarketOrder_InsufficientFundsLeavesPortfolio(t *testing.T) {
	s := stock("ABC", 500)
	pf := NewPortfolio(d(1000))
	pf.Positions = []model.Position{{StockID: "ABC", Ticker: "ABC", Quantity: 1, AverageCost: d(400)}}
	pf = RecalculatePortfolioTotals(pf, []model.Stock{s})
	before := pf.Clone()

	order, pf2, err := ExecuteMarketOrder(market(t, s, model.Buy, 3), []model.Stock{s}, pf, t0)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if order.Status != model.OrderCanceled {
		t.Errorf("expected canceled, got %s", order.Status)
	}
	if !reflect.DeepEqual(pf2, before) {
		t.Errorf("portfolio changed:\nbefore %+v\nafter  %+v", before, pf2)
	}
}

func TestExecuteMarketOrder_InsufficientShares(t *testing.T) {
	s := stock("ABC", 500)
	pf := NewPortfolio(InitialCash)

	order, pf2, err := ExecuteMarketOrder(market(t, s, model.Sell, 1), []model.Stock{s}, pf, t0)
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if order.Status != model.OrderCanceled || !pf2.Cash.Equal(InitialCash) {
		t.Errorf("expected canceled order and unchanged cash")
	}

	pf.Positions = []model.Position{{StockID: "ABC", Ticker: "ABC", Quantity: 5, AverageCost: d(400)}}
	_, _, err = ExecuteMarketOrder(market(t, s, model.Sell, 6), []model.Stock{s}, pf, t0)
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares for short quantity, got %v", err)
	}
}

func TestExecuteMarketOrder_StockNotFound(t *testing.T) {
	s := stock("ABC", 500)
	pf := NewPortfolio(InitialCash)

	order, pf2, err := ExecuteMarketOrder(market(t, s, model.Buy, 1), nil, pf, t0)
	if !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("expected ErrStockNotFound, got %v", err)
	}
	if order.Status != model.OrderCanceled {
		t.Errorf("expected canceled, got %s", order.Status)
	}
	if !reflect.DeepEqual(pf2, pf) {
		t.Error("portfolio changed")
	}
}

func TestExecuteMarketOrder_InvalidSide(t *testing.T) {
	s := stock("ABC", 500)
	pf := NewPortfolio(InitialCash)
	pf.Positions = []model.Position{{StockID: "ABC", Ticker: "ABC", Quantity: 5, AverageCost: d(400)}}
	pf = RecalculatePortfolioTotals(pf, []model.Stock{s})

	tests := []struct {
		name string
		side model.Side
	}{
		{"empty", ""},
		{"hold", "hold"},
		{"upper case", "BUY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, pf2, err := ExecuteMarketOrder(market(t, s, tt.side, 10), []model.Stock{s}, pf, t0)
			if !errors.Is(err, ErrInvalidSide) {
				t.Fatalf("expected ErrInvalidSide, got %v", err)
			}
			if order.Status != model.OrderCanceled || order.ExecutedAt != nil || order.ExecutedPrice.Valid {
				t.Errorf("expected an unexecuted canceled order, got %+v", order)
			}
			if !reflect.DeepEqual(pf2, pf) {
				t.Error("portfolio changed")
			}
		})
	}

	// A limit order with a bad side never triggers and stays pending.
	bad := limitOrder(s, "hold", 1, 1000, t0)
	out, _, executed := CheckLimitOrders([]model.Order{bad}, []model.Stock{s}, pf, t0)
	if len(executed) != 0 || out[0].Status != model.OrderPending {
		t.Errorf("expected the order to stay pending, got %+v", out[0])
	}
}

func TestExecuteMarketOrder_PartialSellKeepsAverageCost(t *testing.T) {
	s := stock("ABC", 600)
	pf := NewPortfolio(d(0))
	pf.Positions = []model.Position{{StockID: "ABC", Ticker: "ABC", Quantity: 10, AverageCost: d(500)}}

	_, pf2, err := ExecuteMarketOrder(market(t, s, model.Sell, 4), []model.Stock{s}, pf, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, _ := pf2.Position("ABC")
	if pos.Quantity != 6 || !pos.AverageCost.Equal(d(500)) {
		t.Errorf("unexpected position: %+v", pos)
	}
	if !pf2.Cash.Equal(d(2400)) {
		t.Errorf("expected cash 2400, got %s", pf2.Cash)
	}
	if !pos.ProfitLoss.Equal(d(600)) || !pos.ProfitLossPercentage.Equal(d(20)) {
		t.Errorf("expected P&L 600 (20%%), got %s (%s%%)", pos.ProfitLoss, pos.ProfitLossPercentage)
	}
}

// Cash plus cost basis is conserved by buys, and a round trip with no
// price change restores the starting cash.
func TestExecuteMarketOrder_CashConservation(t *testing.T) {
	s := stock("ABC", 123.45)
	stocks := []model.Stock{s}
	pf := NewPortfolio(InitialCash)

	_, pf, err := ExecuteMarketOrder(market(t, s, model.Buy, 7), stocks, pf, t0)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !pf.Cash.Add(pf.TotalInvestment).Equal(InitialCash) {
		t.Errorf("cash + investment = %s, want %s", pf.Cash.Add(pf.TotalInvestment), InitialCash)
	}

	_, pf, err = ExecuteMarketOrder(market(t, s, model.Sell, 7), stocks, pf, t0)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !pf.Cash.Equal(InitialCash) {
		t.Errorf("expected cash %s after round trip, got %s", InitialCash, pf.Cash)
	}
}

// Buy 10 at 500, sell 10 at 600: the gain lands in cash and nothing else
// records it.
func TestRoundTripScenario(t *testing.T) {
	s := stock("ABC", 500)
	pf := NewPortfolio(InitialCash)

	_, pf, err := ExecuteMarketOrder(market(t, s, model.Buy, 10), []model.Stock{s}, pf, t0)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !pf.Cash.Equal(d(95000)) {
		t.Fatalf("expected cash 95000, got %s", pf.Cash)
	}
	pos, _ := pf.Position("ABC")
	if pos.Quantity != 10 || !pos.AverageCost.Equal(d(500)) {
		t.Fatalf("unexpected position: %+v", pos)
	}

	s.CurrentPrice = d(600)
	pf = UpdatePortfolioPositions(pf, []model.Stock{s})
	if !pf.TotalProfitLoss.Equal(d(1000)) {
		t.Errorf("expected unrealized P&L 1000, got %s", pf.TotalProfitLoss)
	}

	_, pf, err = ExecuteMarketOrder(market(t, s, model.Sell, 10), []model.Stock{s}, pf, t0)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !pf.Cash.Equal(d(101000)) {
		t.Errorf("expected cash 101000, got %s", pf.Cash)
	}
	if _, i := pf.Position("ABC"); i >= 0 {
		t.Error("position should be closed")
	}
	if !pf.TotalProfitLoss.IsZero() || !pf.TotalInvestment.IsZero() {
		t.Errorf("expected zero P&L and investment, got %s / %s", pf.TotalProfitLoss, pf.TotalInvestment)
	}
	if !pf.TotalValue.Equal(d(101000)) {
		t.Errorf("expected total value 101000, got %s", pf.TotalValue)
	}
	if _, ok := reflect.TypeOf(pf).FieldByName("RealizedProfitLoss"); ok {
		t.Error("portfolio unexpectedly records realized P&L")
	}
}

// --- CheckLimitOrders ---

func limitOrder(s model.Stock, side model.Side, qty int64, limit float64, created time.Time) model.Order {
	return CreateOrder("user-1", s, model.OrderLimit, side, qty, d(limit), created)
}

func TestCheckLimitOrders_Triggers(t *testing.T) {
	tests := []struct {
		name    string
		side    model.Side
		limit   float64
		price   float64
		trigger bool
	}{
		{"buy below limit", model.Buy, 100, 99, true},
		{"buy at limit", model.Buy, 100, 100, true},
		{"buy above limit", model.Buy, 100, 101, false},
		{"sell above limit", model.Sell, 100, 101, true},
		{"sell at limit", model.Sell, 100, 100, true},
		{"sell below limit", model.Sell, 100, 99, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stock("ABC", tt.price)
			pf := NewPortfolio(InitialCash)
			pf.Positions = []model.Position{{StockID: "ABC", Ticker: "ABC", Quantity: 10, AverageCost: d(90)}}

			o := limitOrder(s, tt.side, 1, tt.limit, t0)
			out, _, executed := CheckLimitOrders([]model.Order{o}, []model.Stock{s}, pf, t0.Add(time.Second))

			if tt.trigger {
				if len(executed) != 1 || out[0].Status != model.OrderFilled {
					t.Fatalf("expected fill, got status %s", out[0].Status)
				}
				if !out[0].ExecutedPrice.Decimal.Equal(d(tt.price)) {
					t.Errorf("expected executed price %v (current), got %s", tt.price, out[0].ExecutedPrice.Decimal)
				}
				if out[0].Type() != model.OrderLimit {
					t.Error("filled limit order should keep its limit type")
				}
			} else if len(executed) != 0 || out[0].Status != model.OrderPending {
				t.Fatalf("expected order to stay pending, got %s", out[0].Status)
			}
		})
	}
}

func TestCheckLimitOrders_OldestFirst(t *testing.T) {
	s := stock("ABC", 100)
	// Cash for exactly one fill.
	pf := NewPortfolio(d(150))

	newer := limitOrder(s, model.Buy, 1, 120, t0.Add(time.Minute))
	older := limitOrder(s, model.Buy, 1, 120, t0)

	out, pf2, executed := CheckLimitOrders([]model.Order{newer, older}, []model.Stock{s}, pf, t0.Add(time.Hour))
	if len(executed) != 1 || executed[0].ID != older.ID {
		t.Fatalf("expected only the older order to fill, got %+v", executed)
	}
	if out[0].ID != older.ID || out[1].ID != newer.ID {
		t.Error("expected orders returned oldest first")
	}
	if out[1].Status != model.OrderPending {
		t.Errorf("failed limit order should stay pending, got %s", out[1].Status)
	}
	if !pf2.Cash.Equal(d(50)) {
		t.Errorf("expected cash 50, got %s", pf2.Cash)
	}
}

func TestCheckLimitOrders_PassThrough(t *testing.T) {
	s := stock("ABC", 100)
	ghost := model.Stock{ID: "ghost", Ticker: "GHO"}

	filledMarket := market(t, s, model.Buy, 1)
	filledMarket.Status = model.OrderFilled
	canceledLimit := limitOrder(s, model.Buy, 1, 200, t0)
	canceledLimit.Status = model.OrderCanceled
	unknown := limitOrder(ghost, model.Buy, 1, 200, t0)

	orders := []model.Order{filledMarket, canceledLimit, unknown}
	out, pf2, executed := CheckLimitOrders(orders, []model.Stock{s}, NewPortfolio(InitialCash), t0)

	if len(executed) != 0 {
		t.Fatalf("expected no executions, got %d", len(executed))
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 orders back, got %d", len(out))
	}
	for _, o := range out {
		if o.ID == unknown.ID && o.Status != model.OrderPending {
			t.Errorf("order on unknown stock should stay pending, got %s", o.Status)
		}
	}
	if !pf2.Cash.Equal(InitialCash) {
		t.Error("portfolio changed")
	}
}

// --- CancelOrder ---

func TestCancelOrder(t *testing.T) {
	s := stock("ABC", 100)
	pending := limitOrder(s, model.Buy, 1, 90, t0)
	filled := limitOrder(s, model.Buy, 1, 90, t0)
	filled.Status = model.OrderFilled
	orders := []model.Order{pending, filled}

	out, err := CancelOrder(orders, pending.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Status != model.OrderCanceled {
		t.Errorf("expected canceled, got %s", out[0].Status)
	}
	if orders[0].Status != model.OrderPending {
		t.Error("input slice was modified")
	}

	again, err := CancelOrder(out, pending.ID)
	if err != nil {
		t.Fatalf("second cancel: unexpected error: %v", err)
	}
	if !reflect.DeepEqual(again, out) {
		t.Error("second cancel should be a no-op")
	}

	if _, err := CancelOrder(out, filled.ID); !errors.Is(err, ErrOrderNotCancelable) {
		t.Errorf("expected ErrOrderNotCancelable, got %v", err)
	}
	if _, err := CancelOrder(out, "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}
