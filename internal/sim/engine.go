// Package sim owns the simulation state and drives it forward.
//
// An Engine holds the current *model.Snapshot. Every mutation (a clock tick
// or an order command) builds a new snapshot from the current one and
// publishes it atomically; readers never see a half-applied change and a
// published snapshot is never modified.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/evolution"
	"github.com/marketsim/market-engine/internal/ledger"
	"github.com/marketsim/market-engine/internal/metrics"
	"github.com/marketsim/market-engine/internal/model"
	"github.com/marketsim/market-engine/internal/pricegen"
	"github.com/marketsim/market-engine/internal/store"
	"github.com/marketsim/market-engine/internal/universe"
)

var (
	ErrInvalidQuantity   = errors.New("sim: quantity must be greater than 0")
	ErrInvalidLimitPrice = errors.New("sim: limit price must be greater than 0")
	ErrInvalidSide       = errors.New("sim: side must be buy or sell")
)

const (
	DefaultInterval = 3 * time.Second
	DefaultUserID   = "user-1"
)

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	Rand        pricegen.Rand    // default: time-seeded PCG
	Clock       func() time.Time // default: time.Now in UTC
	UserID      string           // default: DefaultUserID
	InitialCash decimal.Decimal  // default: ledger.InitialCash
	Interval    time.Duration    // default: DefaultInterval
	Store       store.Store      // default: in-memory journal
}

// Engine runs one simulated market for one user.
type Engine struct {
	// mu serializes mutators; readers go through snap.
	mu   sync.Mutex
	snap atomic.Pointer[model.Snapshot]

	rng      pricegen.Rand
	clock    func() time.Time
	userID   string
	interval time.Duration
	journal  store.Store
	bus      EventBus.Bus
}

// New builds the market universe and an initial portfolio.
func New(opts Options) *Engine {
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.UserID == "" {
		opts.UserID = DefaultUserID
	}
	if opts.InitialCash.IsZero() {
		opts.InitialCash = ledger.InitialCash
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}

	e := &Engine{
		rng:      opts.Rand,
		clock:    opts.Clock,
		userID:   opts.UserID,
		interval: opts.Interval,
		journal:  opts.Store,
		bus:      EventBus.New(),
	}

	now := e.clock()
	stocks, indices := universe.Build(e.rng, now)
	pf := ledger.RecalculatePortfolioTotals(ledger.NewPortfolio(opts.InitialCash), stocks)
	e.snap.Store(&model.Snapshot{
		UpdatedAt: now,
		Stocks:    stocks,
		Indices:   indices,
		Orders:    []model.Order{},
		Portfolio: pf,
	})

	slog.Info("market universe built",
		"stocks", len(stocks),
		"indices", len(indices),
		"user_id", e.userID,
		"cash", opts.InitialCash.String(),
	)
	return e
}

// --- Queries ---

// Snapshot returns the current published state. Callers must not modify it.
func (e *Engine) Snapshot() *model.Snapshot {
	return e.snap.Load()
}

// UserID returns the session user the engine trades for.
func (e *Engine) UserID() string {
	return e.userID
}

// Stock returns the stock with the given id.
func (e *Engine) Stock(id string) (model.Stock, error) {
	s, ok := model.StockByID(e.Snapshot().Stocks, id)
	if !ok {
		return model.Stock{}, fmt.Errorf("%w: %s", ledger.ErrStockNotFound, id)
	}
	return s, nil
}

// StockByTicker returns the stock listed under ticker.
func (e *Engine) StockByTicker(ticker string) (model.Stock, error) {
	for _, s := range e.Snapshot().Stocks {
		if s.Ticker == ticker {
			return s, nil
		}
	}
	return model.Stock{}, fmt.Errorf("%w: ticker %s", ledger.ErrStockNotFound, ticker)
}

// Subscribe registers fn for topic. Handlers run synchronously on the
// goroutine that published and must not call back into Engine commands.
func (e *Engine) Subscribe(topic string, fn any) error {
	return e.bus.Subscribe(topic, fn)
}

// Unsubscribe removes a handler registered with Subscribe.
func (e *Engine) Unsubscribe(topic string, fn any) error {
	return e.bus.Unsubscribe(topic, fn)
}

// --- Clock ---

// Run ticks the market every interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	slog.Info("simulation clock started", "interval", e.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation clock stopped", "tick", e.Snapshot().Tick)
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick advances prices and indices, revalues the portfolio, sweeps pending
// limit orders, and publishes the resulting snapshot.
func (e *Engine) Tick(ctx context.Context) *model.Snapshot {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	now := e.clock()

	stocks := evolution.Advance(e.rng, now, cur.Stocks)
	indices := evolution.RecomputeIndices(now, cur.Indices, stocks)
	pf := ledger.UpdatePortfolioPositions(cur.Portfolio, stocks)

	var pending []model.Order
	for _, o := range cur.Orders {
		if o.Status == model.OrderPending {
			pending = append(pending, o)
		}
	}
	swept, pf, executed := ledger.CheckLimitOrders(pending, stocks, pf, now)

	next := &model.Snapshot{
		Tick:      cur.Tick + 1,
		UpdatedAt: now,
		Stocks:    stocks,
		Indices:   indices,
		Orders:    mergeOrders(cur.Orders, swept),
		Portfolio: pf,
	}
	e.snap.Store(next)

	for _, o := range executed {
		e.journalFill(ctx, o)
		metrics.OrdersTotal.WithLabelValues(string(o.Type()), string(o.Side), string(o.Status)).Inc()
	}

	e.bus.Publish(TopicTick, next)
	if n := len(executed); n > 0 {
		metrics.LimitOrdersExecuted.Add(float64(n))
		slog.Info("limit orders executed", "tick", next.Tick, "count", n)
		e.notify(NoticeSuccess, fmt.Sprintf("%d limit order(s) executed", n), now)
	}

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	e.observe(next)
	return next
}

// mergeOrders replaces entries of all with their swept versions, matched by
// id, keeping the order and every order the sweep did not touch.
func mergeOrders(all, swept []model.Order) []model.Order {
	byID := make(map[string]model.Order, len(swept))
	for _, o := range swept {
		byID[o.ID] = o
	}
	out := make([]model.Order, len(all))
	for i, o := range all {
		if s, ok := byID[o.ID]; ok {
			o = s
		}
		out[i] = o
	}
	return out
}

// --- Commands ---

// PlaceMarketOrder executes an order at the stock's current price.
//
// A ledger failure (insufficient funds or shares) still records the order,
// as canceled, and returns it alongside the error.
func (e *Engine) PlaceMarketOrder(ctx context.Context, stockID string, side model.Side, quantity int64) (model.Order, error) {
	if err := validate(side, quantity); err != nil {
		return model.Order{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	now := e.clock()

	stock, ok := model.StockByID(cur.Stocks, stockID)
	if !ok {
		e.notify(NoticeError, "Stock not found", now)
		return model.Order{}, fmt.Errorf("%w: %s", ledger.ErrStockNotFound, stockID)
	}

	order := ledger.CreateOrder(e.userID, stock, model.OrderMarket, side, quantity, decimal.Zero, now)
	order, pf, execErr := ledger.ExecuteMarketOrder(order, cur.Stocks, cur.Portfolio, now)

	e.commit(cur, now, append(cloneOrders(cur.Orders), order), pf)
	metrics.OrdersTotal.WithLabelValues(string(model.OrderMarket), string(side), string(order.Status)).Inc()

	if execErr != nil {
		e.journalOrder(ctx, order)
		slog.Warn("market order failed",
			"order_id", order.ID,
			"ticker", stock.Ticker,
			"side", side,
			"quantity", quantity,
			"err", execErr,
		)
		e.notify(NoticeError, fmt.Sprintf("Market order failed: %s %d %s (%s)", side, quantity, stock.Ticker, reason(execErr)), now)
		return order, execErr
	}

	e.journalFill(ctx, order)
	slog.Info("market order executed",
		"order_id", order.ID,
		"ticker", stock.Ticker,
		"side", side,
		"quantity", quantity,
		"price", order.ExecutedPrice.Decimal.String(),
	)
	e.notify(NoticeSuccess, fmt.Sprintf("Market order executed: %s %d %s at %s", side, quantity, stock.Ticker, order.ExecutedPrice.Decimal.StringFixed(2)), now)
	return order, nil
}

// PlaceLimitOrder records a pending limit order; it is evaluated on every
// subsequent tick.
func (e *Engine) PlaceLimitOrder(ctx context.Context, stockID string, side model.Side, quantity int64, limitPrice decimal.Decimal) (model.Order, error) {
	if err := validate(side, quantity); err != nil {
		return model.Order{}, err
	}
	if !limitPrice.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: got %s", ErrInvalidLimitPrice, limitPrice)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	now := e.clock()

	stock, ok := model.StockByID(cur.Stocks, stockID)
	if !ok {
		e.notify(NoticeError, "Stock not found", now)
		return model.Order{}, fmt.Errorf("%w: %s", ledger.ErrStockNotFound, stockID)
	}

	order := ledger.CreateOrder(e.userID, stock, model.OrderLimit, side, quantity, limitPrice, now)
	e.commit(cur, now, append(cloneOrders(cur.Orders), order), cur.Portfolio)
	e.journalOrder(ctx, order)
	metrics.OrdersTotal.WithLabelValues(string(model.OrderLimit), string(side), string(order.Status)).Inc()

	slog.Info("limit order placed",
		"order_id", order.ID,
		"ticker", stock.Ticker,
		"side", side,
		"quantity", quantity,
		"limit", limitPrice.String(),
	)
	e.notify(NoticeSuccess, fmt.Sprintf("Limit order placed: %s %d %s at %s", side, quantity, stock.Ticker, limitPrice.StringFixed(2)), now)
	return order, nil
}

// CancelOrder cancels a pending order. Canceling an already canceled order
// succeeds without publishing anything.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	orders, err := ledger.CancelOrder(cur.Orders, orderID)
	if err != nil {
		return err
	}

	var canceled model.Order
	changed := false
	for i, o := range orders {
		if o.ID == orderID {
			canceled = o
			changed = cur.Orders[i].Status != o.Status
			break
		}
	}
	if !changed {
		return nil
	}

	now := e.clock()
	e.commit(cur, now, orders, cur.Portfolio)
	e.journalOrder(ctx, canceled)

	slog.Info("order canceled", "order_id", orderID, "ticker", canceled.Ticker)
	e.notify(NoticeSuccess, "Order canceled successfully", now)
	return nil
}

// --- Helpers (callers hold mu) ---

// commit publishes a snapshot that differs from cur only in orders and
// portfolio.
func (e *Engine) commit(cur *model.Snapshot, now time.Time, orders []model.Order, pf model.Portfolio) {
	next := &model.Snapshot{
		Tick:      cur.Tick,
		UpdatedAt: now,
		Stocks:    cur.Stocks,
		Indices:   cur.Indices,
		Orders:    orders,
		Portfolio: pf,
	}
	e.snap.Store(next)
	e.bus.Publish(TopicTick, next)
	e.observe(next)
}

func (e *Engine) notify(level NoticeLevel, msg string, now time.Time) {
	e.bus.Publish(TopicNotice, Notice{Level: level, Message: msg, Time: now})
}

func (e *Engine) observe(s *model.Snapshot) {
	pending := 0
	for _, o := range s.Orders {
		if o.Status == model.OrderPending {
			pending++
		}
	}
	metrics.PendingOrders.Set(float64(pending))
	metrics.PortfolioValue.Set(s.Portfolio.TotalValue.InexactFloat64())
}

// journalFill records a filled order and its execution. Journal failures
// are logged and counted; they never affect simulation state.
func (e *Engine) journalFill(ctx context.Context, o model.Order) {
	e.journalOrder(ctx, o)

	price := o.ExecutedPrice.Decimal
	cost := price.Mul(decimal.NewFromInt(o.Quantity))
	if o.Side == model.Buy {
		cost = cost.Neg()
	}
	fill := &model.Fill{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		UserID:    o.UserID,
		StockID:   o.StockID,
		Ticker:    o.Ticker,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Price:     price,
		Cost:      cost,
		Timestamp: *o.ExecutedAt,
	}
	if err := e.journal.InsertFill(ctx, fill); err != nil {
		metrics.JournalErrors.WithLabelValues("insert_fill").Inc()
		slog.Error("journal write failed", "op", "insert_fill", "order_id", o.ID, "err", err)
	}
}

func (e *Engine) journalOrder(ctx context.Context, o model.Order) {
	if err := e.journal.SaveOrder(ctx, &o); err != nil {
		metrics.JournalErrors.WithLabelValues("save_order").Inc()
		slog.Error("journal write failed", "op", "save_order", "order_id", o.ID, "err", err)
	}
}

func validate(side model.Side, quantity int64) error {
	if !side.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidSide, side)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	return nil
}

func cloneOrders(orders []model.Order) []model.Order {
	return append(make([]model.Order, 0, len(orders)+1), orders...)
}

func reason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, ledger.ErrInsufficientShares):
		return "insufficient shares"
	case errors.Is(err, ledger.ErrStockNotFound):
		return "stock not found"
	}
	return err.Error()
}
