// Package trade provides the HTTP handlers for querying the simulated
// market and placing, listing and canceling orders.
//
// All monetary values use shopspring/decimal; never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/analytics"
	"github.com/marketsim/market-engine/internal/export"
	"github.com/marketsim/market-engine/internal/ledger"
	"github.com/marketsim/market-engine/internal/model"
	"github.com/marketsim/market-engine/internal/sim"
	"github.com/marketsim/market-engine/internal/store"
	"github.com/marketsim/market-engine/internal/universe"
)

// Service exposes an Engine over HTTP. Fill history is read from the
// journal store the engine writes to.
type Service struct {
	engine *sim.Engine
	store  store.Store
}

// NewService creates a new trade service.
func NewService(engine *sim.Engine, st store.Store) *Service {
	return &Service{
		engine: engine,
		store:  st,
	}
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	StockID    string              `json:"stock_id"`
	Side       string              `json:"side"` // "buy" or "sell"
	Type       string              `json:"type"` // "market" or "limit"
	Quantity   int64               `json:"quantity"`
	LimitPrice decimal.NullDecimal `json:"limit_price"` // required for limit orders
}

// OrderRejection is returned with 409 when the ledger refused an order.
// The order was still recorded, as canceled.
type OrderRejection struct {
	Error string      `json:"error"`
	Order model.Order `json:"order"`
}

// StockSummary is a stock without its price history.
type StockSummary struct {
	ID            string          `json:"id"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	Sector        string          `json:"sector"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	DayOpen       decimal.Decimal `json:"day_open"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	MarketCap     decimal.Decimal `json:"market_cap"`
	Volume        int64           `json:"volume"`
	ChangePercent decimal.Decimal `json:"change_percent"` // vs. previous price
}

// IndexSummary is an index without its value history.
type IndexSummary struct {
	ID            string          `json:"id"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	Components    int             `json:"components"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	PreviousValue decimal.Decimal `json:"previous_value"`
	DayOpen       decimal.Decimal `json:"day_open"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
}

// PortfolioResponse is the body of GET /portfolio.
type PortfolioResponse struct {
	UserID    string          `json:"user_id"`
	Tick      int64           `json:"tick"`
	UpdatedAt time.Time       `json:"updated_at"`
	Portfolio model.Portfolio `json:"portfolio"`
}

// --- HTTP Handlers ---

// ListStocks handles GET /api/v1/stocks[?sector=]
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	sector := r.URL.Query().Get("sector")
	snap := s.engine.Snapshot()

	out := make([]StockSummary, 0, len(snap.Stocks))
	for _, st := range snap.Stocks {
		if sector != "" && !strings.EqualFold(st.Sector, sector) {
			continue
		}
		out = append(out, summarizeStock(st))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetStock handles GET /api/v1/stocks/{stockID}
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stock(chi.URLParam(r, "stockID"))
	if err != nil {
		writeError(w, "stock not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetStockByTicker handles GET /api/v1/stocks/ticker/{ticker}
func (s *Service) GetStockByTicker(w http.ResponseWriter, r *http.Request) {
	ticker, err := universe.ParseTicker(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.engine.StockByTicker(ticker)
	if err != nil {
		writeError(w, "stock not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetStockStats handles GET /api/v1/stocks/{stockID}/stats
func (s *Service) GetStockStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stock(chi.URLParam(r, "stockID"))
	if err != nil {
		writeError(w, "stock not found", http.StatusNotFound)
		return
	}
	summary, err := analytics.Summarize(st)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetStockFills handles GET /api/v1/stocks/{stockID}/fills[?format=csv]
func (s *Service) GetStockFills(w http.ResponseWriter, r *http.Request) {
	stockID := chi.URLParam(r, "stockID")
	if _, err := s.engine.Stock(stockID); err != nil {
		writeError(w, "stock not found", http.StatusNotFound)
		return
	}

	fills, err := s.store.GetFillsByStock(r.Context(), stockID)
	if err != nil {
		slog.Error("fills query failed", "stock_id", stockID, "err", err)
		writeError(w, "failed to load fills", http.StatusInternalServerError)
		return
	}
	writeFills(w, r, fills)
}

// ListIndices handles GET /api/v1/indices
func (s *Service) ListIndices(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	out := make([]IndexSummary, 0, len(snap.Indices))
	for _, idx := range snap.Indices {
		out = append(out, IndexSummary{
			ID:            idx.ID,
			Ticker:        idx.Ticker,
			Name:          idx.Name,
			Components:    len(idx.Components),
			CurrentValue:  idx.CurrentValue,
			PreviousValue: idx.PreviousValue,
			DayOpen:       idx.DayOpen,
			DayHigh:       idx.DayHigh,
			DayLow:        idx.DayLow,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListOrders handles GET /api/v1/orders[?status=]
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := model.OrderStatus(r.URL.Query().Get("status"))
	orders := s.engine.Snapshot().Orders

	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOrder handles GET /api/v1/orders/{orderID}
// Orders not in the live session are looked up in the journal.
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	for _, o := range s.engine.Snapshot().Orders {
		if o.ID == orderID {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}

	o, err := s.store.GetOrder(r.Context(), orderID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("order query failed", "order_id", orderID, "err", err)
		writeError(w, "failed to load order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOrderHistory handles GET /api/v1/orders/history
// It reads the journal, so it includes orders from earlier sessions.
func (s *Service) ListOrderHistory(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context(), s.engine.UserID())
	if err != nil {
		slog.Error("order history query failed", "user_id", s.engine.UserID(), "err", err)
		writeError(w, "failed to load orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

// CreateOrder handles POST /api/v1/orders
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	side := model.Side(strings.ToLower(req.Side))
	ctx := r.Context()

	var (
		order model.Order
		err   error
	)
	switch model.OrderType(strings.ToLower(req.Type)) {
	case model.OrderMarket, "":
		if req.LimitPrice.Valid {
			writeError(w, "limit_price is only allowed on limit orders", http.StatusBadRequest)
			return
		}
		order, err = s.engine.PlaceMarketOrder(ctx, req.StockID, side, req.Quantity)
	case model.OrderLimit:
		if !req.LimitPrice.Valid {
			writeError(w, "limit_price is required for limit orders", http.StatusBadRequest)
			return
		}
		order, err = s.engine.PlaceLimitOrder(ctx, req.StockID, side, req.Quantity, req.LimitPrice.Decimal)
	default:
		writeError(w, "type must be market or limit", http.StatusBadRequest)
		return
	}

	if err != nil {
		status := statusFor(err)
		if order.ID != "" {
			writeJSON(w, status, OrderRejection{Error: err.Error(), Order: order})
			return
		}
		writeError(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := s.engine.CancelOrder(r.Context(), orderID); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	for _, o := range s.engine.Snapshot().Orders {
		if o.ID == orderID {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeError(w, "order not found", http.StatusNotFound)
}

// GetPortfolio handles GET /api/v1/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, PortfolioResponse{
		UserID:    s.engine.UserID(),
		Tick:      snap.Tick,
		UpdatedAt: snap.UpdatedAt,
		Portfolio: snap.Portfolio,
	})
}

// ListFills handles GET /api/v1/fills[?format=csv]
func (s *Service) ListFills(w http.ResponseWriter, r *http.Request) {
	fills, err := s.store.GetFillsByUser(r.Context(), s.engine.UserID())
	if err != nil {
		slog.Error("fills query failed", "user_id", s.engine.UserID(), "err", err)
		writeError(w, "failed to load fills", http.StatusInternalServerError)
		return
	}
	writeFills(w, r, fills)
}

// --- Helpers ---

func summarizeStock(st model.Stock) StockSummary {
	change := decimal.Zero
	if !st.PreviousPrice.IsZero() {
		change = st.CurrentPrice.Div(st.PreviousPrice).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return StockSummary{
		ID:            st.ID,
		Ticker:        st.Ticker,
		Name:          st.Name,
		Sector:        st.Sector,
		CurrentPrice:  st.CurrentPrice,
		PreviousPrice: st.PreviousPrice,
		DayOpen:       st.DayOpen,
		DayHigh:       st.DayHigh,
		DayLow:        st.DayLow,
		MarketCap:     st.MarketCap,
		Volume:        st.Volume,
		ChangePercent: change,
	}
}

// statusFor maps engine and ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sim.ErrInvalidQuantity),
		errors.Is(err, sim.ErrInvalidLimitPrice),
		errors.Is(err, sim.ErrInvalidSide),
		errors.Is(err, ledger.ErrInvalidSide):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrStockNotFound),
		errors.Is(err, ledger.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, ledger.ErrOrderNotCancelable):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeFills writes fills as JSON, or as CSV when ?format=csv.
func writeFills(w http.ResponseWriter, r *http.Request, fills []model.Fill) {
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="fills.csv"`)
		if err := export.WriteFills(w, fills); err != nil {
			slog.Error("fills csv failed", "err", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, nonNil(fills))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
