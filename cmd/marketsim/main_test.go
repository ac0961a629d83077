package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marketsim/market-engine/internal/sim"
	"github.com/marketsim/market-engine/internal/store"
	"github.com/marketsim/market-engine/internal/trade"
)

func TestRunHeadless_Deterministic(t *testing.T) {
	ctx := context.Background()
	_, a := runHeadless(ctx, 42, time.Second, 15)
	_, b := runHeadless(ctx, 42, time.Second, 15)

	if a.Tick != 15 || b.Tick != 15 {
		t.Fatalf("expected 15 ticks, got %d and %d", a.Tick, b.Tick)
	}
	for i := range a.Stocks {
		if a.Stocks[i].Ticker != b.Stocks[i].Ticker || !a.Stocks[i].CurrentPrice.Equal(b.Stocks[i].CurrentPrice) {
			t.Fatalf("stock %d differs: %s %s vs %s %s", i,
				a.Stocks[i].Ticker, a.Stocks[i].CurrentPrice, b.Stocks[i].Ticker, b.Stocks[i].CurrentPrice)
		}
	}
}

func TestRenderTables(t *testing.T) {
	start, end := runHeadless(context.Background(), 9, time.Second, 5)

	var buf bytes.Buffer
	renderMovers(&buf, start.Stocks, end.Stocks, 3)
	renderIndices(&buf, start.Indices, end.Indices)

	out := buf.String()
	for _, want := range []string{"TICKER", "CHANGE %", "MAIN", "ENERGY"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRouter_Health(t *testing.T) {
	ms := store.NewMemoryStore()
	engine := sim.New(sim.Options{Store: ms})
	router := newRouter(trade.NewService(engine, ms), trade.NewWSHub())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health response: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/indices", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from /api/v1/indices, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/api/v1/orders", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", w.Code)
	}
}
