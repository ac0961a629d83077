package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
	"github.com/marketsim/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func limitOrder(id string, created time.Time) *model.Order {
	lp := d(95.5)
	return &model.Order{
		ID:         id,
		UserID:     "user-1",
		StockID:    "stock-1",
		Ticker:     "ABC",
		Side:       model.Buy,
		Quantity:   10,
		LimitPrice: &lp,
		Status:     model.OrderPending,
		CreatedAt:  created,
	}
}

// exerciseStore runs the same round trips against any Store implementation.
func exerciseStore(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	o1 := limitOrder("o-1", t0.Add(time.Second))
	o2 := limitOrder("o-2", t0)
	o2.LimitPrice = nil
	for _, o := range []*model.Order{o1, o2} {
		if err := st.SaveOrder(ctx, o); err != nil {
			t.Fatalf("save order %s: %v", o.ID, err)
		}
	}

	// Fill o-1 and save again: the record is replaced, not duplicated.
	executed := t0.Add(time.Minute)
	o1.Status = model.OrderFilled
	o1.ExecutedAt = &executed
	o1.ExecutedPrice = decimal.NewNullDecimal(d(95.25))
	if err := st.SaveOrder(ctx, o1); err != nil {
		t.Fatalf("update order: %v", err)
	}

	got, err := st.GetOrder(ctx, "o-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != model.OrderFilled || got.ExecutedAt == nil || !got.ExecutedAt.Equal(executed) {
		t.Errorf("unexpected order state: %+v", got)
	}
	if got.LimitPrice == nil || !got.LimitPrice.Equal(d(95.5)) {
		t.Errorf("expected limit 95.5, got %v", got.LimitPrice)
	}
	if !got.ExecutedPrice.Valid || !got.ExecutedPrice.Decimal.Equal(d(95.25)) {
		t.Errorf("expected executed price 95.25, got %v", got.ExecutedPrice)
	}

	if _, err := st.GetOrder(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	orders, err := st.ListOrders(ctx, "user-1")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "o-2" || orders[1].ID != "o-1" {
		t.Fatalf("expected [o-2 o-1], got %+v", orders)
	}
	if orders[0].Type() != model.OrderMarket || orders[0].ExecutedPrice.Valid {
		t.Errorf("market order should round-trip without limit or execution price")
	}

	fills := []*model.Fill{
		{ID: "f-1", OrderID: "o-1", UserID: "user-1", StockID: "stock-1", Ticker: "ABC", Side: model.Buy, Quantity: 10, Price: d(95.25), Cost: d(-952.5), Timestamp: t0},
		{ID: "f-2", OrderID: "o-3", UserID: "user-1", StockID: "stock-2", Ticker: "XYZ", Side: model.Sell, Quantity: 3, Price: d(12.125), Cost: d(36.375), Timestamp: t0.Add(time.Second)},
	}
	for _, f := range fills {
		if err := st.InsertFill(ctx, f); err != nil {
			t.Fatalf("insert fill %s: %v", f.ID, err)
		}
	}
	if err := st.InsertFill(ctx, fills[0]); err == nil {
		t.Error("expected duplicate fill to be rejected")
	}

	byStock, err := st.GetFillsByStock(ctx, "stock-2")
	if err != nil {
		t.Fatalf("fills by stock: %v", err)
	}
	if len(byStock) != 1 || byStock[0].ID != "f-2" || !byStock[0].Cost.Equal(d(36.375)) {
		t.Errorf("unexpected fills by stock: %+v", byStock)
	}

	byUser, err := st.GetFillsByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("fills by user: %v", err)
	}
	if len(byUser) != 2 || byUser[0].ID != "f-1" {
		t.Errorf("unexpected fills by user: %+v", byUser)
	}
	if !byUser[0].Timestamp.Equal(t0) {
		t.Errorf("expected timestamp %s, got %s", t0, byUser[0].Timestamp)
	}

	none, err := st.GetFillsByUser(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Errorf("expected no fills, got %v (%v)", none, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, store.NewMemoryStore())
}

func TestMemoryStore_CopiesOnSave(t *testing.T) {
	ms := store.NewMemoryStore()
	o := limitOrder("o-1", t0)
	if err := ms.SaveOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	o.Status = model.OrderCanceled

	got, _ := ms.GetOrder(context.Background(), "o-1")
	if got.Status != model.OrderPending {
		t.Errorf("stored order changed through caller's pointer: %s", got.Status)
	}
}

func TestSQLiteStore(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	exerciseStore(t, st)
}
