package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Side indicates whether an order buys or sells.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// OrderStatus is the lifecycle state of an order. Filled and canceled are
// terminal.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderFilled   OrderStatus = "filled"
	OrderCanceled OrderStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled
}

// Order is a market or limit order. A limit order carries a LimitPrice;
// a market order never does, so the order type is derived rather than
// stored and the two cannot disagree.
type Order struct {
	ID            string              `json:"id"`
	UserID        string              `json:"user_id"`
	StockID       string              `json:"stock_id"`
	Ticker        string              `json:"ticker"`
	Side          Side                `json:"side"`
	Quantity      int64               `json:"quantity"`
	LimitPrice    *decimal.Decimal    `json:"limit_price,omitempty"`
	Status        OrderStatus         `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	ExecutedAt    *time.Time          `json:"executed_at,omitempty"`
	ExecutedPrice decimal.NullDecimal `json:"executed_price"`
}

// Type returns OrderLimit when the order carries a limit price.
func (o Order) Type() OrderType {
	if o.LimitPrice != nil {
		return OrderLimit
	}
	return OrderMarket
}

// MarshalJSON adds the derived "type" field.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	return json.Marshal(struct {
		alias
		Type OrderType `json:"type"`
	}{alias(o), o.Type()})
}
