package model

import "time"

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderFailed          OrderStatus = "failed"
)

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderPartiallyFilled, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// Order is created by the executor when a trade intent is realized.
// ID is assigned on execution, not before. Once the status is terminal
// the order is immutable and persisted append-only.
type Order struct {
	ID             string      `db:"id" json:"id"`
	Symbol         string      `db:"symbol" json:"symbol"`
	Side           OrderSide   `db:"side" json:"side"`
	Type           OrderType   `db:"order_type" json:"order_type"`
	Quantity       float64     `db:"quantity" json:"quantity"`
	Price          float64     `db:"price" json:"price"` // limit price, 0 for market orders
	Status         OrderStatus `db:"status" json:"status"`
	FilledQuantity float64     `db:"filled_quantity" json:"filled_quantity"`
	FilledPrice    float64     `db:"filled_price" json:"filled_price"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	ExecutedAt     *time.Time  `db:"executed_at" json:"executed_at,omitempty"`
	StrategyName   string      `db:"strategy_name" json:"strategy_name,omitempty"`
	Reasoning      string      `db:"reasoning" json:"reasoning,omitempty"`
}

// TradeIntent is a not-yet-executed trade produced by the allocation
// diff engine. QuoteValue is the intended size in the quote currency.
type TradeIntent struct {
	Symbol     string
	Side       OrderSide
	Quantity   float64
	QuoteValue float64
	Reason     string
}
