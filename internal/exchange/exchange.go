package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianpgerson/claude-moneymaker/internal/model"
)

// ErrNoCredentials is returned when a private endpoint is hit without
// API credentials configured.
var ErrNoCredentials = errors.New("exchange credentials not configured")

// APIError is an error the exchange itself reported, as opposed to a
// transport failure.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// OpenOrder is a resting order as reported by the exchange.
type OpenOrder struct {
	ID       string
	Symbol   string // trading pair, e.g. "DOGE/USDT"
	Side     model.OrderSide
	Quantity float64
	Price    float64
}

// FillResult is the exchange's report of an order submission. Average
// price may be absent; Cost and FilledQuantity are always reported and
// callers derive the price from them when needed.
type FillResult struct {
	OrderID        string
	Status         string
	FilledQuantity float64
	AveragePrice   float64
	Cost           float64
}

// Exchange is the adapter surface the executor trades through. Every
// call carries a context and respects the configured request timeout.
type Exchange interface {
	FetchBalance(ctx context.Context) (model.Balances, error)
	FetchOpenOrders(ctx context.Context) ([]OpenOrder, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	CreateMarketOrder(ctx context.Context, symbol string, side model.OrderSide, quantity float64) (FillResult, error)
	CreateLimitOrder(ctx context.Context, symbol string, side model.OrderSide, quantity, price float64) (FillResult, error)
	FetchTicker(ctx context.Context, symbol string) (model.Ticker, error)
	FetchTickers(ctx context.Context) ([]model.Ticker, error)
	Close() error
}
