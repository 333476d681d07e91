package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianpgerson/claude-moneymaker/internal/allocation"
	"github.com/brianpgerson/claude-moneymaker/internal/config"
	"github.com/brianpgerson/claude-moneymaker/internal/exchange"
	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
	"github.com/google/uuid"
)

// SyncResult distinguishes "the exchange says you hold nothing" from
// "the request failed". An empty map with Known=true is a real report;
// Known=false means the caller must not touch the ledger, because a
// failed fetch would otherwise look identical to a fully liquidated
// account.
type SyncResult struct {
	Known    bool
	Balances model.Balances
}

// Executor turns trade intents into orders and runs them against either
// a simulated fill model or the real exchange. It never retries: on
// failure the order is recorded as failed and the next cycle gets
// another chance.
type Executor struct {
	mode         config.TradingMode
	cfg          config.TradingConfig
	baseCurrency string
	exchange     exchange.Exchange
	logger       logger.Logger
}

func NewExecutor(
	mode config.TradingMode,
	cfg config.TradingConfig,
	baseCurrency string,
	ex exchange.Exchange,
	logger logger.Logger,
) *Executor {
	return &Executor{
		mode:         mode,
		cfg:          cfg,
		baseCurrency: baseCurrency,
		exchange:     ex,
		logger:       logger,
	}
}

func (e *Executor) Close() error {
	return e.exchange.Close()
}

// CancelAllOpenOrders clears resting orders before a cycle reconciles.
// Each cancellation is independent: one failure is logged and the rest
// still run. Simulated mode has no resting orders and returns nothing.
func (e *Executor) CancelAllOpenOrders(ctx context.Context) ([]string, error) {
	if e.mode == config.Simulated {
		return nil, nil
	}

	open, err := e.exchange.FetchOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't list open orders", err)
	}

	cancelled := make([]string, 0, len(open))
	for _, o := range open {
		if err := e.exchange.CancelOrder(ctx, o.ID, o.Symbol); err != nil {
			e.logger.Errorf("%s: can't cancel order %s %s", err, o.ID, o.Symbol)
			continue
		}
		cancelled = append(cancelled, o.ID)
	}
	return cancelled, nil
}

// SyncBalances fetches authoritative balances in live mode. In
// simulated mode the exchange holds nothing on our behalf, so the
// result is a known-empty map and the ledger stays the source of truth.
func (e *Executor) SyncBalances(ctx context.Context) SyncResult {
	if e.mode == config.Simulated {
		return SyncResult{Known: true, Balances: model.Balances{}}
	}

	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		e.logger.Errorf("%s: balance sync failed, keeping local bookkeeping", err)
		return SyncResult{Known: false}
	}
	return SyncResult{Known: true, Balances: balances}
}

// ExecuteOrder runs one order to a terminal state. Errors never
// propagate; they degrade to a failed order with the reason recorded.
func (e *Executor) ExecuteOrder(ctx context.Context, order model.Order) model.Order {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	if e.mode == config.Simulated {
		return e.executeSimulated(ctx, order)
	}
	return e.executeLive(ctx, order)
}

func (e *Executor) executeSimulated(ctx context.Context, order model.Order) model.Order {
	ticker, err := e.exchange.FetchTicker(ctx, model.Pair(order.Symbol, e.baseCurrency))
	if err != nil || ticker.Last <= 0 {
		return failOrder(order, fmt.Sprintf("simulated fill needs a market price: %v", err))
	}

	// slippage works against the order: buys fill above the last
	// price, sells below
	fillPrice := ticker.Last * (1 + e.cfg.SlippagePct)
	if order.Side == model.Sell {
		fillPrice = ticker.Last * (1 - e.cfg.SlippagePct)
	}

	now := time.Now().UTC()
	order.ID = "sim-" + uuid.NewString()[:12]
	order.Status = model.OrderFilled
	order.FilledQuantity = order.Quantity
	order.FilledPrice = fillPrice
	order.ExecutedAt = &now
	return order
}

func (e *Executor) executeLive(ctx context.Context, order model.Order) model.Order {
	var (
		result exchange.FillResult
		err    error
		pair   = model.Pair(order.Symbol, e.baseCurrency)
	)
	if order.Type == model.Limit {
		result, err = e.exchange.CreateLimitOrder(ctx, pair, order.Side, order.Quantity, order.Price)
	} else {
		result, err = e.exchange.CreateMarketOrder(ctx, pair, order.Side, order.Quantity)
	}
	if err != nil {
		return failOrder(order, err.Error())
	}

	now := time.Now().UTC()
	order.ID = result.OrderID
	order.FilledQuantity = result.FilledQuantity
	order.FilledPrice = result.AveragePrice
	order.ExecutedAt = &now

	// some responses omit the average price; derive it from cost
	if order.FilledPrice == 0 && result.FilledQuantity > 0 {
		order.FilledPrice = result.Cost / result.FilledQuantity
	}

	switch strings.ToUpper(result.Status) {
	case "FILLED":
		order.Status = model.OrderFilled
	case "CANCELED", "CANCELLED", "EXPIRED", "REJECTED":
		order.Status = model.OrderCancelled
	default:
		if result.FilledQuantity > 0 {
			order.Status = model.OrderPartiallyFilled
		} else {
			order.Status = model.OrderPending
		}
	}
	return order
}

func failOrder(order model.Order, reason string) model.Order {
	order.Status = model.OrderFailed
	if order.Reasoning != "" {
		reason = order.Reasoning + "; " + reason
	}
	order.Reasoning = reason
	return order
}

// ExecuteTargetAllocation diffs holdings against the target and
// executes the resulting intents, sells before buys. A failed order
// does not stop the rest of the batch; every attempted order is
// returned.
func (e *Executor) ExecuteTargetAllocation(
	ctx context.Context,
	holdings map[string]float64,
	target model.TargetAllocation,
	totalValue float64,
	prices map[string]float64,
	strategy string,
) ([]model.Order, []string) {
	plan := allocation.PlanTrades(holdings, target, totalValue, prices, allocation.Config{
		DustThreshold: e.cfg.DustThreshold,
		MinTradeSize:  e.cfg.MinTradeSize,
		BaseCurrency:  e.baseCurrency,
	})
	for _, warning := range plan.Warnings {
		e.logger.Warnf("allocation: %s", warning)
	}

	orders := make([]model.Order, 0, len(plan.Intents))
	for _, intent := range plan.Intents {
		order := e.ExecuteOrder(ctx, model.Order{
			Symbol:       intent.Symbol,
			Side:         intent.Side,
			Type:         model.Market,
			Quantity:     intent.Quantity,
			StrategyName: strategy,
			Reasoning:    intent.Reason,
		})
		if order.Status == model.OrderFailed {
			e.logger.Errorf("order %s %s failed: %s", order.Side, order.Symbol, order.Reasoning)
		} else {
			e.logger.Infof("order %s %f %s -> %s @ %f", order.Side, order.FilledQuantity, order.Symbol, order.Status, order.FilledPrice)
		}
		orders = append(orders, order)
	}
	return orders, plan.Warnings
}

// GetPrices resolves current prices for the given base symbols, keyed
// by trading pair. The batch endpoint is tried first; symbols it
// misses fall back to individual ticker fetches. Symbols that still
// fail are simply absent, and the caller treats them as untradeable.
func (e *Executor) GetPrices(ctx context.Context, symbols []string) map[string]float64 {
	prices := make(map[string]float64, len(symbols))

	tickers, err := e.exchange.FetchTickers(ctx)
	if err != nil {
		e.logger.Warnf("%s: batch ticker fetch failed, falling back per symbol", err)
	}
	byPair := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		byPair[t.Symbol] = t.Last
	}

	for _, symbol := range symbols {
		pair := model.Pair(symbol, e.baseCurrency)
		if last, ok := byPair[pair]; ok && last > 0 {
			prices[pair] = last
			continue
		}
		ticker, err := e.exchange.FetchTicker(ctx, pair)
		if err != nil || ticker.Last <= 0 {
			e.logger.Warnf("no price for %s: %v", pair, err)
			continue
		}
		prices[pair] = ticker.Last
	}
	return prices
}
