// Package engine runs the reconciliation cycle: take what we hold,
// ask the decision service what we should hold, and trade the
// difference.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianpgerson/claude-moneymaker/internal/allocator"
	"github.com/brianpgerson/claude-moneymaker/internal/brain"
	"github.com/brianpgerson/claude-moneymaker/internal/config"
	"github.com/brianpgerson/claude-moneymaker/internal/executor"
	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
	"github.com/brianpgerson/claude-moneymaker/internal/portfolio"
)

// StrategyBrain tags orders originated by the decision service.
const StrategyBrain = "brain"

// TradeExecutor is the slice of the executor the engine drives.
type TradeExecutor interface {
	CancelAllOpenOrders(ctx context.Context) ([]string, error)
	SyncBalances(ctx context.Context) executor.SyncResult
	ExecuteTargetAllocation(ctx context.Context, holdings map[string]float64, target model.TargetAllocation, totalValue float64, prices map[string]float64, strategy string) ([]model.Order, []string)
	GetPrices(ctx context.Context, symbols []string) map[string]float64
}

// MarketProvider supplies the decision service's market context.
type MarketProvider interface {
	GetUniverse(ctx context.Context, limit int) ([]model.Ticker, error)
	FearGreed(ctx context.Context) (model.FearGreed, error)
}

// DecisionService produces a target allocation from a brief.
type DecisionService interface {
	Decide(ctx context.Context, brief brain.Brief) (model.TargetAllocation, error)
}

// Store is the slice of persistence the engine writes cycle outcomes to.
type Store interface {
	InsertOrder(ctx context.Context, o model.Order) error
	InsertDecision(ctx context.Context, d model.Decision) error
	LastDecision(ctx context.Context) (model.Decision, bool, error)
}

type Engine struct {
	cfg       config.BotConfig
	ledger    *portfolio.Ledger
	executor  TradeExecutor
	market    MarketProvider
	decider   DecisionService
	allocator *allocator.CapitalAllocator
	store     Store
	logger    logger.Logger

	// one in-flight cycle at a time; a cycle must finish or be
	// abandoned before the next may start
	mu    sync.Mutex
	cycle int

	lastSummary   model.CycleSummary
	lastSummaryMu sync.RWMutex
}

func NewEngine(
	cfg config.BotConfig,
	ledger *portfolio.Ledger,
	exec TradeExecutor,
	market MarketProvider,
	decider DecisionService,
	capitalAllocator *allocator.CapitalAllocator,
	store Store,
	logger logger.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		ledger:    ledger,
		executor:  exec,
		market:    market,
		decider:   decider,
		allocator: capitalAllocator,
		store:     store,
		logger:    logger,
	}
}

// LastSummary returns the most recent cycle's outcome for the status
// page.
func (e *Engine) LastSummary() model.CycleSummary {
	e.lastSummaryMu.RLock()
	defer e.lastSummaryMu.RUnlock()
	return e.lastSummary
}

func (e *Engine) setLastSummary(s model.CycleSummary) {
	e.lastSummaryMu.Lock()
	e.lastSummary = s
	e.lastSummaryMu.Unlock()
}

// RunCycle runs one full reconciliation cycle and returns its summary.
// Transient failures degrade to a partial summary with warnings; only
// an overlapping invocation is an error.
func (e *Engine) RunCycle(ctx context.Context) (model.CycleSummary, error) {
	if !e.mu.TryLock() {
		return model.CycleSummary{}, fmt.Errorf("cycle already in progress")
	}
	defer e.mu.Unlock()

	e.cycle++
	summary := model.CycleSummary{
		Cycle:     e.cycle,
		Timestamp: time.Now().UTC(),
	}
	defer func() {
		summary.Portfolio = e.ledger.GetState()
		e.setLastSummary(summary)
	}()

	e.logger.Infof("=== cycle %d ===", e.cycle)

	// clear resting orders so the diff sees uncommitted balances
	if cancelled, err := e.executor.CancelAllOpenOrders(ctx); err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("cancel open orders: %s", err))
	} else if len(cancelled) > 0 {
		e.logger.Infof("cancelled %d open orders", len(cancelled))
	}

	// exchange balances are ground truth in live mode; a failed sync
	// must never be mistaken for an empty account
	sync := e.executor.SyncBalances(ctx)
	if e.cfg.Mode == config.Live {
		if sync.Known {
			if err := e.ledger.SyncFromExchange(ctx, sync.Balances); err != nil {
				return summary, fmt.Errorf("%w: can't apply balance sync", err)
			}
			summary.BalancesSynced = true
		} else {
			summary.Warnings = append(summary.Warnings, "balance sync failed, ledger kept as-is")
		}
	}

	universe, err := e.market.GetUniverse(ctx, e.cfg.UniverseLimit)
	if err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("universe fetch: %s", err))
		return e.finishCycle(ctx, summary, 0)
	}

	prices := e.fetchPrices(ctx, universe)
	e.markPositions(ctx, prices, &summary)
	benchmarkPrice := prices[model.Pair(e.cfg.BenchmarkSymbol, e.cfg.BaseCurrency)]

	state := e.ledger.GetState()

	target, decision, err := e.decide(ctx, state, universe, prices)
	if err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("decision: %s", err))
		return e.finishCycle(ctx, summary, benchmarkPrice)
	}
	summary.Decision = decision

	if e.allocator.ShouldRebalance() {
		e.logger.Infof("rebalancing strategy allocations")
		e.allocator.Rebalance()
	}

	orders, warnings := e.executor.ExecuteTargetAllocation(ctx, e.ledger.Holdings(), target, state.TotalValue, prices, StrategyBrain)
	summary.Warnings = append(summary.Warnings, warnings...)
	summary.Orders = orders

	e.applyFills(ctx, orders, target, &summary)
	e.recordOutcome(ctx, orders, decision, &summary)

	return e.finishCycle(ctx, summary, benchmarkPrice)
}

func (e *Engine) finishCycle(ctx context.Context, summary model.CycleSummary, benchmarkPrice float64) (model.CycleSummary, error) {
	if err := e.ledger.Snapshot(ctx, benchmarkPrice); err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("snapshot: %s", err))
	}
	return summary, nil
}

// fetchPrices resolves prices for everything the cycle could touch:
// the universe, every held symbol, and the benchmark.
func (e *Engine) fetchPrices(ctx context.Context, universe []model.Ticker) map[string]float64 {
	seen := make(map[string]struct{})
	var symbols []string
	add := func(symbol string) {
		if _, ok := seen[symbol]; ok || symbol == "" {
			return
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}

	for _, t := range universe {
		base, _, _ := strings.Cut(t.Symbol, "/")
		add(base)
	}
	for symbol := range e.ledger.Holdings() {
		add(symbol)
	}
	add(e.cfg.BenchmarkSymbol)

	return e.executor.GetPrices(ctx, symbols)
}

func (e *Engine) markPositions(ctx context.Context, prices map[string]float64, summary *model.CycleSummary) {
	for symbol := range e.ledger.Holdings() {
		price, ok := prices[model.Pair(symbol, e.cfg.BaseCurrency)]
		if !ok {
			// the trade planner reports unpriced holdings in the
			// cycle warnings; here it only means we can't mark
			e.logger.Warnf("no price for held %s, position not marked", symbol)
			continue
		}
		if err := e.ledger.SetCurrentPrice(ctx, symbol, price); err != nil {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("mark %s: %s", symbol, err))
		}
	}
}

func (e *Engine) decide(ctx context.Context, state model.PortfolioState, universe []model.Ticker, prices map[string]float64) (model.TargetAllocation, *model.Decision, error) {
	holdings := make(map[string]model.HoldingSnapshot, len(state.Positions))
	for symbol, pos := range state.Positions {
		percent := 0.0
		if state.TotalValue > 0 {
			percent = pos.Value() / state.TotalValue * 100
		}
		holdings[symbol] = model.HoldingSnapshot{
			Quantity: pos.Quantity,
			Value:    pos.Value(),
			Percent:  percent,
			PnLPct:   pos.UnrealizedPnLPct,
			Thesis:   pos.Thesis,
		}
	}

	brief := brain.Brief{
		TotalValue:   state.TotalValue,
		BaseCurrency: e.cfg.BaseCurrency,
		Holdings:     holdings,
		Universe:     universe,
	}
	if fearGreed, err := e.market.FearGreed(ctx); err != nil {
		e.logger.Warnf("%s: fear & greed unavailable", err)
	} else {
		brief.FearGreed = &fearGreed
	}
	if last, ok, err := e.store.LastDecision(ctx); err != nil {
		e.logger.Warnf("%s: can't load last decision", err)
	} else if ok {
		brief.LastDecision = &last
	}

	target, err := e.decider.Decide(ctx, brief)
	if err != nil {
		return model.TargetAllocation{}, nil, err
	}

	allowed := make(map[string]struct{}, len(universe))
	for _, t := range universe {
		base, _, _ := strings.Cut(t.Symbol, "/")
		allowed[base] = struct{}{}
	}
	// held symbols stay sellable even if they dropped out of the universe
	for symbol := range state.Positions {
		allowed[symbol] = struct{}{}
	}
	if err := brain.ValidateAllocation(target, allowed, e.cfg.Trading.MaxPositionPct); err != nil {
		return model.TargetAllocation{}, nil, err
	}

	decision := &model.Decision{
		Timestamp:     time.Now().UTC(),
		Holdings:      holdings,
		MarketSummary: brief.MarketSummary(),
		Target:        target,
		Outlook:       target.MarketOutlook,
		Conviction:    target.Conviction,
	}
	return target, decision, nil
}

// applyFills mutates the ledger from each executed order: a buy spends
// cash then opens/grows the position, a sell shrinks the position then
// banks the proceeds. Sell P&L is attributed to the originating
// strategy.
func (e *Engine) applyFills(ctx context.Context, orders []model.Order, target model.TargetAllocation, summary *model.CycleSummary) {
	theses := make(map[string]string, len(target.Entries))
	for _, entry := range target.Entries {
		theses[entry.Symbol] = entry.Reasoning
	}

	for _, order := range orders {
		if order.FilledQuantity <= 0 || order.FilledPrice <= 0 {
			continue
		}

		cost := order.FilledQuantity * order.FilledPrice
		switch order.Side {
		case model.Buy:
			// position first, cash second: a failed upsert must not
			// leave cash deducted for a position that never landed
			if _, err := e.ledger.UpdatePosition(ctx, order.Symbol, order.FilledQuantity, order.FilledPrice); err != nil {
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("apply buy %s: %s", order.Symbol, err))
				continue
			}
			e.ledger.UpdateCash(-cost)
			if err := e.ledger.SetThesis(ctx, order.Symbol, theses[order.Symbol]); err != nil {
				e.logger.Warnf("%s: can't record thesis for %s", err, order.Symbol)
			}
		case model.Sell:
			var pnl, pnlPct float64
			if pos, ok := e.ledger.GetState().Positions[order.Symbol]; ok && pos.AvgEntryPrice > 0 {
				pnl = (order.FilledPrice - pos.AvgEntryPrice) * order.FilledQuantity
				pnlPct = (order.FilledPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice
			}
			if _, err := e.ledger.UpdatePosition(ctx, order.Symbol, -order.FilledQuantity, order.FilledPrice); err != nil {
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("apply sell %s: %s", order.Symbol, err))
				continue
			}
			e.ledger.UpdateCash(cost)
			if err := e.allocator.RecordTrade(ctx, order.StrategyName, pnl, pnlPct); err != nil {
				e.logger.Warnf("%s: can't record strategy pnl for %s", err, order.StrategyName)
			}
		}
	}
}

func (e *Engine) recordOutcome(ctx context.Context, orders []model.Order, decision *model.Decision, summary *model.CycleSummary) {
	for _, order := range orders {
		if err := e.store.InsertOrder(ctx, order); err != nil {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("record order %s: %s", order.ID, err))
		}
	}

	if decision == nil {
		return
	}
	for _, order := range orders {
		decision.Trades = append(decision.Trades, model.TradeResult{
			Symbol:      order.Symbol,
			Side:        order.Side,
			Quantity:    order.FilledQuantity,
			FilledPrice: order.FilledPrice,
			Status:      order.Status,
		})
	}
	if err := e.store.InsertDecision(ctx, *decision); err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("record decision: %s", err))
	}
}

// Close writes a final snapshot. It waits for any in-flight cycle to
// finish first, so shutdown never races a mutation.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot(ctx, 0)
}
