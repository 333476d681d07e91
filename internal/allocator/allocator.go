// Package allocator splits capital across named strategies by how they
// have actually been performing.
package allocator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/brianpgerson/claude-moneymaker/internal/config"
	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
)

// PnLStore persists per-strategy trade outcomes.
type PnLStore interface {
	InsertStrategyPnL(ctx context.Context, strategyName string, tradePnL, tradePnLPct float64) error
}

// CapitalAllocator maintains per-strategy performance and the current
// allocation fractions. Rebalancing is a damped multiplicative-weights
// update: above-mean strategies gain share, below-mean strategies lose
// it, and the clamps keep any strategy from being eliminated or
// monopolizing capital, so a dormant strategy waking up stays visible.
type CapitalAllocator struct {
	cfg    config.AllocatorConfig
	store  PnLStore
	logger logger.Logger

	mu            sync.Mutex
	performance   map[string]*model.StrategyPerformance
	lastRebalance time.Time
	now           func() time.Time
}

func NewCapitalAllocator(cfg config.AllocatorConfig, store PnLStore, logger logger.Logger) *CapitalAllocator {
	return &CapitalAllocator{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		performance: make(map[string]*model.StrategyPerformance),
		now:         time.Now,
	}
}

func (a *CapitalAllocator) RegisterStrategy(name string, initialAllocation float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.performance[name] = &model.StrategyPerformance{
		Name:              name,
		CurrentAllocation: initialAllocation,
	}
}

// RecordTrade attributes a completed trade to a strategy and appends it
// to the persistent strategy ledger.
func (a *CapitalAllocator) RecordTrade(ctx context.Context, name string, pnl, pnlPct float64) error {
	a.mu.Lock()
	perf, ok := a.performance[name]
	if ok {
		perf.RecordTrade(pnl, pnlPct)
	}
	a.mu.Unlock()

	if !ok {
		a.logger.Warnf("trade for unregistered strategy %s dropped", name)
		return nil
	}
	return a.store.InsertStrategyPnL(ctx, name, pnl, pnlPct)
}

func (a *CapitalAllocator) Allocation(name string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if perf, ok := a.performance[name]; ok {
		return perf.CurrentAllocation
	}
	return 0
}

func (a *CapitalAllocator) Allocations() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	allocations := make(map[string]float64, len(a.performance))
	for name, perf := range a.performance {
		allocations[name] = perf.CurrentAllocation
	}
	return allocations
}

func (a *CapitalAllocator) Performance(name string) (model.StrategyPerformance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if perf, ok := a.performance[name]; ok {
		return *perf, true
	}
	return model.StrategyPerformance{}, false
}

// ShouldRebalance reports whether the rebalance period has elapsed.
// It is checked every cycle but fires far less often.
func (a *CapitalAllocator) ShouldRebalance() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastRebalance.IsZero() {
		return true
	}
	return a.now().Sub(a.lastRebalance) > a.cfg.RebalancePeriod
}

func (a *CapitalAllocator) score(perf *model.StrategyPerformance) float64 {
	winRate := 0.5
	if perf.TotalTrades > 0 {
		winRate = perf.WinRate
	}
	pnlScore := 0.5 + perf.TotalPnLPct*2
	volumeScore := math.Min(float64(perf.TotalTrades)/10, 1)

	score := 0.4*winRate + 0.4*pnlScore + 0.2*volumeScore
	return math.Max(score, 0.1)
}

// Rebalance recomputes every strategy's allocation and returns the new
// fractions, which sum to 1.
func (a *CapitalAllocator) Rebalance() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.performance) == 0 {
		return nil
	}

	scores := make(map[string]float64, len(a.performance))
	var meanScore float64
	for name, perf := range a.performance {
		scores[name] = a.score(perf)
		meanScore += scores[name]
	}
	meanScore /= float64(len(scores))

	next := make(map[string]float64, len(a.performance))
	var total float64
	for name, perf := range a.performance {
		adjusted := perf.CurrentAllocation * (1 + a.cfg.LearningRate*(scores[name]-meanScore))
		adjusted = math.Max(a.cfg.MinAllocation, math.Min(a.cfg.MaxAllocation, adjusted))
		next[name] = adjusted
		total += adjusted
	}

	for name, allocation := range next {
		next[name] = allocation / total
		a.performance[name].CurrentAllocation = next[name]
		a.logger.Debugf("strategy %s score %.3f allocation %.1f%%", name, scores[name], next[name]*100)
	}

	a.lastRebalance = a.now()
	return next
}
