package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianpgerson/claude-moneymaker/internal/allocator"
	"github.com/brianpgerson/claude-moneymaker/internal/brain"
	"github.com/brianpgerson/claude-moneymaker/internal/config"
	"github.com/brianpgerson/claude-moneymaker/internal/executor"
	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
	"github.com/brianpgerson/claude-moneymaker/internal/portfolio"
)

// memStore backs the ledger, the engine, and the allocator in tests.
type memStore struct {
	positions map[string]model.Position
	snapshots []model.Snapshot
	orders    []model.Order
	decisions []model.Decision
	pnlRows   int
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]model.Position)}
}

func (s *memStore) UpsertPosition(_ context.Context, p model.Position) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.positions[p.Symbol] = p
	return nil
}

func (s *memStore) DeletePosition(_ context.Context, symbol string) error {
	delete(s.positions, symbol)
	return nil
}

func (s *memStore) LoadPositions(_ context.Context) ([]model.Position, error) {
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) InsertSnapshot(_ context.Context, snap model.Snapshot) error {
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *memStore) LastSnapshot(_ context.Context) (model.Snapshot, bool, error) {
	if len(s.snapshots) == 0 {
		return model.Snapshot{}, false, nil
	}
	return s.snapshots[len(s.snapshots)-1], true, nil
}

func (s *memStore) InsertOrder(_ context.Context, o model.Order) error {
	s.orders = append(s.orders, o)
	return nil
}

func (s *memStore) InsertDecision(_ context.Context, d model.Decision) error {
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *memStore) LastDecision(_ context.Context) (model.Decision, bool, error) {
	if len(s.decisions) == 0 {
		return model.Decision{}, false, nil
	}
	return s.decisions[len(s.decisions)-1], true, nil
}

func (s *memStore) InsertStrategyPnL(_ context.Context, _ string, _, _ float64) error {
	s.pnlRows++
	return nil
}

type fakeTradeExecutor struct {
	sync      executor.SyncResult
	prices    map[string]float64
	orders    []model.Order
	warnings  []string
	cancelErr error
	executed  bool
}

func (f *fakeTradeExecutor) CancelAllOpenOrders(_ context.Context) ([]string, error) {
	return nil, f.cancelErr
}

func (f *fakeTradeExecutor) SyncBalances(_ context.Context) executor.SyncResult {
	return f.sync
}

func (f *fakeTradeExecutor) ExecuteTargetAllocation(_ context.Context, _ map[string]float64, _ model.TargetAllocation, _ float64, _ map[string]float64, _ string) ([]model.Order, []string) {
	f.executed = true
	return f.orders, f.warnings
}

func (f *fakeTradeExecutor) GetPrices(_ context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if price, ok := f.prices[model.Pair(s, "USDT")]; ok {
			out[model.Pair(s, "USDT")] = price
		}
	}
	return out
}

type fakeMarket struct {
	universe []model.Ticker
	err      error
}

func (f *fakeMarket) GetUniverse(_ context.Context, _ int) ([]model.Ticker, error) {
	return f.universe, f.err
}

func (f *fakeMarket) FearGreed(_ context.Context) (model.FearGreed, error) {
	return model.FearGreed{Value: 50, Label: "Neutral"}, nil
}

type fakeDecider struct {
	target model.TargetAllocation
	err    error
	briefs []brain.Brief
}

func (f *fakeDecider) Decide(_ context.Context, brief brain.Brief) (model.TargetAllocation, error) {
	f.briefs = append(f.briefs, brief)
	return f.target, f.err
}

type engineFixture struct {
	engine  *Engine
	ledger  *portfolio.Ledger
	store   *memStore
	exec    *fakeTradeExecutor
	market  *fakeMarket
	decider *fakeDecider
}

func newEngineFixture(t *testing.T, mode config.TradingMode) *engineFixture {
	t.Helper()

	cfg := config.BotConfig{Mode: mode}
	require.NoError(t, cfg.ValidateAndSetup())

	store := newMemStore()
	ledger := portfolio.NewLedger(store, cfg.BaseCurrency, cfg.InitialCapital, logger.Nop())
	exec := &fakeTradeExecutor{
		sync: executor.SyncResult{Known: true, Balances: model.Balances{}},
		prices: map[string]float64{
			"BTC/USDT":  100000,
			"DOGE/USDT": 0.2,
		},
	}
	market := &fakeMarket{universe: []model.Ticker{
		{Symbol: "BTC/USDT", Last: 100000, QuoteVolume: 2_000_000_000},
		{Symbol: "DOGE/USDT", Last: 0.2, QuoteVolume: 500_000_000},
	}}
	decider := &fakeDecider{target: model.TargetAllocation{
		Entries:     []model.AllocationEntry{{Symbol: "BTC", Percent: 40, Reasoning: "store of value"}},
		CashPercent: 60,
	}}

	capitalAllocator := allocator.NewCapitalAllocator(cfg.Allocator, store, logger.Nop())
	capitalAllocator.RegisterStrategy(StrategyBrain, 1.0)

	return &engineFixture{
		engine:  NewEngine(cfg, ledger, exec, market, decider, capitalAllocator, store, logger.Nop()),
		ledger:  ledger,
		store:   store,
		exec:    exec,
		market:  market,
		decider: decider,
	}
}

func TestRunCycleBuyFlow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)

	now := time.Now().UTC()
	f.exec.orders = []model.Order{{
		ID:             "sim-1",
		Symbol:         "BTC",
		Side:           model.Buy,
		Type:           model.Market,
		Quantity:       0.001,
		Status:         model.OrderFilled,
		FilledQuantity: 0.001,
		FilledPrice:    100000,
		ExecutedAt:     &now,
		StrategyName:   StrategyBrain,
	}}

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Cycle)
	require.Len(t, summary.Orders, 1)

	state := f.ledger.GetState()
	assert.InDelta(t, 150, state.CashBalance, 1e-9)
	pos := state.Positions["BTC"]
	assert.InDelta(t, 0.001, pos.Quantity, 1e-9)
	assert.InDelta(t, 100000, pos.AvgEntryPrice, 1e-9)
	assert.Equal(t, "store of value", pos.Thesis)

	require.Len(t, f.store.orders, 1)
	require.Len(t, f.store.decisions, 1)
	assert.Len(t, f.store.decisions[0].Trades, 1)
	require.Len(t, f.store.snapshots, 1)
	assert.InDelta(t, 100000, f.store.snapshots[0].BenchmarkPrice, 1e-9)

	// the engine's own state is observable for the status page
	assert.Equal(t, summary.Cycle, f.engine.LastSummary().Cycle)
}

func TestRunCycleSellRecordsStrategyPnL(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)

	_, err := f.ledger.UpdatePosition(ctx, "DOGE", 500, 0.1)
	require.NoError(t, err)
	f.ledger.UpdateCash(-50)

	f.decider.target = model.TargetAllocation{CashPercent: 100}
	now := time.Now().UTC()
	f.exec.orders = []model.Order{{
		ID:             "sim-2",
		Symbol:         "DOGE",
		Side:           model.Sell,
		Type:           model.Market,
		Quantity:       500,
		Status:         model.OrderFilled,
		FilledQuantity: 500,
		FilledPrice:    0.2,
		ExecutedAt:     &now,
		StrategyName:   StrategyBrain,
	}}

	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)

	state := f.ledger.GetState()
	assert.NotContains(t, state.Positions, "DOGE")
	assert.InDelta(t, 300, state.CashBalance, 1e-9)
	assert.Equal(t, 1, f.store.pnlRows)
}

func TestRunCycleLiveSyncFailureKeepsLedger(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)
	f.engine.cfg.Mode = config.Live

	_, err := f.ledger.UpdatePosition(ctx, "DOGE", 500, 0.1)
	require.NoError(t, err)
	_, err = f.ledger.UpdatePosition(ctx, "ETH", 0.05, 3000)
	require.NoError(t, err)
	_, err = f.ledger.UpdatePosition(ctx, "SOL", 0.2, 200)
	require.NoError(t, err)
	before := f.ledger.Holdings()

	f.exec.sync = executor.SyncResult{Known: false}
	f.decider.target = model.TargetAllocation{CashPercent: 100}
	f.exec.orders = nil

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.False(t, summary.BalancesSynced)
	assert.NotEmpty(t, summary.Warnings)
	assert.Equal(t, before, f.ledger.Holdings())
}

func TestRunCycleLiveSyncAppliesBalances(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)
	f.engine.cfg.Mode = config.Live

	_, err := f.ledger.UpdatePosition(ctx, "DOGE", 500, 0.1)
	require.NoError(t, err)

	f.exec.sync = executor.SyncResult{Known: true, Balances: model.Balances{"USDT": 80, "DOGE": 400}}
	f.decider.target = model.TargetAllocation{CashPercent: 100}
	f.exec.orders = nil

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.True(t, summary.BalancesSynced)
	assert.InDelta(t, 400, f.ledger.Holdings()["DOGE"], 1e-9)
	assert.InDelta(t, 80, f.ledger.GetState().CashBalance, 1e-9)
}

func TestRunCycleSimulatedNeverReportsBalanceSync(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)
	// even an exchange that answers must not count as a sync here
	f.exec.sync = executor.SyncResult{Known: true, Balances: model.Balances{"USDT": 9999}}

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.False(t, summary.BalancesSynced)
	assert.InDelta(t, 250, f.ledger.GetState().CashBalance, 1e-9)
}

func TestRunCycleBuyPersistFailureLeavesCash(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)
	f.store.upsertErr = errors.New("db down")

	now := time.Now().UTC()
	f.exec.orders = []model.Order{{
		ID:             "sim-3",
		Symbol:         "BTC",
		Side:           model.Buy,
		Type:           model.Market,
		Quantity:       0.001,
		Status:         model.OrderFilled,
		FilledQuantity: 0.001,
		FilledPrice:    100000,
		ExecutedAt:     &now,
		StrategyName:   StrategyBrain,
	}}

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	// the fill never landed, so cash stays put
	state := f.ledger.GetState()
	assert.InDelta(t, 250, state.CashBalance, 1e-9)
	assert.NotContains(t, state.Positions, "BTC")

	var warned bool
	for _, w := range summary.Warnings {
		if strings.Contains(w, "apply buy BTC") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestRunCycleUnpricedHoldingWarnsOnce(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)

	_, err := f.ledger.UpdatePosition(ctx, "SOL", 1, 200)
	require.NoError(t, err)
	f.ledger.UpdateCash(-200)

	// the trade planner owns the user-visible warning for this
	f.exec.warnings = []string{"no price for held SOL, skipping"}

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	var mentions int
	for _, w := range summary.Warnings {
		if strings.Contains(w, "no price") && strings.Contains(w, "SOL") {
			mentions++
		}
	}
	assert.Equal(t, 1, mentions)
}

func TestRunCycleRejectsInvalidAllocation(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)

	f.decider.target = model.TargetAllocation{
		Entries:     []model.AllocationEntry{{Symbol: "BTC", Percent: 80}},
		CashPercent: 40,
	}

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.False(t, f.exec.executed)
	assert.Empty(t, summary.Orders)
	assert.NotEmpty(t, summary.Warnings)
	assert.InDelta(t, 250, f.ledger.GetState().CashBalance, 1e-9)
	// the cycle still leaves an audit trail
	assert.Len(t, f.store.snapshots, 1)
}

func TestRunCycleDeciderFailureStillSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)
	f.decider.err = errors.New("model overloaded")

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.False(t, f.exec.executed)
	assert.NotEmpty(t, summary.Warnings)
	assert.Len(t, f.store.snapshots, 1)
	assert.Empty(t, f.store.decisions)
}

func TestRunCycleUniverseFailureIsPartial(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)
	f.market.err = errors.New("rate limited")

	summary, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.False(t, f.exec.executed)
	assert.NotEmpty(t, summary.Warnings)
}

func TestRunCycleNonReentrant(t *testing.T) {
	f := newEngineFixture(t, config.Simulated)

	f.engine.mu.Lock()
	_, err := f.engine.RunCycle(context.Background())
	f.engine.mu.Unlock()

	assert.ErrorContains(t, err, "already in progress")
}

func TestRunCycleBriefCarriesLastDecision(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, f.decider.briefs, 2)
	assert.Nil(t, f.decider.briefs[0].LastDecision)
	require.NotNil(t, f.decider.briefs[1].LastDecision)
	assert.Equal(t, "BTC", f.decider.briefs[1].LastDecision.Target.Entries[0].Symbol)
}

func TestCloseWritesFinalSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.Simulated)

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, f.store.snapshots, 1)

	require.NoError(t, f.engine.Close(ctx))
	assert.Len(t, f.store.snapshots, 2)
}

func TestCloseWaitsForInFlightCycle(t *testing.T) {
	f := newEngineFixture(t, config.Simulated)

	// hold the cycle lock the way a running cycle would
	f.engine.mu.Lock()

	done := make(chan error, 1)
	go func() { done <- f.engine.Close(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Close returned while a cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	f.engine.mu.Unlock()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close never finished after the cycle released")
	}
	assert.Len(t, f.store.snapshots, 1)
}
