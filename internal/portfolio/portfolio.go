package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
)

// Store is the slice of persistence the ledger needs.
type Store interface {
	UpsertPosition(ctx context.Context, p model.Position) error
	DeletePosition(ctx context.Context, symbol string) error
	LoadPositions(ctx context.Context) ([]model.Position, error)
	InsertSnapshot(ctx context.Context, snap model.Snapshot) error
	LastSnapshot(ctx context.Context) (model.Snapshot, bool, error)
}

// Ledger is the in-memory authoritative view of cash and positions for
// the running process. It is the only owner of that state; everything
// else reads snapshots. All operations are local and cannot fail except
// on store I/O, which is surfaced to the caller.
type Ledger struct {
	store  Store
	logger logger.Logger

	mu sync.RWMutex

	baseCurrency   string
	initialCapital float64
	cash           float64
	positions      map[string]model.Position
}

func NewLedger(store Store, baseCurrency string, initialCapital float64, logger logger.Logger) *Ledger {
	return &Ledger{
		store:          store,
		logger:         logger,
		baseCurrency:   baseCurrency,
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]model.Position),
	}
}

// Restore rebuilds state from the last persisted snapshot and the
// positions table. Mark prices start at the cost basis until the first
// price fetch refreshes them.
func (l *Ledger) Restore(ctx context.Context) error {
	positions, err := l.store.LoadPositions(ctx)
	if err != nil {
		return err
	}

	snap, ok, err := l.store.LastSnapshot(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]model.Position, len(positions))
	for _, p := range positions {
		p.UpdatePrice(p.AvgEntryPrice)
		l.positions[p.Symbol] = p
	}
	if ok {
		l.cash = snap.CashBalance
	}

	return nil
}

// UpdatePosition applies a fill. A buy recomputes the average entry
// price as a quantity-weighted blend of the existing basis and the new
// lot; a sell decrements quantity and leaves the basis unchanged. A
// position at or below zero quantity is removed, never stored at zero.
func (l *Ledger) UpdatePosition(ctx context.Context, symbol string, quantityDelta, price float64) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		if quantityDelta <= 0 {
			l.logger.Warnf("sell of %f %s ignored: no position", -quantityDelta, symbol)
			return model.Position{}, nil
		}
		pos = model.Position{
			Symbol:        symbol,
			Quantity:      quantityDelta,
			AvgEntryPrice: price,
		}
	} else if quantityDelta > 0 {
		totalCost := pos.Quantity*pos.AvgEntryPrice + quantityDelta*price
		pos.Quantity += quantityDelta
		pos.AvgEntryPrice = totalCost / pos.Quantity
	} else {
		pos.Quantity += quantityDelta
	}

	pos.UpdatePrice(price)

	// the store write commits the change; on failure memory keeps the
	// old position so ledger and store never disagree
	if pos.Quantity <= 0 {
		if err := l.store.DeletePosition(ctx, symbol); err != nil {
			return pos, fmt.Errorf("%w: can't remove closed position %s", err, symbol)
		}
		delete(l.positions, symbol)
		return pos, nil
	}

	if err := l.store.UpsertPosition(ctx, pos); err != nil {
		return pos, fmt.Errorf("%w: can't persist position %s", err, symbol)
	}
	l.positions[symbol] = pos
	return pos, nil
}

// UpdateCash adds delta to the cash balance and returns the new value.
// No floor is enforced; overspend is a caller bug.
func (l *Ledger) UpdateCash(delta float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash += delta
	return l.cash
}

// SyncFromExchange replaces local bookkeeping with the exchange's
// authoritative balances. This is a full replace, not a merge: cash
// becomes the settlement-currency entry and every non-zero non-settlement
// balance becomes a position. Cost basis survives for symbols already
// held; brand-new symbols get basis 0 until the next price fetch
// backfills it. Calling twice with identical balances is idempotent.
func (l *Ledger) SyncFromExchange(ctx context.Context, balances model.Balances) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[string]model.Position)
	for asset, amount := range balances {
		if asset == l.baseCurrency || amount <= 0 {
			continue
		}
		pos := model.Position{Symbol: asset, Quantity: amount}
		if prev, ok := l.positions[asset]; ok {
			pos.AvgEntryPrice = prev.AvgEntryPrice
			pos.Thesis = prev.Thesis
			pos.UpdatePrice(prev.CurrentPrice)
		}
		next[asset] = pos
	}

	for symbol := range l.positions {
		if _, ok := next[symbol]; ok {
			continue
		}
		if err := l.store.DeletePosition(ctx, symbol); err != nil {
			return fmt.Errorf("%w: can't remove synced-away position %s", err, symbol)
		}
	}
	for _, pos := range next {
		if err := l.store.UpsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("%w: can't persist synced position %s", err, pos.Symbol)
		}
	}

	l.positions = next
	l.cash = balances[l.baseCurrency]
	return nil
}

// SetCurrentPrice refreshes a position's mark price without trading.
// A position synced in with an unknown cost basis gets it backfilled
// from the first observed price.
func (l *Ledger) SetCurrentPrice(ctx context.Context, symbol string, price float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil
	}

	backfilled := false
	if pos.AvgEntryPrice == 0 && price > 0 {
		pos.AvgEntryPrice = price
		backfilled = true
	}
	pos.UpdatePrice(price)
	l.positions[symbol] = pos

	if backfilled {
		if err := l.store.UpsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("%w: can't persist backfilled basis for %s", err, symbol)
		}
	}
	return nil
}

// SetThesis records the rationale attached to a position at entry.
func (l *Ledger) SetThesis(ctx context.Context, symbol, thesis string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok || thesis == "" {
		return nil
	}
	pos.Thesis = thesis
	l.positions[symbol] = pos
	return l.store.UpsertPosition(ctx, pos)
}

// GetState recomputes totals and returns an independent snapshot of the
// current state.
func (l *Ledger) GetState() model.PortfolioState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := model.PortfolioState{
		Timestamp:   time.Now().UTC(),
		CashBalance: l.cash,
		Positions:   make(map[string]model.Position, len(l.positions)),
	}
	for symbol, pos := range l.positions {
		state.Positions[symbol] = pos
	}
	state.CalculateTotals(l.initialCapital)
	return state
}

// Holdings returns symbol -> quantity for every open position.
func (l *Ledger) Holdings() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	holdings := make(map[string]float64, len(l.positions))
	for symbol, pos := range l.positions {
		holdings[symbol] = pos.Quantity
	}
	return holdings
}

// Snapshot persists a point-in-time row of the current totals.
func (l *Ledger) Snapshot(ctx context.Context, benchmarkPrice float64) error {
	state := l.GetState()

	return l.store.InsertSnapshot(ctx, model.Snapshot{
		Timestamp:      state.Timestamp,
		CashBalance:    state.CashBalance,
		PositionsValue: state.TotalValue - state.CashBalance,
		TotalValue:     state.TotalValue,
		TotalPnL:       state.TotalPnL,
		TotalPnLPct:    state.TotalPnLPct,
		BenchmarkPrice: benchmarkPrice,
	})
}
