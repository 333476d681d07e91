package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
	"github.com/jmoiron/sqlx"
)

// Store is pure data access over the bot's five tables. No policy
// lives here; callers decide what to write and when.
type Store struct {
	db     *sqlx.DB
	logger logger.Logger
}

func NewStore(db *sqlx.DB, logger logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

const _schema = `
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	order_type      TEXT NOT NULL,
	quantity        DOUBLE PRECISION NOT NULL,
	price           DOUBLE PRECISION NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	filled_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
	filled_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	executed_at     TIMESTAMPTZ,
	strategy_name   TEXT NOT NULL DEFAULT '',
	reasoning       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS positions (
	symbol              TEXT PRIMARY KEY,
	quantity            DOUBLE PRECISION NOT NULL,
	average_entry_price DOUBLE PRECISION NOT NULL,
	thesis              TEXT NOT NULL DEFAULT '',
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id              BIGSERIAL PRIMARY KEY,
	ts              TIMESTAMPTZ NOT NULL,
	cash_balance    DOUBLE PRECISION NOT NULL,
	positions_value DOUBLE PRECISION NOT NULL,
	total_value     DOUBLE PRECISION NOT NULL,
	total_pnl       DOUBLE PRECISION NOT NULL,
	total_pnl_pct   DOUBLE PRECISION NOT NULL,
	benchmark_price DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS decisions (
	id             BIGSERIAL PRIMARY KEY,
	ts             TIMESTAMPTZ NOT NULL,
	holdings       JSONB NOT NULL,
	market_summary TEXT NOT NULL DEFAULT '',
	allocation     JSONB NOT NULL,
	trades         JSONB NOT NULL,
	outlook        TEXT NOT NULL DEFAULT '',
	conviction     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS strategy_pnl (
	id             BIGSERIAL PRIMARY KEY,
	strategy_name  TEXT NOT NULL,
	ts             TIMESTAMPTZ NOT NULL,
	trade_pnl      DOUBLE PRECISION NOT NULL,
	trade_pnl_pct  DOUBLE PRECISION NOT NULL,
	cumulative_pnl DOUBLE PRECISION NOT NULL
);`

func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, _schema); err != nil {
		return fmt.Errorf("%w: can't init schema", err)
	}
	return nil
}

const _insertOrder = `INSERT INTO orders (
		id, symbol, side, order_type, quantity, price, status,
		filled_quantity, filled_price, created_at, executed_at,
		strategy_name, reasoning
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

// InsertOrder appends a terminal order. Orders are never updated in
// place.
func (s *Store) InsertOrder(ctx context.Context, o model.Order) error {
	if _, err := s.db.ExecContext(ctx, _insertOrder,
		o.ID,
		o.Symbol,
		o.Side,
		o.Type,
		o.Quantity,
		o.Price,
		o.Status,
		o.FilledQuantity,
		o.FilledPrice,
		o.CreatedAt,
		o.ExecutedAt,
		o.StrategyName,
		o.Reasoning,
	); err != nil {
		return fmt.Errorf("%w: can't insert order", err)
	}
	return nil
}

const _queryOrders = `SELECT id, symbol, side, order_type, quantity, price, status,
		filled_quantity, filled_price, created_at, executed_at, strategy_name, reasoning
	FROM orders
	WHERE ($1 = '' OR strategy_name = $1)
	ORDER BY created_at DESC
	LIMIT $2`

func (s *Store) OrderHistory(ctx context.Context, strategyName string, limit int) ([]model.Order, error) {
	var orders []model.Order
	if err := s.db.SelectContext(ctx, &orders, _queryOrders, strategyName, limit); err != nil {
		return nil, fmt.Errorf("%w: can't query orders", err)
	}
	return orders, nil
}

const (
	_upsertPosition = `INSERT INTO positions (
			symbol, quantity, average_entry_price, thesis, updated_at
		) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (symbol)
		DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_entry_price = EXCLUDED.average_entry_price,
			thesis = EXCLUDED.thesis,
			updated_at = EXCLUDED.updated_at;`
	_deletePosition = `DELETE FROM positions WHERE symbol = $1`
	_queryPositions = `SELECT symbol, quantity, average_entry_price, thesis FROM positions`
)

func (s *Store) UpsertPosition(ctx context.Context, p model.Position) error {
	if _, err := s.db.ExecContext(ctx, _upsertPosition,
		p.Symbol, p.Quantity, p.AvgEntryPrice, p.Thesis, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("%w: can't upsert position", err)
	}
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, _deletePosition, symbol); err != nil {
		return fmt.Errorf("%w: can't delete position", err)
	}
	return nil
}

func (s *Store) LoadPositions(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	if err := s.db.SelectContext(ctx, &positions, _queryPositions); err != nil {
		return nil, fmt.Errorf("%w: can't query positions", err)
	}
	return positions, nil
}

const (
	_insertSnapshot = `INSERT INTO portfolio_snapshots (
			ts, cash_balance, positions_value, total_value, total_pnl, total_pnl_pct, benchmark_price
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_queryLastSnapshot = `SELECT id, ts, cash_balance, positions_value, total_value,
			total_pnl, total_pnl_pct, benchmark_price
		FROM portfolio_snapshots ORDER BY id DESC LIMIT 1`
)

func (s *Store) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	if _, err := s.db.ExecContext(ctx, _insertSnapshot,
		snap.Timestamp,
		snap.CashBalance,
		snap.PositionsValue,
		snap.TotalValue,
		snap.TotalPnL,
		snap.TotalPnLPct,
		snap.BenchmarkPrice,
	); err != nil {
		return fmt.Errorf("%w: can't insert snapshot", err)
	}
	return nil
}

// LastSnapshot returns the most recent snapshot, or false if none has
// ever been written.
func (s *Store) LastSnapshot(ctx context.Context) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	if err := s.db.GetContext(ctx, &snap, _queryLastSnapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snap, false, nil
		}
		return snap, false, fmt.Errorf("%w: can't query last snapshot", err)
	}
	return snap, true, nil
}

const (
	_insertStrategyPnL = `INSERT INTO strategy_pnl (
			strategy_name, ts, trade_pnl, trade_pnl_pct, cumulative_pnl
		) VALUES ($1,$2,$3,$4,$5)`
	_queryCumulativePnL = `SELECT cumulative_pnl FROM strategy_pnl
		WHERE strategy_name = $1 ORDER BY id DESC LIMIT 1`
)

// InsertStrategyPnL appends one trade outcome to a strategy's ledger,
// carrying the running cumulative P&L forward.
func (s *Store) InsertStrategyPnL(ctx context.Context, strategyName string, tradePnL, tradePnLPct float64) error {
	cumulative, err := s.CumulativeStrategyPnL(ctx, strategyName)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, _insertStrategyPnL,
		strategyName, time.Now().UTC(), tradePnL, tradePnLPct, cumulative+tradePnL,
	); err != nil {
		return fmt.Errorf("%w: can't insert strategy pnl", err)
	}
	return nil
}

func (s *Store) CumulativeStrategyPnL(ctx context.Context, strategyName string) (float64, error) {
	var cumulative float64
	if err := s.db.GetContext(ctx, &cumulative, _queryCumulativePnL, strategyName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: can't query cumulative strategy pnl", err)
	}
	return cumulative, nil
}
