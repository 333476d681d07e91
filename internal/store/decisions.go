package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brianpgerson/claude-moneymaker/internal/model"
	"github.com/bytedance/sonic"
)

const (
	_insertDecision = `INSERT INTO decisions (
			ts, holdings, market_summary, allocation, trades, outlook, conviction
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_queryLastDecision = `SELECT ts, holdings, market_summary, allocation, trades, outlook, conviction
		FROM decisions ORDER BY id DESC LIMIT 1`
)

type decisionRow struct {
	Timestamp     sql.NullTime `db:"ts"`
	Holdings      []byte       `db:"holdings"`
	MarketSummary string       `db:"market_summary"`
	Allocation    []byte       `db:"allocation"`
	Trades        []byte       `db:"trades"`
	Outlook       string       `db:"outlook"`
	Conviction    string       `db:"conviction"`
}

// InsertDecision appends a decision record. The structured fields are
// serialized to JSONB columns; rows are write-once.
func (s *Store) InsertDecision(ctx context.Context, d model.Decision) error {
	holdings, err := sonic.Marshal(d.Holdings)
	if err != nil {
		return fmt.Errorf("%w: can't marshal decision holdings", err)
	}
	allocation, err := sonic.Marshal(d.Target)
	if err != nil {
		return fmt.Errorf("%w: can't marshal decision allocation", err)
	}
	trades, err := sonic.Marshal(d.Trades)
	if err != nil {
		return fmt.Errorf("%w: can't marshal decision trades", err)
	}

	if _, err := s.db.ExecContext(ctx, _insertDecision,
		d.Timestamp, holdings, d.MarketSummary, allocation, trades, d.Outlook, d.Conviction,
	); err != nil {
		return fmt.Errorf("%w: can't insert decision", err)
	}
	return nil
}

// LastDecision returns the most recent decision record, or false if no
// decision has ever been made.
func (s *Store) LastDecision(ctx context.Context) (model.Decision, bool, error) {
	var row decisionRow
	if err := s.db.GetContext(ctx, &row, _queryLastDecision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Decision{}, false, nil
		}
		return model.Decision{}, false, fmt.Errorf("%w: can't query last decision", err)
	}

	d := model.Decision{
		Timestamp:     row.Timestamp.Time,
		MarketSummary: row.MarketSummary,
		Outlook:       row.Outlook,
		Conviction:    row.Conviction,
	}
	if err := sonic.Unmarshal(row.Holdings, &d.Holdings); err != nil {
		return model.Decision{}, false, fmt.Errorf("%w: can't unmarshal decision holdings", err)
	}
	if err := sonic.Unmarshal(row.Allocation, &d.Target); err != nil {
		return model.Decision{}, false, fmt.Errorf("%w: can't unmarshal decision allocation", err)
	}
	if err := sonic.Unmarshal(row.Trades, &d.Trades); err != nil {
		return model.Decision{}, false, fmt.Errorf("%w: can't unmarshal decision trades", err)
	}

	return d, true, nil
}
