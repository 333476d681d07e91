package model

import "time"

type Position struct {
	Symbol           string  `db:"symbol" json:"symbol"`
	Quantity         float64 `db:"quantity" json:"quantity"`
	AvgEntryPrice    float64 `db:"average_entry_price" json:"average_entry_price"`
	CurrentPrice     float64 `db:"-" json:"current_price"`
	UnrealizedPnL    float64 `db:"-" json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `db:"-" json:"unrealized_pnl_pct"`
	Thesis           string  `db:"thesis" json:"thesis,omitempty"`
}

// UpdatePrice sets the mark price and recomputes unrealized P&L.
// An entry price of zero means the cost basis is unknown (position came
// from an exchange sync), so the P&L is left at zero.
func (p *Position) UpdatePrice(price float64) {
	p.CurrentPrice = price
	if p.AvgEntryPrice > 0 {
		p.UnrealizedPnL = (price - p.AvgEntryPrice) * p.Quantity
		p.UnrealizedPnLPct = (price - p.AvgEntryPrice) / p.AvgEntryPrice
	}
}

func (p Position) Value() float64 {
	return p.Quantity * p.CurrentPrice
}

type PortfolioState struct {
	Timestamp   time.Time           `json:"timestamp"`
	CashBalance float64             `json:"cash_balance"`
	Positions   map[string]Position `json:"positions"`
	TotalValue  float64             `json:"total_value"`
	TotalPnL    float64             `json:"total_pnl"`
	TotalPnLPct float64             `json:"total_pnl_pct"`
}

// CalculateTotals recomputes total value and P&L from cash and the
// currently marked positions.
func (s *PortfolioState) CalculateTotals(initialCapital float64) {
	var positionsValue float64
	for _, p := range s.Positions {
		positionsValue += p.Value()
	}
	s.TotalValue = s.CashBalance + positionsValue
	s.TotalPnL = s.TotalValue - initialCapital
	if initialCapital > 0 {
		s.TotalPnLPct = s.TotalPnL / initialCapital
	}
}

// Balances maps an exchange asset to its free amount.
type Balances map[string]float64

// Snapshot is one persisted point-in-time row of portfolio totals.
// BenchmarkPrice keeps a reference asset price alongside for later
// comparison against just holding it.
type Snapshot struct {
	ID             int64     `db:"id"`
	Timestamp      time.Time `db:"ts"`
	CashBalance    float64   `db:"cash_balance"`
	PositionsValue float64   `db:"positions_value"`
	TotalValue     float64   `db:"total_value"`
	TotalPnL       float64   `db:"total_pnl"`
	TotalPnLPct    float64   `db:"total_pnl_pct"`
	BenchmarkPrice float64   `db:"benchmark_price"`
}
