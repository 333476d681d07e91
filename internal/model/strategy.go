package model

// StrategyPerformance tracks one strategy's trade outcomes and its
// current share of capital.
type StrategyPerformance struct {
	Name              string  `db:"strategy_name" json:"strategy_name"`
	TotalTrades       int     `db:"total_trades" json:"total_trades"`
	WinningTrades     int     `db:"winning_trades" json:"winning_trades"`
	LosingTrades      int     `db:"losing_trades" json:"losing_trades"`
	TotalPnL          float64 `db:"total_pnl" json:"total_pnl"`
	TotalPnLPct       float64 `db:"total_pnl_pct" json:"total_pnl_pct"`
	WinRate           float64 `db:"win_rate" json:"win_rate"`
	CurrentAllocation float64 `db:"current_allocation" json:"current_allocation"`
}

func (p *StrategyPerformance) RecordTrade(pnl, pnlPct float64) {
	p.TotalTrades++
	p.TotalPnL += pnl
	p.TotalPnLPct += pnlPct
	if pnl > 0 {
		p.WinningTrades++
	} else {
		p.LosingTrades++
	}
	p.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades)
}
