package model

import "time"

// HoldingSnapshot is a position as it looked when a decision was made.
type HoldingSnapshot struct {
	Quantity float64 `json:"quantity"`
	Value    float64 `json:"value"`
	Percent  float64 `json:"percent"`
	PnLPct   float64 `json:"pnl_pct"`
	Thesis   string  `json:"thesis,omitempty"`
}

// TradeResult is the condensed outcome of one order, recorded with the
// decision that produced it.
type TradeResult struct {
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Quantity    float64     `json:"quantity"`
	FilledPrice float64     `json:"filled_price"`
	Status      OrderStatus `json:"status"`
}

// Decision is an append-only log entry: what the decision service saw,
// what it asked for, and what actually happened. Used for offline
// analysis and as "last decision" context on the next cycle.
type Decision struct {
	Timestamp     time.Time                  `json:"timestamp"`
	Holdings      map[string]HoldingSnapshot `json:"holdings"`
	MarketSummary string                     `json:"market_summary"`
	Target        TargetAllocation           `json:"target"`
	Trades        []TradeResult              `json:"trades"`
	Outlook       string                     `json:"outlook,omitempty"`
	Conviction    string                     `json:"conviction,omitempty"`
}

// CycleSummary is what RunCycle hands back to the caller for logging
// and the status page.
type CycleSummary struct {
	Cycle          int            `json:"cycle"`
	Timestamp      time.Time      `json:"timestamp"`
	BalancesSynced bool           `json:"balances_synced"`
	Orders         []Order        `json:"orders"`
	Portfolio      PortfolioState `json:"portfolio"`
	Decision       *Decision      `json:"decision,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
}
