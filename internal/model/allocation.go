package model

// AllocationEntry is one asset's slice of a target allocation, in
// percent of total portfolio value.
type AllocationEntry struct {
	Symbol    string  `json:"symbol"`
	Percent   float64 `json:"percent"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// TargetAllocation is what the decision service wants the portfolio to
// look like. Entries plus CashPercent are expected to sum to 100; the
// engine validates this before acting.
type TargetAllocation struct {
	Entries       []AllocationEntry `json:"allocations"`
	CashPercent   float64           `json:"cash_percent"`
	MarketOutlook string            `json:"market_outlook,omitempty"`
	Conviction    string            `json:"conviction,omitempty"`
}

func (t TargetAllocation) Sum() float64 {
	total := t.CashPercent
	for _, e := range t.Entries {
		total += e.Percent
	}
	return total
}
