package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianpgerson/claude-moneymaker/internal/model"
)

func testConfig() Config {
	return Config{
		DustThreshold: 1.0,
		MinTradeSize:  10.0,
		BaseCurrency:  "USDT",
	}
}

func TestPlanTrades(t *testing.T) {
	tests := []struct {
		name     string
		holdings map[string]float64
		target   model.TargetAllocation
		total    float64
		prices   map[string]float64
		want     []model.TradeIntent
		warnings int
	}{
		{
			name:     "sell position dropped from target",
			holdings: map[string]float64{"ETH": 0.005},
			target:   model.TargetAllocation{CashPercent: 100},
			total:    250,
			prices:   map[string]float64{"ETH/USDT": 3000},
			want: []model.TradeIntent{
				{Symbol: "ETH", Side: model.Sell, Quantity: 0.005, QuoteValue: 15},
			},
		},
		{
			name:     "dust holding is invisible",
			holdings: map[string]float64{"SHIB": 20000},
			target:   model.TargetAllocation{CashPercent: 100},
			total:    250,
			prices:   map[string]float64{"SHIB/USDT": 0.000025},
			want:     nil,
		},
		{
			name:     "buy new position",
			holdings: map[string]float64{},
			target: model.TargetAllocation{
				Entries:     []model.AllocationEntry{{Symbol: "BTC", Percent: 40}},
				CashPercent: 60,
			},
			total:  250,
			prices: map[string]float64{"BTC/USDT": 100000},
			want: []model.TradeIntent{
				{Symbol: "BTC", Side: model.Buy, Quantity: 0.001, QuoteValue: 100},
			},
		},
		{
			name:     "small drift is suppressed",
			holdings: map[string]float64{"BTC": 0.001},
			target: model.TargetAllocation{
				Entries:     []model.AllocationEntry{{Symbol: "BTC", Percent: 42}},
				CashPercent: 58,
			},
			total:  250,
			prices: map[string]float64{"BTC/USDT": 100000},
			want:   nil,
		},
		{
			name:     "held symbol without price is skipped with warning",
			holdings: map[string]float64{"DOGE": 500},
			target:   model.TargetAllocation{CashPercent: 100},
			total:    250,
			prices:   map[string]float64{},
			want:     nil,
			warnings: 1,
		},
		{
			name:     "target symbol without price is skipped with warning",
			holdings: map[string]float64{},
			target: model.TargetAllocation{
				Entries:     []model.AllocationEntry{{Symbol: "PEPE", Percent: 20}},
				CashPercent: 80,
			},
			total:    250,
			prices:   map[string]float64{},
			want:     nil,
			warnings: 1,
		},
		{
			name: "sells come before buys",
			holdings: map[string]float64{
				"ETH": 0.05,
				"SOL": 0.1,
			},
			target: model.TargetAllocation{
				Entries:     []model.AllocationEntry{{Symbol: "BTC", Percent: 40}},
				CashPercent: 60,
			},
			total: 250,
			prices: map[string]float64{
				"ETH/USDT": 3000,
				"SOL/USDT": 200,
				"BTC/USDT": 100000,
			},
			want: []model.TradeIntent{
				{Symbol: "ETH", Side: model.Sell, Quantity: 0.05, QuoteValue: 150},
				{Symbol: "SOL", Side: model.Sell, Quantity: 0.1, QuoteValue: 20},
				{Symbol: "BTC", Side: model.Buy, Quantity: 0.001, QuoteValue: 100},
			},
		},
		{
			name:     "base currency holding never traded",
			holdings: map[string]float64{"USDT": 250},
			target:   model.TargetAllocation{CashPercent: 100},
			total:    250,
			prices:   map[string]float64{},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanTrades(tt.holdings, tt.target, tt.total, tt.prices, testConfig())

			assert.Len(t, plan.Warnings, tt.warnings)
			require.Len(t, plan.Intents, len(tt.want))
			for i, want := range tt.want {
				got := plan.Intents[i]
				assert.Equal(t, want.Symbol, got.Symbol)
				assert.Equal(t, want.Side, got.Side)
				assert.InDelta(t, want.Quantity, got.Quantity, 1e-9)
				assert.InDelta(t, want.QuoteValue, got.QuoteValue, 1e-9)
			}
		})
	}
}

func TestPlanTradesPartialRebalance(t *testing.T) {
	// holding is worth $200, target wants $100 of it: sell the excess only
	plan := PlanTrades(
		map[string]float64{"ETH": 0.0667},
		model.TargetAllocation{
			Entries:     []model.AllocationEntry{{Symbol: "ETH", Percent: 40}},
			CashPercent: 60,
		},
		250,
		map[string]float64{"ETH/USDT": 3000},
		testConfig(),
	)

	require.Len(t, plan.Intents, 1)
	intent := plan.Intents[0]
	assert.Equal(t, model.Sell, intent.Side)
	assert.InDelta(t, 100.1, intent.QuoteValue, 0.01)
}
