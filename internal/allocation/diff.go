// Package allocation turns "what we hold" plus "what we want" into the
// minimal ordered list of trades between them.
package allocation

import (
	"fmt"
	"sort"

	"github.com/brianpgerson/claude-moneymaker/internal/model"
)

type Config struct {
	// DustThreshold removes a holding from consideration entirely:
	// below it the symbol is treated as if it did not exist.
	DustThreshold float64
	// MinTradeSize suppresses a trade for a symbol that is still being
	// considered. The two knobs are independent.
	MinTradeSize float64
	BaseCurrency string
}

type Plan struct {
	Intents  []model.TradeIntent
	Warnings []string
}

// PlanTrades computes the sell and buy intents needed to move the
// current holdings to the target allocation. Sells come first so the
// settlement currency they free can fund the buys in the same cycle.
// A symbol with no available price is skipped with a warning, never
// traded at price zero.
func PlanTrades(
	holdings map[string]float64,
	target model.TargetAllocation,
	totalValue float64,
	prices map[string]float64,
	cfg Config,
) Plan {
	var plan Plan

	currentValue := make(map[string]float64, len(holdings))
	for symbol, quantity := range holdings {
		if symbol == cfg.BaseCurrency || quantity <= 0 {
			continue
		}
		price, ok := prices[model.Pair(symbol, cfg.BaseCurrency)]
		if !ok || price <= 0 {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("no price for held %s, skipping", symbol))
			continue
		}
		value := quantity * price
		if value < cfg.DustThreshold {
			continue
		}
		currentValue[symbol] = value
	}

	targetValue := make(map[string]float64, len(target.Entries))
	for _, entry := range target.Entries {
		if entry.Symbol == cfg.BaseCurrency {
			continue
		}
		targetValue[entry.Symbol] += entry.Percent / 100 * totalValue
	}

	var sells, buys []model.TradeIntent

	for symbol, current := range currentValue {
		excess := current - targetValue[symbol]
		if excess <= cfg.MinTradeSize {
			continue
		}
		price := prices[model.Pair(symbol, cfg.BaseCurrency)]
		sells = append(sells, model.TradeIntent{
			Symbol:     symbol,
			Side:       model.Sell,
			Quantity:   excess / price,
			QuoteValue: excess,
			Reason:     fmt.Sprintf("rebalance: reduce %s by $%.2f", symbol, excess),
		})
	}

	for symbol, desired := range targetValue {
		shortfall := desired - currentValue[symbol]
		if shortfall <= cfg.MinTradeSize {
			continue
		}
		price, ok := prices[model.Pair(symbol, cfg.BaseCurrency)]
		if !ok || price <= 0 {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("no price for target %s, skipping", symbol))
			continue
		}
		buys = append(buys, model.TradeIntent{
			Symbol:     symbol,
			Side:       model.Buy,
			Quantity:   shortfall / price,
			QuoteValue: shortfall,
			Reason:     fmt.Sprintf("rebalance: increase %s by $%.2f", symbol, shortfall),
		})
	}

	sort.Slice(sells, func(i, j int) bool { return sells[i].Symbol < sells[j].Symbol })
	sort.Slice(buys, func(i, j int) bool { return buys[i].Symbol < buys[j].Symbol })

	plan.Intents = append(sells, buys...)
	return plan
}
