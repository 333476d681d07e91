package brain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/brianpgerson/claude-moneymaker/internal/model"
)

// Brief is everything the decision service gets to see for one cycle.
type Brief struct {
	TotalValue   float64
	BaseCurrency string
	Holdings     map[string]model.HoldingSnapshot
	Universe     []model.Ticker
	FearGreed    *model.FearGreed
	LastDecision *model.Decision
}

func formatPrice(p float64) string {
	switch {
	case p < 0.0001:
		return fmt.Sprintf("$%.8f", p)
	case p < 1:
		return fmt.Sprintf("$%.6f", p)
	default:
		return fmt.Sprintf("$%.2f", p)
	}
}

func formatVolume(v float64) string {
	switch {
	case v > 1_000_000_000:
		return fmt.Sprintf("$%.1fB", v/1_000_000_000)
	case v > 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	default:
		return fmt.Sprintf("$%.0fK", v/1_000)
	}
}

func (b Brief) formatHoldings() string {
	if len(b.Holdings) == 0 {
		return fmt.Sprintf("No crypto holdings (100%% %s)", b.BaseCurrency)
	}

	symbols := make([]string, 0, len(b.Holdings))
	for symbol := range b.Holdings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var sb strings.Builder
	for _, symbol := range symbols {
		h := b.Holdings[symbol]
		fmt.Fprintf(&sb, "- %s: %.4f ($%.2f, %.1f%%, P&L: %+.1f%%)\n",
			symbol, h.Quantity, h.Value, h.Percent, h.PnLPct*100)
		if h.Thesis != "" {
			fmt.Fprintf(&sb, "  thesis: %s\n", h.Thesis)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// MarketSummary renders the universe table that goes both into the
// prompt and into the persisted decision record.
func (b Brief) MarketSummary() string {
	var sb strings.Builder
	sb.WriteString("| Symbol | Price | 24h % | Volume |\n")
	sb.WriteString("|--------|-------|-------|--------|\n")
	for _, t := range b.Universe {
		base, _, _ := strings.Cut(t.Symbol, "/")
		fmt.Fprintf(&sb, "| %-6s | %10s | %+6.1f%% | %7s |\n",
			base, formatPrice(t.Last), t.Change24h, formatVolume(t.QuoteVolume))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b Brief) prompt() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "CURRENT PORTFOLIO:\nTotal value: $%.2f\nHoldings:\n%s\n\n", b.TotalValue, b.formatHoldings())

	sb.WriteString("MARKET CONTEXT:\n")
	if b.FearGreed != nil {
		fmt.Fprintf(&sb, "- Fear & Greed Index: %d (%s)\n", b.FearGreed.Value, b.FearGreed.Label)
	} else {
		sb.WriteString("- Fear & Greed Index: unavailable\n")
	}
	for _, t := range b.Universe {
		if strings.HasPrefix(t.Symbol, "BTC/") {
			fmt.Fprintf(&sb, "- BTC 24h: %+.1f%%\n", t.Change24h)
			break
		}
	}
	sb.WriteString("\n")

	if b.LastDecision != nil {
		fmt.Fprintf(&sb, "LAST DECISION (%s):\n", b.LastDecision.Timestamp.Format("2006-01-02 15:04 MST"))
		if b.LastDecision.Outlook != "" {
			fmt.Fprintf(&sb, "- outlook: %s, conviction: %s\n", b.LastDecision.Outlook, b.LastDecision.Conviction)
		}
		for _, e := range b.LastDecision.Target.Entries {
			fmt.Fprintf(&sb, "- %s %.0f%%: %s\n", e.Symbol, e.Percent, e.Reasoning)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "UNIVERSE (top %d by volume):\n%s\n\n---\n\nSet your target portfolio allocation.", len(b.Universe), b.MarketSummary())
	return sb.String()
}
