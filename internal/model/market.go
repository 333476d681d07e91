package model

// Ticker is a 24h rolling window snapshot for one trading pair.
type Ticker struct {
	Symbol      string  `json:"symbol"` // trading pair, e.g. "DOGE/USDT"
	Last        float64 `json:"last"`
	Change24h   float64 `json:"change_24h"`
	QuoteVolume float64 `json:"quote_volume"`
	High24h     float64 `json:"high_24h"`
	Low24h      float64 `json:"low_24h"`
}

type FearGreed struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// Pair builds a trading pair symbol from a base asset and the quote
// (settlement) currency.
func Pair(base, quote string) string {
	return base + "/" + quote
}
