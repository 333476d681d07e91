// Package market supplies the decision service's view of the world:
// the tradeable universe ranked by volume, and the fear & greed index.
package market

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
	"resty.dev/v3"
)

const (
	_fearGreedURL = "https://api.alternative.me"
	_fngPath      = "/fng/"

	// pairs below this 24h quote volume are too thin to trade
	_minQuoteVolume = 100_000
)

// TickerSource is the slice of the exchange the provider reads.
type TickerSource interface {
	FetchTickers(ctx context.Context) ([]model.Ticker, error)
}

var _stablecoins = map[string]struct{}{
	"USDC": {}, "USDT": {}, "DAI": {}, "BUSD": {}, "TUSD": {}, "USDP": {}, "FDUSD": {},
}

type Provider struct {
	tickers TickerSource
	fng     *resty.Client
	quote   string
	logger  logger.Logger
}

func NewProvider(tickers TickerSource, quoteCurrency string, logger logger.Logger) *Provider {
	client := resty.New().
		SetBaseURL(_fearGreedURL).
		SetTimeout(10 * time.Second)

	return &Provider{
		tickers: tickers,
		fng:     client,
		quote:   quoteCurrency,
		logger:  logger,
	}
}

func (p *Provider) Close() error {
	return p.fng.Close()
}

// GetUniverse returns the top pairs by 24h quote volume, stablecoin
// bases excluded.
func (p *Provider) GetUniverse(ctx context.Context, limit int) ([]model.Ticker, error) {
	tickers, err := p.tickers.FetchTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch universe", err)
	}

	universe := make([]model.Ticker, 0, len(tickers))
	for _, t := range tickers {
		base, _, ok := strings.Cut(t.Symbol, "/")
		if !ok {
			continue
		}
		if _, stable := _stablecoins[base]; stable {
			continue
		}
		if t.QuoteVolume < _minQuoteVolume || t.Last <= 0 {
			continue
		}
		universe = append(universe, t)
	}

	sort.Slice(universe, func(i, j int) bool {
		return universe[i].QuoteVolume > universe[j].QuoteVolume
	})
	if len(universe) > limit {
		universe = universe[:limit]
	}
	return universe, nil
}

type fngResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
	} `json:"data"`
}

// FearGreed fetches the alternative.me crypto fear & greed index.
func (p *Provider) FearGreed(ctx context.Context) (model.FearGreed, error) {
	resp, err := p.fng.R().
		SetContext(ctx).
		SetResult(&fngResponse{}).
		Get(_fngPath)
	if err != nil {
		return model.FearGreed{}, fmt.Errorf("%w: can't fetch fear & greed index", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return model.FearGreed{}, fmt.Errorf("fear & greed request error: %s", resp.Status())
	}

	data := resp.Result().(*fngResponse).Data
	if len(data) == 0 {
		return model.FearGreed{}, fmt.Errorf("empty fear & greed response")
	}

	value, err := strconv.Atoi(data[0].Value)
	if err != nil {
		return model.FearGreed{}, fmt.Errorf("%w: bad fear & greed value %q", err, data[0].Value)
	}
	return model.FearGreed{Value: value, Label: data[0].Classification}, nil
}
