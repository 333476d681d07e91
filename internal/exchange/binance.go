package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brianpgerson/claude-moneymaker/internal/config"
	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
	"github.com/brianpgerson/claude-moneymaker/internal/tools"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const (
	_accountURL      = "/api/v3/account"
	_openOrdersURL   = "/api/v3/openOrders"
	_orderURL        = "/api/v3/order"
	_ticker24hURL    = "/api/v3/ticker/24hr"
	_exchangeInfoURL = "/api/v3/exchangeInfo"
)

// Binance talks to the Binance spot REST API. Public endpoints work
// without credentials; private endpoints are HMAC-signed and fail with
// ErrNoCredentials when no key is configured, so simulated runs never
// need real keys.
type Binance struct {
	c      *resty.Client
	cfg    config.ExchangeConfig
	quote  string
	logger logger.Logger

	ordersRateLimiter ratelimit.Limiter // 50 T/10s
	marketRateLimiter ratelimit.Limiter // stay well under 6000 weight/M

	stepsMu     sync.Mutex
	stepsLoaded bool
	steps       map[string]float64 // pair -> LOT_SIZE step
}

func NewBinance(cfg config.ExchangeConfig, quoteCurrency string, logger logger.Logger) *Binance {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &Binance{
		c:                 client,
		cfg:               cfg,
		quote:             quoteCurrency,
		logger:            logger,
		ordersRateLimiter: ratelimit.New(50, ratelimit.Per(10*time.Second)),
		marketRateLimiter: ratelimit.New(20, ratelimit.Per(time.Second)),
	}
}

func (b *Binance) Close() error {
	return b.c.Close()
}

// pairToAPI converts "DOGE/USDT" to Binance's "DOGEUSDT".
func pairToAPI(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

func (b *Binance) pairFromAPI(s string) (string, bool) {
	base, ok := strings.CutSuffix(s, b.quote)
	if !ok || base == "" {
		return "", false
	}
	return model.Pair(base, b.quote), true
}

func (b *Binance) sign(params url.Values) (url.Values, error) {
	if b.cfg.APIKey == "" || b.cfg.APISecret == "" {
		return nil, ErrNoCredentials
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return params, nil
}

func (b *Binance) signedRequest(ctx context.Context, params url.Values) (*resty.Request, error) {
	signed, err := b.sign(params)
	if err != nil {
		return nil, err
	}
	return b.c.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", b.cfg.APIKey).
		SetQueryParamsFromValues(signed).
		SetError(&APIError{}), nil
}

func respError(resp *resty.Response) error {
	if apiErr, ok := resp.Error().(*APIError); ok && apiErr.Message != "" {
		return apiErr
	}
	return fmt.Errorf("unexpected response status %s", resp.Status())
}

type binanceBalance struct {
	Asset string `json:"asset"`
	Free  string `json:"free"`
}

type binanceAccount struct {
	Balances []binanceBalance `json:"balances"`
}

func (b *Binance) FetchBalance(ctx context.Context) (model.Balances, error) {
	req, err := b.signedRequest(ctx, url.Values{})
	if err != nil {
		return nil, err
	}

	b.marketRateLimiter.Take()
	resp, err := req.SetResult(&binanceAccount{}).Get(_accountURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch balance", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("%w: can't fetch balance", respError(resp))
	}

	account := resp.Result().(*binanceAccount)
	balances := make(model.Balances, len(account.Balances))
	for _, bal := range account.Balances {
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil || free <= 0 {
			continue
		}
		balances[bal.Asset] = free
	}
	return balances, nil
}

type binanceOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Status      string `json:"status"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Price       string `json:"price"`
	QuoteQty    string `json:"cummulativeQuoteQty"`
}

func (b *Binance) FetchOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	req, err := b.signedRequest(ctx, url.Values{})
	if err != nil {
		return nil, err
	}

	b.ordersRateLimiter.Take()
	resp, err := req.SetResult(&[]binanceOrder{}).Get(_openOrdersURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch open orders", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("%w: can't fetch open orders", respError(resp))
	}

	raw := *resp.Result().(*[]binanceOrder)
	orders := make([]OpenOrder, 0, len(raw))
	for _, o := range raw {
		pair, ok := b.pairFromAPI(o.Symbol)
		if !ok {
			continue
		}
		quantity, _ := strconv.ParseFloat(o.OrigQty, 64)
		price, _ := strconv.ParseFloat(o.Price, 64)
		side := model.Buy
		if o.Side == "SELL" {
			side = model.Sell
		}
		orders = append(orders, OpenOrder{
			ID:       strconv.FormatInt(o.OrderID, 10),
			Symbol:   pair,
			Side:     side,
			Quantity: quantity,
			Price:    price,
		})
	}
	return orders, nil
}

func (b *Binance) CancelOrder(ctx context.Context, id, symbol string) error {
	params := url.Values{}
	params.Set("symbol", pairToAPI(symbol))
	params.Set("orderId", id)

	req, err := b.signedRequest(ctx, params)
	if err != nil {
		return err
	}

	b.ordersRateLimiter.Take()
	resp, err := req.Delete(_orderURL)
	if err != nil {
		return fmt.Errorf("%w: can't cancel order %s", err, id)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("%w: can't cancel order %s", respError(resp), id)
	}
	return nil
}

type binanceFill struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type binanceOrderResponse struct {
	OrderID     int64         `json:"orderId"`
	Status      string        `json:"status"`
	ExecutedQty string        `json:"executedQty"`
	QuoteQty    string        `json:"cummulativeQuoteQty"`
	Fills       []binanceFill `json:"fills"`
}

func (b *Binance) createOrder(ctx context.Context, symbol string, side model.OrderSide, orderType string, quantity, price float64) (FillResult, error) {
	quantity = tools.RoundToStep(quantity, b.stepSize(ctx, symbol))
	if quantity <= 0 {
		return FillResult{}, fmt.Errorf("quantity for %s rounds to zero", symbol)
	}

	params := url.Values{}
	params.Set("symbol", pairToAPI(symbol))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", orderType)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	if orderType == "LIMIT" {
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	}

	req, err := b.signedRequest(ctx, params)
	if err != nil {
		return FillResult{}, err
	}

	b.ordersRateLimiter.Take()
	resp, err := req.SetResult(&binanceOrderResponse{}).Post(_orderURL)
	if err != nil {
		return FillResult{}, fmt.Errorf("%w: can't create %s %s order", err, side, symbol)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return FillResult{}, fmt.Errorf("%w: can't create %s %s order", respError(resp), side, symbol)
	}

	order := resp.Result().(*binanceOrderResponse)
	filled, _ := strconv.ParseFloat(order.ExecutedQty, 64)
	cost, _ := strconv.ParseFloat(order.QuoteQty, 64)

	result := FillResult{
		OrderID:        strconv.FormatInt(order.OrderID, 10),
		Status:         order.Status,
		FilledQuantity: filled,
		Cost:           cost,
	}

	// volume-weighted average over reported fills when present
	var fillQty, fillCost float64
	for _, f := range order.Fills {
		p, _ := strconv.ParseFloat(f.Price, 64)
		q, _ := strconv.ParseFloat(f.Qty, 64)
		fillQty += q
		fillCost += p * q
	}
	if fillQty > 0 {
		result.AveragePrice = fillCost / fillQty
	}

	return result, nil
}

func (b *Binance) CreateMarketOrder(ctx context.Context, symbol string, side model.OrderSide, quantity float64) (FillResult, error) {
	return b.createOrder(ctx, symbol, side, "MARKET", quantity, 0)
}

func (b *Binance) CreateLimitOrder(ctx context.Context, symbol string, side model.OrderSide, quantity, price float64) (FillResult, error) {
	return b.createOrder(ctx, symbol, side, "LIMIT", quantity, price)
}

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
}

func (t binanceTicker) toModel(pair string) model.Ticker {
	last, _ := strconv.ParseFloat(t.LastPrice, 64)
	change, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(t.QuoteVolume, 64)
	high, _ := strconv.ParseFloat(t.HighPrice, 64)
	low, _ := strconv.ParseFloat(t.LowPrice, 64)
	return model.Ticker{
		Symbol:      pair,
		Last:        last,
		Change24h:   change,
		QuoteVolume: volume,
		High24h:     high,
		Low24h:      low,
	}
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	b.marketRateLimiter.Take()
	resp, err := b.c.R().
		SetContext(ctx).
		SetQueryParam("symbol", pairToAPI(symbol)).
		SetResult(&binanceTicker{}).
		SetError(&APIError{}).
		Get(_ticker24hURL)
	if err != nil {
		return model.Ticker{}, fmt.Errorf("%w: can't fetch ticker %s", err, symbol)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return model.Ticker{}, fmt.Errorf("%w: can't fetch ticker %s", respError(resp), symbol)
	}

	return resp.Result().(*binanceTicker).toModel(symbol), nil
}

// FetchTickers returns 24h tickers for every pair quoted in the
// settlement currency.
func (b *Binance) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	b.marketRateLimiter.Take()
	resp, err := b.c.R().
		SetContext(ctx).
		SetResult(&[]binanceTicker{}).
		SetError(&APIError{}).
		Get(_ticker24hURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch tickers", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("%w: can't fetch tickers", respError(resp))
	}

	raw := *resp.Result().(*[]binanceTicker)
	tickers := make([]model.Ticker, 0, len(raw))
	for _, t := range raw {
		pair, ok := b.pairFromAPI(t.Symbol)
		if !ok {
			continue
		}
		tickers = append(tickers, t.toModel(pair))
	}
	return tickers, nil
}

type binanceFilter struct {
	FilterType string `json:"filterType"`
	StepSize   string `json:"stepSize"`
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol  string          `json:"symbol"`
		Filters []binanceFilter `json:"filters"`
	} `json:"symbols"`
}

// stepSize returns the LOT_SIZE step for a pair, loading exchange info
// on first use and caching it. A failed load is retried on the next
// call so one bad request doesn't disable rounding for the process
// lifetime. Unknown pairs get step 0, which disables rounding rather
// than blocking the order.
func (b *Binance) stepSize(ctx context.Context, symbol string) float64 {
	b.stepsMu.Lock()
	defer b.stepsMu.Unlock()

	if !b.stepsLoaded {
		steps, err := b.loadStepSizes(ctx)
		if err != nil {
			b.logger.Warnf("%s: can't load exchange info, quantities won't be step-rounded", err)
			return 0
		}
		b.steps = steps
		b.stepsLoaded = true
	}

	return b.steps[symbol]
}

func (b *Binance) loadStepSizes(ctx context.Context) (map[string]float64, error) {
	b.marketRateLimiter.Take()
	resp, err := b.c.R().
		SetContext(ctx).
		SetResult(&binanceExchangeInfo{}).
		Get(_exchangeInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected response status %s", resp.Status())
	}

	steps := make(map[string]float64)
	info := resp.Result().(*binanceExchangeInfo)
	for _, s := range info.Symbols {
		pair, ok := b.pairFromAPI(s.Symbol)
		if !ok {
			continue
		}
		for _, f := range s.Filters {
			if f.FilterType != "LOT_SIZE" {
				continue
			}
			if step, err := strconv.ParseFloat(f.StepSize, 64); err == nil {
				steps[pair] = step
			}
		}
	}
	return steps, nil
}
