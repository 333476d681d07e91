package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TradingMode string

const (
	Simulated TradingMode = "simulated"
	Live      TradingMode = "live"
)

type TradingConfig struct {
	DustThreshold  float64 `yaml:"dust_threshold"`   // positions below this quote value are ignored
	MinTradeSize   float64 `yaml:"min_trade_size"`   // smallest order the diff engine will emit
	SlippagePct    float64 `yaml:"slippage_pct"`     // simulated fill degradation, e.g. 0.001
	MaxPositionPct float64 `yaml:"max_position_pct"` // largest single allocation accepted from the decision service
}

const (
	_dustThresholdDefault  = 1.0
	_minTradeSizeDefault   = 10.0
	_slippagePctDefault    = 0.001
	_maxPositionPctDefault = 0.8
)

func (c *TradingConfig) Setup() {
	if c.DustThreshold <= 0 {
		c.DustThreshold = _dustThresholdDefault
	}
	if c.MinTradeSize <= 0 {
		c.MinTradeSize = _minTradeSizeDefault
	}
	if c.SlippagePct <= 0 {
		c.SlippagePct = _slippagePctDefault
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		c.MaxPositionPct = _maxPositionPctDefault
	}
}

type AllocatorConfig struct {
	MinAllocation   float64       `yaml:"min_allocation"`
	MaxAllocation   float64       `yaml:"max_allocation"`
	LearningRate    float64       `yaml:"learning_rate"`
	RebalancePeriod time.Duration `yaml:"rebalance_period"`
}

const (
	_minAllocationDefault   = 0.05
	_maxAllocationDefault   = 0.5
	_learningRateDefault    = 0.1
	_rebalancePeriodDefault = 24 * time.Hour
)

func (c *AllocatorConfig) Setup() error {
	if c.MinAllocation <= 0 {
		c.MinAllocation = _minAllocationDefault
	}
	if c.MaxAllocation <= 0 {
		c.MaxAllocation = _maxAllocationDefault
	}
	if c.MinAllocation >= c.MaxAllocation {
		return fmt.Errorf("min allocation %f must be below max allocation %f", c.MinAllocation, c.MaxAllocation)
	}
	if c.LearningRate <= 0 {
		c.LearningRate = _learningRateDefault
	}
	if c.RebalancePeriod <= 0 {
		c.RebalancePeriod = _rebalancePeriodDefault
	}
	return nil
}

type ExchangeConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	// credentials come from the environment, never from the yaml file
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

const (
	_exchangeBaseURLDefault = "https://api.binance.com"
	_exchangeTimeoutDefault = 15 * time.Second
)

func (c *ExchangeConfig) Setup() {
	if c.BaseURL == "" {
		c.BaseURL = _exchangeBaseURLDefault
	}
	if c.Timeout <= 0 {
		c.Timeout = _exchangeTimeoutDefault
	}
}

type BrainConfig struct {
	Model string `yaml:"model"`

	APIKey string `yaml:"-"`
}

const _brainModelDefault = "gemini-2.5-pro"

func (c *BrainConfig) Setup() {
	if c.Model == "" {
		c.Model = _brainModelDefault
	}
}

type BotConfig struct {
	Mode            TradingMode     `yaml:"mode"`
	InitialCapital  float64         `yaml:"initial_capital"`
	BaseCurrency    string          `yaml:"base_currency"`
	UniverseLimit   int             `yaml:"universe_limit"`
	LoopInterval    time.Duration   `yaml:"loop_interval"`
	BenchmarkSymbol string          `yaml:"benchmark_symbol"`
	ServerPort      string          `yaml:"server_port"`
	Trading         TradingConfig   `yaml:"trading"`
	Allocator       AllocatorConfig `yaml:"allocator"`
	Exchange        ExchangeConfig  `yaml:"exchange"`
	Brain           BrainConfig     `yaml:"brain"`
}

const (
	_initialCapitalDefault  = 250.0
	_baseCurrencyDefault    = "USDT"
	_universeLimitDefault   = 50
	_loopIntervalDefault    = 2 * time.Hour
	_benchmarkSymbolDefault = "BTC"
	_serverPortDefault      = "8080"
)

func (c *BotConfig) ValidateAndSetup() error {
	switch c.Mode {
	case Simulated, Live:
	case "":
		c.Mode = Simulated
	default:
		return fmt.Errorf("unknown trading mode: %s", c.Mode)
	}

	if c.InitialCapital <= 0 {
		c.InitialCapital = _initialCapitalDefault
	}
	if c.BaseCurrency == "" {
		c.BaseCurrency = _baseCurrencyDefault
	}
	if c.UniverseLimit <= 0 {
		c.UniverseLimit = _universeLimitDefault
	}
	if c.LoopInterval <= 0 {
		c.LoopInterval = _loopIntervalDefault
	}
	if c.BenchmarkSymbol == "" {
		c.BenchmarkSymbol = _benchmarkSymbolDefault
	}
	if c.ServerPort == "" {
		c.ServerPort = _serverPortDefault
	}

	c.Trading.Setup()
	if err := c.Allocator.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup allocator", err)
	}
	c.Exchange.Setup()
	c.Brain.Setup()

	if c.Mode == Live && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("live mode requires BINANCE_API_KEY and BINANCE_API_SECRET")
	}

	return nil
}

func LoadBotConfig(filename string) (BotConfig, error) {
	var cfg BotConfig
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	cfg.Exchange.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.Exchange.APISecret = os.Getenv("BINANCE_API_SECRET")
	cfg.Brain.APIKey = os.Getenv("GEMINI_API_KEY")

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}
