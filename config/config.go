package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"agentTrader/internal/adapters/logger"
	"agentTrader/internal/domain"
	"agentTrader/internal/market"
)

// Price sources accepted by PRICE_SOURCE.
const (
	PriceSourceYahoo   = "yahoo"
	PriceSourceBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Mode
	EnableLiveTrading bool            `envconfig:"ENABLE_LIVE_TRADING" default:"false"`
	InitialBalance    decimal.Decimal `envconfig:"INITIAL_BALANCE" default:"100"`
	TradingAccountID  string          `envconfig:"TRADING_ACCOUNT_ID"`

	// Binance API (live execution and the binance price source)
	APIKey    string `envconfig:"BINANCE_API_KEY"`
	SecretKey string `envconfig:"BINANCE_API_SECRET"`
	IsTestnet bool   `envconfig:"IS_TESTNET" default:"true"`

	// Analysis service
	AnalysisURL     string `envconfig:"ANALYSIS_URL" default:"http://localhost:8000"`
	AnalysisAPIKey  string `envconfig:"ANALYSIS_API_KEY"`
	AnalysisRetries int    `envconfig:"ANALYSIS_RETRIES" default:"2"`

	// Risk limits
	MaxDailyLossPct        decimal.Decimal `envconfig:"MAX_DAILY_LOSS_PCT" default:"0.20"`
	MaxPositionSizePct     decimal.Decimal `envconfig:"MAX_POSITION_SIZE_PCT" default:"0.10"`
	CashReservePct         decimal.Decimal `envconfig:"CASH_RESERVE_PCT" default:"0.20"`
	StopLossPct            decimal.Decimal `envconfig:"STOP_LOSS_PCT" default:"0.05"`
	TakeProfitPct          decimal.Decimal `envconfig:"TAKE_PROFIT_PCT" default:"0.10"`
	MaxDailyTrades         int             `envconfig:"MAX_DAILY_TRADES" default:"10"`
	MaxConcurrentPositions int             `envconfig:"MAX_CONCURRENT_POSITIONS" default:"3"`
	ConsecutiveLossLimit   int             `envconfig:"CONSECUTIVE_LOSS_LIMIT" default:"3"`
	ConfidenceThreshold    float64         `envconfig:"CONFIDENCE_THRESHOLD" default:"0.70"`
	AnalysisInterval       time.Duration   `envconfig:"ANALYSIS_INTERVAL" default:"15m"`
	RiskCheckInterval      time.Duration   `envconfig:"RISK_CHECK_INTERVAL" default:"5m"`

	// Loop pacing
	ClosedMarketSleep time.Duration `envconfig:"CLOSED_MARKET_SLEEP" default:"5m"`
	ErrorBackoff      time.Duration `envconfig:"ERROR_BACKOFF" default:"60s"`
	AnalysisPacing    time.Duration `envconfig:"ANALYSIS_PACING" default:"10s"`

	// Timeouts
	PriceTimeout    time.Duration `envconfig:"PRICE_TIMEOUT" default:"10s"`
	AnalysisTimeout time.Duration `envconfig:"ANALYSIS_TIMEOUT" default:"5m"`
	OrderTimeout    time.Duration `envconfig:"ORDER_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"2m"`

	// Market calendar
	MarketTimezone string        `envconfig:"MARKET_TIMEZONE" default:"America/New_York"`
	MarketOpen     string        `envconfig:"MARKET_OPEN" default:"09:30"`
	MarketClose    string        `envconfig:"MARKET_CLOSE" default:"16:00"`
	PreCloseWindow time.Duration `envconfig:"PRE_CLOSE_WINDOW" default:"15m"`
	SummaryCutoff  string        `envconfig:"SUMMARY_CUTOFF" default:"16:30"`

	// Storage and discovery
	DBPath                string `envconfig:"DB_PATH" default:"./data/agent_trader.db"`
	WatchlistPath         string `envconfig:"WATCHLIST_PATH"`
	OpportunitiesPerCycle int    `envconfig:"OPPORTUNITIES_PER_CYCLE" default:"3"`
	PriceSource           string `envconfig:"PRICE_SOURCE" default:"yahoo"`

	// Logging
	LogLevel logger.LogLevel `envconfig:"LOG_LEVEL" default:"INFO"`
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("environment processing failed: %w", err)
	}
	cfg.PriceSource = strings.ToLower(strings.TrimSpace(cfg.PriceSource))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and returns every problem joined.
func (c *Config) Validate() error {
	var errs []error

	if !c.InitialBalance.IsPositive() {
		errs = append(errs, fmt.Errorf("INITIAL_BALANCE must be positive, got %s", c.InitialBalance))
	}
	if c.EnableLiveTrading || c.PriceSource == PriceSourceBinance {
		if c.APIKey == "" {
			errs = append(errs, errors.New("BINANCE_API_KEY must be set for live trading or the binance price source"))
		}
		if c.SecretKey == "" {
			errs = append(errs, errors.New("BINANCE_API_SECRET must be set for live trading or the binance price source"))
		}
	}
	if c.EnableLiveTrading && c.PriceSource != PriceSourceBinance {
		errs = append(errs, fmt.Errorf("PRICE_SOURCE must be %q when live trading is enabled, got %q", PriceSourceBinance, c.PriceSource))
	}
	if strings.TrimSpace(c.AnalysisURL) == "" {
		errs = append(errs, errors.New("ANALYSIS_URL must be set"))
	}
	if c.AnalysisRetries < 0 {
		errs = append(errs, errors.New("ANALYSIS_RETRIES cannot be negative"))
	}

	if err := c.RiskLimits().Validate(); err != nil {
		errs = append(errs, err)
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"CLOSED_MARKET_SLEEP", c.ClosedMarketSleep},
		{"ERROR_BACKOFF", c.ErrorBackoff},
		{"PRICE_TIMEOUT", c.PriceTimeout},
		{"ANALYSIS_TIMEOUT", c.AnalysisTimeout},
		{"ORDER_TIMEOUT", c.OrderTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.val))
		}
	}
	if c.AnalysisPacing < 0 {
		errs = append(errs, errors.New("ANALYSIS_PACING cannot be negative"))
	}

	if _, err := c.Calendar(); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH must be set"))
	}
	if c.OpportunitiesPerCycle <= 0 {
		errs = append(errs, errors.New("OPPORTUNITIES_PER_CYCLE must be positive"))
	}
	switch c.PriceSource {
	case PriceSourceYahoo, PriceSourceBinance:
	default:
		errs = append(errs, fmt.Errorf("PRICE_SOURCE must be %q or %q, got %q", PriceSourceYahoo, PriceSourceBinance, c.PriceSource))
	}

	return errors.Join(errs...)
}

// RiskLimits returns the configured limits as the immutable domain value.
func (c *Config) RiskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxDailyLossPct:        c.MaxDailyLossPct,
		MaxPositionSizePct:     c.MaxPositionSizePct,
		CashReservePct:         c.CashReservePct,
		StopLossPct:            c.StopLossPct,
		TakeProfitPct:          c.TakeProfitPct,
		MaxDailyTrades:         c.MaxDailyTrades,
		MaxConcurrentPositions: c.MaxConcurrentPositions,
		ConsecutiveLossLimit:   c.ConsecutiveLossLimit,
		ConfidenceThreshold:    c.ConfidenceThreshold,
		AnalysisInterval:       c.AnalysisInterval,
		RiskCheckInterval:      c.RiskCheckInterval,
	}
}

// Calendar builds the market calendar from the configured session.
func (c *Config) Calendar() (*market.Calendar, error) {
	return market.NewCalendar(c.MarketTimezone, c.MarketOpen, c.MarketClose, c.PreCloseWindow, c.SummaryCutoff)
}
