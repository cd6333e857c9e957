package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Performance holds the aggregate counters maintained by the ledger on every close.
type Performance struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      decimal.Decimal
	WinRate       float64 // WinningTrades / TotalTrades
	MaxDrawdown   float64 // Max over time of (initial - equity) / initial
}

// AccountState is a point-in-time copy of everything the ledger owns. It is
// what gets persisted, and it is enough to rebuild the ledger after a restart.
type AccountState struct {
	Cash                 decimal.Decimal
	InitialBalance       decimal.Decimal
	DayStartEquity       decimal.Decimal // Equity at the last daily reset, used for daily P&L
	DailyTradeCount      int
	ConsecutiveLossCount int
	Positions            map[string]*Position
	LastPrices           map[string]decimal.Decimal
	Performance          Performance
	LastSummaryDate      string // YYYY-MM-DD of the last emitted daily summary
	Version              int64  // Incremented on every ledger mutation
	UpdatedAt            time.Time
}

// DailySummary is the once-per-trading-day record emitted after the close.
type DailySummary struct {
	Date              string // YYYY-MM-DD in the market timezone
	Balance           decimal.Decimal
	Equity            decimal.Decimal
	DailyPnL          decimal.Decimal
	DailyPnLPct       float64
	TradeCount        int
	OpenPositionCount int
	WinRate           float64
	MaxDrawdown       float64
	CreatedAt         time.Time
}
