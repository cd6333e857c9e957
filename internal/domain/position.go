package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents one open long holding tracked by the ledger.
type Position struct {
	Symbol           string          // Instrument identifier (e.g., "AAPL")
	Quantity         int64           // Whole units held, always positive
	EntryPrice       decimal.Decimal // Fill price of the opening order
	StopLossPrice    decimal.Decimal // Forced exit at or below this price
	TakeProfitPrice  decimal.Decimal // Forced exit at or above this price
	CostBasis        decimal.Decimal // Quantity * EntryPrice at fill time
	EntryTime        time.Time       // Timestamp of the opening fill
	ExternalOrderRef string          // Venue order that created the position (empty in some paper fills)
}

// MarketValue returns the value of the position at the given price.
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL returns the open profit or loss at the given price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.MarketValue(price).Sub(p.CostBasis)
}

// Clone returns a copy that shares nothing with the receiver.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
