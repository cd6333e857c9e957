package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RealizedTrade is the immutable record appended on every close.
type RealizedTrade struct {
	ID               string          // Sortable identifier assigned by the ledger
	Symbol           string          // Instrument identifier
	Quantity         int64           // Units closed
	EntryPrice       decimal.Decimal // Price at which the position was entered
	ExitPrice        decimal.Decimal // Price at which the position was exited
	Proceeds         decimal.Decimal // Quantity * ExitPrice
	CostBasis        decimal.Decimal // Cost basis carried from the position
	PnL              decimal.Decimal // Proceeds - CostBasis
	PnLPct           float64         // PnL / CostBasis
	CloseReason      CloseReason     // Why the position was closed
	OpenedAt         time.Time       // Entry time of the position
	ClosedAt         time.Time       // Time the close was applied
	ExternalOrderRef string          // Venue order that closed the position
}

// IsWin reports whether the trade closed with a strictly positive P&L.
func (t *RealizedTrade) IsWin() bool {
	return t.PnL.IsPositive()
}
