package risk

import (
	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
)

// PositionSize returns the capital to commit to one new position:
// min(balance * max_position_size_pct, balance * (1 - cash_reserve_pct)).
func PositionSize(balance decimal.Decimal, limits domain.RiskLimits) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}
	byPosition := balance.Mul(limits.MaxPositionSizePct)
	byReserve := balance.Mul(decimal.NewFromInt(1).Sub(limits.CashReservePct))
	return decimal.Min(byPosition, byReserve)
}

// Shares converts a capital amount into whole units at price, rounding down.
func Shares(size, price decimal.Decimal) int64 {
	if !price.IsPositive() || !size.IsPositive() {
		return 0
	}
	return size.Div(price).Floor().IntPart()
}

// SizeOrder sizes a new position. A result below one unit is reported as a
// SizeTooSmall denial and must not be executed.
func SizeOrder(balance, price decimal.Decimal, limits domain.RiskLimits) (int64, Verdict) {
	size := PositionSize(balance, limits)
	qty := Shares(size, price)
	counters := map[string]interface{}{
		"balance":  balance.StringFixed(2),
		"size":     size.StringFixed(2),
		"price":    price.String(),
		"quantity": qty,
	}
	if qty < 1 {
		return 0, Verdict{Reason: SizeTooSmall, Counters: counters}
	}
	return qty, Verdict{Approved: true, Counters: counters}
}
