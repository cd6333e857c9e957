// Package analytics derives performance statistics from the realized-trade log.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
)

// PerformanceMetrics summarizes a sequence of realized trades.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades   int
	WinningTrades int
	LosingTrades  int // Includes break-even trades
	WinRate       float64
	TotalPnL      decimal.Decimal
	GrossProfit   decimal.Decimal
	GrossLoss     decimal.Decimal // Positive magnitude
	AverageWin    decimal.Decimal
	AverageLoss   decimal.Decimal // Negative or zero
	ProfitFactor  float64         // GrossProfit / GrossLoss; 0 when there are no losses
	Expectancy    decimal.Decimal // Average P&L per trade
	FinalBalance  decimal.Decimal
	ReturnPct     float64

	// Streaks and timing
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHoldTime      time.Duration

	// Realized drawdown, measured on the balance after each close
	MaxDrawdown float64
	EquityCurve []EquityPoint

	ByReason map[domain.CloseReason]int
	DailyPnL map[string]decimal.Decimal // Keyed by closing date (YYYY-MM-DD)
}

// EquityPoint is the realized balance right after a close.
type EquityPoint struct {
	Time     time.Time
	Value    decimal.Decimal
	Drawdown float64
}

// DailyReturn is one entry of the per-day P&L series.
type DailyReturn struct {
	Date string
	PnL  decimal.Decimal
}

// AnalyzePerformance computes metrics over trades starting from initialBalance.
// The input slice is not modified.
func AnalyzePerformance(trades []*domain.RealizedTrade, initialBalance decimal.Decimal) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance: initialBalance,
		ByReason:     make(map[domain.CloseReason]int),
		DailyPnL:     make(map[string]decimal.Decimal),
		EquityCurve:  make([]EquityPoint, 0, len(trades)),
	}
	if len(trades) == 0 {
		return metrics
	}

	ordered := make([]*domain.RealizedTrade, 0, len(trades))
	for _, tr := range trades {
		if tr != nil {
			ordered = append(ordered, tr)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ClosedAt.Before(ordered[j].ClosedAt)
	})

	balance := initialBalance
	peak := initialBalance
	var consecutiveWins, consecutiveLosses int
	var totalHold time.Duration

	for _, trade := range ordered {
		metrics.TotalTrades++
		metrics.ByReason[trade.CloseReason]++
		metrics.TotalPnL = metrics.TotalPnL.Add(trade.PnL)

		if trade.IsWin() {
			metrics.WinningTrades++
			metrics.GrossProfit = metrics.GrossProfit.Add(trade.PnL)
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss = metrics.GrossLoss.Add(trade.PnL.Neg())
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = consecutiveLosses
		}

		day := trade.ClosedAt.Format(time.DateOnly)
		metrics.DailyPnL[day] = metrics.DailyPnL[day].Add(trade.PnL)

		if !trade.OpenedAt.IsZero() && trade.ClosedAt.After(trade.OpenedAt) {
			totalHold += trade.ClosedAt.Sub(trade.OpenedAt)
		}

		balance = balance.Add(trade.PnL)
		if balance.GreaterThan(peak) {
			peak = balance
		}
		dd := drawdown(peak, balance)
		if dd > metrics.MaxDrawdown {
			metrics.MaxDrawdown = dd
		}
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{Time: trade.ClosedAt, Value: balance, Drawdown: dd})
	}

	metrics.FinalBalance = balance
	if metrics.TotalTrades == 0 {
		return metrics
	}

	n := decimal.NewFromInt(int64(metrics.TotalTrades))
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	metrics.Expectancy = metrics.TotalPnL.Div(n)
	metrics.AverageHoldTime = totalHold / time.Duration(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit.Div(decimal.NewFromInt(int64(metrics.WinningTrades)))
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = metrics.GrossLoss.Neg().Div(decimal.NewFromInt(int64(metrics.LosingTrades)))
	}
	if metrics.GrossLoss.IsPositive() {
		metrics.ProfitFactor = metrics.GrossProfit.Div(metrics.GrossLoss).InexactFloat64()
	}
	if initialBalance.IsPositive() {
		metrics.ReturnPct = balance.Sub(initialBalance).Div(initialBalance).InexactFloat64()
	}
	return metrics
}

// GetDailyReturns returns the per-day P&L sorted by date.
func (m *PerformanceMetrics) GetDailyReturns() []DailyReturn {
	returns := make([]DailyReturn, 0, len(m.DailyPnL))
	for day, pnl := range m.DailyPnL {
		returns = append(returns, DailyReturn{Date: day, PnL: pnl})
	}
	// DateOnly strings sort chronologically.
	sort.Slice(returns, func(i, j int) bool { return returns[i].Date < returns[j].Date })
	return returns
}

func drawdown(peak, value decimal.Decimal) float64 {
	if !peak.IsPositive() || value.GreaterThanOrEqual(peak) {
		return 0
	}
	return peak.Sub(value).Div(peak).InexactFloat64()
}
