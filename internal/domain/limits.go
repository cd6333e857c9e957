package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultConfidenceThreshold is the minimum analysis confidence accepted by the risk gate.
const DefaultConfidenceThreshold = 0.70

// RiskLimits is an immutable snapshot of the risk configuration.
type RiskLimits struct {
	MaxDailyLossPct        decimal.Decimal
	MaxPositionSizePct     decimal.Decimal
	CashReservePct         decimal.Decimal
	StopLossPct            decimal.Decimal
	TakeProfitPct          decimal.Decimal
	MaxDailyTrades         int
	MaxConcurrentPositions int
	ConsecutiveLossLimit   int
	ConfidenceThreshold    float64
	AnalysisInterval       time.Duration
	RiskCheckInterval      time.Duration
}

// DefaultRiskLimits returns the conservative limits used when nothing is configured.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxDailyLossPct:        decimal.NewFromFloat(0.20),
		MaxPositionSizePct:     decimal.NewFromFloat(0.10),
		CashReservePct:         decimal.NewFromFloat(0.20),
		StopLossPct:            decimal.NewFromFloat(0.05),
		TakeProfitPct:          decimal.NewFromFloat(0.10),
		MaxDailyTrades:         10,
		MaxConcurrentPositions: 3,
		ConsecutiveLossLimit:   3,
		ConfidenceThreshold:    DefaultConfidenceThreshold,
		AnalysisInterval:       15 * time.Minute,
		RiskCheckInterval:      5 * time.Minute,
	}
}

// Validate checks every limit and returns all problems joined.
func (l RiskLimits) Validate() error {
	var errs []error
	one := decimal.NewFromInt(1)
	fraction := func(name string, v decimal.Decimal, allowZero bool) {
		if v.IsNegative() || v.GreaterThan(one) || (!allowZero && v.IsZero()) {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %s", name, v))
		}
	}
	fraction("max daily loss pct", l.MaxDailyLossPct, false)
	fraction("max position size pct", l.MaxPositionSizePct, false)
	fraction("cash reserve pct", l.CashReservePct, true)
	fraction("take profit pct", l.TakeProfitPct, false)
	if !l.StopLossPct.IsPositive() || !l.StopLossPct.LessThan(one) {
		errs = append(errs, fmt.Errorf("stop loss pct must be in (0, 1), got %s", l.StopLossPct))
	}
	if l.CashReservePct.Equal(one) {
		errs = append(errs, errors.New("cash reserve pct of 1 leaves nothing to trade"))
	}
	if l.MaxDailyTrades <= 0 {
		errs = append(errs, fmt.Errorf("max daily trades must be positive, got %d", l.MaxDailyTrades))
	}
	if l.MaxConcurrentPositions <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent positions must be positive, got %d", l.MaxConcurrentPositions))
	}
	if l.ConsecutiveLossLimit <= 0 {
		errs = append(errs, fmt.Errorf("consecutive loss limit must be positive, got %d", l.ConsecutiveLossLimit))
	}
	if l.ConfidenceThreshold < 0 || l.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold must be in [0, 1], got %v", l.ConfidenceThreshold))
	}
	if l.AnalysisInterval <= 0 {
		errs = append(errs, errors.New("analysis interval must be positive"))
	}
	if l.RiskCheckInterval <= 0 {
		errs = append(errs, errors.New("risk check interval must be positive"))
	}
	return errors.Join(errs...)
}
