package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
)

// DenialReason names the first risk check a trade intent failed.
type DenialReason string

const (
	DailyTradeLimit DenialReason = "DailyTradeLimit"
	CoolingDown     DenialReason = "CoolingDown"
	PositionLimit   DenialReason = "PositionLimit"
	DailyLossLimit  DenialReason = "DailyLossLimit"
	LowConfidence   DenialReason = "LowConfidence"
	AlreadyHolding  DenialReason = "AlreadyHolding"
	NoPosition      DenialReason = "NoPosition"
	SizeTooSmall    DenialReason = "SizeTooSmall"
)

// LedgerView is the read-only slice of the ledger the gate evaluates against.
type LedgerView interface {
	DailyTradeCount() int
	ConsecutiveLossCount() int
	OpenPositionCount() int
	InitialBalance() decimal.Decimal
	Equity() decimal.Decimal
	HasPosition(symbol string) bool
}

// Verdict is the outcome of a gate evaluation. A denial is a normal outcome, not an error.
type Verdict struct {
	Approved bool
	Reason   DenialReason
	Counters map[string]interface{} // State observed when the decision was made
}

// Fields returns the verdict as structured log fields.
func (v Verdict) Fields(intent domain.TradeIntent) map[string]interface{} {
	f := make(map[string]interface{}, len(v.Counters)+5)
	for k, val := range v.Counters {
		f[k] = val
	}
	f["symbol"] = intent.Symbol
	f["side"] = intent.Side
	f["confidence"] = intent.Confidence
	f["approved"] = v.Approved
	if !v.Approved {
		f["reason"] = v.Reason
	}
	return f
}

// Gate approves or denies trade intents against fixed risk limits. It holds
// no mutable state, so evaluating the same inputs twice gives the same answer.
type Gate struct {
	limits domain.RiskLimits
}

// NewGate creates a gate for the given limits.
func NewGate(limits domain.RiskLimits) *Gate {
	return &Gate{limits: limits}
}

// Limits returns the limits the gate enforces.
func (g *Gate) Limits() domain.RiskLimits {
	return g.limits
}

// Evaluate runs the checks in a fixed order and reports the first failure.
// Forced closes are always approved.
func (g *Gate) Evaluate(intent domain.TradeIntent, ledger LedgerView, now time.Time) Verdict {
	equity := ledger.Equity()
	loss := g.lossFraction(ledger.InitialBalance(), equity)
	counters := map[string]interface{}{
		"daily_trades":     ledger.DailyTradeCount(),
		"consec_losses":    ledger.ConsecutiveLossCount(),
		"open_positions":   ledger.OpenPositionCount(),
		"equity":           equity.StringFixed(2),
		"loss_pct":         loss.StringFixed(4),
		"evaluated_at":     now.Format(time.RFC3339),
		"confidence_floor": g.limits.ConfidenceThreshold,
	}
	deny := func(r DenialReason) Verdict { return Verdict{Reason: r, Counters: counters} }

	if intent.IsForced() {
		return Verdict{Approved: true, Counters: counters}
	}

	if ledger.DailyTradeCount() >= g.limits.MaxDailyTrades {
		return deny(DailyTradeLimit)
	}
	if ledger.ConsecutiveLossCount() >= g.limits.ConsecutiveLossLimit {
		return deny(CoolingDown)
	}
	if intent.Side == domain.IntentBuy && ledger.OpenPositionCount() >= g.limits.MaxConcurrentPositions {
		return deny(PositionLimit)
	}
	if loss.GreaterThan(g.limits.MaxDailyLossPct) {
		return deny(DailyLossLimit)
	}
	if intent.Confidence < g.limits.ConfidenceThreshold {
		return deny(LowConfidence)
	}

	switch intent.Side {
	case domain.IntentBuy:
		if ledger.HasPosition(intent.Symbol) {
			return deny(AlreadyHolding)
		}
	case domain.IntentSell:
		if !ledger.HasPosition(intent.Symbol) {
			return deny(NoPosition)
		}
	}
	return Verdict{Approved: true, Counters: counters}
}

func (g *Gate) lossFraction(initial, equity decimal.Decimal) decimal.Decimal {
	if !initial.IsPositive() {
		return decimal.Zero
	}
	return initial.Sub(equity).Div(initial)
}
