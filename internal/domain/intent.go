package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// TradeIntent is a transient request to act on a symbol. It is never persisted.
type TradeIntent struct {
	Symbol      string
	Side        IntentSide
	Rationale   string
	Confidence  float64     // 0.0 - 1.0
	CloseReason CloseReason // Set for FORCE_CLOSE intents only
}

// IsForced reports whether the intent is a forced exit.
func (i TradeIntent) IsForced() bool {
	return i.Side == IntentForceClose
}

// Analysis is the validated result of one analysis engine call.
type Analysis struct {
	Symbol     string
	Date       time.Time
	Decision   Decision
	Confidence float64
	Rationale  map[string]string // Insight name -> excerpt (market, news, research, risk)
}

// HoldAnalysis is the result used whenever the engine fails or returns garbage.
func HoldAnalysis(symbol string, date time.Time) Analysis {
	return Analysis{Symbol: symbol, Date: date, Decision: DecisionHold, Confidence: 0}
}

// ParseDecision normalises a raw decision string. ok is false for anything
// other than BUY, SELL or HOLD.
func ParseDecision(raw string) (Decision, bool) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(raw))); d {
	case DecisionBuy, DecisionSell, DecisionHold:
		return d, true
	default:
		return DecisionHold, false
	}
}

// ValidConfidence reports whether c is a usable confidence score.
func ValidConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

// Intent converts the analysis into a trade intent. HOLD yields ok=false.
func (a Analysis) Intent() (TradeIntent, bool) {
	var side IntentSide
	switch a.Decision {
	case DecisionBuy:
		side = IntentBuy
	case DecisionSell:
		side = IntentSell
	default:
		return TradeIntent{}, false
	}
	return TradeIntent{
		Symbol:     a.Symbol,
		Side:       side,
		Rationale:  a.Summary(),
		Confidence: a.Confidence,
	}, true
}

// Summary flattens the rationale into a single line in a stable order.
func (a Analysis) Summary() string {
	if len(a.Rationale) == 0 {
		return ""
	}
	order := []string{"market", "news", "research", "risk"}
	seen := make(map[string]bool, len(order))
	parts := make([]string, 0, len(a.Rationale))
	for _, k := range order {
		if v, ok := a.Rationale[k]; ok {
			parts = append(parts, k+": "+v)
			seen[k] = true
		}
	}
	extra := make([]string, 0)
	for k := range a.Rationale {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		parts = append(parts, k+": "+a.Rationale[k])
	}
	return strings.Join(parts, " | ")
}
