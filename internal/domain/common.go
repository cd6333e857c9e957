package domain

// OrderSide represents the side of a venue order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// IntentSide is the side of a trade intent produced within one loop iteration.
type IntentSide string

const (
	IntentBuy        IntentSide = "BUY"
	IntentSell       IntentSide = "SELL"
	IntentForceClose IntentSide = "FORCE_CLOSE"
)

// Decision is the recommendation returned by the analysis engine.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit CloseReason = "TAKE_PROFIT"
	CloseReasonEndOfDay   CloseReason = "END_OF_DAY"
	CloseReasonShutdown   CloseReason = "SHUTDOWN"
	CloseReasonSignal     CloseReason = "SIGNAL" // Analysis-driven SELL
	CloseReasonUnknown    CloseReason = "UNKNOWN"
)

// Forced reports whether the close was initiated by the monitor or the
// controller rather than by an analysis decision.
func (r CloseReason) Forced() bool {
	switch r {
	case CloseReasonStopLoss, CloseReasonTakeProfit, CloseReasonEndOfDay, CloseReasonShutdown:
		return true
	default:
		return false
	}
}

// ParseCloseReason converts a stored string back into a CloseReason.
func ParseCloseReason(s string) CloseReason {
	switch r := CloseReason(s); r {
	case CloseReasonStopLoss, CloseReasonTakeProfit, CloseReasonEndOfDay, CloseReasonShutdown, CloseReasonSignal:
		return r
	default:
		return CloseReasonUnknown
	}
}
