package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
)

// FillStatus is the terminal status of a submitted order.
type FillStatus string

const (
	FillStatusFilled   FillStatus = "FILLED"
	FillStatusRejected FillStatus = "REJECTED"
)

// OrderRequest describes a whole-unit market order.
type OrderRequest struct {
	Account     string           // Venue account identifier (may be empty for single-account venues)
	Symbol      string           // Instrument to trade
	Side        domain.OrderSide // BUY or SELL
	Quantity    int64            // Whole units, positive
	QuotedPrice decimal.Decimal  // Last price seen by the loop; paper fills use it verbatim
}

// OrderFill is the terminal outcome of SubmitOrder.
type OrderFill struct {
	Status    FillStatus
	FillPrice decimal.Decimal // Average fill price
	Quantity  int64           // Units filled
	OrderRef  string          // Venue order reference
	Reason    string          // Rejection detail, empty on fills
	FilledAt  time.Time
}

// ExecutionGateway routes orders to a venue. The simulated and the live
// implementations share this contract so the executor never branches on mode.
type ExecutionGateway interface {
	// CheckImpact runs the pre-trade check and returns a reference to pass to SubmitOrder.
	// An error or an empty reference means the order must not be submitted.
	CheckImpact(ctx context.Context, req OrderRequest) (tradeRef string, err error)

	// SubmitOrder places the order and blocks until the venue reports a terminal status.
	SubmitOrder(ctx context.Context, req OrderRequest, tradeRef string) (*OrderFill, error)

	// Simulated reports whether fills are synthesized locally.
	Simulated() bool
}
