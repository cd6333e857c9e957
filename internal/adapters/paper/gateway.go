// Package paper provides the simulated execution gateway. Orders fill
// immediately at the quoted price with no slippage.
package paper

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"agentTrader/internal/ports"
)

// Gateway fills every well-formed order at its quoted price.
type Gateway struct {
	clock  ports.Clock
	logger ports.Logger
}

// NewGateway creates a simulated gateway.
func NewGateway(clock ports.Clock, logger ports.Logger) *Gateway {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Gateway{clock: clock, logger: logger}
}

// Simulated always returns true.
func (g *Gateway) Simulated() bool { return true }

// CheckImpact validates the request shape and hands out a trade reference.
func (g *Gateway) CheckImpact(ctx context.Context, req ports.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("paper impact check: %w: %w", ports.ErrContextCanceled, err)
	}
	if req.Quantity <= 0 {
		return "", fmt.Errorf("paper impact check %s: %w", req.Symbol, ports.ErrInvalidQuantity)
	}
	if !req.QuotedPrice.IsPositive() {
		return "", fmt.Errorf("paper impact check %s: %w", req.Symbol, ports.ErrInvalidPrice)
	}
	return uuid.NewString(), nil
}

// SubmitOrder fills the full quantity at the quoted price.
func (g *Gateway) SubmitOrder(ctx context.Context, req ports.OrderRequest, tradeRef string) (*ports.OrderFill, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("paper submit: %w: %w", ports.ErrContextCanceled, err)
	}
	fill := &ports.OrderFill{
		Status:    ports.FillStatusFilled,
		FillPrice: req.QuotedPrice,
		Quantity:  req.Quantity,
		OrderRef:  "paper-" + tradeRef,
		FilledAt:  g.clock.Now(),
	}
	if g.logger != nil {
		g.logger.Debug(ctx, "Paper order filled", map[string]interface{}{
			"symbol":    req.Symbol,
			"side":      req.Side,
			"quantity":  req.Quantity,
			"price":     req.QuotedPrice.String(),
			"order_ref": fill.OrderRef,
		})
	}
	return fill, nil
}
