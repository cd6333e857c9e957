// Package executor turns approved trade intents into venue orders and applies
// terminal fills to the ledger. The ledger is touched only after the gateway
// reports a fill, and exactly once per fill.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
	"agentTrader/internal/ledger"
	"agentTrader/internal/ports"
)

// Config holds the executor settings.
type Config struct {
	Account      string
	OrderTimeout time.Duration
	Limits       domain.RiskLimits
	Logger       ports.Logger
	Clock        ports.Clock
}

// Executor routes orders through one gateway and updates one ledger.
type Executor struct {
	gateway ports.ExecutionGateway
	ledger  *ledger.Ledger
	cfg     Config
}

// New creates an executor. The gateway decides whether fills are simulated.
func New(gateway ports.ExecutionGateway, l *ledger.Ledger, cfg Config) (*Executor, error) {
	if gateway == nil || l == nil {
		return nil, errors.New("executor requires a gateway and a ledger")
	}
	if cfg.Logger == nil {
		return nil, errors.New("executor requires a logger")
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	return &Executor{gateway: gateway, ledger: l, cfg: cfg}, nil
}

// Simulated reports whether the underlying gateway synthesizes fills.
func (e *Executor) Simulated() bool {
	return e.gateway.Simulated()
}

// Buy opens a position of quantity units at the quoted price.
func (e *Executor) Buy(ctx context.Context, symbol string, quantity int64, price decimal.Decimal, intent domain.TradeIntent) (*domain.Position, error) {
	const op = "buy"
	if err := e.ledger.CanOpen(symbol, quantity, price); err != nil {
		return nil, NewExecutionError(symbol, op, err)
	}

	req := ports.OrderRequest{
		Account:     e.cfg.Account,
		Symbol:      symbol,
		Side:        domain.Buy,
		Quantity:    quantity,
		QuotedPrice: price,
	}
	fill, err := e.route(ctx, op, req)
	if err != nil {
		return nil, err
	}

	filledQty := fill.Quantity
	if filledQty <= 0 {
		filledQty = quantity
	}
	limits := e.cfg.Limits
	pos, err := e.ledger.Open(symbol, filledQty, fill.FillPrice, limits.StopLossPct, limits.TakeProfitPct, e.cfg.Clock.Now(), fill.OrderRef)
	if err != nil {
		e.cfg.Logger.Error(ctx, err, op+": venue filled but ledger rejected the position", map[string]interface{}{
			"symbol":     symbol,
			"quantity":   filledQty,
			"fill_price": fill.FillPrice.String(),
			"order_ref":  fill.OrderRef,
		})
		return nil, NewExecutionError(symbol, op, err)
	}

	e.cfg.Logger.Info(ctx, "Position opened", map[string]interface{}{
		"symbol":      pos.Symbol,
		"quantity":    pos.Quantity,
		"entry_price": pos.EntryPrice.String(),
		"stop_loss":   pos.StopLossPrice.StringFixed(2),
		"take_profit": pos.TakeProfitPrice.StringFixed(2),
		"cost_basis":  pos.CostBasis.StringFixed(2),
		"confidence":  intent.Confidence,
		"rationale":   intent.Rationale,
		"simulated":   e.gateway.Simulated(),
	})
	return pos, nil
}

// Sell closes the whole position in symbol at the quoted price.
func (e *Executor) Sell(ctx context.Context, symbol string, price decimal.Decimal, reason domain.CloseReason) (*domain.RealizedTrade, error) {
	const op = "sell"
	pos := e.ledger.Position(symbol)
	if pos == nil {
		return nil, NewExecutionError(symbol, op, fmt.Errorf("close %s: %w", symbol, ports.ErrNoSuchPosition))
	}
	if !price.IsPositive() {
		return nil, NewExecutionError(symbol, op, fmt.Errorf("close %s: price %s: %w", symbol, price, ports.ErrInvalidPrice))
	}

	req := ports.OrderRequest{
		Account:     e.cfg.Account,
		Symbol:      symbol,
		Side:        domain.Sell,
		Quantity:    pos.Quantity,
		QuotedPrice: price,
	}
	fill, err := e.route(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if fill.Quantity > 0 && fill.Quantity < pos.Quantity {
		err := fmt.Errorf("partial close %d of %d units: %w", fill.Quantity, pos.Quantity, ports.ErrGatewayRejected)
		e.cfg.Logger.Error(ctx, err, op+": position needs manual reconciliation", map[string]interface{}{
			"symbol":    symbol,
			"order_ref": fill.OrderRef,
		})
		return nil, NewExecutionError(symbol, op, err)
	}

	trade, err := e.ledger.Close(symbol, fill.FillPrice, reason, e.cfg.Clock.Now(), fill.OrderRef)
	if err != nil {
		e.cfg.Logger.Error(ctx, err, op+": venue filled but ledger rejected the close", map[string]interface{}{
			"symbol":    symbol,
			"order_ref": fill.OrderRef,
		})
		return nil, NewExecutionError(symbol, op, err)
	}

	e.cfg.Logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol":        trade.Symbol,
		"quantity":      trade.Quantity,
		"entry_price":   trade.EntryPrice.String(),
		"exit_price":    trade.ExitPrice.String(),
		"pnl":           trade.PnL.StringFixed(2),
		"pnl_pct":       fmt.Sprintf("%.2f%%", trade.PnLPct*100),
		"close_reason":  trade.CloseReason,
		"closed_at":     trade.ClosedAt.Format(time.RFC3339),
		"consec_losses": e.ledger.ConsecutiveLossCount(),
		"simulated":     e.gateway.Simulated(),
	})
	return trade, nil
}

// route runs the impact check and the order submission under one timeout and
// returns only terminal fills.
func (e *Executor) route(ctx context.Context, op string, req ports.OrderRequest) (*ports.OrderFill, error) {
	orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	tradeRef, err := e.gateway.CheckImpact(orderCtx, req)
	if err != nil {
		return nil, NewExecutionError(req.Symbol, op, fmt.Errorf("impact check: %w: %w", ports.ErrGatewayRejected, err))
	}
	if tradeRef == "" {
		return nil, NewExecutionError(req.Symbol, op, fmt.Errorf("impact check returned no trade reference: %w", ports.ErrGatewayRejected))
	}

	fill, err := e.gateway.SubmitOrder(orderCtx, req, tradeRef)
	if err != nil {
		if errors.Is(orderCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ports.ErrTimeout) {
			err = fmt.Errorf("%w: %w", ports.ErrTimeout, err)
		}
		return nil, NewExecutionError(req.Symbol, op, fmt.Errorf("submit order %s: %w", tradeRef, err))
	}
	if fill == nil || fill.Status != ports.FillStatusFilled {
		reason := "no fill returned"
		if fill != nil {
			reason = fill.Reason
		}
		return nil, NewExecutionError(req.Symbol, op, fmt.Errorf("order %s %s: %w", tradeRef, reason, ports.ErrGatewayRejected))
	}
	if !fill.FillPrice.IsPositive() {
		return nil, NewExecutionError(req.Symbol, op, fmt.Errorf("order %s filled without a price: %w", tradeRef, ports.ErrGatewayRejected))
	}
	return fill, nil
}
