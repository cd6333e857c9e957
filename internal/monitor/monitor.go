// Package monitor scans open positions and reports forced exits. It only
// reads prices; the caller applies marks and exits to the ledger.
package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
	"agentTrader/internal/market"
	"agentTrader/internal/ports"
)

// Config holds the monitor settings.
type Config struct {
	PriceTimeout   time.Duration // Per-symbol fetch timeout
	MaxConcurrency int           // Parallel price fetches
	Logger         ports.Logger
}

// Mark is a fresh price observed for an open position.
type Mark struct {
	Symbol string
	Price  decimal.Decimal
}

// Exit is a forced close the caller must execute.
type Exit struct {
	Position *domain.Position
	Price    decimal.Decimal
	Reason   domain.CloseReason
}

// Intent returns the exit as a FORCE_CLOSE trade intent.
func (e Exit) Intent() domain.TradeIntent {
	return domain.TradeIntent{
		Symbol:      e.Position.Symbol,
		Side:        domain.IntentForceClose,
		Rationale:   string(e.Reason),
		Confidence:  1,
		CloseReason: e.Reason,
	}
}

// Result is the outcome of one scan, ordered by symbol.
type Result struct {
	Marks   []Mark
	Exits   []Exit
	Skipped []string // Symbols whose price could not be fetched
}

// Monitor evaluates exit triggers for open positions.
type Monitor struct {
	prices   ports.MarketData
	calendar *market.Calendar
	cfg      Config
}

// New creates a monitor.
func New(prices ports.MarketData, calendar *market.Calendar, cfg Config) *Monitor {
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Monitor{prices: prices, calendar: calendar, cfg: cfg}
}

type observation struct {
	pos   *domain.Position
	price decimal.Decimal
	err   error
}

// Scan fetches a price for every position concurrently and evaluates exits.
// A position whose price is unavailable is skipped for this tick.
func (m *Monitor) Scan(ctx context.Context, positions []*domain.Position, now time.Time) Result {
	obs := make([]observation, len(positions))
	sem := make(chan struct{}, m.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i, pos := range positions {
		wg.Add(1)
		go func(i int, pos *domain.Position) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				obs[i] = observation{pos: pos, err: ctx.Err()}
				return
			}
			price, err := m.fetch(ctx, pos.Symbol)
			obs[i] = observation{pos: pos, price: price, err: err}
		}(i, pos)
	}
	wg.Wait()

	var res Result
	for _, o := range obs {
		if o.err != nil {
			res.Skipped = append(res.Skipped, o.pos.Symbol)
			if m.cfg.Logger != nil {
				m.cfg.Logger.Warn(ctx, "Price unavailable, skipping position this tick", map[string]interface{}{
					"symbol": o.pos.Symbol,
					"error":  o.err.Error(),
				})
			}
			continue
		}
		res.Marks = append(res.Marks, Mark{Symbol: o.pos.Symbol, Price: o.price})
		if reason, ok := m.EvaluateExit(o.pos, o.price, now); ok {
			res.Exits = append(res.Exits, Exit{Position: o.pos, Price: o.price, Reason: reason})
		}
	}
	sort.Slice(res.Marks, func(i, j int) bool { return res.Marks[i].Symbol < res.Marks[j].Symbol })
	sort.Slice(res.Exits, func(i, j int) bool { return res.Exits[i].Position.Symbol < res.Exits[j].Position.Symbol })
	sort.Strings(res.Skipped)
	return res
}

func (m *Monitor) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.PriceTimeout)
	defer cancel()
	price, err := m.prices.GetPrice(fetchCtx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, errors.Join(ports.ErrPriceUnavailable, errors.New("non-positive price "+price.String()))
	}
	return price, nil
}

// EvaluateExit applies the exit triggers in precedence order: stop loss,
// take profit, then the pre-close window.
func (m *Monitor) EvaluateExit(pos *domain.Position, price decimal.Decimal, now time.Time) (domain.CloseReason, bool) {
	switch {
	case price.LessThanOrEqual(pos.StopLossPrice):
		return domain.CloseReasonStopLoss, true
	case price.GreaterThanOrEqual(pos.TakeProfitPrice):
		return domain.CloseReasonTakeProfit, true
	case m.calendar != nil && m.calendar.InPreCloseWindow(now):
		return domain.CloseReasonEndOfDay, true
	default:
		return "", false
	}
}
