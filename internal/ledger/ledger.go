// Package ledger owns the account state: cash, open positions, daily counters
// and aggregate performance. It has a single writer (the trading loop) and
// therefore carries no locks; every mutating method validates fully before it
// changes anything, so a rejected call leaves the state untouched.
package ledger

import (
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
	"agentTrader/internal/ports"
)

// Ledger is the position and cash book for one trading account.
type Ledger struct {
	cash            decimal.Decimal
	initialBalance  decimal.Decimal
	dayStartEquity  decimal.Decimal
	dailyTrades     int
	consecLosses    int
	positions       map[string]*domain.Position
	lastPrices      map[string]decimal.Decimal
	perf            domain.Performance
	lastSummaryDate string
	version         int64
	updatedAt       time.Time

	entropy io.Reader
}

// New creates an empty ledger funded with initialBalance.
func New(initialBalance decimal.Decimal, now time.Time) (*Ledger, error) {
	if !initialBalance.IsPositive() {
		return nil, fmt.Errorf("initial balance must be positive, got %s: %w", initialBalance, ports.ErrInvalidRequest)
	}
	return &Ledger{
		cash:           initialBalance,
		initialBalance: initialBalance,
		dayStartEquity: initialBalance,
		positions:      make(map[string]*domain.Position),
		lastPrices:     make(map[string]decimal.Decimal),
		updatedAt:      now,
		entropy:        ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Restore rebuilds a ledger from a persisted snapshot.
func Restore(state *domain.AccountState) (*Ledger, error) {
	if state == nil {
		return nil, fmt.Errorf("restore ledger: nil snapshot: %w", ports.ErrIncompleteSnapshot)
	}
	if !state.InitialBalance.IsPositive() {
		return nil, fmt.Errorf("restore ledger: initial balance %s: %w", state.InitialBalance, ports.ErrIncompleteSnapshot)
	}
	if state.Cash.IsNegative() {
		return nil, fmt.Errorf("restore ledger: negative cash %s: %w", state.Cash, ports.ErrIncompleteSnapshot)
	}
	l := &Ledger{
		cash:            state.Cash,
		initialBalance:  state.InitialBalance,
		dayStartEquity:  state.DayStartEquity,
		dailyTrades:     state.DailyTradeCount,
		consecLosses:    state.ConsecutiveLossCount,
		positions:       make(map[string]*domain.Position, len(state.Positions)),
		lastPrices:      make(map[string]decimal.Decimal, len(state.Positions)),
		perf:            state.Performance,
		lastSummaryDate: state.LastSummaryDate,
		version:         state.Version,
		updatedAt:       state.UpdatedAt,
		entropy:         ulid.Monotonic(rand.Reader, 0),
	}
	if l.dayStartEquity.IsZero() {
		l.dayStartEquity = l.initialBalance
	}
	for sym, p := range state.Positions {
		if p == nil || p.Symbol != sym || p.Quantity <= 0 || !p.EntryPrice.IsPositive() {
			return nil, fmt.Errorf("restore ledger: invalid position %q: %w", sym, ports.ErrIncompleteSnapshot)
		}
		l.positions[sym] = p.Clone()
		if px, ok := state.LastPrices[sym]; ok && px.IsPositive() {
			l.lastPrices[sym] = px
		}
	}
	return l, nil
}

// CanOpen reports whether Open would succeed for the given order, without
// changing anything. Duplicate positions are reported before funds.
func (l *Ledger) CanOpen(symbol string, quantity int64, price decimal.Decimal) error {
	if quantity <= 0 {
		return fmt.Errorf("open %s: quantity %d: %w", symbol, quantity, ports.ErrInvalidQuantity)
	}
	if !price.IsPositive() {
		return fmt.Errorf("open %s: price %s: %w", symbol, price, ports.ErrInvalidPrice)
	}
	if _, exists := l.positions[symbol]; exists {
		return fmt.Errorf("open %s: %w", symbol, ports.ErrDuplicatePosition)
	}
	cost := price.Mul(decimal.NewFromInt(quantity))
	if cost.GreaterThan(l.cash) {
		return fmt.Errorf("open %s: cost %s exceeds cash %s: %w", symbol, cost.StringFixed(2), l.cash.StringFixed(2), ports.ErrInsufficientFunds)
	}
	return nil
}

// Open debits cash by quantity*price and records a new position with exit
// triggers derived from the given percentages.
func (l *Ledger) Open(symbol string, quantity int64, price, stopLossPct, takeProfitPct decimal.Decimal, now time.Time, orderRef string) (*domain.Position, error) {
	if err := l.CanOpen(symbol, quantity, price); err != nil {
		return nil, err
	}
	one := decimal.NewFromInt(1)
	if !stopLossPct.IsPositive() || !stopLossPct.LessThan(one) || !takeProfitPct.IsPositive() {
		return nil, fmt.Errorf("open %s: stop loss %s / take profit %s: %w", symbol, stopLossPct, takeProfitPct, ports.ErrInvalidRequest)
	}

	cost := price.Mul(decimal.NewFromInt(quantity))
	pos := &domain.Position{
		Symbol:           symbol,
		Quantity:         quantity,
		EntryPrice:       price,
		StopLossPrice:    price.Mul(one.Sub(stopLossPct)),
		TakeProfitPrice:  price.Mul(one.Add(takeProfitPct)),
		CostBasis:        cost,
		EntryTime:        now,
		ExternalOrderRef: orderRef,
	}

	l.cash = l.cash.Sub(cost)
	l.positions[symbol] = pos
	l.lastPrices[symbol] = price
	l.dailyTrades++
	l.touch(now)
	return pos.Clone(), nil
}

// Close credits cash with quantity*exitPrice, removes the position and
// returns the realized trade.
func (l *Ledger) Close(symbol string, exitPrice decimal.Decimal, reason domain.CloseReason, now time.Time, orderRef string) (*domain.RealizedTrade, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("close %s: %w", symbol, ports.ErrNoSuchPosition)
	}
	if !exitPrice.IsPositive() {
		return nil, fmt.Errorf("close %s: price %s: %w", symbol, exitPrice, ports.ErrInvalidPrice)
	}

	proceeds := exitPrice.Mul(decimal.NewFromInt(pos.Quantity))
	pnl := proceeds.Sub(pos.CostBasis)
	pnlPct := 0.0
	if pos.CostBasis.IsPositive() {
		pnlPct = pnl.Div(pos.CostBasis).InexactFloat64()
	}
	trade := &domain.RealizedTrade{
		ID:               ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		Symbol:           symbol,
		Quantity:         pos.Quantity,
		EntryPrice:       pos.EntryPrice,
		ExitPrice:        exitPrice,
		Proceeds:         proceeds,
		CostBasis:        pos.CostBasis,
		PnL:              pnl,
		PnLPct:           pnlPct,
		CloseReason:      reason,
		OpenedAt:         pos.EntryTime,
		ClosedAt:         now,
		ExternalOrderRef: orderRef,
	}

	l.cash = l.cash.Add(proceeds)
	delete(l.positions, symbol)
	delete(l.lastPrices, symbol)

	if pnl.IsPositive() {
		l.consecLosses = 0
		l.perf.WinningTrades++
	} else {
		l.consecLosses++
		l.perf.LosingTrades++
	}
	l.perf.TotalTrades++
	l.perf.TotalPnL = l.perf.TotalPnL.Add(pnl)
	l.perf.WinRate = float64(l.perf.WinningTrades) / float64(l.perf.TotalTrades)
	l.updateDrawdown()
	l.touch(now)
	return trade, nil
}

// MarkPrice records the latest observed price for an open position.
// Prices for symbols without a position are ignored.
func (l *Ledger) MarkPrice(symbol string, price decimal.Decimal, now time.Time) bool {
	if _, ok := l.positions[symbol]; !ok || !price.IsPositive() {
		return false
	}
	l.lastPrices[symbol] = price
	l.updateDrawdown()
	l.touch(now)
	return true
}

// ResetDaily zeroes the daily counters and starts a new P&L day at the
// current equity. date is recorded as the last summarized trading date.
func (l *Ledger) ResetDaily(date string, now time.Time) {
	l.dailyTrades = 0
	l.consecLosses = 0
	l.dayStartEquity = l.Equity()
	l.lastSummaryDate = date
	l.touch(now)
}

// Summary builds the daily summary record for date from the current state.
func (l *Ledger) Summary(date string, now time.Time) *domain.DailySummary {
	equity := l.Equity()
	dailyPnL := equity.Sub(l.dayStartEquity)
	pct := 0.0
	if l.dayStartEquity.IsPositive() {
		pct = dailyPnL.Div(l.dayStartEquity).InexactFloat64()
	}
	return &domain.DailySummary{
		Date:              date,
		Balance:           l.cash,
		Equity:            equity,
		DailyPnL:          dailyPnL,
		DailyPnLPct:       pct,
		TradeCount:        l.dailyTrades,
		OpenPositionCount: len(l.positions),
		WinRate:           l.perf.WinRate,
		MaxDrawdown:       l.perf.MaxDrawdown,
		CreatedAt:         now,
	}
}

// Equity returns cash plus the mark-to-market value of open positions. A
// position without an observed price is valued at its entry price.
func (l *Ledger) Equity() decimal.Decimal {
	equity := l.cash
	for sym, pos := range l.positions {
		px, ok := l.lastPrices[sym]
		if !ok {
			px = pos.EntryPrice
		}
		equity = equity.Add(px.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return equity
}

// Drawdown returns the current (initial - equity) / initial, floored at zero.
func (l *Ledger) Drawdown() float64 {
	dd := l.initialBalance.Sub(l.Equity()).Div(l.initialBalance).InexactFloat64()
	if dd < 0 {
		return 0
	}
	return dd
}

func (l *Ledger) updateDrawdown() {
	if dd := l.Drawdown(); dd > l.perf.MaxDrawdown {
		l.perf.MaxDrawdown = dd
	}
}

func (l *Ledger) touch(now time.Time) {
	l.version++
	l.updatedAt = now
}

// Snapshot returns a deep copy of the account state.
func (l *Ledger) Snapshot() *domain.AccountState {
	positions := make(map[string]*domain.Position, len(l.positions))
	for sym, p := range l.positions {
		positions[sym] = p.Clone()
	}
	prices := make(map[string]decimal.Decimal, len(l.lastPrices))
	for sym, px := range l.lastPrices {
		prices[sym] = px
	}
	return &domain.AccountState{
		Cash:                 l.cash,
		InitialBalance:       l.initialBalance,
		DayStartEquity:       l.dayStartEquity,
		DailyTradeCount:      l.dailyTrades,
		ConsecutiveLossCount: l.consecLosses,
		Positions:            positions,
		LastPrices:           prices,
		Performance:          l.perf,
		LastSummaryDate:      l.lastSummaryDate,
		Version:              l.version,
		UpdatedAt:            l.updatedAt,
	}
}

func (l *Ledger) Cash() decimal.Decimal           { return l.cash }
func (l *Ledger) InitialBalance() decimal.Decimal { return l.initialBalance }
func (l *Ledger) DailyTradeCount() int            { return l.dailyTrades }
func (l *Ledger) ConsecutiveLossCount() int       { return l.consecLosses }
func (l *Ledger) OpenPositionCount() int          { return len(l.positions) }
func (l *Ledger) Performance() domain.Performance { return l.perf }
func (l *Ledger) LastSummaryDate() string         { return l.lastSummaryDate }
func (l *Ledger) Version() int64                  { return l.version }

// HasPosition reports whether symbol is currently held.
func (l *Ledger) HasPosition(symbol string) bool {
	_, ok := l.positions[symbol]
	return ok
}

// Position returns a copy of the open position for symbol, or nil.
func (l *Ledger) Position(symbol string) *domain.Position {
	return l.positions[symbol].Clone()
}

// Positions returns copies of all open positions ordered by symbol.
func (l *Ledger) Positions() []*domain.Position {
	out := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LastPrice returns the last marked price for an open position.
func (l *Ledger) LastPrice(symbol string) (decimal.Decimal, bool) {
	px, ok := l.lastPrices[symbol]
	return px, ok
}

// UpdatedAt returns the time of the last mutation.
func (l *Ledger) UpdatedAt() time.Time { return l.updatedAt }
