package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentTrader/internal/domain"
	"agentTrader/internal/market"
	"agentTrader/internal/ports"
)

type mockPrices struct {
	mu     sync.Mutex
	prices map[string]string
	block  map[string]bool
	calls  int
}

func (m *mockPrices) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	m.calls++
	blocked := m.block[symbol]
	px, ok := m.prices[symbol]
	m.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return decimal.Zero, fmt.Errorf("%w: %w", ports.ErrTimeout, ctx.Err())
	}
	if !ok {
		return decimal.Zero, ports.ErrPriceUnavailable
	}
	return decimal.RequireFromString(px), nil
}

func position(symbol, entry string) *domain.Position {
	e := decimal.RequireFromString(entry)
	return &domain.Position{
		Symbol:          symbol,
		Quantity:        1,
		EntryPrice:      e,
		StopLossPrice:   e.Mul(decimal.RequireFromString("0.95")),
		TakeProfitPrice: e.Mul(decimal.RequireFromString("1.10")),
		CostBasis:       e,
	}
}

func nyTime(t *testing.T, hhmm string) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts, err := time.ParseInLocation("2006-01-02 15:04", "2025-03-10 "+hhmm, loc)
	require.NoError(t, err)
	return ts
}

func TestEvaluateExit_Precedence(t *testing.T) {
	m := New(nil, market.USEquities(), Config{})
	pos := position("TSLA", "100")
	midday := nyTime(t, "12:00")
	late := nyTime(t, "15:50")

	tests := []struct {
		name  string
		price string
		at    time.Time
		want  domain.CloseReason
	}{
		{name: "below stop", price: "94", at: midday, want: domain.CloseReasonStopLoss},
		{name: "at stop", price: "95", at: midday, want: domain.CloseReasonStopLoss},
		{name: "at take profit", price: "110", at: midday, want: domain.CloseReasonTakeProfit},
		{name: "stop beats end of day", price: "90", at: late, want: domain.CloseReasonStopLoss},
		{name: "take profit beats end of day", price: "120", at: late, want: domain.CloseReasonTakeProfit},
		{name: "end of day", price: "100", at: late, want: domain.CloseReasonEndOfDay},
		{name: "no action", price: "100", at: midday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := m.EvaluateExit(pos, decimal.RequireFromString(tt.price), tt.at)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestEvaluateExit_StopLossWinsWhenBothTrigger(t *testing.T) {
	m := New(nil, nil, Config{})
	pos := position("X", "100")
	pos.TakeProfitPrice = decimal.NewFromInt(90) // gapped thresholds
	reason, ok := m.EvaluateExit(pos, decimal.NewFromInt(92), time.Now())
	require.True(t, ok)
	assert.Equal(t, domain.CloseReasonStopLoss, reason)
}

func TestScan_SkipsMissingPricesAndSorts(t *testing.T) {
	prices := &mockPrices{prices: map[string]string{"NVDA": "94", "AAPL": "101", "SPY": "111"}}
	m := New(prices, market.USEquities(), Config{MaxConcurrency: 2, PriceTimeout: time.Second})

	res := m.Scan(context.Background(), []*domain.Position{
		position("SPY", "100"), position("QQQ", "100"), position("NVDA", "100"), position("AAPL", "100"),
	}, nyTime(t, "11:00"))

	assert.Equal(t, []string{"QQQ"}, res.Skipped)
	require.Len(t, res.Marks, 3)
	assert.Equal(t, "AAPL", res.Marks[0].Symbol)
	require.Len(t, res.Exits, 2)
	assert.Equal(t, "NVDA", res.Exits[0].Position.Symbol)
	assert.Equal(t, domain.CloseReasonStopLoss, res.Exits[0].Reason)
	assert.Equal(t, "SPY", res.Exits[1].Position.Symbol)
	assert.Equal(t, domain.CloseReasonTakeProfit, res.Exits[1].Reason)

	intent := res.Exits[0].Intent()
	assert.True(t, intent.IsForced())
	assert.Equal(t, domain.CloseReasonStopLoss, intent.CloseReason)
	assert.Equal(t, 4, prices.calls)
}

func TestScan_TimeoutDegradesToSkip(t *testing.T) {
	prices := &mockPrices{prices: map[string]string{"AAPL": "100"}, block: map[string]bool{"MSFT": true}}
	m := New(prices, nil, Config{PriceTimeout: 20 * time.Millisecond})

	res := m.Scan(context.Background(), []*domain.Position{position("MSFT", "100"), position("AAPL", "100")}, time.Now())
	assert.Equal(t, []string{"MSFT"}, res.Skipped)
	assert.Len(t, res.Marks, 1)
	assert.Empty(t, res.Exits)
}
