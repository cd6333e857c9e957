package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentTrader/internal/adapters/paper"
	"agentTrader/internal/domain"
	"agentTrader/internal/ledger"
	"agentTrader/internal/ports"
)

type mockLogger struct {
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                         { return c.now }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type mockGateway struct {
	impactRef   string
	impactErr   error
	fill        *ports.OrderFill
	submitErr   error
	impactCalls int
	submits     []ports.OrderRequest
}

func (m *mockGateway) Simulated() bool { return false }

func (m *mockGateway) CheckImpact(ctx context.Context, req ports.OrderRequest) (string, error) {
	m.impactCalls++
	return m.impactRef, m.impactErr
}

func (m *mockGateway) SubmitOrder(ctx context.Context, req ports.OrderRequest, tradeRef string) (*ports.OrderFill, error) {
	m.submits = append(m.submits, req)
	return m.fill, m.submitErr
}

var t0 = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T, gw ports.ExecutionGateway, balance string) (*Executor, *ledger.Ledger, *mockLogger) {
	t.Helper()
	l, err := ledger.New(d(balance), t0)
	require.NoError(t, err)
	log := &mockLogger{}
	ex, err := New(gw, l, Config{
		Account:      "acct-1",
		OrderTimeout: time.Second,
		Limits:       domain.DefaultRiskLimits(),
		Logger:       log,
		Clock:        fixedClock{now: t0},
	})
	require.NoError(t, err)
	return ex, l, log
}

func filled(price string, qty int64) *ports.OrderFill {
	return &ports.OrderFill{Status: ports.FillStatusFilled, FillPrice: d(price), Quantity: qty, OrderRef: "venue-1", FilledAt: t0}
}

func TestBuy_AppliesFillAfterGateway(t *testing.T) {
	gw := &mockGateway{impactRef: "trade-1", fill: filled("50.10", 2)}
	ex, l, log := setup(t, gw, "1000")

	pos, err := ex.Buy(context.Background(), "AAPL", 2, d("50"), domain.TradeIntent{Symbol: "AAPL", Side: domain.IntentBuy, Confidence: 0.8})
	require.NoError(t, err)

	assert.True(t, d("50.10").Equal(pos.EntryPrice), "ledger uses the fill price")
	assert.True(t, d("899.8").Equal(l.Cash()))
	assert.Equal(t, "venue-1", pos.ExternalOrderRef)
	require.Len(t, gw.submits, 1)
	assert.Equal(t, "acct-1", gw.submits[0].Account)
	assert.Equal(t, domain.Buy, gw.submits[0].Side)
	assert.Contains(t, log.infoMsgs, "Position opened")
}

func TestBuy_GatewayFailuresLeaveLedgerUntouched(t *testing.T) {
	tests := []struct {
		name string
		gw   *mockGateway
	}{
		{name: "impact check error", gw: &mockGateway{impactErr: errors.New("boom")}},
		{name: "impact check without reference", gw: &mockGateway{}},
		{name: "rejected", gw: &mockGateway{impactRef: "r", fill: &ports.OrderFill{Status: ports.FillStatusRejected, Reason: "halted"}}},
		{name: "submit error", gw: &mockGateway{impactRef: "r", submitErr: ports.ErrVenueUnavailable}},
		{name: "filled without price", gw: &mockGateway{impactRef: "r", fill: &ports.OrderFill{Status: ports.FillStatusFilled}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, l, _ := setup(t, tt.gw, "1000")
			before := l.Snapshot()

			_, err := ex.Buy(context.Background(), "AAPL", 2, d("50"), domain.TradeIntent{})
			require.Error(t, err)
			var execErr *ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, "buy", execErr.Op)
			assert.Equal(t, before, l.Snapshot())
		})
	}
}

func TestBuy_ImpactFailureIsGatewayRejected(t *testing.T) {
	ex, _, _ := setup(t, &mockGateway{impactErr: errors.New("no buying power")}, "1000")
	_, err := ex.Buy(context.Background(), "AAPL", 1, d("50"), domain.TradeIntent{})
	assert.ErrorIs(t, err, ports.ErrGatewayRejected)
	assert.False(t, IsLedgerViolation(err))
}

func TestBuy_LedgerPrecheckSkipsGateway(t *testing.T) {
	gw := &mockGateway{impactRef: "r", fill: filled("50", 30)}
	ex, _, _ := setup(t, gw, "1000")

	_, err := ex.Buy(context.Background(), "AAPL", 30, d("50"), domain.TradeIntent{})
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.True(t, IsLedgerViolation(err))
	assert.Zero(t, gw.impactCalls, "gateway must not be called when the ledger would reject")
}

func TestBuy_SlippageBeyondCashIsReported(t *testing.T) {
	gw := &mockGateway{impactRef: "r", fill: filled("60", 2)}
	ex, l, log := setup(t, gw, "100")

	_, err := ex.Buy(context.Background(), "AAPL", 2, d("50"), domain.TradeIntent{})
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Zero(t, l.OpenPositionCount())
	assert.Len(t, log.errorMsgs, 1)
}

func TestSell_ClosesWholePosition(t *testing.T) {
	gw := &mockGateway{impactRef: "r", fill: filled("55", 2)}
	ex, l, _ := setup(t, gw, "1000")
	_, err := l.Open("NVDA", 2, d("50"), d("0.05"), d("0.1"), t0, "")
	require.NoError(t, err)

	trade, err := ex.Sell(context.Background(), "NVDA", d("55"), domain.CloseReasonTakeProfit)
	require.NoError(t, err)
	assert.True(t, d("10").Equal(trade.PnL))
	assert.Equal(t, domain.CloseReasonTakeProfit, trade.CloseReason)
	assert.Equal(t, int64(2), gw.submits[0].Quantity)
	assert.Equal(t, domain.Sell, gw.submits[0].Side)
	assert.False(t, l.HasPosition("NVDA"))
}

func TestSell_Failures(t *testing.T) {
	ex, _, _ := setup(t, &mockGateway{impactRef: "r", fill: filled("1", 1)}, "1000")
	_, err := ex.Sell(context.Background(), "NVDA", d("55"), domain.CloseReasonSignal)
	assert.ErrorIs(t, err, ports.ErrNoSuchPosition)

	gw := &mockGateway{impactRef: "r", fill: filled("55", 1)}
	ex, l, _ := setup(t, gw, "1000")
	_, err = l.Open("NVDA", 2, d("50"), d("0.05"), d("0.1"), t0, "")
	require.NoError(t, err)

	_, err = ex.Sell(context.Background(), "NVDA", d("55"), domain.CloseReasonSignal)
	assert.ErrorIs(t, err, ports.ErrGatewayRejected, "partial close is not applied")
	assert.True(t, l.HasPosition("NVDA"))
}

func TestPaperGateway_SameFlow(t *testing.T) {
	ex, l, _ := setup(t, paper.NewGateway(fixedClock{now: t0}, nil), "1000")
	assert.True(t, ex.Simulated())

	pos, err := ex.Buy(context.Background(), "SPY", 2, d("50"), domain.TradeIntent{})
	require.NoError(t, err)
	assert.True(t, d("50").Equal(pos.EntryPrice))
	assert.True(t, d("900").Equal(l.Cash()))

	trade, err := ex.Sell(context.Background(), "SPY", d("49"), domain.CloseReasonShutdown)
	require.NoError(t, err)
	assert.True(t, d("-2").Equal(trade.PnL))
	assert.True(t, d("998").Equal(l.Cash()))
}
