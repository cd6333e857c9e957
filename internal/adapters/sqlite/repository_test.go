package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentTrader/internal/domain"
	"agentTrader/internal/ledger"
	"agentTrader/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "nested", "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_LoadSnapshotEmpty(t *testing.T) {
	repo := setupTestDB(t)
	snap, err := repo.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRepository_SnapshotRebuildsLedger(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	l, err := ledger.New(d("1000.00"), t0)
	require.NoError(t, err)
	_, err = l.Open("AAPL", 3, d("187.123456789"), d("0.05"), d("0.10"), t0, "ord-1")
	require.NoError(t, err)
	_, err = l.Open("NVDA", 1, d("99.5"), d("0.05"), d("0.10"), t0, "")
	require.NoError(t, err)
	l.MarkPrice("AAPL", d("180.01"), t0.Add(time.Minute))
	_, err = l.Close("NVDA", d("90"), domain.CloseReasonStopLoss, t0.Add(2*time.Minute), "ord-2")
	require.NoError(t, err)

	want := l.Snapshot()
	require.NoError(t, repo.SaveSnapshot(ctx, want))

	got, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.True(t, want.Cash.Equal(got.Cash), "cash %s != %s", want.Cash, got.Cash)
	assert.True(t, want.InitialBalance.Equal(got.InitialBalance))
	assert.Equal(t, want.DailyTradeCount, got.DailyTradeCount)
	assert.Equal(t, want.ConsecutiveLossCount, got.ConsecutiveLossCount)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Performance.TotalTrades, got.Performance.TotalTrades)
	assert.True(t, want.Performance.TotalPnL.Equal(got.Performance.TotalPnL))
	assert.InDelta(t, want.Performance.MaxDrawdown, got.Performance.MaxDrawdown, 1e-12)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	require.Len(t, got.Positions, 1)
	pos := got.Positions["AAPL"]
	require.NotNil(t, pos)
	assert.Equal(t, int64(3), pos.Quantity)
	assert.True(t, d("187.123456789").Equal(pos.EntryPrice), "no precision lost")
	assert.True(t, want.Positions["AAPL"].CostBasis.Equal(pos.CostBasis))
	assert.Equal(t, "ord-1", pos.ExternalOrderRef)
	assert.True(t, d("180.01").Equal(got.LastPrices["AAPL"]))

	restored, err := ledger.Restore(got)
	require.NoError(t, err)
	assert.True(t, l.Equity().Equal(restored.Equity()))
}

func TestRepository_SaveSnapshotReplacesPositions(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	l, err := ledger.New(d("500"), t0)
	require.NoError(t, err)
	_, err = l.Open("SPY", 1, d("100"), d("0.05"), d("0.1"), t0, "")
	require.NoError(t, err)
	require.NoError(t, repo.SaveSnapshot(ctx, l.Snapshot()))

	_, err = l.Close("SPY", d("101"), domain.CloseReasonSignal, t0, "")
	require.NoError(t, err)
	require.NoError(t, repo.SaveSnapshot(ctx, l.Snapshot()))

	got, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Positions)
	assert.True(t, d("501").Equal(got.Cash))

	assert.ErrorIs(t, repo.SaveSnapshot(ctx, nil), ports.ErrInvalidRequest)
}

func TestRepository_TradeLog(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	mk := func(id, symbol string, closed time.Time, pnl string, reason domain.CloseReason) *domain.RealizedTrade {
		return &domain.RealizedTrade{
			ID: id, Symbol: symbol, Quantity: 2,
			EntryPrice: d("10"), ExitPrice: d("11"), Proceeds: d("22"), CostBasis: d("20"),
			PnL: d(pnl), PnLPct: 0.1, CloseReason: reason,
			OpenedAt: closed.Add(-time.Hour), ClosedAt: closed,
		}
	}
	trades := []*domain.RealizedTrade{
		mk("01A", "AAPL", t0, "2", domain.CloseReasonTakeProfit),
		mk("01B", "NVDA", t0.Add(time.Minute), "-1.5", domain.CloseReasonStopLoss),
		mk("01C", "SPY", t0.Add(2*time.Minute), "0", domain.CloseReasonShutdown),
	}
	for _, tr := range trades {
		require.NoError(t, repo.AppendTrade(ctx, tr))
	}
	require.NoError(t, repo.AppendTrade(ctx, trades[0]), "duplicate append is ignored")

	all, err := repo.ListTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "01A", all[0].ID)
	assert.Equal(t, "01C", all[2].ID)
	assert.True(t, d("-1.5").Equal(all[1].PnL))
	assert.Equal(t, domain.CloseReasonStopLoss, all[1].CloseReason)
	assert.True(t, t0.Equal(all[0].ClosedAt))

	recent, err := repo.ListTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "01B", recent[0].ID)
	assert.Equal(t, "01C", recent[1].ID)
}

func TestRepository_DailySummaries(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	for _, date := range []string{"2025-03-10", "2025-03-11", "2025-03-12"} {
		require.NoError(t, repo.RecordDailySummary(ctx, &domain.DailySummary{
			Date: date, Balance: d("900"), Equity: d("1010"), DailyPnL: d("10"), DailyPnLPct: 0.01,
			TradeCount: 2, OpenPositionCount: 1, WinRate: 0.5, MaxDrawdown: 0.02, CreatedAt: t0,
		}))
	}
	// Re-recording a date replaces it.
	require.NoError(t, repo.RecordDailySummary(ctx, &domain.DailySummary{
		Date: "2025-03-12", Balance: d("950"), Equity: d("950"), DailyPnL: d("-60"), CreatedAt: t0,
	}))

	got, err := repo.ListDailySummaries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-03-12", got[0].Date)
	assert.True(t, d("-60").Equal(got[0].DailyPnL))
	assert.Equal(t, "2025-03-11", got[1].Date)
	assert.Equal(t, 2, got[1].TradeCount)
}
