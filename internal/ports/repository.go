package ports

import (
	"context"

	"agentTrader/internal/domain"
)

// StateRepository persists the account snapshot and the realized-trade log.
type StateRepository interface {
	// SaveSnapshot replaces the stored account state (cash, counters, open positions).
	SaveSnapshot(ctx context.Context, state *domain.AccountState) error
	// LoadSnapshot returns the stored account state.
	// Returns nil, nil if no snapshot has been saved yet.
	LoadSnapshot(ctx context.Context) (*domain.AccountState, error)
	// AppendTrade stores a realized trade. Appending the same ID twice is a no-op.
	AppendTrade(ctx context.Context, trade *domain.RealizedTrade) error
	// ListTrades returns realized trades ordered by close time ascending.
	// A limit <= 0 returns all of them, otherwise the most recent limit trades.
	ListTrades(ctx context.Context, limit int) ([]*domain.RealizedTrade, error)
	// RecordDailySummary stores the summary, replacing any previous one for the same date.
	RecordDailySummary(ctx context.Context, summary *domain.DailySummary) error
	// ListDailySummaries returns summaries ordered by date descending, up to limit (<= 0 for all).
	ListDailySummaries(ctx context.Context, limit int) ([]*domain.DailySummary, error)
}
