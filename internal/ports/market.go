package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
)

// MarketData provides current tradable prices.
type MarketData interface {
	// GetPrice returns the latest price for symbol, or an error wrapping ErrPriceUnavailable.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// AnalysisEngine produces trade recommendations. Calls may be slow and may fail.
type AnalysisEngine interface {
	Analyze(ctx context.Context, symbol string, date time.Time) (domain.Analysis, error)
}

// OpportunitySource yields the ordered set of symbols to analyze this cycle.
type OpportunitySource interface {
	Opportunities(ctx context.Context) ([]string, error)
}

// Clock abstracts wall-clock access so the loop can be driven deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
