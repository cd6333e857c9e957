// Package yahoo provides equity prices from Yahoo Finance.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"agentTrader/internal/ports"
)

// quoteFunc fetches a single quote. The finance-go client takes no context.
type quoteFunc func(symbol string) (*finance.Quote, error)

// Quotes implements ports.MarketData over finance-go.
type Quotes struct {
	fetch  quoteFunc
	logger ports.Logger
}

// NewQuotes creates a Yahoo Finance market data provider.
func NewQuotes(logger ports.Logger) (*Quotes, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for Yahoo quotes")
	}
	return &Quotes{fetch: quote.Get, logger: logger}, nil
}

type quoteResult struct {
	q   *finance.Quote
	err error
}

// GetPrice returns the regular market price for symbol. The call is abandoned
// when ctx is done; the underlying request finishes in the background.
func (y *Quotes) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetPrice"
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("%s: empty symbol: %w", op, ports.ErrInvalidRequest)
	}

	done := make(chan quoteResult, 1)
	go func() {
		q, err := y.fetch(symbol)
		done <- quoteResult{q: q, err: err}
	}()

	var res quoteResult
	select {
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return decimal.Zero, fmt.Errorf("%s %s: %w: %w: %w", op, symbol, ports.ErrPriceUnavailable, ports.ErrTimeout, err)
		}
		return decimal.Zero, fmt.Errorf("%s %s: %w: %w: %w", op, symbol, ports.ErrPriceUnavailable, ports.ErrContextCanceled, err)
	case res = <-done:
	}

	if res.err != nil {
		y.logger.Warn(ctx, op+": Quote request failed", map[string]interface{}{"symbol": symbol, "error": res.err.Error()})
		return decimal.Zero, fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrPriceUnavailable, res.err)
	}
	return priceFromQuote(symbol, res.q)
}

func priceFromQuote(symbol string, q *finance.Quote) (decimal.Decimal, error) {
	if q == nil {
		return decimal.Zero, fmt.Errorf("no quote returned for %s: %w", symbol, ports.ErrPriceUnavailable)
	}
	price := decimal.NewFromFloat(q.RegularMarketPrice)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %s: %w", price, symbol, ports.ErrPriceUnavailable)
	}
	return price, nil
}

var _ ports.MarketData = (*Quotes)(nil)
