// Package analysisclient talks to the multi-agent analysis service over HTTP.
package analysisclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"agentTrader/internal/domain"
	"agentTrader/internal/ports"
)

// MaxInsightLength bounds each rationale excerpt, in runes.
const MaxInsightLength = 200

// Config holds configuration specific to the analysis client.
type Config struct {
	BaseURL    string
	APIKey     string        // Sent as a bearer token when set
	Timeout    time.Duration // Per HTTP attempt
	RetryCount int           // Extra attempts on 429 and 5xx
	RetryWait  time.Duration
	Logger     ports.Logger
}

// Client implements ports.AnalysisEngine.
type Client struct {
	http   *resty.Client
	logger ports.Logger
}

type analyzeRequest struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"`
}

type analyzeResponse struct {
	Decision   string            `json:"decision"`
	Confidence *float64          `json:"confidence"`
	Insights   map[string]string `json:"insights"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates an analysis client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for analysis client")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("analysis base URL is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 2 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4 * cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{http: client, logger: cfg.Logger}, nil
}

// Analyze requests a recommendation for symbol on date. Decision and
// confidence are passed through as received; validation is the caller's job.
func (c *Client) Analyze(ctx context.Context, symbol string, date time.Time) (domain.Analysis, error) {
	op := "Analyze"
	var out analyzeResponse
	var apiErr errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(analyzeRequest{Symbol: symbol, Date: date.Format(time.DateOnly)}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/analyze")
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return domain.Analysis{}, fmt.Errorf("%s %s: %w: %w: %w", op, symbol, ports.ErrAnalysisFailed, ports.ErrTimeout, err)
		case errors.Is(err, context.Canceled):
			return domain.Analysis{}, fmt.Errorf("%s %s: %w: %w: %w", op, symbol, ports.ErrAnalysisFailed, ports.ErrContextCanceled, err)
		}
		return domain.Analysis{}, fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrAnalysisFailed, err)
	}

	if resp.IsError() {
		fields := map[string]interface{}{"symbol": symbol, "status": resp.StatusCode(), "error": apiErr.Error}
		c.logger.Warn(ctx, op+": Analysis service returned an error", fields)
		if resp.StatusCode() == http.StatusTooManyRequests {
			return domain.Analysis{}, fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrAnalysisFailed, ports.ErrRateLimited)
		}
		return domain.Analysis{}, fmt.Errorf("%s %s: status %d: %w", op, symbol, resp.StatusCode(), ports.ErrAnalysisFailed)
	}

	if out.Confidence == nil {
		return domain.Analysis{}, fmt.Errorf("%s %s: response without confidence: %w", op, symbol, ports.ErrAnalysisFailed)
	}

	analysis := domain.Analysis{
		Symbol:     symbol,
		Date:       date,
		Decision:   domain.Decision(strings.ToUpper(strings.TrimSpace(out.Decision))),
		Confidence: *out.Confidence,
		Rationale:  truncateInsights(out.Insights),
	}
	c.logger.Debug(ctx, op+": Analysis received", map[string]interface{}{
		"symbol":     symbol,
		"decision":   analysis.Decision,
		"confidence": analysis.Confidence,
	})
	return analysis, nil
}

func truncateInsights(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = truncate(v, MaxInsightLength)
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

var _ ports.AnalysisEngine = (*Client)(nil)
