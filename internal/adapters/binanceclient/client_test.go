package binanceclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentTrader/internal/domain"
	"agentTrader/internal/ports"
)

type mockLogger struct {
	errors int
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errors++
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "logger is required")

	c, err := New(Config{Logger: &mockLogger{}, UseTestnet: true})
	require.NoError(t, err)
	assert.Equal(t, baseURLTestnet, c.spotClient.BaseURL)
	assert.Equal(t, 250*time.Millisecond, c.pollInterval)
	assert.Equal(t, 5*time.Second, c.maxPollInterval)
	assert.False(t, c.Simulated())
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &common.APIError{Code: -1003, Message: "too many requests"}, ports.ErrRateLimited},
		{"bad signature", &common.APIError{Code: -1022}, ports.ErrAuthenticationFailed},
		{"bad key", &common.APIError{Code: -2015}, ports.ErrAuthenticationFailed},
		{"order rejected", &common.APIError{Code: -2010}, ports.ErrGatewayRejected},
		{"unknown order", &common.APIError{Code: -2013}, ports.ErrOrderNotFound},
		{"insufficient balance", &common.APIError{Code: -3005}, ports.ErrInsufficientFunds},
		{"bad parameter", &common.APIError{Code: -1102}, ports.ErrInvalidRequest},
		{"unmapped code", &common.APIError{Code: -9999}, ports.ErrUnknown},
		{"deadline", context.DeadlineExceeded, ports.ErrTimeout},
		{"canceled", context.Canceled, ports.ErrContextCanceled},
		{"network", errors.New("dial tcp: connection refused"), ports.ErrVenueUnavailable},
		{"other", errors.New("boom"), ports.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			c := &Client{logger: logger}
			got := c.handleError(context.Background(), tt.err, "op")
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
			assert.Equal(t, 1, logger.errors)
		})
	}

	assert.NoError(t, (&Client{logger: &mockLogger{}}).handleError(context.Background(), nil, "op"))
}

func TestFillFromResponse(t *testing.T) {
	at := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		resp       *binance.CreateOrderResponse
		terminal   bool
		wantStatus ports.FillStatus
		wantQty    int64
		wantPrice  string
		wantReason bool
	}{
		{
			name: "filled",
			resp: &binance.CreateOrderResponse{OrderID: 42, Status: binance.OrderStatusTypeFilled,
				ExecutedQuantity: "3.00000000", CummulativeQuoteQuantity: "301.50000000", TransactTime: at.UnixMilli()},
			terminal: true, wantStatus: ports.FillStatusFilled, wantQty: 3, wantPrice: "100.5",
		},
		{
			name: "expired after partial execution",
			resp: &binance.CreateOrderResponse{OrderID: 43, Status: binance.OrderStatusTypeExpired,
				ExecutedQuantity: "2", CummulativeQuoteQuantity: "200"},
			terminal: true, wantStatus: ports.FillStatusFilled, wantQty: 2, wantPrice: "100", wantReason: true,
		},
		{
			name: "rejected with nothing executed",
			resp: &binance.CreateOrderResponse{OrderID: 44, Status: binance.OrderStatusTypeRejected,
				ExecutedQuantity: "0.00000000", CummulativeQuoteQuantity: "0.00000000"},
			terminal: true, wantStatus: ports.FillStatusRejected, wantReason: true,
		},
		{
			name: "still working",
			resp: &binance.CreateOrderResponse{OrderID: 45, Status: binance.OrderStatusTypeNew},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill, terminal, err := fillFromResponse(tt.resp)
			require.NoError(t, err)
			assert.Equal(t, tt.terminal, terminal)
			if !tt.terminal {
				assert.Nil(t, fill)
				return
			}
			assert.Equal(t, tt.wantStatus, fill.Status)
			assert.Equal(t, tt.wantQty, fill.Quantity)
			if tt.wantPrice != "" {
				assert.True(t, decimal.RequireFromString(tt.wantPrice).Equal(fill.FillPrice), "price %s", fill.FillPrice)
			}
			assert.Equal(t, tt.wantReason, fill.Reason != "")
			assert.NotEmpty(t, fill.OrderRef)
		})
	}

	_, _, err := fillFromResponse(nil)
	assert.Error(t, err)
	_, _, err = fillFromResponse(&binance.CreateOrderResponse{Status: binance.OrderStatusTypeFilled, ExecutedQuantity: "x"})
	assert.Error(t, err)
}

func TestFillFromOrder(t *testing.T) {
	fill, terminal, err := fillFromOrder(&binance.Order{OrderID: 7, Status: binance.OrderStatusTypeFilled,
		ExecutedQuantity: "1", CummulativeQuoteQuantity: "187.25", UpdateTime: 1})
	require.NoError(t, err)
	require.True(t, terminal)
	assert.Equal(t, "7", fill.OrderRef)
	assert.True(t, decimal.RequireFromString("187.25").Equal(fill.FillPrice))

	_, terminal, err = fillFromOrder(&binance.Order{Status: binance.OrderStatusTypePartiallyFilled})
	require.NoError(t, err)
	assert.False(t, terminal)
}

func TestCheckImpact_RejectsNonPositiveQuantity(t *testing.T) {
	c, err := New(Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	_, err = c.CheckImpact(context.Background(), ports.OrderRequest{Symbol: "BTCUSDT", Side: domain.Buy})
	assert.ErrorIs(t, err, ports.ErrGatewayRejected)
	assert.ErrorIs(t, err, ports.ErrInvalidQuantity)
}
