package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agentTrader/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements ports.ExecutionGateway and ports.MarketData against the
// Binance spot API.
type Client struct {
	spotClient      *binance.Client
	logger          ports.Logger
	pollInterval    time.Duration
	maxPollInterval time.Duration
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey          string
	SecretKey       string
	UseTestnet      bool
	Logger          ports.Logger
	PollInterval    time.Duration // First delay between order status polls (e.g., 250 * time.Millisecond)
	MaxPollInterval time.Duration // Upper bound for the poll delay
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	maxPoll := cfg.MaxPollInterval
	if maxPoll < pollInterval {
		maxPoll = 5 * time.Second
	}

	return &Client{
		spotClient:      client,
		logger:          cfg.Logger,
		pollInterval:    pollInterval,
		maxPollInterval: maxPoll,
	}, nil
}

// Simulated is always false: fills come from the venue.
func (c *Client) Simulated() bool { return false }

// classifyAPIError maps a Binance error code to a ports sentinel.
func classifyAPIError(code int64) error {
	switch code {
	case -1003, -1015: // Too many requests / too many orders
		return ports.ErrRateLimited
	case -1001, -1006, -1007, -1016: // Disconnected / unexpected response / timeout / service shutting down
		return ports.ErrVenueUnavailable
	case -1021: // Timestamp outside of recvWindow
		return ports.ErrTimeout
	case -1022, -2014, -2015: // Signature invalid / API-key format / key, IP or permissions
		return ports.ErrAuthenticationFailed
	case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010: // New order rejected
		return ports.ErrGatewayRejected
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -3005: // Insufficient balance
		return ports.ErrInsufficientFunds
	default:
		return ports.ErrUnknown
	}
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, classifyAPIError(apiErr.Code), err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "no such host"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrVenueUnavailable, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetPrice retrieves the last traded price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetPrice"
	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ports.ErrPriceUnavailable, c.handleError(ctx, err, op))
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: could not parse price '%s': %w: %w", op, p.Price, ports.ErrPriceUnavailable, err)
		}
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("%s: non-positive price for %s: %w", op, symbol, ports.ErrPriceUnavailable)
		}
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%s: no price data returned for symbol %s: %w", op, symbol, ports.ErrPriceUnavailable)
}

// CheckImpact validates the order against the venue's test endpoint. The
// returned reference becomes the client order id on submission.
func (c *Client) CheckImpact(ctx context.Context, req ports.OrderRequest) (string, error) {
	op := "CheckImpact"
	if req.Quantity <= 0 {
		return "", fmt.Errorf("%s: %w: %w", op, ports.ErrGatewayRejected, ports.ErrInvalidQuantity)
	}
	ref := uuid.NewString()
	err := c.newMarketOrder(req, ref).Test(ctx)
	if err != nil {
		return "", c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" passed", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity, "tradeRef": ref})
	return ref, nil
}

// SubmitOrder places a market order and polls until the venue reports a
// terminal status or ctx expires.
func (c *Client) SubmitOrder(ctx context.Context, req ports.OrderRequest, tradeRef string) (*ports.OrderFill, error) {
	op := "SubmitOrder"
	resp, err := c.newMarketOrder(req, tradeRef).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fill, terminal, err := fillFromResponse(resp)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+": Order accepted", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity,
		"orderID": resp.OrderID, "status": resp.Status,
	})
	if terminal {
		return fill, nil
	}
	return c.awaitTerminal(ctx, req.Symbol, tradeRef)
}

func (c *Client) newMarketOrder(req ports.OrderRequest, clientOrderID string) *binance.CreateOrderService {
	return c.spotClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatInt(req.Quantity, 10)).
		NewClientOrderID(clientOrderID)
}

func (c *Client) awaitTerminal(ctx context.Context, symbol, clientOrderID string) (*ports.OrderFill, error) {
	op := "awaitTerminal"
	b := &backoff.Backoff{Min: c.pollInterval, Max: c.maxPollInterval, Factor: 2}
	for {
		select {
		case <-ctx.Done():
			return nil, c.handleError(ctx, ctx.Err(), op)
		case <-time.After(b.Duration()):
		}

		order, err := c.spotClient.NewGetOrderService().
			Symbol(symbol).
			OrigClientOrderID(clientOrderID).
			Do(ctx)
		if err != nil {
			wrapped := c.handleError(ctx, err, op)
			// The order may not be visible yet right after placement.
			if errors.Is(wrapped, ports.ErrOrderNotFound) || errors.Is(wrapped, ports.ErrRateLimited) {
				continue
			}
			return nil, wrapped
		}

		fill, terminal, err := fillFromOrder(order)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if terminal {
			return fill, nil
		}
		c.logger.Debug(ctx, op+": Order still working", map[string]interface{}{"symbol": symbol, "clientOrderID": clientOrderID, "status": order.Status})
	}
}

// --- Translation Helpers ---

// isTerminal reports whether the venue will not change the order further.
func isTerminal(status binance.OrderStatusType) bool {
	switch status {
	case binance.OrderStatusTypeFilled, binance.OrderStatusTypeCanceled,
		binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return true
	default:
		return false
	}
}

// buildFill converts executed quantity and cumulative quote into an OrderFill.
// Anything short of a non-zero execution is reported as rejected.
func buildFill(status binance.OrderStatusType, orderID int64, executedQty, cumQuote string, at time.Time) (*ports.OrderFill, error) {
	qty, err := decimal.NewFromString(orEmpty(executedQty))
	if err != nil {
		return nil, fmt.Errorf("could not parse executed quantity '%s': %w", executedQty, err)
	}
	quote, err := decimal.NewFromString(orEmpty(cumQuote))
	if err != nil {
		return nil, fmt.Errorf("could not parse cumulative quote '%s': %w", cumQuote, err)
	}

	fill := &ports.OrderFill{
		OrderRef: strconv.FormatInt(orderID, 10),
		FilledAt: at,
	}
	whole := qty.Floor()
	if !whole.IsPositive() {
		fill.Status = ports.FillStatusRejected
		fill.Reason = fmt.Sprintf("order %s with nothing executed", strings.ToLower(string(status)))
		return fill, nil
	}
	fill.Status = ports.FillStatusFilled
	fill.Quantity = whole.IntPart()
	fill.FillPrice = quote.Div(qty)
	if status != binance.OrderStatusTypeFilled {
		fill.Reason = fmt.Sprintf("order %s after partial execution", strings.ToLower(string(status)))
	}
	return fill, nil
}

func fillFromResponse(resp *binance.CreateOrderResponse) (*ports.OrderFill, bool, error) {
	if resp == nil {
		return nil, false, errors.New("empty order response")
	}
	if !isTerminal(resp.Status) {
		return nil, false, nil
	}
	fill, err := buildFill(resp.Status, resp.OrderID, resp.ExecutedQuantity, resp.CummulativeQuoteQuantity, time.UnixMilli(resp.TransactTime))
	if err != nil {
		return nil, false, err
	}
	return fill, true, nil
}

func fillFromOrder(order *binance.Order) (*ports.OrderFill, bool, error) {
	if order == nil {
		return nil, false, errors.New("empty order status")
	}
	if !isTerminal(order.Status) {
		return nil, false, nil
	}
	fill, err := buildFill(order.Status, order.OrderID, order.ExecutedQuantity, order.CummulativeQuoteQuantity, time.UnixMilli(order.UpdateTime))
	if err != nil {
		return nil, false, err
	}
	return fill, true, nil
}

func orEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

var (
	_ ports.ExecutionGateway = (*Client)(nil)
	_ ports.MarketData       = (*Client)(nil)
)
