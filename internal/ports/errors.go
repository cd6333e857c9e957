package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ledger Errors
	ErrInsufficientFunds  = errors.New("insufficient funds for operation")
	ErrDuplicatePosition  = errors.New("position already open for symbol")
	ErrNoSuchPosition     = errors.New("no open position for symbol")
	ErrInvalidQuantity    = errors.New("quantity must be a positive whole number")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrIncompleteSnapshot = errors.New("account snapshot is incomplete")

	// Market Data Errors
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrMarketClosed     = errors.New("market is closed")

	// Venue Errors
	ErrVenueUnavailable     = errors.New("execution venue is unavailable")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("venue authentication failed (check API keys)")
	ErrGatewayRejected      = errors.New("order rejected by execution gateway")
	ErrOrderNotFound        = errors.New("order not found on the venue")

	// Analysis Errors
	ErrAnalysisFailed = errors.New("analysis engine call failed")

	// Lifecycle Errors
	ErrUnresolvedPositions = errors.New("positions left open after shutdown")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
