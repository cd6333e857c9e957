package executor

import (
	"errors"
	"fmt"

	"agentTrader/internal/ports"
)

// ExecutionError wraps a failed buy or sell with the operation and symbol.
type ExecutionError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("execution error [%s, op: %s]: %v", e.Symbol, e.Op, e.Err)
	}
	return fmt.Sprintf("execution error [op: %s]: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates an ExecutionError.
func NewExecutionError(symbol, op string, err error) *ExecutionError {
	return &ExecutionError{Symbol: symbol, Op: op, Err: err}
}

// IsLedgerViolation reports whether err came from the ledger rejecting the
// operation. Such failures mean the caller's view of the account is stale and
// must not be retried without re-reading the ledger.
func IsLedgerViolation(err error) bool {
	return errors.Is(err, ports.ErrInsufficientFunds) ||
		errors.Is(err, ports.ErrDuplicatePosition) ||
		errors.Is(err, ports.ErrNoSuchPosition) ||
		errors.Is(err, ports.ErrInvalidQuantity) ||
		errors.Is(err, ports.ErrInvalidPrice)
}
