package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy. Callers branch with errors.Is; services add context
// with errors.Wrap so the sentinel stays matchable.
var (
	// ErrValidation marks malformed or out-of-range caller input.
	// Rejected locally, before any ledger round-trip.
	ErrValidation = errors.New("invalid input")

	// ErrPoolNotFound means no locator hint and no discoverable pool
	// exists for a pair. Resolution is the caller's responsibility.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrInsufficientLiquidity marks a zero reserve on the requested
	// swap side.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrSlippageExceeded means the ledger rejected a call because the
	// realized output fell below the submitted floor.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrStrategyNotExecutable marks a transition attempted on a
	// terminal or ineligible strategy.
	ErrStrategyNotExecutable = errors.New("strategy not executable")

	// ErrNetwork marks a failed ledger round-trip. After an ambiguous
	// timeout the caller must re-query before retrying.
	ErrNetwork = errors.New("ledger unreachable")
)

// TransactionError carries the ledger's reported rejection reason for a
// submitted call. These are never retried automatically: a blind retry
// of a side-effecting call risks duplicate submission.
type TransactionError struct {
	Call   string
	Reason string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("ledger rejected %s: %s", e.Call, e.Reason)
}
