// Package ledger defines the call surface this core consumes from the
// external ledger, and a simulated in-memory backend.
//
// Every write is a blocking round-trip with three outcomes: success
// (state mutated, new snapshot returned), rejection (state unchanged,
// typed error) or an ambiguous timeout, after which the caller must
// re-query before retrying. The ledger serializes all mutation; this
// core never assumes a local lock protects on-ledger state.
package ledger

import (
	"context"
	"time"

	"tidepool/internal/domain"
)

// EventKind tags ledger events consumed for cache invalidation and
// record reconciliation.
type EventKind string

const (
	EventPoolCreated      EventKind = "pool_created"
	EventPoolMutated      EventKind = "pool_mutated"
	EventDCAOrderExecuted EventKind = "dca_order_executed"
)

// Event is a ledger notification. Fields are populated per kind.
type Event struct {
	Kind      EventKind
	PoolID    domain.PoolID
	CoinTypeA domain.CoinType
	CoinTypeB domain.CoinType

	StrategyID  string
	OrderNumber int
	AmountIn    uint64
	AmountOut   uint64

	Timestamp time.Time
}

// ExecuteResult is the fill reported by execute_dca_order.
type ExecuteResult struct {
	Strategy    *domain.DCAStrategy
	OrderNumber int
	AmountIn    uint64
	AmountOut   uint64
}

// Ledger is the full call surface. Argument order follows the on-ledger
// entry points; coin objects are assembled by the external transaction
// builder, so amounts stand in for coins here.
type Ledger interface {
	// GetPool returns the current pool snapshot, or
	// domain.ErrPoolNotFound if the object is missing.
	GetPool(ctx context.Context, id domain.PoolID) (*domain.Pool, error)

	// FindPool discovers a pool for an unordered coin pair.
	FindPool(ctx context.Context, a, b domain.CoinType) (*domain.Pool, error)

	// CreatePool creates a pool funded with the initial deposit and
	// mints the first LP supply.
	CreatePool(ctx context.Context, a, b domain.CoinType, amountA, amountB uint64) (*domain.Pool, error)

	// AddLiquidity deposits both sides and mints LP.
	AddLiquidity(ctx context.Context, poolID domain.PoolID, amountA, amountB uint64) (*domain.Pool, error)

	// RemoveLiquidity burns LP and pays out reserves, rejecting with
	// domain.ErrSlippageExceeded if either payout falls below its floor.
	RemoveLiquidity(ctx context.Context, poolID domain.PoolID, lpAmount, minA, minB uint64) (*domain.Pool, error)

	// Swap trades amountIn for at least minOut, rejecting with
	// domain.ErrSlippageExceeded otherwise.
	Swap(ctx context.Context, poolID domain.PoolID, dir domain.SwapDirection, amountIn, minOut uint64) (*domain.Pool, uint64, error)

	// CreateStrategy registers a funded DCA strategy object.
	CreateStrategy(ctx context.Context, params domain.StrategyParams, funding uint64) (*domain.DCAStrategy, error)

	// GetStrategy returns the current strategy snapshot.
	GetStrategy(ctx context.Context, id string) (*domain.DCAStrategy, error)

	// ExecuteOrder advances a strategy one order against its pool. The
	// ledger re-checks eligibility itself: it is the final arbiter of
	// whether the order was already consumed, so a client-side race
	// produces at most a rejected redundant call.
	ExecuteOrder(ctx context.Context, strategyID string, poolID domain.PoolID, minOut uint64) (*ExecuteResult, error)

	// PauseStrategy, ResumeStrategy and CancelStrategy apply the
	// corresponding state transitions. Cancel returns the refunded
	// source balance.
	PauseStrategy(ctx context.Context, id string) (*domain.DCAStrategy, error)
	ResumeStrategy(ctx context.Context, id string) (*domain.DCAStrategy, error)
	CancelStrategy(ctx context.Context, id string) (*domain.DCAStrategy, uint64, error)

	// Events streams notifications for cache invalidation. The channel
	// is closed when the backend shuts down.
	Events() <-chan Event
}
