// Package dca owns the dollar-cost-averaging strategy lifecycle:
// creation, time-gated order execution, pause/resume/cancel, and the
// append-only execution journal.
package dca

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepool/internal/domain"
	"tidepool/internal/ledger"
)

type strategyCaller interface {
	CreateStrategy(ctx context.Context, params domain.StrategyParams, funding uint64) (*domain.DCAStrategy, error)
	GetStrategy(ctx context.Context, id string) (*domain.DCAStrategy, error)
	ExecuteOrder(ctx context.Context, strategyID string, poolID domain.PoolID, minOut uint64) (*ledger.ExecuteResult, error)
	PauseStrategy(ctx context.Context, id string) (*domain.DCAStrategy, error)
	ResumeStrategy(ctx context.Context, id string) (*domain.DCAStrategy, error)
	CancelStrategy(ctx context.Context, id string) (*domain.DCAStrategy, uint64, error)
}

type poolResolver interface {
	Resolve(ctx context.Context, a, b domain.CoinType) (domain.PoolID, error)
}

type stateReader interface {
	State(ctx context.Context, id domain.PoolID) (*domain.Pool, error)
	Invalidate(id domain.PoolID)
}

type quoter interface {
	QuotePool(pool *domain.Pool, dir domain.SwapDirection, amountIn, slippageBps uint64) (*domain.SwapQuote, error)
}

// Engine drives DCA strategies against the ledger. The ledger holds
// the authoritative strategy state; the engine keeps a tracking set so
// the scheduler knows what to poll, refreshed from every call result.
type Engine struct {
	ledger  strategyCaller
	locator poolResolver
	reader  stateReader
	quotes  quoter
	journal *Journal
	clock   func() time.Time
	l       *zap.Logger

	mu      sync.Mutex
	tracked map[string]*domain.DCAStrategy
}

// NewEngine wires the strategy engine.
func NewEngine(lc strategyCaller, locator poolResolver, reader stateReader, quotes quoter, journal *Journal, l *zap.Logger) *Engine {
	if l == nil {
		l = zap.NewNop()
	}
	return &Engine{
		ledger:  lc,
		locator: locator,
		reader:  reader,
		quotes:  quotes,
		journal: journal,
		clock:   time.Now,
		l:       l,
		tracked: make(map[string]*domain.DCAStrategy),
	}
}

// SetClock overrides the engine clock for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.clock = now
}

// Create validates parameters locally, requires a direct pool for the
// pair (DCA orders execute against one pool, never a bridge route) and
// registers the strategy on the ledger.
func (e *Engine) Create(ctx context.Context, params domain.StrategyParams, funding uint64) (*domain.DCAStrategy, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.locator.Resolve(ctx, params.SourceToken, params.TargetToken); err != nil {
		return nil, errors.Wrapf(err, "no executable pool for strategy pair %s/%s", params.SourceToken, params.TargetToken)
	}

	st, err := e.ledger.CreateStrategy(ctx, params, funding)
	if err != nil {
		return nil, errors.Wrap(err, "create_dca_strategy failed")
	}
	e.track(st)

	e.l.Info("dca strategy created",
		zap.String("strategy", st.ID),
		zap.String("source", string(params.SourceToken)),
		zap.String("target", string(params.TargetToken)),
		zap.Uint64("amount_per_order", params.AmountPerOrder),
		zap.Int("total_orders", params.TotalOrders),
		zap.Duration("interval", params.Interval))
	return st, nil
}

// ExecuteOne runs a single order cycle for a strategy.
//
// The eligibility predicate is re-evaluated here against a fresh
// ledger snapshot, never a cached one. A price outside the strategy's
// band is a skip, not an error: (nil, nil) is returned and
// lastExecutionTime stays untouched so the next eligible tick retries.
func (e *Engine) ExecuteOne(ctx context.Context, strategyID string) (*domain.ExecutionRecord, error) {
	st, err := e.ledger.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	e.track(st)

	now := e.clock()
	if !st.IsExecutable(now) {
		return nil, errors.Wrapf(domain.ErrStrategyNotExecutable,
			"strategy %s not eligible (status %s, %d/%d orders)", st.ID, st.Status, st.ExecutedOrders, st.Params.TotalOrders)
	}

	poolID, err := e.locator.Resolve(ctx, st.Params.SourceToken, st.Params.TargetToken)
	if err != nil {
		return nil, err
	}
	pool, err := e.reader.State(ctx, poolID)
	if err != nil {
		return nil, err
	}
	dir, err := pool.DirectionFor(st.Params.SourceToken)
	if err != nil {
		return nil, errors.Wrap(domain.ErrValidation, err.Error())
	}

	q, err := e.quotes.QuotePool(pool, dir, st.Params.AmountPerOrder, st.Params.MaxSlippageBps)
	if err != nil {
		return nil, err
	}

	if !st.PriceInBand(q.EffectivePrice) {
		e.l.Info("dca order skipped: price outside band",
			zap.String("strategy", st.ID),
			zap.String("effective_price", q.EffectivePrice.String()),
			zap.String("min_price", st.Params.MinPrice.String()),
			zap.String("max_price", st.Params.MaxPrice.String()))
		return nil, nil
	}

	// the floor, not the raw quote, protects against reserve drift
	// between this snapshot and on-ledger execution
	res, err := e.ledger.ExecuteOrder(ctx, st.ID, poolID, q.MinimumReceived)
	if err != nil {
		return nil, err
	}
	e.reader.Invalidate(poolID)
	e.track(res.Strategy)

	rec := domain.ExecutionRecord{
		StrategyID:     st.ID,
		OrderNumber:    res.OrderNumber,
		AmountIn:       res.AmountIn,
		AmountOut:      res.AmountOut,
		ExecutionPrice: executionPrice(res.AmountIn, res.AmountOut),
		Timestamp:      now,
	}
	if err := e.journal.Append(rec); err != nil {
		// the order filled; a journal failure must not fail the cycle
		e.l.Error("failed to journal execution record", zap.Error(err), zap.String("strategy", st.ID))
	}

	e.l.Info("dca order executed",
		zap.String("strategy", st.ID),
		zap.Int("order", res.OrderNumber),
		zap.Uint64("amount_in", res.AmountIn),
		zap.Uint64("amount_out", res.AmountOut),
		zap.String("status", string(res.Strategy.Status)))
	return &rec, nil
}

// Pause freezes an active strategy's eligibility clock.
func (e *Engine) Pause(ctx context.Context, strategyID string) (*domain.DCAStrategy, error) {
	st, err := e.ledger.PauseStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	e.track(st)
	e.l.Info("dca strategy paused", zap.String("strategy", strategyID))
	return st, nil
}

// Resume reactivates a paused strategy; the next interval is measured
// from the resume point.
func (e *Engine) Resume(ctx context.Context, strategyID string) (*domain.DCAStrategy, error) {
	st, err := e.ledger.ResumeStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	e.track(st)
	e.l.Info("dca strategy resumed", zap.String("strategy", strategyID))
	return st, nil
}

// Cancel terminates a strategy and reports the refunded source balance.
func (e *Engine) Cancel(ctx context.Context, strategyID string) (uint64, error) {
	st, refund, err := e.ledger.CancelStrategy(ctx, strategyID)
	if err != nil {
		return 0, err
	}
	e.track(st)
	e.l.Info("dca strategy cancelled",
		zap.String("strategy", strategyID),
		zap.Uint64("refund", refund))
	return refund, nil
}

// Records exposes the journaled executions for a strategy.
func (e *Engine) Records(strategyID string) []domain.ExecutionRecord {
	return e.journal.Records(strategyID)
}

// Strategies returns a snapshot of tracked strategies for the
// scheduler and status endpoints.
func (e *Engine) Strategies() []*domain.DCAStrategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.DCAStrategy, 0, len(e.tracked))
	for _, st := range e.tracked {
		cp := *st
		out = append(out, &cp)
	}
	return out
}

func (e *Engine) track(st *domain.DCAStrategy) {
	if st == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *st
	e.tracked[st.ID] = &cp
}

// executionPrice is source spent per unit of target received.
func executionPrice(amountIn, amountOut uint64) decimal.Decimal {
	if amountOut == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(amountIn).Div(decimal.NewFromUint64(amountOut))
}
