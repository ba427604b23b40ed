package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tidepool/internal/domain"
	"tidepool/internal/services/liquidity"
	"tidepool/internal/services/quote"
)

const bpsDenominator = 10000

// Sim is an in-memory ledger backend. It reproduces the on-ledger
// integer arithmetic exactly, enforces the submitted slippage floors
// and re-checks DCA eligibility server-side, which makes it both the
// dry-run backend for the daemon and the substrate for property tests.
type Sim struct {
	mu         sync.Mutex
	pools      map[domain.PoolID]*domain.Pool
	pairs      map[domain.PairKey]domain.PoolID
	strategies map[string]*domain.DCAStrategy
	events     chan Event
	now        func() time.Time
	l          *zap.Logger
}

// NewSim creates an empty simulated ledger.
func NewSim(l *zap.Logger) *Sim {
	if l == nil {
		l = zap.NewNop()
	}
	return &Sim{
		pools:      make(map[domain.PoolID]*domain.Pool),
		pairs:      make(map[domain.PairKey]domain.PoolID),
		strategies: make(map[string]*domain.DCAStrategy),
		events:     make(chan Event, 256),
		now:        time.Now,
		l:          l,
	}
}

// SetClock overrides the simulator clock. Tests use this to drive the
// DCA eligibility window deterministically.
func (s *Sim) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close shuts the event stream down.
func (s *Sim) Close() {
	close(s.events)
}

// Events implements Ledger.
func (s *Sim) Events() <-chan Event {
	return s.events
}

func (s *Sim) emit(ev Event) {
	ev.Timestamp = s.now()
	select {
	case s.events <- ev:
	default:
		// a slow consumer loses events; caches fall back to TTL expiry
		s.l.Warn("event dropped", zap.String("kind", string(ev.Kind)))
	}
}

func clonePool(p *domain.Pool) *domain.Pool {
	cp := *p
	return &cp
}

func cloneStrategy(st *domain.DCAStrategy) *domain.DCAStrategy {
	cp := *st
	return &cp
}

// GetPool implements Ledger.
func (s *Sim) GetPool(_ context.Context, id domain.PoolID) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrPoolNotFound, "pool %s", id)
	}
	return clonePool(pool), nil
}

// FindPool implements Ledger.
func (s *Sim) FindPool(_ context.Context, a, b domain.CoinType) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pairs[domain.KeyFor(a, b)]
	if !ok {
		return nil, errors.Wrapf(domain.ErrPoolNotFound, "pair %s/%s", a, b)
	}
	return clonePool(s.pools[id]), nil
}

// CreatePool implements Ledger.
func (s *Sim) CreatePool(_ context.Context, a, b domain.CoinType, amountA, amountB uint64) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a == b {
		return nil, &domain.TransactionError{Call: "create_pool", Reason: "identical coin types"}
	}
	if _, exists := s.pairs[domain.KeyFor(a, b)]; exists {
		return nil, &domain.TransactionError{Call: "create_pool", Reason: "pool already exists for pair"}
	}

	pool := &domain.Pool{
		ID:        domain.PoolID("0x" + uuid.NewString()),
		CoinTypeA: a,
		CoinTypeB: b,
		FeeBps:    18,
	}
	preview, err := liquidity.PreviewDeposit(pool, amountA, amountB)
	if err != nil {
		return nil, err
	}
	pool.ReserveA = amountA
	pool.ReserveB = amountB
	pool.LPSupply = preview.LPMinted

	s.pools[pool.ID] = pool
	s.pairs[pool.PairKey()] = pool.ID
	s.emit(Event{Kind: EventPoolCreated, PoolID: pool.ID, CoinTypeA: a, CoinTypeB: b})

	return clonePool(pool), nil
}

// AddLiquidity implements Ledger.
func (s *Sim) AddLiquidity(_ context.Context, poolID domain.PoolID, amountA, amountB uint64) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[poolID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrPoolNotFound, "pool %s", poolID)
	}
	preview, err := liquidity.PreviewDeposit(pool, amountA, amountB)
	if err != nil {
		return nil, err
	}

	pool.ReserveA += amountA
	pool.ReserveB += amountB
	pool.LPSupply += preview.LPMinted
	s.emit(Event{Kind: EventPoolMutated, PoolID: pool.ID, CoinTypeA: pool.CoinTypeA, CoinTypeB: pool.CoinTypeB})

	return clonePool(pool), nil
}

// RemoveLiquidity implements Ledger.
func (s *Sim) RemoveLiquidity(_ context.Context, poolID domain.PoolID, lpAmount, minA, minB uint64) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[poolID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrPoolNotFound, "pool %s", poolID)
	}
	preview, err := liquidity.PreviewWithdraw(pool, lpAmount)
	if err != nil {
		return nil, err
	}
	if preview.AmountA < minA || preview.AmountB < minB {
		return nil, errors.Wrapf(domain.ErrSlippageExceeded,
			"payout %d/%d below floor %d/%d", preview.AmountA, preview.AmountB, minA, minB)
	}

	pool.ReserveA -= preview.AmountA
	pool.ReserveB -= preview.AmountB
	pool.LPSupply -= lpAmount
	s.emit(Event{Kind: EventPoolMutated, PoolID: pool.ID, CoinTypeA: pool.CoinTypeA, CoinTypeB: pool.CoinTypeB})

	return clonePool(pool), nil
}

// Swap implements Ledger.
func (s *Sim) Swap(_ context.Context, poolID domain.PoolID, dir domain.SwapDirection, amountIn, minOut uint64) (*domain.Pool, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[poolID]
	if !ok {
		return nil, 0, errors.Wrapf(domain.ErrPoolNotFound, "pool %s", poolID)
	}
	out, err := s.applySwap(pool, dir, amountIn, minOut)
	if err != nil {
		return nil, 0, err
	}
	s.emit(Event{Kind: EventPoolMutated, PoolID: pool.ID, CoinTypeA: pool.CoinTypeA, CoinTypeB: pool.CoinTypeB})

	return clonePool(pool), out, nil
}

// applySwap mutates pool in place. Callers hold s.mu.
func (s *Sim) applySwap(pool *domain.Pool, dir domain.SwapDirection, amountIn, minOut uint64) (uint64, error) {
	reserveIn, reserveOut := pool.Reserves(dir)
	out, err := quote.AmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
	if err != nil {
		return 0, err
	}
	if out < minOut {
		return 0, errors.Wrapf(domain.ErrSlippageExceeded, "output %d below floor %d", out, minOut)
	}

	fee := amountIn - amountIn*(bpsDenominator-pool.FeeBps)/bpsDenominator
	if dir == domain.AToB {
		pool.ReserveA += amountIn
		pool.ReserveB -= out
		pool.AccumulatedFeeA += fee
	} else {
		pool.ReserveB += amountIn
		pool.ReserveA -= out
		pool.AccumulatedFeeB += fee
	}
	return out, nil
}

// CreateStrategy implements Ledger.
func (s *Sim) CreateStrategy(_ context.Context, params domain.StrategyParams, funding uint64) (*domain.DCAStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := domain.NewDCAStrategy(uuid.NewString(), params, funding, s.now())
	if err != nil {
		return nil, err
	}
	s.strategies[st.ID] = st
	return cloneStrategy(st), nil
}

// GetStrategy implements Ledger.
func (s *Sim) GetStrategy(_ context.Context, id string) (*domain.DCAStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrStrategyNotExecutable, "strategy %s not found", id)
	}
	return cloneStrategy(st), nil
}

// ExecuteOrder implements Ledger. Eligibility is re-checked here under
// the ledger lock: the client predicate is advisory and a racing
// executor gets a rejection, never a double fill.
func (s *Sim) ExecuteOrder(_ context.Context, strategyID string, poolID domain.PoolID, minOut uint64) (*ExecuteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.strategies[strategyID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrStrategyNotExecutable, "strategy %s not found", strategyID)
	}
	now := s.now()
	if !st.IsExecutable(now) {
		return nil, errors.Wrapf(domain.ErrStrategyNotExecutable,
			"strategy %s not eligible (status %s, %d/%d orders)", st.ID, st.Status, st.ExecutedOrders, st.Params.TotalOrders)
	}

	pool, ok := s.pools[poolID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrPoolNotFound, "pool %s", poolID)
	}
	dir, err := pool.DirectionFor(st.Params.SourceToken)
	if err != nil {
		return nil, &domain.TransactionError{Call: "execute_dca_order", Reason: err.Error()}
	}

	amountIn := st.Params.AmountPerOrder
	out, err := s.applySwap(pool, dir, amountIn, minOut)
	if err != nil {
		return nil, err
	}
	if err := st.ApplyExecution(amountIn, out, now); err != nil {
		return nil, err
	}

	s.emit(Event{Kind: EventPoolMutated, PoolID: pool.ID, CoinTypeA: pool.CoinTypeA, CoinTypeB: pool.CoinTypeB})
	s.emit(Event{
		Kind:        EventDCAOrderExecuted,
		PoolID:      pool.ID,
		StrategyID:  st.ID,
		OrderNumber: st.ExecutedOrders,
		AmountIn:    amountIn,
		AmountOut:   out,
	})

	return &ExecuteResult{
		Strategy:    cloneStrategy(st),
		OrderNumber: st.ExecutedOrders,
		AmountIn:    amountIn,
		AmountOut:   out,
	}, nil
}

// PauseStrategy implements Ledger.
func (s *Sim) PauseStrategy(_ context.Context, id string) (*domain.DCAStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrStrategyNotExecutable, "strategy %s not found", id)
	}
	if err := st.Pause(); err != nil {
		return nil, err
	}
	return cloneStrategy(st), nil
}

// ResumeStrategy implements Ledger.
func (s *Sim) ResumeStrategy(_ context.Context, id string) (*domain.DCAStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrStrategyNotExecutable, "strategy %s not found", id)
	}
	if err := st.Resume(s.now()); err != nil {
		return nil, err
	}
	return cloneStrategy(st), nil
}

// CancelStrategy implements Ledger.
func (s *Sim) CancelStrategy(_ context.Context, id string) (*domain.DCAStrategy, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, 0, errors.Wrapf(domain.ErrStrategyNotExecutable, "strategy %s not found", id)
	}
	refund, err := st.Cancel()
	if err != nil {
		return nil, 0, err
	}
	return cloneStrategy(st), refund, nil
}

var _ Ledger = (*Sim)(nil)
