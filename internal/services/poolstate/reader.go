// Package poolstate reads pool snapshots from the ledger and caches
// them with bounded staleness.
package poolstate

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tidepool/internal/domain"
	"tidepool/pkg/retrier"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = 5 * time.Second
)

type poolFetcher interface {
	GetPool(ctx context.Context, id domain.PoolID) (*domain.Pool, error)
}

// Reader normalizes and caches pool snapshots. Cached reads are stale
// by construction: a quote computed from one may no longer match ledger
// state at submission time, which is why submitted floors, not raw
// quotes, protect execution. Writers invalidate eagerly on success so
// TTL expiry is only the fallback.
type Reader struct {
	mu     sync.Mutex
	ledger poolFetcher
	cache  *expirable.LRU[domain.PoolID, *domain.Pool]
	retry  *retrier.Retrier
	l      *zap.Logger
}

// NewReader creates a pool state reader. ttl <= 0 selects the default
// bounded-staleness window.
func NewReader(ledger poolFetcher, ttl time.Duration, l *zap.Logger) *Reader {
	if l == nil {
		l = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Reader{
		ledger: ledger,
		cache:  expirable.NewLRU[domain.PoolID, *domain.Pool](defaultCacheSize, nil, ttl),
		retry:  retrier.New(),
		l:      l,
	}
}

// State returns the cached snapshot for a pool, fetching on miss.
func (r *Reader) State(ctx context.Context, id domain.PoolID) (*domain.Pool, error) {
	r.mu.Lock()
	if pool, ok := r.cache.Get(id); ok {
		r.mu.Unlock()
		cp := *pool
		return &cp, nil
	}
	r.mu.Unlock()

	return r.Refresh(ctx, id)
}

// Refresh bypasses the cache and fetches the current snapshot. Reads
// are side-effect free, so transient network failures are retried.
func (r *Reader) Refresh(ctx context.Context, id domain.PoolID) (*domain.Pool, error) {
	pool, err := retrier.DoWithData(r.retry, ctx, func(ctx context.Context) (*domain.Pool, error) {
		return r.ledger.GetPool(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	if verr := pool.Validate(); verr != nil {
		return nil, errors.Wrapf(verr, "ledger returned inconsistent state for pool %s", id)
	}

	r.mu.Lock()
	r.cache.Add(id, pool)
	r.mu.Unlock()

	r.l.Debug("pool state refreshed",
		zap.String("pool", string(id)),
		zap.Uint64("reserve_a", pool.ReserveA),
		zap.Uint64("reserve_b", pool.ReserveB),
		zap.Uint64("lp_supply", pool.LPSupply))

	cp := *pool
	return &cp, nil
}

// Invalidate drops a cached snapshot. Called eagerly after every local
// write success and on pool-mutated events.
func (r *Reader) Invalidate(id domain.PoolID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(id)
}
