// Package locator resolves coin pairs to pool identifiers through a
// layered lookup: explicit registry, then persisted discovery hints,
// then on-ledger discovery.
package locator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"tidepool/internal/domain"
)

const (
	hintKeyPrefix       = "locator_hint_"
	walSegmentThreshold = 1000
	walMaxSegments      = 100
	walDirPermissions   = 0o755
	defaultCacheSize    = 512
	defaultCacheTTL     = 30 * time.Second
)

type ledgerReader interface {
	GetPool(ctx context.Context, id domain.PoolID) (*domain.Pool, error)
	FindPool(ctx context.Context, a, b domain.CoinType) (*domain.Pool, error)
}

// Locator is an explicitly constructed, injectable registry. There is
// no ambient global state: the TTL cache and the invalidate call are
// both explicit.
type Locator struct {
	mu       sync.Mutex
	registry map[domain.PairKey]domain.PoolID
	hints    map[domain.PairKey]domain.LocatorRecord
	cache    *expirable.LRU[domain.PairKey, domain.PoolID]
	wal      *gowal.Wal
	ledger   ledgerReader
	network  string
	l        *zap.Logger
}

// Config sets locator storage and cache behavior.
type Config struct {
	WALDir    string
	Network   string
	CacheSize int
	// CacheTTL bounds staleness of resolved pool ids. It is a
	// bounded-staleness device, not a correctness mechanism: quotes
	// carry their own floors.
	CacheTTL time.Duration
}

// New creates a locator, replaying persisted hints from its WAL.
func New(cfg Config, ledger ledgerReader, l *zap.Logger) (*Locator, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	walDir := filepath.Join(cfg.WALDir, "locator")
	if err := os.MkdirAll(walDir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure locator WAL directory %s", walDir)
	}
	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              walDir,
		Prefix:           "log_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open locator WAL")
	}

	loc := &Locator{
		registry: make(map[domain.PairKey]domain.PoolID),
		hints:    make(map[domain.PairKey]domain.LocatorRecord),
		cache:    expirable.NewLRU[domain.PairKey, domain.PoolID](cfg.CacheSize, nil, cfg.CacheTTL),
		wal:      wal,
		ledger:   ledger,
		network:  cfg.Network,
		l:        l,
	}
	loc.replayHints()
	return loc, nil
}

// replayHints loads persisted records; the latest entry per pair wins,
// an empty pool id is a tombstone.
func (loc *Locator) replayHints() {
	for msg := range loc.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, hintKeyPrefix) {
			continue
		}
		var rec domain.LocatorRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			loc.l.Error("failed to unmarshal locator hint", zap.Error(err), zap.String("key", msg.Key))
			continue
		}
		key := domain.PairKey(strings.TrimPrefix(msg.Key, hintKeyPrefix))
		if rec.PoolID == "" {
			delete(loc.hints, key)
			continue
		}
		if err := rec.Validate(); err != nil {
			// malformed persisted hint, skip it; next lookup rediscovers
			loc.l.Warn("dropping malformed locator hint", zap.Error(err))
			continue
		}
		loc.hints[key] = rec
	}
	loc.l.Info("locator hints loaded", zap.Int("count", len(loc.hints)))
}

// Register pins a pair to a pool id in the explicit registry. Registry
// entries take precedence over discovery and never expire.
func (loc *Locator) Register(a, b domain.CoinType, id domain.PoolID) {
	loc.mu.Lock()
	defer loc.mu.Unlock()
	loc.registry[domain.KeyFor(a, b)] = id
}

// Resolve maps an unordered pair to a pool id, or returns
// domain.ErrPoolNotFound when no layer can produce one.
func (loc *Locator) Resolve(ctx context.Context, a, b domain.CoinType) (domain.PoolID, error) {
	if a == b {
		return "", errors.Wrap(domain.ErrValidation, "pair coin types must differ")
	}
	key := domain.KeyFor(a, b)

	loc.mu.Lock()
	if id, ok := loc.registry[key]; ok {
		loc.mu.Unlock()
		return id, nil
	}
	if id, ok := loc.cache.Get(key); ok {
		loc.mu.Unlock()
		return id, nil
	}
	hint, hasHint := loc.hints[key]
	loc.mu.Unlock()

	if hasHint {
		// hints are advisory: revalidate against the ledger before use
		pool, err := loc.ledger.GetPool(ctx, hint.PoolID)
		switch {
		case err == nil:
			loc.mu.Lock()
			loc.cache.Add(key, pool.ID)
			loc.mu.Unlock()
			return pool.ID, nil
		case errors.Is(err, domain.ErrPoolNotFound):
			// stale hint: prune silently, fall through to discovery
			loc.prune(key)
		default:
			return "", errors.Wrapf(err, "failed to revalidate hint for pair %s/%s", a, b)
		}
	}

	pool, err := loc.ledger.FindPool(ctx, a, b)
	if err != nil {
		if errors.Is(err, domain.ErrPoolNotFound) {
			return "", errors.Wrapf(domain.ErrPoolNotFound, "no pool for pair %s/%s", a, b)
		}
		return "", errors.Wrapf(err, "discovery failed for pair %s/%s", a, b)
	}

	loc.Remember(pool)
	return pool.ID, nil
}

// Remember caches a discovered pool and persists it as a hint for
// future runs.
func (loc *Locator) Remember(pool *domain.Pool) {
	key := pool.PairKey()
	rec := domain.LocatorRecord{
		PoolID:    pool.ID,
		CoinTypeA: pool.CoinTypeA,
		CoinTypeB: pool.CoinTypeB,
		Network:   loc.network,
		CreatedAt: time.Now(),
	}

	loc.mu.Lock()
	defer loc.mu.Unlock()
	loc.cache.Add(key, pool.ID)
	loc.hints[key] = rec
	if err := loc.persist(key, rec); err != nil {
		loc.l.Error("failed to persist locator hint", zap.Error(err), zap.String("pool", string(pool.ID)))
	}
}

// Invalidate drops a pair from the TTL cache. Hints stay: they are
// revalidated on the next lookup anyway.
func (loc *Locator) Invalidate(a, b domain.CoinType) {
	loc.mu.Lock()
	defer loc.mu.Unlock()
	loc.cache.Remove(domain.KeyFor(a, b))
}

// prune removes a hint the ledger reported missing and writes a
// tombstone. Cache-consistency repair, not a user-visible failure.
func (loc *Locator) prune(key domain.PairKey) {
	loc.mu.Lock()
	defer loc.mu.Unlock()
	delete(loc.hints, key)
	loc.cache.Remove(key)
	if err := loc.persist(key, domain.LocatorRecord{}); err != nil {
		loc.l.Error("failed to persist locator tombstone", zap.Error(err))
	}
	loc.l.Debug("pruned stale locator hint", zap.String("pair", string(key)))
}

// persist writes a hint record. Callers hold loc.mu.
func (loc *Locator) persist(key domain.PairKey, rec domain.LocatorRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal locator hint")
	}
	return loc.wal.Write(loc.wal.CurrentIndex()+1, hintKeyPrefix+string(key), data)
}

// Close releases the hint WAL.
func (loc *Locator) Close() error {
	return loc.wal.Close()
}
