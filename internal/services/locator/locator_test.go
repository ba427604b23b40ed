package locator

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"tidepool/internal/domain"
)

const (
	coinSUI  = domain.CoinType("0x2::sui::SUI")
	coinUSDC = domain.CoinType("0x2::usdc::USDC")
	coinBTC  = domain.CoinType("0x2::btc::BTC")
)

type fakeLedger struct {
	pools     map[domain.PoolID]*domain.Pool
	findCalls int
	getCalls  int
}

func newFakeLedger(pools ...*domain.Pool) *fakeLedger {
	f := &fakeLedger{pools: make(map[domain.PoolID]*domain.Pool)}
	for _, p := range pools {
		f.pools[p.ID] = p
	}
	return f
}

func (f *fakeLedger) GetPool(_ context.Context, id domain.PoolID) (*domain.Pool, error) {
	f.getCalls++
	pool, ok := f.pools[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrPoolNotFound, "pool %s", id)
	}
	return pool, nil
}

func (f *fakeLedger) FindPool(_ context.Context, a, b domain.CoinType) (*domain.Pool, error) {
	f.findCalls++
	key := domain.KeyFor(a, b)
	for _, pool := range f.pools {
		if pool.PairKey() == key {
			return pool, nil
		}
	}
	return nil, errors.Wrapf(domain.ErrPoolNotFound, "pair %s/%s", a, b)
}

func testPool(id domain.PoolID, a, b domain.CoinType) *domain.Pool {
	return &domain.Pool{ID: id, CoinTypeA: a, CoinTypeB: b, ReserveA: 100, ReserveB: 100, LPSupply: 100, FeeBps: 18}
}

// newTestLocator opens a locator; callers close it themselves since
// the reopen tests cycle the WAL explicitly.
func newTestLocator(t *testing.T, dir string, ledger ledgerReader) *Locator {
	t.Helper()
	loc, err := New(Config{WALDir: dir, Network: "testnet"}, ledger, nil)
	require.NoError(t, err)
	return loc
}

func TestResolveRegistryTakesPrecedence(t *testing.T) {
	ledger := newFakeLedger(testPool("0xdiscovered", coinSUI, coinUSDC))
	loc := newTestLocator(t, t.TempDir(), ledger)
	defer loc.Close()

	loc.Register(coinSUI, coinUSDC, "0xregistered")

	id, err := loc.Resolve(context.Background(), coinUSDC, coinSUI)
	require.NoError(t, err)
	require.EqualValues(t, "0xregistered", id)
	require.Zero(t, ledger.findCalls, "registry hit must not touch the ledger")
}

func TestResolveDiscoversAndCaches(t *testing.T) {
	ledger := newFakeLedger(testPool("0xpool", coinSUI, coinUSDC))
	loc := newTestLocator(t, t.TempDir(), ledger)
	defer loc.Close()
	ctx := context.Background()

	id, err := loc.Resolve(ctx, coinSUI, coinUSDC)
	require.NoError(t, err)
	require.EqualValues(t, "0xpool", id)
	require.Equal(t, 1, ledger.findCalls)

	// second lookup is served from the TTL cache
	_, err = loc.Resolve(ctx, coinSUI, coinUSDC)
	require.NoError(t, err)
	require.Equal(t, 1, ledger.findCalls)
	require.Zero(t, ledger.getCalls)
}

func TestResolveUnknownPair(t *testing.T) {
	loc := newTestLocator(t, t.TempDir(), newFakeLedger())
	defer loc.Close()

	_, err := loc.Resolve(context.Background(), coinSUI, coinBTC)
	require.ErrorIs(t, err, domain.ErrPoolNotFound)

	_, err = loc.Resolve(context.Background(), coinSUI, coinSUI)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestHintsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ledger := newFakeLedger(testPool("0xpool", coinSUI, coinUSDC))

	loc := newTestLocator(t, dir, ledger)
	_, err := loc.Resolve(context.Background(), coinSUI, coinUSDC)
	require.NoError(t, err)
	require.NoError(t, loc.Close())

	// a fresh locator revalidates the persisted hint instead of running
	// discovery again
	reopened := newTestLocator(t, dir, ledger)
	defer reopened.Close()
	ledger.findCalls = 0

	id, err := reopened.Resolve(context.Background(), coinSUI, coinUSDC)
	require.NoError(t, err)
	require.EqualValues(t, "0xpool", id)
	require.Zero(t, ledger.findCalls)
	require.Equal(t, 1, ledger.getCalls)
}

func TestStaleHintIsPruned(t *testing.T) {
	dir := t.TempDir()
	ledger := newFakeLedger(testPool("0xgone", coinSUI, coinUSDC))

	loc := newTestLocator(t, dir, ledger)
	_, err := loc.Resolve(context.Background(), coinSUI, coinUSDC)
	require.NoError(t, err)
	require.NoError(t, loc.Close())

	// the pool disappears and a replacement takes over the pair
	delete(ledger.pools, "0xgone")
	ledger.pools["0xnew"] = testPool("0xnew", coinSUI, coinUSDC)

	reopened := newTestLocator(t, dir, ledger)
	id, err := reopened.Resolve(context.Background(), coinSUI, coinUSDC)
	require.NoError(t, err)
	require.EqualValues(t, "0xnew", id)
	require.NoError(t, reopened.Close())

	// the tombstone sticks: a third open goes straight to the new hint
	third := newTestLocator(t, dir, ledger)
	defer third.Close()
	ledger.getCalls = 0
	id, err = third.Resolve(context.Background(), coinSUI, coinUSDC)
	require.NoError(t, err)
	require.EqualValues(t, "0xnew", id)
	require.Equal(t, 1, ledger.getCalls)
}

func TestInvalidateDropsCacheEntry(t *testing.T) {
	ledger := newFakeLedger(testPool("0xpool", coinSUI, coinUSDC))
	loc := newTestLocator(t, t.TempDir(), ledger)
	defer loc.Close()
	ctx := context.Background()

	_, err := loc.Resolve(ctx, coinSUI, coinUSDC)
	require.NoError(t, err)

	loc.Invalidate(coinSUI, coinUSDC)

	// next lookup falls back to hint revalidation
	_, err = loc.Resolve(ctx, coinSUI, coinUSDC)
	require.NoError(t, err)
	require.Equal(t, 1, ledger.getCalls)
}
