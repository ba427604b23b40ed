package liquidity

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tidepool/internal/domain"
)

// decimalPct converts basis points to the percent representation the
// previews carry.
func decimalPct(bps int64) decimal.Decimal { return decimal.New(bps, -2) }

const (
	coinA = domain.CoinType("0x2::sui::SUI")
	coinB = domain.CoinType("0x2::usdc::USDC")
)

func fundedPool(reserveA, reserveB, supply uint64) *domain.Pool {
	return &domain.Pool{
		ID: "0xpool", CoinTypeA: coinA, CoinTypeB: coinB,
		ReserveA: reserveA, ReserveB: reserveB, LPSupply: supply, FeeBps: 18,
	}
}

func TestPreviewDepositFirstMint(t *testing.T) {
	pool := &domain.Pool{ID: "0xpool", CoinTypeA: coinA, CoinTypeB: coinB}

	// geometric mean of the initial deposit
	preview, err := PreviewDeposit(pool, 400, 900)
	require.NoError(t, err)
	require.EqualValues(t, 600, preview.LPMinted)
	require.True(t, preview.SharePct.Equal(decimalPct(10000)),
		"first depositor owns the whole pool, got %s", preview.SharePct)
}

func TestPreviewDepositSubsequentMint(t *testing.T) {
	pool := fundedPool(1000, 1000, 1000)

	preview, err := PreviewDeposit(pool, 100, 100)
	require.NoError(t, err)
	require.EqualValues(t, 100, preview.LPMinted)
	// 100 of 1100 total supply, floored to basis points
	require.True(t, preview.SharePct.Equal(decimalPct(909)), "got %s", preview.SharePct)
}

func TestPreviewDepositRejectsRatioMismatch(t *testing.T) {
	pool := fundedPool(1000, 1000, 1000)

	// 10% off the pool ratio, well beyond tolerance
	_, err := PreviewDeposit(pool, 100, 110)
	require.ErrorIs(t, err, domain.ErrValidation)

	// within the 1% tolerance the smaller side wins
	preview, err := PreviewDeposit(pool, 1000, 1009)
	require.NoError(t, err)
	require.EqualValues(t, 1000, preview.LPMinted)
}

func TestPreviewDepositRejectsZeroAmounts(t *testing.T) {
	pool := fundedPool(1000, 1000, 1000)
	_, err := PreviewDeposit(pool, 0, 100)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = PreviewDeposit(pool, 100, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestPreviewWithdraw(t *testing.T) {
	pool := fundedPool(1200, 600, 600)

	preview, err := PreviewWithdraw(pool, 200)
	require.NoError(t, err)
	require.EqualValues(t, 400, preview.AmountA)
	require.EqualValues(t, 200, preview.AmountB)

	// full burn drains the pool exactly
	preview, err = PreviewWithdraw(pool, 600)
	require.NoError(t, err)
	require.EqualValues(t, 1200, preview.AmountA)
	require.EqualValues(t, 600, preview.AmountB)

	_, err = PreviewWithdraw(pool, 601)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = PreviewWithdraw(pool, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestDepositWithdrawRoundTripNeverProfits(t *testing.T) {
	pool := fundedPool(10_000, 30_000, 17_320)

	preview, err := PreviewDeposit(pool, 1000, 3000)
	require.NoError(t, err)

	after := fundedPool(
		pool.ReserveA+1000,
		pool.ReserveB+3000,
		pool.LPSupply+preview.LPMinted,
	)
	payout, err := PreviewWithdraw(after, preview.LPMinted)
	require.NoError(t, err)

	// floor division means the round trip may lose dust, never gain
	require.LessOrEqual(t, payout.AmountA, uint64(1000))
	require.LessOrEqual(t, payout.AmountB, uint64(3000))
}

func TestDepositRatio(t *testing.T) {
	ratio, err := DepositRatio(fundedPool(1000, 3000, 1732))
	require.NoError(t, err)
	require.Equal(t, "3", ratio.String())

	_, err = DepositRatio(&domain.Pool{ID: "0xempty", CoinTypeA: coinA, CoinTypeB: coinB})
	require.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

type fakeCaller struct {
	pool      *domain.Pool
	addCalls  [][2]uint64
	remFloors [][2]uint64
	fail      error
}

func (f *fakeCaller) CreatePool(_ context.Context, a, b domain.CoinType, amountA, amountB uint64) (*domain.Pool, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.pool, nil
}

func (f *fakeCaller) AddLiquidity(_ context.Context, _ domain.PoolID, amountA, amountB uint64) (*domain.Pool, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.addCalls = append(f.addCalls, [2]uint64{amountA, amountB})
	return f.pool, nil
}

func (f *fakeCaller) RemoveLiquidity(_ context.Context, _ domain.PoolID, lpAmount, minA, minB uint64) (*domain.Pool, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.remFloors = append(f.remFloors, [2]uint64{minA, minB})
	return f.pool, nil
}

type fakeResolver struct {
	id         domain.PoolID
	remembered []*domain.Pool
}

func (f *fakeResolver) Resolve(_ context.Context, a, b domain.CoinType) (domain.PoolID, error) {
	if f.id == "" {
		return "", errors.Wrap(domain.ErrPoolNotFound, "no pool")
	}
	return f.id, nil
}

func (f *fakeResolver) Remember(pool *domain.Pool) { f.remembered = append(f.remembered, pool) }
func (f *fakeResolver) Invalidate(a, b domain.CoinType) {}

type fakeState struct {
	pool        *domain.Pool
	invalidated []domain.PoolID
}

func (f *fakeState) State(_ context.Context, _ domain.PoolID) (*domain.Pool, error) {
	return f.pool, nil
}
func (f *fakeState) Invalidate(id domain.PoolID) { f.invalidated = append(f.invalidated, id) }

func TestCreatePoolSeedsLocator(t *testing.T) {
	pool := fundedPool(400, 900, 600)
	caller := &fakeCaller{pool: pool}
	resolver := &fakeResolver{id: pool.ID}
	svc := NewService(caller, resolver, &fakeState{pool: pool}, nil)

	created, err := svc.CreatePool(context.Background(), coinA, coinB, 400, 900)
	require.NoError(t, err)
	require.Equal(t, pool.ID, created.ID)
	require.Len(t, resolver.remembered, 1)

	_, err = svc.CreatePool(context.Background(), coinA, coinA, 400, 900)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAddLiquidityFlipsReversedPair(t *testing.T) {
	pool := fundedPool(1000, 2000, 1414)
	caller := &fakeCaller{pool: pool}
	state := &fakeState{pool: pool}
	svc := NewService(caller, &fakeResolver{id: pool.ID}, state, nil)

	// caller names the pair in ledger order B-first: amounts must be
	// flipped before preview and submission
	_, err := svc.AddLiquidity(context.Background(), coinB, coinA, 200, 100)
	require.NoError(t, err)
	require.Len(t, caller.addCalls, 1)
	require.Equal(t, [2]uint64{100, 200}, caller.addCalls[0])
	require.Equal(t, []domain.PoolID{pool.ID}, state.invalidated)
}

func TestRemoveLiquiditySubmitsPreviewAsFloor(t *testing.T) {
	pool := fundedPool(1200, 600, 600)
	caller := &fakeCaller{pool: pool}
	state := &fakeState{pool: pool}
	svc := NewService(caller, &fakeResolver{id: pool.ID}, state, nil)

	preview, err := svc.RemoveLiquidity(context.Background(), coinA, coinB, 200)
	require.NoError(t, err)
	require.Len(t, caller.remFloors, 1)
	require.Equal(t, [2]uint64{preview.AmountA, preview.AmountB}, caller.remFloors[0])
	require.Equal(t, []domain.PoolID{pool.ID}, state.invalidated)
}

func TestAddLiquidityDoesNotInvalidateOnFailure(t *testing.T) {
	pool := fundedPool(1000, 1000, 1000)
	caller := &fakeCaller{pool: pool, fail: errors.Wrap(domain.ErrNetwork, "rpc down")}
	state := &fakeState{pool: pool}
	svc := NewService(caller, &fakeResolver{id: pool.ID}, state, nil)

	_, err := svc.AddLiquidity(context.Background(), coinA, coinB, 100, 100)
	require.ErrorIs(t, err, domain.ErrNetwork)
	require.Empty(t, state.invalidated)
}
