// Package liquidity prices LP-token mints and burns and orchestrates
// add/remove liquidity submission.
package liquidity

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepool/internal/domain"
)

const bpsDenominator = 10000

// ratioMismatchTolerance is the maximum relative difference allowed
// between the A-side and B-side LP computations for a subsequent
// deposit, as a fraction. Beyond it the input ratio is considered bad
// and surfaced instead of silently picking one side.
var ratioMismatchTolerance = decimal.NewFromFloat(0.01)

// PreviewDeposit computes the LP amount minted for a prospective
// deposit and the resulting pool share.
//
// First deposit into an empty pool mints isqrt(amountA*amountB), the
// geometric mean, which keeps the first mint independent of reserve
// donation tricks. Subsequent deposits must arrive in the pool's
// current ratio; both sides are computed and cross-checked.
func PreviewDeposit(pool *domain.Pool, amountA, amountB uint64) (*domain.DepositPreview, error) {
	if amountA == 0 || amountB == 0 {
		return nil, errors.Wrap(domain.ErrValidation, "deposit amounts must be positive")
	}
	if err := pool.Validate(); err != nil {
		return nil, errors.Wrap(domain.ErrValidation, err.Error())
	}

	if pool.IsEmpty() {
		product := new(big.Int).Mul(new(big.Int).SetUint64(amountA), new(big.Int).SetUint64(amountB))
		minted := product.Sqrt(product).Uint64()
		if minted == 0 {
			return nil, errors.Wrap(domain.ErrValidation, "deposit too small for initial mint")
		}
		return &domain.DepositPreview{
			LPMinted: minted,
			SharePct: decimal.NewFromInt(100),
		}, nil
	}

	mintedA := mulDiv(amountA, pool.LPSupply, pool.ReserveA)
	mintedB := mulDiv(amountB, pool.LPSupply, pool.ReserveB)
	if mismatch(mintedA, mintedB).GreaterThan(ratioMismatchTolerance) {
		return nil, errors.Wrapf(domain.ErrValidation,
			"deposit ratio does not match pool ratio: a-side mints %d, b-side mints %d", mintedA, mintedB)
	}

	minted := mintedA
	if mintedB < minted {
		minted = mintedB
	}
	if minted == 0 {
		return nil, errors.Wrap(domain.ErrValidation, "deposit too small to mint lp")
	}

	shareBps := mulDiv(minted, bpsDenominator, pool.LPSupply+minted)
	return &domain.DepositPreview{
		LPMinted: minted,
		SharePct: decimal.New(int64(shareBps), -2), // bps -> percent, 2 decimals
	}, nil
}

// PreviewWithdraw computes the proportional payout for burning lpAmount.
// The caller's entire LP token is redeemed atomically; splitting for a
// partial withdrawal happens outside this component.
func PreviewWithdraw(pool *domain.Pool, lpAmount uint64) (*domain.WithdrawPreview, error) {
	if lpAmount == 0 {
		return nil, errors.Wrap(domain.ErrValidation, "lp amount must be positive")
	}
	if pool.IsEmpty() {
		return nil, errors.Wrapf(domain.ErrInsufficientLiquidity, "pool %s is empty", pool.ID)
	}
	if lpAmount > pool.LPSupply {
		return nil, errors.Wrapf(domain.ErrValidation, "lp amount %d exceeds supply %d", lpAmount, pool.LPSupply)
	}
	return &domain.WithdrawPreview{
		AmountA: mulDiv(pool.ReserveA, lpAmount, pool.LPSupply),
		AmountB: mulDiv(pool.ReserveB, lpAmount, pool.LPSupply),
	}, nil
}

// DepositRatio returns the current B-per-A pool ratio as guidance for
// callers preparing a matched deposit. The preview does not auto-correct
// mismatched ratios.
func DepositRatio(pool *domain.Pool) (decimal.Decimal, error) {
	if pool.IsEmpty() {
		return decimal.Zero, errors.Wrapf(domain.ErrInsufficientLiquidity, "pool %s is empty", pool.ID)
	}
	return decimal.NewFromUint64(pool.ReserveB).Div(decimal.NewFromUint64(pool.ReserveA)), nil
}

// mulDiv computes a*b/c with 128-bit intermediates and floor division,
// matching the ledger's integer math.
func mulDiv(a, b, c uint64) uint64 {
	res := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	res.Div(res, new(big.Int).SetUint64(c))
	return res.Uint64()
}

func mismatch(a, b uint64) decimal.Decimal {
	if a == b {
		return decimal.Zero
	}
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(hi - lo).Div(decimal.NewFromUint64(hi))
}

type liquidityCaller interface {
	AddLiquidity(ctx context.Context, poolID domain.PoolID, amountA, amountB uint64) (*domain.Pool, error)
	RemoveLiquidity(ctx context.Context, poolID domain.PoolID, lpAmount, minA, minB uint64) (*domain.Pool, error)
	CreatePool(ctx context.Context, a, b domain.CoinType, amountA, amountB uint64) (*domain.Pool, error)
}

type poolResolver interface {
	Resolve(ctx context.Context, a, b domain.CoinType) (domain.PoolID, error)
	Remember(pool *domain.Pool)
	Invalidate(a, b domain.CoinType)
}

type stateReader interface {
	State(ctx context.Context, id domain.PoolID) (*domain.Pool, error)
	Invalidate(id domain.PoolID)
}

// Service composes previews with ledger submission and eager cache
// invalidation on write success.
type Service struct {
	ledger  liquidityCaller
	locator poolResolver
	reader  stateReader
	l       *zap.Logger
}

// NewService wires the liquidity orchestrator.
func NewService(ledger liquidityCaller, locator poolResolver, reader stateReader, l *zap.Logger) *Service {
	if l == nil {
		l = zap.NewNop()
	}
	return &Service{ledger: ledger, locator: locator, reader: reader, l: l}
}

// CreatePool submits the initial deposit that creates a pool, then
// seeds the locator with the new pool.
func (s *Service) CreatePool(ctx context.Context, a, b domain.CoinType, amountA, amountB uint64) (*domain.Pool, error) {
	if a == b {
		return nil, errors.Wrap(domain.ErrValidation, "pool coin types must differ")
	}
	if amountA == 0 || amountB == 0 {
		return nil, errors.Wrap(domain.ErrValidation, "initial deposit amounts must be positive")
	}

	pool, err := s.ledger.CreatePool(ctx, a, b, amountA, amountB)
	if err != nil {
		return nil, errors.Wrap(err, "create_pool failed")
	}
	s.locator.Remember(pool)

	s.l.Info("pool created",
		zap.String("pool", string(pool.ID)),
		zap.String("coin_a", string(a)),
		zap.String("coin_b", string(b)),
		zap.Uint64("lp_supply", pool.LPSupply))
	return pool, nil
}

// AddLiquidity previews the mint against the current snapshot, submits
// the deposit and invalidates the cached pool state on success.
func (s *Service) AddLiquidity(ctx context.Context, a, b domain.CoinType, amountA, amountB uint64) (*domain.DepositPreview, error) {
	poolID, err := s.locator.Resolve(ctx, a, b)
	if err != nil {
		return nil, err
	}
	pool, err := s.reader.State(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.CoinTypeA != a {
		// caller passed the pair reversed relative to the ledger order
		amountA, amountB = amountB, amountA
	}

	preview, err := PreviewDeposit(pool, amountA, amountB)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.AddLiquidity(ctx, poolID, amountA, amountB); err != nil {
		return nil, errors.Wrapf(err, "add_liquidity failed for pool %s", poolID)
	}
	s.reader.Invalidate(poolID)

	s.l.Info("liquidity added",
		zap.String("pool", string(poolID)),
		zap.Uint64("amount_a", amountA),
		zap.Uint64("amount_b", amountB),
		zap.Uint64("lp_minted", preview.LPMinted),
		zap.String("share_pct", preview.SharePct.String()))
	return preview, nil
}

// RemoveLiquidity previews the payout, submits the burn with the
// preview as the floor and invalidates the cached pool state on
// success. The floor lets the ledger reject a fill that drifted below
// what the caller accepted.
func (s *Service) RemoveLiquidity(ctx context.Context, a, b domain.CoinType, lpAmount uint64) (*domain.WithdrawPreview, error) {
	poolID, err := s.locator.Resolve(ctx, a, b)
	if err != nil {
		return nil, err
	}
	pool, err := s.reader.State(ctx, poolID)
	if err != nil {
		return nil, err
	}

	preview, err := PreviewWithdraw(pool, lpAmount)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.RemoveLiquidity(ctx, poolID, lpAmount, preview.AmountA, preview.AmountB); err != nil {
		return nil, errors.Wrapf(err, "remove_liquidity failed for pool %s", poolID)
	}
	s.reader.Invalidate(poolID)

	s.l.Info("liquidity removed",
		zap.String("pool", string(poolID)),
		zap.Uint64("lp_burned", lpAmount),
		zap.Uint64("amount_a", preview.AmountA),
		zap.Uint64("amount_b", preview.AmountB))
	return preview, nil
}
