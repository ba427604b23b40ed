// Package quote computes swap quotes against pool snapshots using the
// same integer arithmetic the ledger applies, so a locally computed
// floor never drifts from the on-ledger fill.
package quote

import (
	"context"
	"math"
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepool/internal/domain"
)

const bpsDenominator = 10000

type poolResolver interface {
	Resolve(ctx context.Context, a, b domain.CoinType) (domain.PoolID, error)
}

type stateReader interface {
	State(ctx context.Context, id domain.PoolID) (*domain.Pool, error)
}

// Engine prices prospective swaps. Direct pools are preferred; when no
// direct pool exists, exactly one intermediary hop through the bridge
// coin (the network's native coin) is attempted.
type Engine struct {
	locator poolResolver
	reader  stateReader
	bridge  domain.CoinType
	l       *zap.Logger
}

// NewEngine returns a quote engine routing through the given bridge coin.
func NewEngine(locator poolResolver, reader stateReader, bridge domain.CoinType, l *zap.Logger) *Engine {
	if l == nil {
		l = zap.NewNop()
	}
	return &Engine{locator: locator, reader: reader, bridge: bridge, l: l}
}

// AmountOut is the exact constant-product output for one swap leg.
// Fee is applied to the input first with floor division, rounding in
// the protocol's favor. Intermediate products exceed 64 bits, so the
// whole path runs on big.Int; no floating point touches this function.
func AmountOut(amountIn, reserveIn, reserveOut, feeBps uint64) (uint64, error) {
	if amountIn == 0 {
		return 0, errors.Wrap(domain.ErrValidation, "swap input must be positive")
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, errors.Wrapf(domain.ErrInsufficientLiquidity, "reserves %d/%d", reserveIn, reserveOut)
	}
	if feeBps >= bpsDenominator {
		return 0, errors.Wrapf(domain.ErrValidation, "fee rate %d bps out of range", feeBps)
	}

	in := new(big.Int).SetUint64(amountIn)
	afterFee := new(big.Int).Mul(in, big.NewInt(int64(bpsDenominator-feeBps)))
	afterFee.Div(afterFee, big.NewInt(bpsDenominator))

	num := new(big.Int).Mul(afterFee, new(big.Int).SetUint64(reserveOut))
	den := new(big.Int).Add(new(big.Int).SetUint64(reserveIn), afterFee)
	out := num.Div(num, den)

	return out.Uint64(), nil
}

// MinimumReceived applies the slippage tolerance floor to a quoted
// output. This floor, not the raw quote, is what gets submitted to the
// ledger call.
func MinimumReceived(outputAmount, slippageBps uint64) uint64 {
	floor := new(big.Int).Mul(new(big.Int).SetUint64(outputAmount), big.NewInt(int64(bpsDenominator-slippageBps)))
	floor.Div(floor, big.NewInt(bpsDenominator))
	return floor.Uint64()
}

// PriceImpact compares the pre-trade spot price against the effective
// fill price, as a display percentage. Never used for execution
// decisions.
func PriceImpact(amountIn, amountOut, reserveIn, reserveOut uint64) float64 {
	if reserveIn == 0 || amountIn == 0 {
		return 0
	}
	spot := float64(reserveOut) / float64(reserveIn)
	if spot == 0 {
		return 0
	}
	effective := float64(amountOut) / float64(amountIn)
	return math.Abs(spot-effective) / spot * 100
}

// CombineImpacts merges two leg impacts for a bridge route using the
// compounding approximation i1 + i2 + i1*i2/100. This is documented
// behavior, not a true path integral.
func CombineImpacts(i1, i2 float64) float64 {
	return i1 + i2 + i1*i2/100
}

// QuotePool prices a swap against a single pool snapshot.
func (e *Engine) QuotePool(pool *domain.Pool, dir domain.SwapDirection, amountIn, slippageBps uint64) (*domain.SwapQuote, error) {
	if slippageBps >= bpsDenominator {
		return nil, errors.Wrapf(domain.ErrValidation, "slippage tolerance %d bps out of range", slippageBps)
	}
	if amountIn == 0 {
		return nil, errors.Wrap(domain.ErrValidation, "swap input must be positive")
	}

	if pool.Pinned {
		return e.pinnedQuote(pool, amountIn, slippageBps), nil
	}

	reserveIn, reserveOut := pool.Reserves(dir)
	out, err := AmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
	if err != nil {
		return nil, err
	}

	return &domain.SwapQuote{
		InputAmount:     amountIn,
		OutputAmount:    out,
		PriceImpactPct:  PriceImpact(amountIn, out, reserveIn, reserveOut),
		MinimumReceived: MinimumReceived(out, slippageBps),
		EffectivePrice:  effectivePrice(amountIn, out),
		Route:           []domain.PoolID{pool.ID},
	}, nil
}

// Quote resolves the pair and prices a swap, falling back to one bridge
// hop when no direct pool exists. Routes beyond one hop are never
// attempted.
func (e *Engine) Quote(ctx context.Context, in, out domain.CoinType, amountIn, slippageBps uint64) (*domain.SwapQuote, error) {
	poolID, err := e.locator.Resolve(ctx, in, out)
	if err == nil {
		pool, rerr := e.reader.State(ctx, poolID)
		if rerr != nil {
			return nil, rerr
		}
		dir, derr := pool.DirectionFor(in)
		if derr != nil {
			return nil, errors.Wrap(domain.ErrValidation, derr.Error())
		}
		return e.QuotePool(pool, dir, amountIn, slippageBps)
	}
	if !errors.Is(err, domain.ErrPoolNotFound) {
		return nil, err
	}

	if in == e.bridge || out == e.bridge {
		return nil, err
	}

	e.l.Debug("no direct pool, trying bridge route",
		zap.String("in", string(in)),
		zap.String("out", string(out)),
		zap.String("bridge", string(e.bridge)))

	return e.bridgeQuote(ctx, in, out, amountIn, slippageBps, err)
}

func (e *Engine) bridgeQuote(ctx context.Context, in, out domain.CoinType, amountIn, slippageBps uint64, notFound error) (*domain.SwapQuote, error) {
	leg1, err := e.Quote(ctx, in, e.bridge, amountIn, slippageBps)
	if err != nil {
		if errors.Is(err, domain.ErrPoolNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	leg2, err := e.Quote(ctx, e.bridge, out, leg1.OutputAmount, slippageBps)
	if err != nil {
		if errors.Is(err, domain.ErrPoolNotFound) {
			return nil, notFound
		}
		return nil, err
	}

	return &domain.SwapQuote{
		InputAmount:     amountIn,
		OutputAmount:    leg2.OutputAmount,
		PriceImpactPct:  CombineImpacts(leg1.PriceImpactPct, leg2.PriceImpactPct),
		MinimumReceived: MinimumReceived(leg2.OutputAmount, slippageBps),
		EffectivePrice:  effectivePrice(amountIn, leg2.OutputAmount),
		Route:           append(append([]domain.PoolID{}, leg1.Route...), leg2.Route...),
	}, nil
}

func (e *Engine) pinnedQuote(pool *domain.Pool, amountIn, slippageBps uint64) *domain.SwapQuote {
	return &domain.SwapQuote{
		InputAmount:     amountIn,
		OutputAmount:    amountIn,
		PriceImpactPct:  0,
		MinimumReceived: MinimumReceived(amountIn, slippageBps),
		EffectivePrice:  decimal.NewFromInt(1),
		Route:           []domain.PoolID{pool.ID},
	}
}

func effectivePrice(amountIn, amountOut uint64) decimal.Decimal {
	if amountOut == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(amountIn).Div(decimal.NewFromUint64(amountOut))
}
