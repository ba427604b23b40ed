package domain

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testParams() StrategyParams {
	return StrategyParams{
		Name:           "btc-accumulator",
		SourceToken:    "0x2::usdc::USDC",
		TargetToken:    "0x2::btc::BTC",
		AmountPerOrder: 1000,
		Interval:       time.Hour,
		TotalOrders:    5,
		MaxSlippageBps: 50,
	}
}

func TestStrategyParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StrategyParams)
	}{
		{"zero amount", func(p *StrategyParams) { p.AmountPerOrder = 0 }},
		{"zero interval", func(p *StrategyParams) { p.Interval = 0 }},
		{"zero orders", func(p *StrategyParams) { p.TotalOrders = 0 }},
		{"same tokens", func(p *StrategyParams) { p.TargetToken = p.SourceToken }},
		{"inverted band", func(p *StrategyParams) {
			p.MinPrice = decimal.NewFromInt(10)
			p.MaxPrice = decimal.NewFromInt(5)
		}},
		{"slippage too high", func(p *StrategyParams) { p.MaxSlippageBps = 10000 }},
		{"name too long", func(p *StrategyParams) {
			for len(p.Name) <= maxStrategyNameLen {
				p.Name += "x"
			}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.mutate(&p)
			require.ErrorIs(t, p.Validate(), ErrValidation)
		})
	}

	p := testParams()
	require.NoError(t, p.Validate())
}

func TestNewDCAStrategyRequiresFullFunding(t *testing.T) {
	_, err := NewDCAStrategy("s1", testParams(), 4999, time.Now())
	require.ErrorIs(t, err, ErrValidation)

	st, err := NewDCAStrategy("s1", testParams(), 5000, time.Now())
	require.NoError(t, err)
	require.Equal(t, StatusActive, st.Status)
	require.EqualValues(t, 5000, st.SourceBalance)
}

func TestIsExecutableBoundary(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	st, err := NewDCAStrategy("s1", testParams(), 5000, base)
	require.NoError(t, err)
	st.LastExecutionTime = base

	// interval is one hour (3_600_000 ms)
	require.False(t, st.IsExecutable(base.Add(3_599_999*time.Millisecond)))
	require.True(t, st.IsExecutable(base.Add(3_600_000*time.Millisecond)))
}

func TestIsExecutableGates(t *testing.T) {
	base := time.Now()
	st, err := NewDCAStrategy("s1", testParams(), 5000, base)
	require.NoError(t, err)
	eligible := base.Add(time.Hour)

	require.True(t, st.IsExecutable(eligible))

	require.NoError(t, st.Pause())
	require.False(t, st.IsExecutable(eligible))

	require.NoError(t, st.Resume(base))
	st.ExecutedOrders = st.Params.TotalOrders
	require.False(t, st.IsExecutable(eligible))
}

func TestApplyExecutionCompletes(t *testing.T) {
	base := time.Now()
	st, err := NewDCAStrategy("s1", testParams(), 5000, base)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		now := base.Add(time.Duration(i+1) * time.Hour)
		require.NoError(t, st.ApplyExecution(1000, 900, now))
	}

	require.Equal(t, StatusCompleted, st.Status)
	require.Equal(t, 5, st.ExecutedOrders)
	require.EqualValues(t, 0, st.SourceBalance)
	require.EqualValues(t, 4500, st.ReceivedBalance)
	require.EqualValues(t, 5000, st.TotalInvested)
	require.True(t, st.AveragePrice.Equal(decimal.NewFromInt(5000).Div(decimal.NewFromInt(4500))))

	err = st.ApplyExecution(1000, 900, base.Add(6*time.Hour))
	require.ErrorIs(t, err, ErrStrategyNotExecutable)
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	base := time.Now()

	st, err := NewDCAStrategy("s1", testParams(), 5000, base)
	require.NoError(t, err)
	refund, err := st.Cancel()
	require.NoError(t, err)
	require.EqualValues(t, 5000, refund)
	require.Equal(t, StatusCancelled, st.Status)

	require.ErrorIs(t, st.Pause(), ErrStrategyNotExecutable)
	require.ErrorIs(t, st.Resume(base), ErrStrategyNotExecutable)
	_, err = st.Cancel()
	require.ErrorIs(t, err, ErrStrategyNotExecutable)
	require.ErrorIs(t, st.ApplyExecution(1000, 900, base), ErrStrategyNotExecutable)
}

func TestPauseOnlyFromActive(t *testing.T) {
	base := time.Now()
	st, err := NewDCAStrategy("s1", testParams(), 5000, base)
	require.NoError(t, err)

	require.NoError(t, st.Pause())
	require.ErrorIs(t, st.Pause(), ErrStrategyNotExecutable)

	// resume restarts the eligibility clock from the resume point,
	// no backlog burst after a long pause
	resumeAt := base.Add(48 * time.Hour)
	require.NoError(t, st.Resume(resumeAt))
	require.False(t, st.IsExecutable(resumeAt.Add(59*time.Minute)))
	require.True(t, st.IsExecutable(resumeAt.Add(time.Hour)))
}

func TestCancelRefundsRemainingBalance(t *testing.T) {
	base := time.Now()
	st, err := NewDCAStrategy("s1", testParams(), 5000, base)
	require.NoError(t, err)

	require.NoError(t, st.ApplyExecution(1000, 950, base.Add(time.Hour)))
	refund, err := st.Cancel()
	require.NoError(t, err)
	require.EqualValues(t, 4000, refund)
	require.EqualValues(t, 0, st.SourceBalance)
}

func TestPriceInBand(t *testing.T) {
	st, err := NewDCAStrategy("s1", testParams(), 5000, time.Now())
	require.NoError(t, err)

	// no bounds set: everything passes
	require.True(t, st.PriceInBand(decimal.NewFromInt(1_000_000)))

	st.Params.MinPrice = decimal.NewFromInt(10)
	st.Params.MaxPrice = decimal.NewFromInt(20)
	require.False(t, st.PriceInBand(decimal.NewFromInt(9)))
	require.True(t, st.PriceInBand(decimal.NewFromInt(10)))
	require.True(t, st.PriceInBand(decimal.NewFromInt(20)))
	require.False(t, st.PriceInBand(decimal.NewFromInt(21)))
}

func TestErrorsWrappedSentinelsStayMatchable(t *testing.T) {
	err := errors.Wrap(ErrPoolNotFound, "pair X/Y")
	require.ErrorIs(t, err, ErrPoolNotFound)
}
