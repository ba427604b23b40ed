package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const maxStrategyNameLen = 64

// StrategyStatus is the lifecycle state of a DCA strategy.
type StrategyStatus string

const (
	StatusActive    StrategyStatus = "active"
	StatusPaused    StrategyStatus = "paused"
	StatusCancelled StrategyStatus = "cancelled"
	StatusCompleted StrategyStatus = "completed"
)

// Terminal reports whether no further transitions are permitted.
func (s StrategyStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// StrategyParams are the immutable creation parameters of a strategy.
// MinPrice/MaxPrice bound the effective price (source per unit of
// target); a zero decimal means the bound is unset.
type StrategyParams struct {
	Name           string          `json:"name"`
	SourceToken    CoinType        `json:"source_token"`
	TargetToken    CoinType        `json:"target_token"`
	AmountPerOrder uint64          `json:"amount_per_order"`
	Interval       time.Duration   `json:"interval"`
	TotalOrders    int             `json:"total_orders"`
	MinPrice       decimal.Decimal `json:"min_price"`
	MaxPrice       decimal.Decimal `json:"max_price"`
	MaxSlippageBps uint64          `json:"max_slippage_bps"`
}

// Validate rejects malformed parameters before any ledger round-trip.
func (p *StrategyParams) Validate() error {
	if len(p.Name) > maxStrategyNameLen {
		return errors.Wrapf(ErrValidation, "strategy name exceeds %d characters", maxStrategyNameLen)
	}
	if p.SourceToken == "" || p.TargetToken == "" {
		return errors.Wrap(ErrValidation, "source and target tokens are required")
	}
	if p.SourceToken == p.TargetToken {
		return errors.Wrap(ErrValidation, "source and target tokens must differ")
	}
	if p.AmountPerOrder == 0 {
		return errors.Wrap(ErrValidation, "amount per order must be positive")
	}
	if p.Interval <= 0 {
		return errors.Wrap(ErrValidation, "interval must be positive")
	}
	if p.TotalOrders < 1 {
		return errors.Wrap(ErrValidation, "total orders must be at least 1")
	}
	if p.MinPrice.IsNegative() || p.MaxPrice.IsNegative() {
		return errors.Wrap(ErrValidation, "price bounds must be non-negative")
	}
	if !p.MinPrice.IsZero() && !p.MaxPrice.IsZero() && p.MinPrice.GreaterThan(p.MaxPrice) {
		return errors.Wrap(ErrValidation, "min price exceeds max price")
	}
	if p.MaxSlippageBps >= 10000 {
		return errors.Wrap(ErrValidation, "max slippage must be below 10000 bps")
	}
	return nil
}

// DCAStrategy is a recurring bounded trade series. Mutable state only
// changes through the transition methods so the invariants
// (executedOrders <= totalOrders, terminal states stay terminal,
// completed iff all orders executed) hold everywhere.
type DCAStrategy struct {
	ID     string         `json:"id"`
	Params StrategyParams `json:"params"`
	Status StrategyStatus `json:"status"`

	ExecutedOrders    int       `json:"executed_orders"`
	LastExecutionTime time.Time `json:"last_execution_time"`

	SourceBalance   uint64          `json:"source_balance"`
	ReceivedBalance uint64          `json:"received_balance"`
	TotalInvested   uint64          `json:"total_invested"`
	TotalReceived   uint64          `json:"total_received"`
	AveragePrice    decimal.Decimal `json:"average_price"`

	CreatedAt time.Time `json:"created_at"`
}

// NewDCAStrategy creates a funded Active strategy. The funding balance
// must cover every order up front; the remainder is returned on cancel.
func NewDCAStrategy(id string, params StrategyParams, funding uint64, now time.Time) (*DCAStrategy, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	required := params.AmountPerOrder * uint64(params.TotalOrders)
	if funding < required {
		return nil, errors.Wrapf(ErrValidation, "funding %d does not cover %d orders of %d", funding, params.TotalOrders, params.AmountPerOrder)
	}
	return &DCAStrategy{
		ID:                id,
		Params:            params,
		Status:            StatusActive,
		SourceBalance:     funding,
		AveragePrice:      decimal.Zero,
		CreatedAt:         now,
		LastExecutionTime: now.Add(-params.Interval), // first order is eligible immediately
	}, nil
}

// IsExecutable is the only gate for automatic execution. It must be
// re-evaluated immediately before submission, never cached: now
// advances and a competing executor may have consumed the order.
func (s *DCAStrategy) IsExecutable(now time.Time) bool {
	return s.Status == StatusActive &&
		s.ExecutedOrders < s.Params.TotalOrders &&
		!now.Before(s.LastExecutionTime.Add(s.Params.Interval))
}

// PriceInBand checks the strategy's optional price band against an
// effective price. An out-of-band price skips the cycle; it is not an
// error.
func (s *DCAStrategy) PriceInBand(price decimal.Decimal) bool {
	if !s.Params.MinPrice.IsZero() && price.LessThan(s.Params.MinPrice) {
		return false
	}
	if !s.Params.MaxPrice.IsZero() && price.GreaterThan(s.Params.MaxPrice) {
		return false
	}
	return true
}

// ApplyExecution records one successful order fill. lastExecutionTime
// advances to now; the price band skip path never calls this, so a
// skipped cycle retries on the next eligible tick.
func (s *DCAStrategy) ApplyExecution(amountIn, amountOut uint64, now time.Time) error {
	if s.Status != StatusActive || s.ExecutedOrders >= s.Params.TotalOrders {
		return errors.Wrapf(ErrStrategyNotExecutable, "strategy %s in status %s with %d/%d orders", s.ID, s.Status, s.ExecutedOrders, s.Params.TotalOrders)
	}
	if amountIn > s.SourceBalance {
		return errors.Wrapf(ErrValidation, "fill consumed %d with only %d funded", amountIn, s.SourceBalance)
	}

	s.ExecutedOrders++
	s.LastExecutionTime = now
	s.SourceBalance -= amountIn
	s.ReceivedBalance += amountOut
	s.TotalInvested += amountIn
	s.TotalReceived += amountOut
	if s.TotalReceived > 0 {
		s.AveragePrice = decimal.NewFromUint64(s.TotalInvested).Div(decimal.NewFromUint64(s.TotalReceived))
	}
	if s.ExecutedOrders == s.Params.TotalOrders {
		s.Status = StatusCompleted
	}
	return nil
}

// Pause freezes the strategy. Permitted only from Active.
func (s *DCAStrategy) Pause() error {
	if s.Status != StatusActive {
		return errors.Wrapf(ErrStrategyNotExecutable, "cannot pause strategy %s in status %s", s.ID, s.Status)
	}
	s.Status = StatusPaused
	return nil
}

// Resume reactivates a paused strategy. The eligibility clock restarts
// from the resume point: a long pause must not release a burst of
// immediately eligible backlog orders.
func (s *DCAStrategy) Resume(now time.Time) error {
	if s.Status != StatusPaused {
		return errors.Wrapf(ErrStrategyNotExecutable, "cannot resume strategy %s in status %s", s.ID, s.Status)
	}
	s.Status = StatusActive
	s.LastExecutionTime = now
	return nil
}

// Cancel terminates the strategy from Active or Paused and returns the
// remaining source balance to the owner.
func (s *DCAStrategy) Cancel() (refund uint64, err error) {
	if s.Status != StatusActive && s.Status != StatusPaused {
		return 0, errors.Wrapf(ErrStrategyNotExecutable, "cannot cancel strategy %s in status %s", s.ID, s.Status)
	}
	refund = s.SourceBalance
	s.SourceBalance = 0
	s.Status = StatusCancelled
	return refund, nil
}

// ExecutionRecord is one append-only journal entry per successful
// order; records are never mutated.
type ExecutionRecord struct {
	StrategyID     string          `json:"strategy_id"`
	OrderNumber    int             `json:"order_number"`
	AmountIn       uint64          `json:"amount_in"`
	AmountOut      uint64          `json:"amount_out"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (r *ExecutionRecord) String() string {
	return fmt.Sprintf("strategy %s order %d: %d -> %d at %s",
		r.StrategyID, r.OrderNumber, r.AmountIn, r.AmountOut, r.ExecutionPrice.String())
}
