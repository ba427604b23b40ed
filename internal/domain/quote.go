package domain

import "github.com/shopspring/decimal"

// SwapQuote is derived from one pool snapshot and is valid only against
// that snapshot: reserves may move between quoting and submission, so
// MinimumReceived (not OutputAmount) is what gets submitted as the
// floor to the ledger call.
type SwapQuote struct {
	InputAmount  uint64
	OutputAmount uint64
	// PriceImpactPct is display-only and never drives execution
	// decisions.
	PriceImpactPct  float64
	MinimumReceived uint64
	// EffectivePrice is input per unit of output, used for DCA price
	// band checks.
	EffectivePrice decimal.Decimal
	// Route lists the pools the quote traverses; two entries for a
	// bridge-routed quote.
	Route []PoolID
}

// DepositPreview is the result of pricing a prospective deposit.
type DepositPreview struct {
	LPMinted uint64
	// SharePct is the post-deposit pool share, 2-decimal precision.
	SharePct decimal.Decimal
}

// WithdrawPreview is the proportional payout for burning an LP amount.
type WithdrawPreview struct {
	AmountA uint64
	AmountB uint64
}
