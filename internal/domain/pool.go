// Package domain defines core data structures shared by the pool and
// strategy services.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// CoinType is a fully qualified on-ledger coin type, e.g.
// "0x2::sui::SUI". The ledger reports coin types as structured fields;
// ParseCoinType exists only to validate identifiers loaded from local
// hint storage.
type CoinType string

// ParseCoinType validates the canonical address::module::name form.
func ParseCoinType(s string) (CoinType, error) {
	parts := strings.Split(s, "::")
	if len(parts) != 3 {
		return "", fmt.Errorf("coin type %q is not in address::module::name form", s)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("coin type %q has an empty segment", s)
		}
	}
	if !strings.HasPrefix(parts[0], "0x") {
		return "", fmt.Errorf("coin type %q has a non-hex address segment", s)
	}
	return CoinType(s), nil
}

// PoolID is an opaque ledger object reference.
type PoolID string

// PairKey is the canonical unordered key for a coin pair. Lookups by
// (A,B) and (B,A) must land on the same locator entry.
type PairKey string

// KeyFor returns the canonical key for an unordered coin pair.
func KeyFor(a, b CoinType) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey(string(a) + "|" + string(b))
}

// SwapDirection selects which side of the pool is the input.
type SwapDirection int

const (
	AToB SwapDirection = iota
	BToA
)

func (d SwapDirection) String() string {
	if d == AToB {
		return "a_to_b"
	}
	return "b_to_a"
}

// Pool is the canonical in-memory snapshot of an on-ledger pool.
// Amounts are smallest-unit integers; the coin type order matches the
// ledger's stored type order and is never swapped locally.
type Pool struct {
	ID              PoolID   `json:"id"`
	CoinTypeA       CoinType `json:"coin_type_a"`
	CoinTypeB       CoinType `json:"coin_type_b"`
	ReserveA        uint64   `json:"reserve_a"`
	ReserveB        uint64   `json:"reserve_b"`
	LPSupply        uint64   `json:"lp_supply"`
	FeeBps          uint64   `json:"fee_bps"`
	AccumulatedFeeA uint64   `json:"accumulated_fee_a"`
	AccumulatedFeeB uint64   `json:"accumulated_fee_b"`
	// Pinned marks a fixed 1:1 pair (wrapped/staked assets bridged
	// outside the AMM curve). Quotes short-circuit to identity.
	Pinned bool `json:"pinned,omitempty"`
}

// Validate checks the empty-or-funded invariant: reserves and LP supply
// are either all zero or all positive.
func (p *Pool) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pool has empty id")
	}
	if p.CoinTypeA == p.CoinTypeB {
		return fmt.Errorf("pool %s has identical coin types", p.ID)
	}
	funded := 0
	if p.ReserveA > 0 {
		funded++
	}
	if p.ReserveB > 0 {
		funded++
	}
	if p.LPSupply > 0 {
		funded++
	}
	if funded != 0 && funded != 3 {
		return fmt.Errorf("pool %s violates empty-or-funded invariant: reserveA=%d reserveB=%d lpSupply=%d",
			p.ID, p.ReserveA, p.ReserveB, p.LPSupply)
	}
	return nil
}

// IsEmpty reports whether the pool has never been funded.
func (p *Pool) IsEmpty() bool {
	return p.LPSupply == 0
}

// Reserves returns (reserveIn, reserveOut) for the given direction.
func (p *Pool) Reserves(dir SwapDirection) (uint64, uint64) {
	if dir == AToB {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

// PairKey returns the canonical unordered key of the pool's pair.
func (p *Pool) PairKey() PairKey {
	return KeyFor(p.CoinTypeA, p.CoinTypeB)
}

// DirectionFor returns the swap direction that consumes the given input
// coin, or an error if the coin is not part of the pool.
func (p *Pool) DirectionFor(in CoinType) (SwapDirection, error) {
	switch in {
	case p.CoinTypeA:
		return AToB, nil
	case p.CoinTypeB:
		return BToA, nil
	default:
		return AToB, fmt.Errorf("coin %s is not part of pool %s", in, p.ID)
	}
}

// LocatorRecord is a persisted advisory hint mapping a pair to a pool
// object. It must be revalidated against the ledger before its target
// is trusted.
type LocatorRecord struct {
	PoolID    PoolID    `json:"pool_id"`
	CoinTypeA CoinType  `json:"coin_type_a"`
	CoinTypeB CoinType  `json:"coin_type_b"`
	Network   string    `json:"network"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate rejects malformed hints so stale storage cannot poison the
// locator.
func (r *LocatorRecord) Validate() error {
	if r.PoolID == "" {
		return fmt.Errorf("locator record has empty pool id")
	}
	if _, err := ParseCoinType(string(r.CoinTypeA)); err != nil {
		return err
	}
	if _, err := ParseCoinType(string(r.CoinTypeB)); err != nil {
		return err
	}
	return nil
}
