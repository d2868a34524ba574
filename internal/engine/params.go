// Package engine implements the economic model of binary BULL/BEAR
// prediction pools: the fee ramp, bonding-curve mint and burn pricing, the
// per-pool ledger and snapshot settlement. It performs no I/O; callers pass
// in the current time and any oracle price as plain values.
package engine

import (
	"fmt"

	"github.com/holiman/uint256"
)

// CreatorFeeTiming selects when the creator's cut is taken.
type CreatorFeeTiming string

const (
	// CreatorFeeAtSettlement accrues creatorFeeBps of the combined reserves
	// once, when the snapshot is taken.
	CreatorFeeAtSettlement CreatorFeeTiming = "settlement"
	// CreatorFeeAtMint carves creatorFeeBps out of every net deposit before
	// shares are priced.
	CreatorFeeAtMint CreatorFeeTiming = "mint"
)

// DefaultMinSupply mirrors the minimum-liquidity constant of constant-product
// AMMs; the dust buffer is twice this.
const DefaultMinSupply uint64 = 1_000

// Params are the engine-wide constants shared by every pool.
type Params struct {
	MinSupply        uint64
	CreatorFeeTiming CreatorFeeTiming
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MinSupply:        DefaultMinSupply,
		CreatorFeeTiming: CreatorFeeAtSettlement,
	}
}

// Validate rejects unusable parameter sets.
func (p Params) Validate() error {
	if p.MinSupply == 0 {
		return fmt.Errorf("engine: min_supply must be > 0")
	}
	switch p.CreatorFeeTiming {
	case CreatorFeeAtSettlement, CreatorFeeAtMint:
	default:
		return fmt.Errorf("engine: unknown creator fee timing %q", p.CreatorFeeTiming)
	}
	return nil
}

// DustBuffer is the smallest non-zero supply a side may be left with.
func (p Params) DustBuffer() *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(p.MinSupply), uint256.NewInt(2))
}
