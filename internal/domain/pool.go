package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// PriceDecimals is the implied decimal count of oracle, target and
	// snapshot prices.
	PriceDecimals = 8

	// CollateralDecimals is the implied decimal count of collateral amounts.
	CollateralDecimals = 18

	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator = 10_000

	// MaxCreatorFeeBps caps the settlement fee a creator may charge (10%).
	MaxCreatorFeeBps = 1_000
)

// Phase is the settlement state of a pool at a given instant.
type Phase string

const (
	PhaseActive           Phase = "active"
	PhaseAwaitingSnapshot Phase = "awaiting_snapshot"
	PhaseSettled          Phase = "settled"
)

// Pool is a point-in-time copy of a single prediction pool. Amounts are
// base-unit collateral (wei) and shares; prices carry PriceDecimals.
type Pool struct {
	ID            common.Address `json:"id"`
	TokenPair     string         `json:"token_pair"`
	TargetPrice   int64          `json:"target_price"`
	Expiry        int64          `json:"expiry"`     // unix seconds
	RampStart     int64          `json:"ramp_start"` // unix seconds
	CreatorFeeBps uint16         `json:"creator_fee_bps"`
	Creator       common.Address `json:"creator"`
	CreatedAt     int64          `json:"created_at"`

	BullReserve     *uint256.Int `json:"bull_reserve"`
	BearReserve     *uint256.Int `json:"bear_reserve"`
	BullSharesTotal *uint256.Int `json:"bull_shares_total"`
	BearSharesTotal *uint256.Int `json:"bear_shares_total"`

	SnapshotTaken bool  `json:"snapshot_taken"`
	SnapshotPrice int64 `json:"snapshot_price"`
	SnapshotAt    int64 `json:"snapshot_at"`
	Winner        Side  `json:"winner,omitempty"` // empty until settled

	// PayoutBase and WinningSharesTotal are frozen by the snapshot; every
	// claim is priced against them.
	PayoutBase         *uint256.Int `json:"payout_base"`
	WinningSharesTotal *uint256.Int `json:"winning_shares_total"`
	ClaimedTotal       *uint256.Int `json:"claimed_total"`

	CreatorFeeAccrued   *uint256.Int `json:"creator_fee_accrued"`
	CreatorFeeWithdrawn *uint256.Int `json:"creator_fee_withdrawn"`

	Archived bool `json:"archived"`
}

// Reserve returns the collateral held on the given side.
func (p Pool) Reserve(s Side) *uint256.Int {
	switch s {
	case SideBull:
		return p.BullReserve
	case SideBear:
		return p.BearReserve
	default:
		return nil
	}
}

// Shares returns the outstanding share supply of the given side.
func (p Pool) Shares(s Side) *uint256.Int {
	switch s {
	case SideBull:
		return p.BullSharesTotal
	case SideBear:
		return p.BearSharesTotal
	default:
		return nil
	}
}

// PayoutSide is the side whose shares claim the payout base. It is the
// winner, unless the winner had no shares outstanding at the snapshot; then
// the other side takes the whole base back pro rata.
func (p Pool) PayoutSide() Side {
	if !p.SnapshotTaken {
		return ""
	}
	if s := p.Shares(p.Winner); s == nil || s.IsZero() {
		return p.Winner.Opposite()
	}
	return p.Winner
}

// Phase derives the settlement phase at now.
func (p Pool) Phase(now int64) Phase {
	switch {
	case p.SnapshotTaken:
		return PhaseSettled
	case now >= p.Expiry:
		return PhaseAwaitingSnapshot
	default:
		return PhaseActive
	}
}

// PriceFeedBinding maps a token pair to the oracle feed that prices it.
type PriceFeedBinding struct {
	TokenPair string `json:"token_pair"`
	FeedID    string `json:"feed_id"`
	UpdatedAt int64  `json:"updated_at"`
}

// Clone returns a deep copy of p; nil amounts become zero.
func (p Pool) Clone() Pool {
	out := p
	out.BullReserve = cloneAmount(p.BullReserve)
	out.BearReserve = cloneAmount(p.BearReserve)
	out.BullSharesTotal = cloneAmount(p.BullSharesTotal)
	out.BearSharesTotal = cloneAmount(p.BearSharesTotal)
	out.PayoutBase = cloneAmount(p.PayoutBase)
	out.WinningSharesTotal = cloneAmount(p.WinningSharesTotal)
	out.ClaimedTotal = cloneAmount(p.ClaimedTotal)
	out.CreatorFeeAccrued = cloneAmount(p.CreatorFeeAccrued)
	out.CreatorFeeWithdrawn = cloneAmount(p.CreatorFeeWithdrawn)
	return out
}

func cloneAmount(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}
