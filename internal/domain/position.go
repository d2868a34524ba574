package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is one user's holding in one pool. Positions are never deleted;
// an all-zero position is a valid terminal state.
type Position struct {
	PoolID        common.Address `json:"pool_id"`
	User          common.Address `json:"user"`
	BullShares    *uint256.Int   `json:"bull_shares"`
	BearShares    *uint256.Int   `json:"bear_shares"`
	Claimed       bool           `json:"claimed"`
	ClaimedAmount *uint256.Int   `json:"claimed_amount"`
	UpdatedAt     int64          `json:"updated_at"`
}

// NewPosition returns an empty position for user in pool.
func NewPosition(poolID, user common.Address) Position {
	return Position{
		PoolID:        poolID,
		User:          user,
		BullShares:    new(uint256.Int),
		BearShares:    new(uint256.Int),
		ClaimedAmount: new(uint256.Int),
	}
}

// Shares returns the position's holding on the given side.
func (p Position) Shares(s Side) *uint256.Int {
	switch s {
	case SideBull:
		return p.BullShares
	case SideBear:
		return p.BearShares
	default:
		return nil
	}
}

// Clone returns a deep copy of p; nil amounts become zero.
func (p Position) Clone() Position {
	out := p
	out.BullShares = cloneAmount(p.BullShares)
	out.BearShares = cloneAmount(p.BearShares)
	out.ClaimedAmount = cloneAmount(p.ClaimedAmount)
	return out
}
