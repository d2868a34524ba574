package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// SnapshotResult describes a committed snapshot.
type SnapshotResult struct {
	Winner     domain.Side
	Price      int64
	CreatorFee *uint256.Int // accrued by this snapshot
	Pool       domain.Pool
}

// ClaimResult describes a committed claim. Reward is for the caller to
// disburse.
type ClaimResult struct {
	Reward   *uint256.Int
	Pool     domain.Pool
	Position domain.Position
}

// WithdrawResult describes a creator fee withdrawal.
type WithdrawResult struct {
	Amount *uint256.Int
	Pool   domain.Pool
}

// TakeSnapshot freezes the settlement price and fixes the winner. BULL wins
// only when price is strictly above the target.
//
// Under CreatorFeeAtSettlement the creator's cut is taken here, once, as
// floor(reserve*bps/10000) from each side's reserve. The two floors can sum
// to 1 wei less than a single floor over the combined reserve; that wei stays
// in the payout base. The payout base is the combined reserve that remains.
// If the winning side has no shares, the base goes back to the other side
// (see domain.Pool.PayoutSide).
func (l *Ledger) TakeSnapshot(ctx context.Context, caller common.Address, price int64, now int64) (SnapshotResult, error) {
	if err := l.acquire(ctx); err != nil {
		return SnapshotResult{}, err
	}
	defer l.release()

	switch {
	case caller != l.creator:
		return SnapshotResult{}, domain.ErrNotCreator
	case now < l.pool.Expiry:
		return SnapshotResult{}, domain.ErrPoolNotExpired
	case l.pool.SnapshotTaken:
		return SnapshotResult{}, domain.ErrSnapshotAlreadyTaken
	case price <= 0:
		return SnapshotResult{}, fmt.Errorf("%w: snapshot price %d", domain.ErrZeroOrNegativeAmount, price)
	}

	next := l.pool.Clone()
	cut := new(uint256.Int)
	if l.params.CreatorFeeTiming == CreatorFeeAtSettlement && next.CreatorFeeBps > 0 {
		for _, side := range []domain.Side{domain.SideBull, domain.SideBear} {
			c, err := applyBps(next.Reserve(side), uint64(next.CreatorFeeBps))
			if err != nil {
				return SnapshotResult{}, fmt.Errorf("engine: snapshot: %w", err)
			}
			if err := subAll(subOp{next.Reserve(side), c}); err != nil {
				return SnapshotResult{}, fmt.Errorf("engine: snapshot: %w", err)
			}
			cut.Add(cut, c)
		}
		if err := addAll(addOp{next.CreatorFeeAccrued, cut}); err != nil {
			return SnapshotResult{}, fmt.Errorf("engine: snapshot: %w", err)
		}
	}

	winner := domain.SideBear
	if price > next.TargetPrice {
		winner = domain.SideBull
	}

	base, overflow := new(uint256.Int).AddOverflow(next.BullReserve, next.BearReserve)
	if overflow {
		return SnapshotResult{}, fmt.Errorf("engine: snapshot: %w", domain.ErrArithmeticOverflow)
	}
	if err := checkSides(next); err != nil {
		return SnapshotResult{}, fmt.Errorf("engine: snapshot: %w", err)
	}

	next.SnapshotTaken = true
	next.SnapshotPrice = price
	next.SnapshotAt = now
	next.Winner = winner
	next.PayoutBase = base
	next.WinningSharesTotal = new(uint256.Int).Set(next.Shares(next.PayoutSide()))
	next.ClaimedTotal = new(uint256.Int)

	l.pool = next
	return SnapshotResult{
		Winner:     winner,
		Price:      price,
		CreatorFee: cut,
		Pool:       next.Clone(),
	}, nil
}

// Claim pays user's share of the payout base, pro rata to their shares on
// the payout side. Reserves and share totals stay frozen at their snapshot values; the
// paid amount is tracked in ClaimedTotal.
func (l *Ledger) Claim(ctx context.Context, user common.Address, now int64) (ClaimResult, error) {
	if err := l.acquire(ctx); err != nil {
		return ClaimResult{}, err
	}
	defer l.release()

	if !l.pool.SnapshotTaken {
		return ClaimResult{}, domain.ErrSnapshotNotTaken
	}
	held, ok := l.positions[user]
	if ok && held.Claimed {
		return ClaimResult{}, domain.ErrAlreadyClaimed
	}
	side := l.pool.PayoutSide()
	if !ok || held.Shares(side).IsZero() {
		return ClaimResult{}, domain.ErrNoWinningPosition
	}

	reward, err := mulDiv(l.pool.PayoutBase, held.Shares(side), l.pool.WinningSharesTotal)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim: %w", err)
	}

	next := l.pool.Clone()
	if err := addAll(addOp{next.ClaimedTotal, reward}); err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim: %w", err)
	}
	if next.ClaimedTotal.Gt(next.PayoutBase) {
		return ClaimResult{}, fmt.Errorf("engine: claim: payouts %s exceed base %s",
			next.ClaimedTotal.Dec(), next.PayoutBase.Dec())
	}

	pos := held.Clone()
	pos.Claimed = true
	pos.ClaimedAmount = new(uint256.Int).Set(reward)
	pos.UpdatedAt = now

	l.commit(next, pos)
	return ClaimResult{
		Reward:   reward,
		Pool:     next.Clone(),
		Position: pos.Clone(),
	}, nil
}

// WithdrawCreatorFee pays out everything accrued to the creator so far. It is
// valid in any phase; with nothing accrued it returns zero.
func (l *Ledger) WithdrawCreatorFee(ctx context.Context, caller common.Address) (WithdrawResult, error) {
	if err := l.acquire(ctx); err != nil {
		return WithdrawResult{}, err
	}
	defer l.release()

	if caller != l.creator {
		return WithdrawResult{}, domain.ErrNotCreator
	}

	next := l.pool.Clone()
	amount := new(uint256.Int).Set(next.CreatorFeeAccrued)
	if err := addAll(addOp{next.CreatorFeeWithdrawn, amount}); err != nil {
		return WithdrawResult{}, fmt.Errorf("engine: withdraw creator fee: %w", err)
	}
	next.CreatorFeeAccrued.Clear()

	l.pool = next
	return WithdrawResult{Amount: amount, Pool: next.Clone()}, nil
}
