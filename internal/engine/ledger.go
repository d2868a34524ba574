package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Ledger owns the mutable state of one pool. Every mutation and every
// consistent read goes through a single-slot semaphore, so calls against the
// same pool are serialized while different pools never contend.
//
// Mutations are computed on a cloned candidate and committed only after all
// checks pass; a failed call leaves the ledger untouched.
type Ledger struct {
	params Params
	dust   *uint256.Int

	// immutable after construction; readable without the lock
	id      common.Address
	creator common.Address
	pair    string

	sem       chan struct{}
	pool      domain.Pool
	positions map[common.Address]*domain.Position
}

// MintResult describes a committed mint.
type MintResult struct {
	Side         domain.Side
	Quote        MintQuote
	FeeRecipient domain.Side // side whose reserve received Quote.Fee
	Pool         domain.Pool
	Position     domain.Position
}

// BurnResult describes a committed burn.
type BurnResult struct {
	Side     domain.Side
	Quote    BurnQuote
	Pool     domain.Pool
	Position domain.Position
}

// PoolView is a consistent read of a pool at a given instant.
type PoolView struct {
	Pool        domain.Pool
	Phase       domain.Phase
	FeeBps      uint64
	BullOddsBps uint64
	BearOddsBps uint64
}

// Open creates the ledger for a freshly created pool and seeds it with
// initialLiquidity split between the two sides. Both seeded halves are minted
// 1:1 to the creator. An odd wei goes to BULL.
func Open(params Params, terms domain.Pool, initialLiquidity *uint256.Int, now int64) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if initialLiquidity == nil {
		return nil, domain.ErrZeroOrNegativeAmount
	}

	bear := new(uint256.Int).Rsh(initialLiquidity, 1)
	bull := new(uint256.Int).Sub(initialLiquidity, bear)
	if !bear.Gt(params.DustBuffer()) {
		return nil, fmt.Errorf("%w: initial liquidity %s leaves a side at or below the dust buffer",
			domain.ErrZeroOrNegativeAmount, initialLiquidity.Dec())
	}

	pool := terms.Clone()
	pool.CreatedAt = now
	pool.BullReserve = bull
	pool.BearReserve = bear
	pool.BullSharesTotal = new(uint256.Int).Set(bull)
	pool.BearSharesTotal = new(uint256.Int).Set(bear)
	pool.SnapshotTaken = false
	pool.SnapshotPrice = 0
	pool.SnapshotAt = 0
	pool.Winner = ""

	seed := domain.NewPosition(pool.ID, pool.Creator)
	seed.BullShares.Set(bull)
	seed.BearShares.Set(bear)
	seed.UpdatedAt = now

	l := newLedger(params, pool)
	l.positions[pool.Creator] = &seed
	return l, nil
}

// Restore rebuilds a ledger from persisted state and verifies it.
func Restore(params Params, pool domain.Pool, positions []domain.Position) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	l := newLedger(params, pool.Clone())
	for _, p := range positions {
		if p.PoolID != pool.ID {
			return nil, fmt.Errorf("engine: restore %s: position for pool %s", pool.ID.Hex(), p.PoolID.Hex())
		}
		cp := p.Clone()
		l.positions[p.User] = &cp
	}
	if err := l.checkInvariants(); err != nil {
		return nil, fmt.Errorf("engine: restore %s: %w", pool.ID.Hex(), err)
	}
	return l, nil
}

func newLedger(params Params, pool domain.Pool) *Ledger {
	return &Ledger{
		params:    params,
		dust:      params.DustBuffer(),
		id:        pool.ID,
		creator:   pool.Creator,
		pair:      pool.TokenPair,
		sem:       make(chan struct{}, 1),
		pool:      pool,
		positions: make(map[common.Address]*domain.Position),
	}
}

// ID returns the pool address.
func (l *Ledger) ID() common.Address { return l.id }

// Creator returns the pool originator.
func (l *Ledger) Creator() common.Address { return l.creator }

// TokenPair returns the pool's token pair.
func (l *Ledger) TokenPair() string { return l.pair }

// acquire takes the pool lock. Waiting gives up when ctx ends; once held the
// lock is only released by the caller after the step completes.
func (l *Ledger) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: pool %s busy: %w: %w", l.id.Hex(), domain.ErrContextDone, ctx.Err())
	}
}

func (l *Ledger) release() { <-l.sem }

// Mint deposits collateral on side for user at now.
func (l *Ledger) Mint(ctx context.Context, user common.Address, side domain.Side, deposit *uint256.Int, now int64) (MintResult, error) {
	if !side.Valid() {
		return MintResult{}, domain.ErrInvalidSide
	}
	if err := l.acquire(ctx); err != nil {
		return MintResult{}, err
	}
	defer l.release()

	q, err := l.quoteMint(side, deposit, now)
	if err != nil {
		return MintResult{}, err
	}

	next := l.pool.Clone()
	pos := l.positionOrNew(user)

	recipient := side.Opposite()
	if next.Shares(recipient).IsZero() {
		// Nobody holds the other side; the fee has to stay with the shares
		// that exist, or it would sit in an unbacked reserve.
		recipient = side
	}

	if err := addAll(
		addOp{next.Reserve(side), q.Net},
		addOp{next.Reserve(recipient), q.Fee},
		addOp{next.Shares(side), q.Shares},
		addOp{pos.Shares(side), q.Shares},
		addOp{next.CreatorFeeAccrued, q.CreatorFee},
	); err != nil {
		return MintResult{}, fmt.Errorf("engine: mint: %w", err)
	}
	if err := checkSides(next); err != nil {
		return MintResult{}, fmt.Errorf("engine: mint: %w", err)
	}

	pos.UpdatedAt = now
	l.commit(next, pos)
	return MintResult{
		Side:         side,
		Quote:        q,
		FeeRecipient: recipient,
		Pool:         next.Clone(),
		Position:     pos.Clone(),
	}, nil
}

// Burn redeems shares on side for user at now. The burned amount may be
// smaller than requested when the dust clamp applies; see BurnQuote.
func (l *Ledger) Burn(ctx context.Context, user common.Address, side domain.Side, amount *uint256.Int, now int64) (BurnResult, error) {
	if !side.Valid() {
		return BurnResult{}, domain.ErrInvalidSide
	}
	if amount == nil || amount.IsZero() {
		return BurnResult{}, domain.ErrZeroOrNegativeAmount
	}
	if err := l.acquire(ctx); err != nil {
		return BurnResult{}, err
	}
	defer l.release()

	held := new(uint256.Int)
	if p, ok := l.positions[user]; ok {
		held = p.Shares(side)
	}
	if held.Lt(amount) {
		return BurnResult{}, domain.ErrInsufficientShares
	}

	q, err := l.quoteBurn(side, amount, now)
	if err != nil {
		return BurnResult{}, err
	}

	next := l.pool.Clone()
	pos := l.positionOrNew(user)
	if err := subAll(
		subOp{next.Reserve(side), q.Payout},
		subOp{next.Shares(side), q.Burned},
		subOp{pos.Shares(side), q.Burned},
	); err != nil {
		return BurnResult{}, fmt.Errorf("engine: burn: %w", err)
	}
	if err := checkSides(next); err != nil {
		return BurnResult{}, fmt.Errorf("engine: burn: %w", err)
	}

	pos.UpdatedAt = now
	l.commit(next, pos)
	return BurnResult{
		Side:     side,
		Quote:    q,
		Pool:     next.Clone(),
		Position: pos.Clone(),
	}, nil
}

// QuoteMint prices a deposit at now without changing state.
func (l *Ledger) QuoteMint(ctx context.Context, side domain.Side, deposit *uint256.Int, now int64) (MintQuote, error) {
	if !side.Valid() {
		return MintQuote{}, domain.ErrInvalidSide
	}
	if err := l.acquire(ctx); err != nil {
		return MintQuote{}, err
	}
	defer l.release()
	return l.quoteMint(side, deposit, now)
}

// QuoteBurn prices a redemption at now without changing state.
func (l *Ledger) QuoteBurn(ctx context.Context, side domain.Side, amount *uint256.Int, now int64) (BurnQuote, error) {
	if !side.Valid() {
		return BurnQuote{}, domain.ErrInvalidSide
	}
	if err := l.acquire(ctx); err != nil {
		return BurnQuote{}, err
	}
	defer l.release()
	return l.quoteBurn(side, amount, now)
}

func (l *Ledger) quoteMint(side domain.Side, deposit *uint256.Int, now int64) (MintQuote, error) {
	if l.pool.SnapshotTaken || now >= l.pool.Expiry {
		return MintQuote{}, domain.ErrPoolExpired
	}
	var creatorBps uint64
	if l.params.CreatorFeeTiming == CreatorFeeAtMint {
		creatorBps = uint64(l.pool.CreatorFeeBps)
	}
	return QuoteMint(deposit, l.pool.Reserve(side), l.pool.Shares(side),
		FeeBps(now, l.pool.RampStart, l.pool.Expiry), creatorBps, l.dust)
}

func (l *Ledger) quoteBurn(side domain.Side, amount *uint256.Int, now int64) (BurnQuote, error) {
	if l.pool.SnapshotTaken || now >= l.pool.Expiry {
		return BurnQuote{}, domain.ErrPoolExpired
	}
	return QuoteBurn(amount, l.pool.Reserve(side), l.pool.Shares(side), l.dust)
}

// View returns a consistent copy of the pool with derived fields at now.
func (l *Ledger) View(ctx context.Context, now int64) (PoolView, error) {
	if err := l.acquire(ctx); err != nil {
		return PoolView{}, err
	}
	defer l.release()

	return ViewOf(l.pool.Clone(), now), nil
}

// ViewOf derives the view of a pool that has no live ledger, such as an
// archived one.
func ViewOf(p domain.Pool, now int64) PoolView {
	v := PoolView{
		Pool:   p,
		Phase:  p.Phase(now),
		FeeBps: FeeBps(now, p.RampStart, p.Expiry),
	}
	v.BullOddsBps, v.BearOddsBps = odds(p)
	return v
}

// Position returns user's position. A user who never minted gets an empty
// position.
func (l *Ledger) Position(ctx context.Context, user common.Address) (domain.Position, error) {
	if err := l.acquire(ctx); err != nil {
		return domain.Position{}, err
	}
	defer l.release()
	return l.positionOrNew(user), nil
}

// Positions returns every position in the pool ordered by user address.
func (l *Ledger) Positions(ctx context.Context) ([]domain.Position, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].User.Cmp(out[j].User) < 0
	})
	return out, nil
}

// CheckInvariants verifies that no side holds unbacked shares and that the
// positions sum to the side totals.
func (l *Ledger) CheckInvariants(ctx context.Context) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	return l.checkInvariants()
}

func (l *Ledger) checkInvariants() error {
	if err := checkSides(l.pool); err != nil {
		return err
	}
	for _, side := range []domain.Side{domain.SideBull, domain.SideBear} {
		sum := new(uint256.Int)
		for _, p := range l.positions {
			if _, overflow := sum.AddOverflow(sum, p.Shares(side)); overflow {
				return domain.ErrArithmeticOverflow
			}
		}
		if !sum.Eq(l.pool.Shares(side)) {
			return fmt.Errorf("engine: %s positions sum to %s, total is %s",
				side, sum.Dec(), l.pool.Shares(side).Dec())
		}
	}
	return nil
}

func (l *Ledger) positionOrNew(user common.Address) domain.Position {
	if p, ok := l.positions[user]; ok {
		return p.Clone()
	}
	return domain.NewPosition(l.id, user)
}

func (l *Ledger) commit(pool domain.Pool, pos domain.Position) {
	l.pool = pool
	l.positions[pos.User] = &pos
}

// checkSides enforces reserve == 0 <=> shares == 0 on both sides.
func checkSides(p domain.Pool) error {
	for _, side := range []domain.Side{domain.SideBull, domain.SideBear} {
		if p.Reserve(side).IsZero() != p.Shares(side).IsZero() {
			return fmt.Errorf("engine: %s reserve %s does not back %s shares",
				side, p.Reserve(side).Dec(), p.Shares(side).Dec())
		}
	}
	return nil
}

// odds returns, per side, the combined reserves divided by that side's
// reserve in basis points: the gross multiplier a winner of that side would
// see if the pool settled now. An empty side reports zero.
func odds(p domain.Pool) (bull, bear uint64) {
	total := new(uint256.Int)
	if _, overflow := total.AddOverflow(p.BullReserve, p.BearReserve); overflow {
		return 0, 0
	}
	ratio := func(r *uint256.Int) uint64 {
		if r.IsZero() {
			return 0
		}
		z, err := mulDiv(total, bpsDenominator, r)
		if err != nil || !z.IsUint64() {
			return 0
		}
		return z.Uint64()
	}
	return ratio(p.BullReserve), ratio(p.BearReserve)
}

type addOp struct{ dst, x *uint256.Int }

type subOp struct{ dst, x *uint256.Int }

func addAll(ops ...addOp) error {
	for _, op := range ops {
		if _, overflow := op.dst.AddOverflow(op.dst, op.x); overflow {
			return domain.ErrArithmeticOverflow
		}
	}
	return nil
}

func subAll(ops ...subOp) error {
	for _, op := range ops {
		if _, underflow := op.dst.SubOverflow(op.dst, op.x); underflow {
			return domain.ErrArithmeticOverflow
		}
	}
	return nil
}
