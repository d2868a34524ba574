package engine

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// errUnbackedSupply means a side reports shares without reserve. The ledger
// never produces that state; seeing it means the inputs were not taken from a
// consistent ledger read.
var errUnbackedSupply = errors.New("engine: side has shares but no reserve")

var bpsDenominator = uint256.NewInt(domain.BpsDenominator)

// MintQuote is the outcome of pricing a deposit on one side of a pool.
type MintQuote struct {
	Deposit    *uint256.Int
	FeeBps     uint64
	Fee        *uint256.Int // trading fee, routed to the opposite reserve
	CreatorFee *uint256.Int // creator cut, only under CreatorFeeAtMint
	Net        *uint256.Int // credited to the side's own reserve
	Shares     *uint256.Int
}

// BurnQuote is the outcome of pricing a share redemption.
type BurnQuote struct {
	Requested *uint256.Int
	Burned    *uint256.Int // Requested, or less when the dust clamp applied
	Payout    *uint256.Int
	Clamped   bool
}

// QuoteMint prices deposit against a side holding reserve collateral and
// shares outstanding. The first mint on an empty side is priced 1:1 and must
// issue more than dustBuffer shares; later mints are priced at the side's
// reserve/share ratio.
func QuoteMint(deposit, reserve, shares *uint256.Int, feeBps, creatorFeeBps uint64, dustBuffer *uint256.Int) (MintQuote, error) {
	if deposit == nil || deposit.IsZero() {
		return MintQuote{}, domain.ErrZeroOrNegativeAmount
	}
	if feeBps > domain.BpsDenominator {
		feeBps = domain.BpsDenominator
	}

	fee, err := applyBps(deposit, feeBps)
	if err != nil {
		return MintQuote{}, err
	}
	net := new(uint256.Int).Sub(deposit, fee)

	creatorFee := new(uint256.Int)
	if creatorFeeBps > 0 {
		if creatorFee, err = applyBps(net, creatorFeeBps); err != nil {
			return MintQuote{}, err
		}
		net.Sub(net, creatorFee)
	}

	var issued *uint256.Int
	if shares.IsZero() {
		issued = new(uint256.Int).Set(net)
		if dustBuffer != nil && !issued.Gt(dustBuffer) {
			return MintQuote{}, fmt.Errorf("%w: deposit of %s reopens an empty side with %s shares, need more than %s",
				domain.ErrZeroOrNegativeAmount, deposit.Dec(), issued.Dec(), dustBuffer.Dec())
		}
	} else {
		if reserve.IsZero() {
			return MintQuote{}, errUnbackedSupply
		}
		if issued, err = mulDiv(net, shares, reserve); err != nil {
			return MintQuote{}, err
		}
	}
	if issued.IsZero() {
		return MintQuote{}, fmt.Errorf("%w: deposit of %s issues no shares", domain.ErrZeroOrNegativeAmount, deposit.Dec())
	}

	return MintQuote{
		Deposit:    new(uint256.Int).Set(deposit),
		FeeBps:     feeBps,
		Fee:        fee,
		CreatorFee: creatorFee,
		Net:        net,
		Shares:     issued,
	}, nil
}

// QuoteBurn prices the redemption of amount shares from a side. A burn of the
// entire supply empties the side; any other burn that would leave fewer than
// dustBuffer shares outstanding is clamped so exactly dustBuffer remain.
func QuoteBurn(amount, reserve, shares, dustBuffer *uint256.Int) (BurnQuote, error) {
	if amount == nil || amount.IsZero() {
		return BurnQuote{}, domain.ErrZeroOrNegativeAmount
	}
	if amount.Gt(shares) {
		return BurnQuote{}, domain.ErrInsufficientShares
	}
	if reserve.IsZero() {
		return BurnQuote{}, errUnbackedSupply
	}

	q := BurnQuote{
		Requested: new(uint256.Int).Set(amount),
		Burned:    new(uint256.Int).Set(amount),
	}

	if amount.Eq(shares) {
		q.Payout = new(uint256.Int).Set(reserve)
		return q, nil
	}

	remaining := new(uint256.Int).Sub(shares, amount)
	if remaining.Lt(dustBuffer) {
		if !shares.Gt(dustBuffer) {
			return BurnQuote{}, domain.ErrBurnBelowDustThreshold
		}
		q.Burned.Sub(shares, dustBuffer)
		q.Clamped = true
	}

	payout, err := mulDiv(reserve, q.Burned, shares)
	if err != nil {
		return BurnQuote{}, err
	}
	if payout.IsZero() {
		return BurnQuote{}, fmt.Errorf("%w: burn of %s shares pays nothing", domain.ErrZeroOrNegativeAmount, q.Burned.Dec())
	}
	q.Payout = payout
	return q, nil
}

// applyBps returns floor(x * bps / 10000).
func applyBps(x *uint256.Int, bps uint64) (*uint256.Int, error) {
	if bps == 0 {
		return new(uint256.Int), nil
	}
	return mulDiv(x, uint256.NewInt(bps), bpsDenominator)
}

// mulDiv returns floor(x * y / d) using a 512-bit intermediate product.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, errUnbackedSupply
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return z, nil
}
