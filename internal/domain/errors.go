package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadSignature  = errors.New("signature verification failed")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidSide   = errors.New("invalid side")
	ErrNoPriceFeed   = errors.New("no price feed bound to token pair")
	ErrStalePrice    = errors.New("oracle price is stale")
)

// Pool engine failures. Every one of them leaves pool state unchanged.
var (
	ErrZeroOrNegativeAmount   = errors.New("amount must be positive")
	ErrPoolExpired            = errors.New("pool expired")
	ErrPoolNotExpired         = errors.New("pool not expired")
	ErrInsufficientShares     = errors.New("insufficient shares")
	ErrBurnBelowDustThreshold = errors.New("burn would leave supply below dust buffer")
	ErrSnapshotAlreadyTaken   = errors.New("snapshot already taken")
	ErrSnapshotNotTaken       = errors.New("snapshot not taken")
	ErrNotCreator             = errors.New("caller is not the pool creator")
	ErrAlreadyClaimed         = errors.New("already claimed")
	ErrNoWinningPosition      = errors.New("no winning position")
	ErrInvalidExpiry          = errors.New("expiry must be in the future")
	ErrInvalidRampWindow      = errors.New("ramp start must precede expiry")
	ErrFeeTooHigh             = errors.New("creator fee exceeds maximum")
	ErrArithmeticOverflow     = errors.New("arithmetic overflow")
)
