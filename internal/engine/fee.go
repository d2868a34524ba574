package engine

import (
	"math/bits"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// FeeBps returns the trading fee, in basis points, charged on a mint at now.
// The fee is zero before rampStart, rises linearly across
// [rampStart, expiry) and is 100% from expiry on. Out-of-range inputs clamp.
func FeeBps(now, rampStart, expiry int64) uint64 {
	switch {
	case now >= expiry:
		return domain.BpsDenominator
	case now < rampStart:
		return 0
	}

	// rampStart <= now < expiry, so elapsed < window and the quotient is
	// below BpsDenominator.
	elapsed := uint64(now - rampStart)
	window := uint64(expiry - rampStart)
	hi, lo := bits.Mul64(elapsed, domain.BpsDenominator)
	fee, _ := bits.Div64(hi, lo, window)
	return fee
}
