package domain

import (
	"fmt"
	"strings"
)

// Side is one half of a binary pool.
type Side string

const (
	SideBull Side = "BULL" // settles above the target price
	SideBear Side = "BEAR" // settles at or below the target price
)

// Opposite returns the other side of the pool.
func (s Side) Opposite() Side {
	switch s {
	case SideBull:
		return SideBear
	case SideBear:
		return SideBull
	default:
		return ""
	}
}

// Valid reports whether s is BULL or BEAR.
func (s Side) Valid() bool {
	return s == SideBull || s == SideBear
}

// ParseSide accepts "bull"/"bear" in any case.
func ParseSide(v string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(v))) {
	case SideBull:
		return SideBull, nil
	case SideBear:
		return SideBear, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, v)
	}
}
