package postgres

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// numeric renders an amount for a NUMERIC parameter; nil is zero.
func numeric(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

// parseAmount reads a NUMERIC column selected as ::text.
func parseAmount(col, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("column %s: parse %q: %w", col, s, err)
	}
	return v, nil
}

// amountScanner collects NUMERIC text columns and converts them after Scan.
type amountScanner struct {
	cols []string
	raw  []*string
	dst  []**uint256.Int
}

// add returns a scan target for col whose value is parsed into *dst.
func (a *amountScanner) add(col string, dst **uint256.Int) *string {
	a.cols = append(a.cols, col)
	a.dst = append(a.dst, dst)
	s := new(string)
	a.raw = append(a.raw, s)
	return s
}

func (a *amountScanner) finish() error {
	for i, s := range a.raw {
		v, err := parseAmount(a.cols[i], *s)
		if err != nil {
			return err
		}
		*a.dst[i] = v
	}
	return nil
}

// addr renders an address the way every table stores it.
func addr(a common.Address) string {
	return a.Hex()
}

func parseAddr(col, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("column %s: invalid address %q", col, s)
	}
	return common.HexToAddress(s), nil
}

func parseWinner(s string) (domain.Side, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParseSide(s)
}
