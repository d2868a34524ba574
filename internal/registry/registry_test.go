package registry

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
)

const now = int64(1_700_000_000)

var (
	owner   = common.HexToAddress("0x000000000000000000000000000000000000000f")
	factory = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(Options{Params: engine.DefaultParams(), Owner: owner, Factory: factory})
	require.NoError(t, err)
	return r
}

func validParams() CreatePoolParams {
	return CreatePoolParams{
		TokenPair:        "eth/usd",
		TargetPrice:      300_000_000_000,
		Expiry:           now + 86_400,
		RampStart:        now,
		CreatorFeeBps:    50,
		InitialLiquidity: new(uint256.Int).Mul(uint256.NewInt(2), uint256.NewInt(1e18)),
	}
}

func TestCreatePoolValidation(t *testing.T) {
	r := newRegistry(t)

	cases := []struct {
		name   string
		mutate func(*CreatePoolParams)
		want   error
	}{
		{"expiry now", func(p *CreatePoolParams) { p.Expiry = now }, domain.ErrInvalidExpiry},
		{"expiry past", func(p *CreatePoolParams) { p.Expiry = now - 1 }, domain.ErrInvalidExpiry},
		{"ramp at expiry", func(p *CreatePoolParams) { p.RampStart = p.Expiry }, domain.ErrInvalidRampWindow},
		{"fee above cap", func(p *CreatePoolParams) { p.CreatorFeeBps = 1001 }, domain.ErrFeeTooHigh},
		{"dust liquidity", func(p *CreatePoolParams) { p.InitialLiquidity = uint256.NewInt(10) }, domain.ErrZeroOrNegativeAmount},
		{"no target", func(p *CreatePoolParams) { p.TargetPrice = 0 }, domain.ErrZeroOrNegativeAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := r.CreatePool(alice, p, now)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Empty(t, r.ListPools(), "rejected pools are never indexed")

	p := validParams()
	p.CreatorFeeBps = 1000
	_, err := r.CreatePool(alice, p, now)
	require.NoError(t, err, "the cap itself is allowed")
}

func TestCreatePoolDerivesAddressesAndIndexes(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	first, err := r.CreatePool(alice, validParams(), now)
	require.NoError(t, err)
	second, err := r.CreatePool(bob, validParams(), now)
	require.NoError(t, err)
	third, err := r.CreatePool(alice, validParams(), now)
	require.NoError(t, err)

	require.Equal(t, crypto.CreateAddress(factory, 0), first.ID())
	require.Equal(t, crypto.CreateAddress(factory, 1), second.ID())
	require.Equal(t, "ETH/USD", first.TokenPair())

	require.Len(t, r.ListPools(), 3)
	byAlice := r.ListPoolsByCreator(alice)
	require.Len(t, byAlice, 2)
	require.Equal(t, first.ID(), byAlice[0].ID())
	require.Equal(t, third.ID(), byAlice[1].ID())
	require.Empty(t, r.ListPoolsByCreator(owner))

	got, err := r.Get(second.ID())
	require.NoError(t, err)
	require.Same(t, second, got)

	v, err := first.View(ctx, now)
	require.NoError(t, err)
	require.Equal(t, alice, v.Pool.Creator)
	require.Equal(t, uint256.NewInt(1e18), v.Pool.BullReserve)
	require.Equal(t, uint256.NewInt(1e18), v.Pool.BearReserve)
}

func TestRemoveAndNonce(t *testing.T) {
	r := newRegistry(t)
	first, err := r.CreatePool(alice, validParams(), now)
	require.NoError(t, err)

	r.Remove(first.ID())
	_, err = r.Get(first.ID())
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Empty(t, r.ListPoolsByCreator(alice))

	next, err := r.CreatePool(alice, validParams(), now)
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), next.ID(), "archived ids are never reused")

	r.SetNonce(10)
	r.SetNonce(3)
	later, err := r.CreatePool(alice, validParams(), now)
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(factory, 10), later.ID())
}

func TestSetPriceFeedOwnerOnly(t *testing.T) {
	r := newRegistry(t)

	_, err := r.SetPriceFeed(alice, "ETH/USD", "chainlink:eth-usd", now)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	b, err := r.SetPriceFeed(owner, "eth/usd", "chainlink:eth-usd", now)
	require.NoError(t, err)
	require.Equal(t, "ETH/USD", b.TokenPair)

	_, err = r.SetPriceFeed(owner, "ETH/USD", "pyth:eth-usd", now+1)
	require.NoError(t, err)

	got, ok := r.PriceFeed("Eth/Usd")
	require.True(t, ok)
	require.Equal(t, "pyth:eth-usd", got.FeedID)
	require.Len(t, r.PriceFeeds(), 1)
}

func TestReplaceSwapsLedger(t *testing.T) {
	r := newRegistry(t)
	l, err := r.CreatePool(alice, validParams(), now)
	require.NoError(t, err)

	v, err := l.View(context.Background(), now)
	require.NoError(t, err)
	positions, err := l.Positions(context.Background())
	require.NoError(t, err)
	fresh, err := engine.Restore(r.Params(), v.Pool, positions)
	require.NoError(t, err)

	r.Replace(fresh)
	got, err := r.Get(l.ID())
	require.NoError(t, err)
	require.Same(t, fresh, got)
	require.Len(t, r.ListPools(), 1, "replacing does not duplicate the index entry")
}
