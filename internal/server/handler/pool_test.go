package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/registry"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
)

var (
	poolID = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

// stubPools implements PoolService; unset hooks panic through the nil
// embedded interface.
type stubPools struct {
	PoolService
	mint      func(id, user common.Address, side domain.Side, deposit *uint256.Int) (engine.MintResult, error)
	create    func(creator common.Address, p registry.CreatePoolParams) (engine.PoolView, error)
	snapshot  func(price int64) (engine.SnapshotResult, error)
	oracle    func() (engine.SnapshotResult, error)
	quoteBurn func(side domain.Side, amount *uint256.Int) (engine.BurnQuote, error)
	positions func(user common.Address, opts domain.ListOpts) ([]domain.Position, error)
}

func (s *stubPools) Mint(_ context.Context, id, user common.Address, side domain.Side, deposit *uint256.Int) (engine.MintResult, error) {
	return s.mint(id, user, side, deposit)
}

func (s *stubPools) CreatePool(_ context.Context, creator common.Address, p registry.CreatePoolParams) (engine.PoolView, error) {
	return s.create(creator, p)
}

func (s *stubPools) Snapshot(_ context.Context, _, _ common.Address, price int64) (engine.SnapshotResult, error) {
	return s.snapshot(price)
}

func (s *stubPools) SnapshotWithOracle(context.Context, common.Address, common.Address) (engine.SnapshotResult, error) {
	return s.oracle()
}

func (s *stubPools) QuoteBurn(_ context.Context, _ common.Address, side domain.Side, amount *uint256.Int) (engine.BurnQuote, error) {
	return s.quoteBurn(side, amount)
}

func (s *stubPools) ListUserPositions(_ context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	return s.positions(user, opts)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func request(method, target, body string, account *common.Address, params map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range params {
		r.SetPathValue(k, v)
	}
	if account != nil {
		r = r.WithContext(middleware.WithAccount(r.Context(), *account))
	}
	return r
}

func TestMintRequiresAccount(t *testing.T) {
	h := NewPoolHandler(&stubPools{}, quiet())
	rec := httptest.NewRecorder()
	h.Mint(rec, request(http.MethodPost, "/", `{"side":"BULL","amount":"1"}`, nil, map[string]string{"id": poolID.Hex()}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMintSuccess(t *testing.T) {
	var got struct {
		id, user common.Address
		side     domain.Side
		deposit  *uint256.Int
	}
	stub := &stubPools{mint: func(id, user common.Address, side domain.Side, deposit *uint256.Int) (engine.MintResult, error) {
		got.id, got.user, got.side, got.deposit = id, user, side, deposit
		return engine.MintResult{
			Side:         side,
			FeeRecipient: domain.SideBear,
			Quote: engine.MintQuote{
				Deposit: deposit,
				FeeBps:  100,
				Fee:     uint256.NewInt(10),
				Net:     uint256.NewInt(990),
				Shares:  uint256.NewInt(990),
			},
			Position: domain.NewPosition(id, user),
		}, nil
	}}
	h := NewPoolHandler(stub, quiet())

	rec := httptest.NewRecorder()
	h.Mint(rec, request(http.MethodPost, "/", `{"side":"bull","amount":"1000"}`, &alice, map[string]string{"id": poolID.Hex()}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Equal(t, poolID, got.id)
	require.Equal(t, alice, got.user)
	require.Equal(t, domain.SideBull, got.side)
	require.Equal(t, uint64(1000), got.deposit.Uint64())

	var body struct {
		Shares       *uint256.Int `json:"shares"`
		FeeRecipient domain.Side  `json:"fee_recipient"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, uint64(990), body.Shares.Uint64())
	require.Equal(t, domain.SideBear, body.FeeRecipient)
}

func TestMintRejectsBadInput(t *testing.T) {
	h := NewPoolHandler(&stubPools{}, quiet())
	cases := map[string]string{
		"bad side":      `{"side":"UP","amount":"1"}`,
		"negative":      `{"side":"BULL","amount":"-5"}`,
		"missing":       `{"side":"BULL"}`,
		"unknown field": `{"side":"BULL","amount":"1","slippage":3}`,
		"not json":      `side=BULL`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Mint(rec, request(http.MethodPost, "/", body, &alice, map[string]string{"id": poolID.Hex()}))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.Mint(rec, request(http.MethodPost, "/", `{"side":"BULL","amount":"1"}`, &alice, map[string]string{"id": "pool-1"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrPoolExpired, http.StatusUnprocessableEntity},
		{domain.ErrBurnBelowDustThreshold, http.StatusUnprocessableEntity},
		{domain.ErrNotCreator, http.StatusForbidden},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrSnapshotAlreadyTaken, http.StatusConflict},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrZeroOrNegativeAmount, http.StatusBadRequest},
		{domain.ErrFeeTooHigh, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("pool_service: mint: %w", tc.err)
			require.Equal(t, tc.want, statusFor(wrapped))

			stub := &stubPools{mint: func(common.Address, common.Address, domain.Side, *uint256.Int) (engine.MintResult, error) {
				return engine.MintResult{}, wrapped
			}}
			rec := httptest.NewRecorder()
			NewPoolHandler(stub, quiet()).Mint(rec, request(http.MethodPost, "/", `{"side":"BEAR","amount":"7"}`, &alice, map[string]string{"id": poolID.Hex()}))
			require.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusInternalServerError {
				require.NotContains(t, rec.Body.String(), "connection reset")
			}
		})
	}
}

func TestCreatePool(t *testing.T) {
	var got registry.CreatePoolParams
	stub := &stubPools{create: func(creator common.Address, p registry.CreatePoolParams) (engine.PoolView, error) {
		require.Equal(t, alice, creator)
		got = p
		return engine.PoolView{Pool: domain.Pool{ID: poolID, TokenPair: "ETH/USD"}, Phase: domain.PhaseActive}, nil
	}}
	h := NewPoolHandler(stub, quiet())

	rec := httptest.NewRecorder()
	h.CreatePool(rec, request(http.MethodPost, "/api/pools", `{
		"token_pair":"eth/usd","target_price":300000000000,"expiry":1700086400,
		"ramp_start":1700000000,"creator_fee_bps":50,"initial_liquidity":"2000000000000000000"}`, &alice, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "eth/usd", got.TokenPair)
	require.Equal(t, uint16(50), got.CreatorFeeBps)
	require.Equal(t, "2000000000000000000", got.InitialLiquidity.Dec())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ETH/USD", body["token_pair"])
	require.Equal(t, string(domain.PhaseActive), body["phase"])
}

func TestSnapshotUsesOracleWithoutPrice(t *testing.T) {
	var manual, viaOracle int
	stub := &stubPools{
		snapshot: func(price int64) (engine.SnapshotResult, error) {
			manual++
			return engine.SnapshotResult{Price: price, Winner: domain.SideBull}, nil
		},
		oracle: func() (engine.SnapshotResult, error) {
			viaOracle++
			return engine.SnapshotResult{Price: 1, Winner: domain.SideBear}, nil
		},
	}
	h := NewPoolHandler(stub, quiet())
	params := map[string]string{"id": poolID.Hex()}

	rec := httptest.NewRecorder()
	h.Snapshot(rec, request(http.MethodPost, "/", "", &alice, params))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Snapshot(rec, request(http.MethodPost, "/", `{"price":310000000000}`, &alice, params))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"price":310000000000`)

	require.Equal(t, 1, manual)
	require.Equal(t, 1, viaOracle)
}

func TestQuoteBurnQuery(t *testing.T) {
	stub := &stubPools{quoteBurn: func(side domain.Side, amount *uint256.Int) (engine.BurnQuote, error) {
		require.Equal(t, domain.SideBear, side)
		return engine.BurnQuote{Requested: amount, Burned: amount, Payout: uint256.NewInt(40), Clamped: false}, nil
	}}
	h := NewPoolHandler(stub, quiet())
	params := map[string]string{"id": poolID.Hex()}

	rec := httptest.NewRecorder()
	h.QuoteBurn(rec, request(http.MethodGet, "/?side=BEAR&shares=50", "", nil, params))
	require.Equal(t, http.StatusOK, rec.Code)
	var q struct {
		Payout *uint256.Int `json:"payout"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.Equal(t, uint64(40), q.Payout.Uint64())

	rec = httptest.NewRecorder()
	h.QuoteBurn(rec, request(http.MethodGet, "/?side=BEAR", "", nil, params))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListUserPositionsPagination(t *testing.T) {
	stub := &stubPools{positions: func(user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
		require.Equal(t, alice, user)
		require.Equal(t, 500, opts.Limit)
		require.Equal(t, 10, opts.Offset)
		return nil, nil
	}}
	rec := httptest.NewRecorder()
	NewPoolHandler(stub, quiet()).ListUserPositions(rec,
		request(http.MethodGet, "/?limit=9000&offset=10", "", nil, map[string]string{"user": alice.Hex()}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"positions":[]}`, rec.Body.String())
}
