package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/registry"
)

// PoolService defines the methods that the pool handler requires.
type PoolService interface {
	CreatePool(ctx context.Context, creator common.Address, p registry.CreatePoolParams) (engine.PoolView, error)
	Mint(ctx context.Context, id, user common.Address, side domain.Side, deposit *uint256.Int) (engine.MintResult, error)
	Burn(ctx context.Context, id, user common.Address, side domain.Side, amount *uint256.Int) (engine.BurnResult, error)
	Snapshot(ctx context.Context, id, caller common.Address, price int64) (engine.SnapshotResult, error)
	SnapshotWithOracle(ctx context.Context, id, caller common.Address) (engine.SnapshotResult, error)
	Claim(ctx context.Context, id, user common.Address) (engine.ClaimResult, error)
	WithdrawCreatorFee(ctx context.Context, id, caller common.Address) (engine.WithdrawResult, error)

	GetPool(ctx context.Context, id common.Address) (engine.PoolView, error)
	ListPools(ctx context.Context, creator *common.Address) ([]engine.PoolView, error)
	GetPosition(ctx context.Context, id, user common.Address) (domain.Position, error)
	ListUserPositions(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error)
	QuoteMint(ctx context.Context, id common.Address, side domain.Side, deposit *uint256.Int) (engine.MintQuote, error)
	QuoteBurn(ctx context.Context, id common.Address, side domain.Side, amount *uint256.Int) (engine.BurnQuote, error)
	Events(ctx context.Context, id common.Address, count int) ([]domain.PoolEvent, error)
}

// PoolHandler serves pool endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logHandler(logger, "pool")}
}

type poolResponse struct {
	domain.Pool
	Phase       domain.Phase `json:"phase"`
	FeeBps      uint64       `json:"fee_bps"`
	BullOddsBps uint64       `json:"bull_odds_bps"`
	BearOddsBps uint64       `json:"bear_odds_bps"`
}

func newPoolResponse(v engine.PoolView) poolResponse {
	return poolResponse{
		Pool:        v.Pool,
		Phase:       v.Phase,
		FeeBps:      v.FeeBps,
		BullOddsBps: v.BullOddsBps,
		BearOddsBps: v.BearOddsBps,
	}
}

type listPoolsResponse struct {
	Pools []poolResponse `json:"pools"`
}

// ListPools returns every live pool, optionally filtered by creator.
// GET /api/pools[?creator=0x...]
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	var creator *common.Address
	if v := r.URL.Query().Get("creator"); v != "" {
		a, err := parseAddress("creator", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		creator = &a
	}

	views, err := h.pools.ListPools(r.Context(), creator)
	if err != nil {
		writeServiceError(w, r, h.logger, "list pools", err)
		return
	}
	out := make([]poolResponse, 0, len(views))
	for _, v := range views {
		out = append(out, newPoolResponse(v))
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: out})
}

// GetPool returns one pool.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAddress(w, r, "id")
	if !ok {
		return
	}
	v, err := h.pools.GetPool(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(v))
}

type createPoolRequest struct {
	TokenPair        string `json:"token_pair"`
	TargetPrice      int64  `json:"target_price"`
	Expiry           int64  `json:"expiry"`
	RampStart        int64  `json:"ramp_start"`
	CreatorFeeBps    uint16 `json:"creator_fee_bps"`
	InitialLiquidity string `json:"initial_liquidity"`
}

// CreatePool creates a pool owned by the caller.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	creator, ok := caller(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	liquidity, err := parseAmount("initial_liquidity", req.InitialLiquidity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := h.pools.CreatePool(r.Context(), creator, registry.CreatePoolParams{
		TokenPair:        req.TokenPair,
		TargetPrice:      req.TargetPrice,
		Expiry:           req.Expiry,
		RampStart:        req.RampStart,
		CreatorFeeBps:    req.CreatorFeeBps,
		InitialLiquidity: liquidity,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, newPoolResponse(v))
}

type tradeRequest struct {
	Side   string `json:"side"`
	Amount string `json:"amount,omitempty"` // mint deposit
	Shares string `json:"shares,omitempty"` // burn amount
}

type mintResponse struct {
	Side         domain.Side     `json:"side"`
	Deposit      *uint256.Int    `json:"deposit"`
	FeeBps       uint64          `json:"fee_bps"`
	Fee          *uint256.Int    `json:"fee"`
	FeeRecipient domain.Side     `json:"fee_recipient"`
	CreatorFee   *uint256.Int    `json:"creator_fee"`
	Net          *uint256.Int    `json:"net"`
	Shares       *uint256.Int    `json:"shares"`
	Position     domain.Position `json:"position"`
	Pool         domain.Pool     `json:"pool"`
}

// Mint deposits collateral on one side for the caller.
// POST /api/pools/{id}/mint
func (h *PoolHandler) Mint(w http.ResponseWriter, r *http.Request) {
	id, user, req, side, ok := h.tradeArgs(w, r)
	if !ok {
		return
	}
	deposit, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.pools.Mint(r.Context(), id, user, side, deposit)
	if err != nil {
		writeServiceError(w, r, h.logger, "mint", err)
		return
	}
	writeJSON(w, http.StatusOK, mintResponse{
		Side:         res.Side,
		Deposit:      res.Quote.Deposit,
		FeeBps:       res.Quote.FeeBps,
		Fee:          res.Quote.Fee,
		FeeRecipient: res.FeeRecipient,
		CreatorFee:   res.Quote.CreatorFee,
		Net:          res.Quote.Net,
		Shares:       res.Quote.Shares,
		Position:     res.Position,
		Pool:         res.Pool,
	})
}

type burnResponse struct {
	Side      domain.Side     `json:"side"`
	Requested *uint256.Int    `json:"requested"`
	Burned    *uint256.Int    `json:"burned"`
	Payout    *uint256.Int    `json:"payout"`
	Clamped   bool            `json:"clamped"`
	Position  domain.Position `json:"position"`
	Pool      domain.Pool     `json:"pool"`
}

// Burn redeems the caller's shares on one side.
// POST /api/pools/{id}/burn
func (h *PoolHandler) Burn(w http.ResponseWriter, r *http.Request) {
	id, user, req, side, ok := h.tradeArgs(w, r)
	if !ok {
		return
	}
	amount, err := parseAmount("shares", req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.pools.Burn(r.Context(), id, user, side, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "burn", err)
		return
	}
	writeJSON(w, http.StatusOK, burnResponse{
		Side:      res.Side,
		Requested: res.Quote.Requested,
		Burned:    res.Quote.Burned,
		Payout:    res.Quote.Payout,
		Clamped:   res.Quote.Clamped,
		Position:  res.Position,
		Pool:      res.Pool,
	})
}

func (h *PoolHandler) tradeArgs(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, tradeRequest, domain.Side, bool) {
	var req tradeRequest
	id, ok := pathAddress(w, r, "id")
	if !ok {
		return id, common.Address{}, req, "", false
	}
	user, ok := caller(w, r)
	if !ok {
		return id, user, req, "", false
	}
	if !decodeBody(w, r, &req, false) {
		return id, user, req, "", false
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return id, user, req, "", false
	}
	return id, user, req, side, true
}

type snapshotRequest struct {
	Price int64 `json:"price"` // zero or absent reads the oracle
}

type snapshotResponse struct {
	Winner     domain.Side  `json:"winner"`
	Price      int64        `json:"price"`
	CreatorFee *uint256.Int `json:"creator_fee"`
	Pool       domain.Pool  `json:"pool"`
}

// Snapshot settles an expired pool. Creator only.
// POST /api/pools/{id}/snapshot
func (h *PoolHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAddress(w, r, "id")
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req snapshotRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	var (
		res engine.SnapshotResult
		err error
	)
	if req.Price == 0 {
		res, err = h.pools.SnapshotWithOracle(r.Context(), id, who)
	} else {
		res, err = h.pools.Snapshot(r.Context(), id, who, req.Price)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		Winner:     res.Winner,
		Price:      res.Price,
		CreatorFee: res.CreatorFee,
		Pool:       res.Pool,
	})
}

type claimResponse struct {
	Reward   *uint256.Int    `json:"reward"`
	Position domain.Position `json:"position"`
	Pool     domain.Pool     `json:"pool"`
}

// Claim pays the caller's share of the payout base.
// POST /api/pools/{id}/claim
func (h *PoolHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAddress(w, r, "id")
	if !ok {
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := h.pools.Claim(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Reward: res.Reward, Position: res.Position, Pool: res.Pool})
}

type withdrawResponse struct {
	Amount *uint256.Int `json:"amount"`
	Pool   domain.Pool  `json:"pool"`
}

// WithdrawCreatorFee pays out the creator's unwithdrawn fee.
// POST /api/pools/{id}/creator-fee
func (h *PoolHandler) WithdrawCreatorFee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAddress(w, r, "id")
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := h.pools.WithdrawCreatorFee(r.Context(), id, who)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw creator fee", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Amount: res.Amount, Pool: res.Pool})
}

// GetPosition returns a user's position in a pool.
// GET /api/pools/{id}/positions/{user}
func (h *PoolHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAddress(w, r, "id")
	if !ok {
		return
	}
	user, ok := pathAddress(w, r, "user")
	if !ok {
		return
	}
	pos, err := h.pools.GetPosition(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListUserPositions returns a user's positions across pools.
// GET /api/users/{user}/positions
func (h *PoolHandler) ListUserPositions(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "user")
	if !ok {
		return
	}
	positions, err := h.pools.ListUserPositions(r.Context(), user, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// QuoteMint prices a deposit without committing it.
// GET /api/pools/{id}/quote/mint?side=BULL&amount=...
func (h *PoolHandler) QuoteMint(w http.ResponseWriter, r *http.Request) {
	id, side, amount, ok := quoteArgs(w, r, "amount")
	if !ok {
		return
	}
	q, err := h.pools.QuoteMint(r.Context(), id, side, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote mint", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"side":        side,
		"deposit":     q.Deposit,
		"fee_bps":     q.FeeBps,
		"fee":         q.Fee,
		"creator_fee": q.CreatorFee,
		"net":         q.Net,
		"shares":      q.Shares,
	})
}

// QuoteBurn prices a share redemption without committing it.
// GET /api/pools/{id}/quote/burn?side=BEAR&shares=...
func (h *PoolHandler) QuoteBurn(w http.ResponseWriter, r *http.Request) {
	id, side, amount, ok := quoteArgs(w, r, "shares")
	if !ok {
		return
	}
	q, err := h.pools.QuoteBurn(r.Context(), id, side, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote burn", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"side":      side,
		"requested": q.Requested,
		"burned":    q.Burned,
		"payout":    q.Payout,
		"clamped":   q.Clamped,
	})
}

func quoteArgs(w http.ResponseWriter, r *http.Request, amountParam string) (common.Address, domain.Side, *uint256.Int, bool) {
	id, ok := pathAddress(w, r, "id")
	if !ok {
		return id, "", nil, false
	}
	q := r.URL.Query()
	side, err := domain.ParseSide(q.Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return id, "", nil, false
	}
	amount, err := parseAmount(amountParam, q.Get(amountParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return id, "", nil, false
	}
	return id, side, amount, true
}

type eventsResponse struct {
	Events []domain.PoolEvent `json:"events"`
}

// Events returns the most recent events of a pool, newest first.
// GET /api/pools/{id}/events?count=50
func (h *PoolHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAddress(w, r, "id")
	if !ok {
		return
	}
	count := 50
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = min(n, 500)
		}
	}
	events, err := h.pools.Events(r.Context(), id, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.PoolEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}
