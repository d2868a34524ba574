package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/metrics"
	"github.com/alanyoungcy/bullbear/internal/notify"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/registry"
)

const defaultLockTTL = 10 * time.Second

// PoolArchive stores settled pools in cold storage and reads them back.
type PoolArchive interface {
	domain.Archiver
	PoolPath(pool domain.Pool) string
	LoadPool(ctx context.Context, key string) (domain.Pool, []domain.Position, error)
}

// PoolService is the write path for pools. Every mutation runs under a
// distributed per-pool lock, goes through the in-memory ledger, and is
// persisted before it is acknowledged. Events, audit rows, metrics and
// alerts follow a successful write.
type PoolService struct {
	reg       *registry.Registry
	pools     domain.PoolStore
	positions domain.PositionStore
	feeds     domain.PriceFeedStore
	audit     domain.AuditStore
	locks     domain.LockManager
	bus       domain.SignalBus

	oracle   oracle.Source
	prices   domain.PriceCache
	archive  PoolArchive
	notifier *notify.Notifier

	lockTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewPoolService creates a PoolService.
func NewPoolService(
	reg *registry.Registry,
	pools domain.PoolStore,
	positions domain.PositionStore,
	feeds domain.PriceFeedStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		reg:       reg,
		pools:     pools,
		positions: positions,
		feeds:     feeds,
		audit:     audit,
		locks:     locks,
		bus:       bus,
		lockTTL:   defaultLockTTL,
		now:       time.Now,
		logger:    logger,
	}
}

// WithOracle attaches the price source used for oracle snapshots and the
// cache the owner pushes answers into.
func (s *PoolService) WithOracle(src oracle.Source, prices domain.PriceCache) *PoolService {
	s.oracle = src
	s.prices = prices
	return s
}

// WithArchive enables archival and reads of archived pools.
func (s *PoolService) WithArchive(a PoolArchive) *PoolService {
	s.archive = a
	return s
}

// WithNotifier attaches operator alerts.
func (s *PoolService) WithNotifier(n *notify.Notifier) *PoolService {
	s.notifier = n
	return s
}

// WithClock replaces the wall clock.
func (s *PoolService) WithClock(now func() time.Time) *PoolService {
	s.now = now
	return s
}

// WithLockTTL sets how long a pool lock may be held before Redis expires it.
func (s *PoolService) WithLockTTL(d time.Duration) *PoolService {
	if d > 0 {
		s.lockTTL = d
	}
	return s
}

// Registry returns the in-memory pool index.
func (s *PoolService) Registry() *registry.Registry { return s.reg }

// Archiving reports whether archival is configured.
func (s *PoolService) Archiving() bool { return s.archive != nil }

func (s *PoolService) unix() int64 { return s.now().Unix() }

// Restore loads feed bindings and every unarchived pool from storage into
// the registry. It is called once on boot.
func (s *PoolService) Restore(ctx context.Context) error {
	bindings, err := s.feeds.List(ctx)
	if err != nil {
		return fmt.Errorf("pool_service: restore feeds: %w", err)
	}
	for _, b := range bindings {
		s.reg.LoadPriceFeed(b)
	}

	active, err := s.pools.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("pool_service: restore pools: %w", err)
	}
	for _, p := range active {
		l, err := s.restoreLedger(ctx, p)
		if err != nil {
			return err
		}
		if err := s.reg.Adopt(l); err != nil {
			return fmt.Errorf("pool_service: restore pools: %w", err)
		}
	}

	n, err := s.pools.Count(ctx)
	if err != nil {
		return fmt.Errorf("pool_service: restore nonce: %w", err)
	}
	s.reg.SetNonce(n)

	s.logger.InfoContext(ctx, "pool_service: restored",
		slog.Int("pools", len(active)),
		slog.Int("price_feeds", len(bindings)),
		slog.Uint64("nonce", n),
	)
	s.RefreshGauges(ctx)
	return nil
}

// Refresh brings the registry in line with storage: pools created or
// changed by other processes are (re)loaded, archived ones are dropped and
// feed bindings are reread. Mutations never depend on it; they resync under
// the pool lock.
func (s *PoolService) Refresh(ctx context.Context) error {
	bindings, err := s.feeds.List(ctx)
	if err != nil {
		return fmt.Errorf("pool_service: refresh feeds: %w", err)
	}
	for _, b := range bindings {
		if cur, ok := s.reg.PriceFeed(b.TokenPair); !ok || cur != b {
			s.reg.LoadPriceFeed(b)
		}
	}

	active, err := s.pools.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("pool_service: refresh pools: %w", err)
	}
	live := make(map[common.Address]bool, len(active))
	var reloaded int
	for _, p := range active {
		live[p.ID] = true
		if l, err := s.reg.Get(p.ID); err == nil {
			v, err := l.View(ctx, s.unix())
			if err != nil {
				return fmt.Errorf("pool_service: refresh pools: %w", err)
			}
			if sameState(v.Pool, p) {
				continue
			}
		}
		l, err := s.restoreLedger(ctx, p)
		if err != nil {
			return err
		}
		s.reg.Replace(l)
		reloaded++
	}
	var dropped int
	for _, l := range s.reg.ListPools() {
		if !live[l.ID()] {
			s.reg.Remove(l.ID())
			dropped++
		}
	}

	if reloaded > 0 || dropped > 0 {
		s.logger.InfoContext(ctx, "pool_service: refreshed",
			slog.Int("reloaded", reloaded),
			slog.Int("dropped", dropped),
		)
	}
	s.RefreshGauges(ctx)
	return nil
}

func (s *PoolService) restoreLedger(ctx context.Context, p domain.Pool) (*engine.Ledger, error) {
	positions, err := s.positions.ListByPool(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("pool_service: load positions %s: %w", p.ID.Hex(), err)
	}
	l, err := engine.Restore(s.reg.Params(), p, positions)
	if err != nil {
		return nil, fmt.Errorf("pool_service: %w", err)
	}
	return l, nil
}

// RefreshGauges recomputes the live pool gauge.
func (s *PoolService) RefreshGauges(ctx context.Context) {
	now := s.unix()
	byPhase := map[string]int{}
	for _, l := range s.reg.ListPools() {
		v, err := l.View(ctx, now)
		if err != nil {
			return
		}
		byPhase[string(v.Phase)]++
	}
	metrics.SetLivePools(byPhase)
}

// withPool runs fn against the current ledger of id while holding the
// distributed pool lock.
func (s *PoolService) withPool(ctx context.Context, id common.Address, op string, fn func(l *engine.Ledger) error) error {
	start := time.Now()
	err := func() error {
		unlock, err := s.locks.Acquire(ctx, "pool:"+id.Hex(), s.lockTTL)
		if err != nil {
			return err
		}
		defer unlock()

		l, err := s.syncLedger(ctx, id)
		if err != nil {
			return err
		}
		return fn(l)
	}()
	metrics.RecordPoolOp(op, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("pool_service: %s %s: %w", op, id.Hex(), err)
	}
	return nil
}

// syncLedger returns the ledger for id, reloading it from storage when the
// stored pool has moved on since this process last wrote it, as happens
// when a keeper and an API process share the database.
func (s *PoolService) syncLedger(ctx context.Context, id common.Address) (*engine.Ledger, error) {
	stored, err := s.pools.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored.Archived {
		s.reg.Remove(id)
		return nil, fmt.Errorf("pool archived: %w", domain.ErrNotFound)
	}

	l, err := s.reg.Get(id)
	if err == nil {
		v, err := l.View(ctx, s.unix())
		if err != nil {
			return nil, err
		}
		if sameState(v.Pool, stored) {
			return l, nil
		}
		s.logger.InfoContext(ctx, "pool_service: reloading stale ledger", slog.String("pool", id.Hex()))
	}

	fresh, err := s.restoreLedger(ctx, stored)
	if err != nil {
		return nil, err
	}
	s.reg.Replace(fresh)
	return fresh, nil
}

// sameState compares every field an engine operation can change.
func sameState(a, b domain.Pool) bool {
	return a.BullReserve.Eq(b.BullReserve) &&
		a.BearReserve.Eq(b.BearReserve) &&
		a.BullSharesTotal.Eq(b.BullSharesTotal) &&
		a.BearSharesTotal.Eq(b.BearSharesTotal) &&
		a.SnapshotTaken == b.SnapshotTaken &&
		a.ClaimedTotal.Eq(b.ClaimedTotal) &&
		a.CreatorFeeAccrued.Eq(b.CreatorFeeAccrued) &&
		a.CreatorFeeWithdrawn.Eq(b.CreatorFeeWithdrawn)
}

// persist writes the post-mutation state. On failure the in-memory ledger is
// rolled back to whatever storage holds.
func (s *PoolService) persist(ctx context.Context, pool domain.Pool, positions ...domain.Position) error {
	err := s.pools.SaveState(ctx, pool, positions)
	if err == nil {
		return nil
	}
	s.logger.ErrorContext(ctx, "pool_service: persist failed, reverting ledger",
		slog.String("pool", pool.ID.Hex()),
		slog.String("error", err.Error()),
	)
	if _, rerr := s.syncLedger(context.WithoutCancel(ctx), pool.ID); rerr != nil {
		s.reg.Remove(pool.ID)
	}
	return fmt.Errorf("persist: %w", err)
}

// emit publishes evt and records it in the audit log. Failures are logged,
// never returned: the state change is already durable.
func (s *PoolService) emit(ctx context.Context, evt domain.PoolEvent) {
	evt.ID = uuid.NewString()
	if evt.At == 0 {
		evt.At = s.unix()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "pool_service: marshal event failed", slog.String("error", err.Error()))
		return
	}

	if err := s.bus.Publish(ctx, domain.ChannelPools, payload); err != nil {
		s.logger.WarnContext(ctx, "pool_service: publish event failed",
			slog.String("pool", evt.PoolID.Hex()),
			slog.String("event", evt.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.PoolStream(evt.PoolID.Hex()), payload); err != nil {
		s.logger.WarnContext(ctx, "pool_service: stream append failed",
			slog.String("pool", evt.PoolID.Hex()),
			slog.String("error", err.Error()),
		)
	}

	detail, err := auditDetail(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "pool_service: audit detail decode failed",
			slog.String("pool", evt.PoolID.Hex()),
			slog.String("event", evt.Type),
			slog.String("error", err.Error()),
		)
		detail = map[string]any{"id": evt.ID, "pool_id": evt.PoolID.Hex()}
	}
	if err := s.audit.Log(ctx, evt.Type, detail); err != nil {
		s.logger.WarnContext(ctx, "pool_service: audit log failed",
			slog.String("pool", evt.PoolID.Hex()),
			slog.String("event", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

// auditDetail turns an encoded event into the audit log detail, without the
// embedded pool snapshot.
func auditDetail(payload []byte) (map[string]any, error) {
	var detail map[string]any
	if err := json.Unmarshal(payload, &detail); err != nil {
		return nil, fmt.Errorf("pool_service: decode event: %w", err)
	}
	delete(detail, "pool")
	return detail, nil
}

func (s *PoolService) alert(ctx context.Context, event string, pool domain.Pool, details ...string) {
	if !s.notifier.Enabled(event) {
		return
	}
	if err := s.notifier.NotifyPool(ctx, event, pool, details...); err != nil {
		s.logger.WarnContext(ctx, "pool_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// CreatePool validates and opens a new pool for creator and persists it
// together with the creator's seed position.
func (s *PoolService) CreatePool(ctx context.Context, creator common.Address, p registry.CreatePoolParams) (engine.PoolView, error) {
	start := time.Now()
	view, err := s.createPool(ctx, creator, p)
	metrics.RecordPoolOp("create", time.Since(start), err)
	if err != nil {
		return engine.PoolView{}, fmt.Errorf("pool_service: create pool: %w", err)
	}

	s.emit(ctx, domain.PoolEvent{
		Type:   domain.EventPoolCreated,
		PoolID: view.Pool.ID,
		Actor:  &creator,
		Amount: p.InitialLiquidity,
		Pool:   &view.Pool,
	})
	metrics.AddCollateralIn("seed", p.InitialLiquidity)
	s.logger.InfoContext(ctx, "pool_service: pool created",
		slog.String("pool", view.Pool.ID.Hex()),
		slog.String("pair", view.Pool.TokenPair),
		slog.String("creator", creator.Hex()),
		slog.Int64("expiry", view.Pool.Expiry),
	)
	s.alert(ctx, domain.EventPoolCreated, view.Pool)
	return view, nil
}

func (s *PoolService) createPool(ctx context.Context, creator common.Address, p registry.CreatePoolParams) (engine.PoolView, error) {
	// Address derivation is global, so creation is serialised across
	// processes and the nonce re-read from storage under the lock.
	unlock, err := s.locks.Acquire(ctx, "registry:create", s.lockTTL)
	if err != nil {
		return engine.PoolView{}, err
	}
	defer unlock()

	n, err := s.pools.Count(ctx)
	if err != nil {
		return engine.PoolView{}, err
	}
	s.reg.SetNonce(n)

	now := s.unix()
	l, err := s.reg.CreatePool(creator, p, now)
	if err != nil {
		return engine.PoolView{}, err
	}
	view, err := l.View(ctx, now)
	if err != nil {
		s.reg.Remove(l.ID())
		return engine.PoolView{}, err
	}
	positions, err := l.Positions(ctx)
	if err != nil {
		s.reg.Remove(l.ID())
		return engine.PoolView{}, err
	}
	if err := s.pools.SaveState(ctx, view.Pool, positions); err != nil {
		s.reg.Remove(l.ID())
		return engine.PoolView{}, fmt.Errorf("persist: %w", err)
	}
	return view, nil
}

// Mint deposits collateral for user on side of pool id.
func (s *PoolService) Mint(ctx context.Context, id, user common.Address, side domain.Side, deposit *uint256.Int) (engine.MintResult, error) {
	var res engine.MintResult
	err := s.withPool(ctx, id, "mint", func(l *engine.Ledger) error {
		r, err := l.Mint(ctx, user, side, deposit, s.unix())
		if err != nil {
			return err
		}
		if err := s.persist(ctx, r.Pool, r.Position); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return engine.MintResult{}, err
	}

	s.emit(ctx, domain.PoolEvent{
		Type:   domain.EventMinted,
		PoolID: id,
		Actor:  &user,
		Side:   side,
		Amount: deposit,
		Shares: res.Quote.Shares,
		Pool:   &res.Pool,
	})
	metrics.AddCollateralIn(string(side), deposit)
	s.logger.InfoContext(ctx, "pool_service: minted",
		slog.String("pool", id.Hex()),
		slog.String("user", user.Hex()),
		slog.String("side", string(side)),
		slog.String("deposit", deposit.Dec()),
		slog.String("shares", res.Quote.Shares.Dec()),
		slog.Uint64("fee_bps", res.Quote.FeeBps),
	)
	return res, nil
}

// Burn redeems amount of user's side shares of pool id.
func (s *PoolService) Burn(ctx context.Context, id, user common.Address, side domain.Side, amount *uint256.Int) (engine.BurnResult, error) {
	var res engine.BurnResult
	err := s.withPool(ctx, id, "burn", func(l *engine.Ledger) error {
		r, err := l.Burn(ctx, user, side, amount, s.unix())
		if err != nil {
			return err
		}
		if err := s.persist(ctx, r.Pool, r.Position); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return engine.BurnResult{}, err
	}

	s.emit(ctx, domain.PoolEvent{
		Type:   domain.EventBurned,
		PoolID: id,
		Actor:  &user,
		Side:   side,
		Amount: res.Quote.Payout,
		Shares: res.Quote.Burned,
		Pool:   &res.Pool,
	})
	metrics.AddCollateralOut("burn", res.Quote.Payout)
	s.logger.InfoContext(ctx, "pool_service: burned",
		slog.String("pool", id.Hex()),
		slog.String("user", user.Hex()),
		slog.String("side", string(side)),
		slog.String("shares", res.Quote.Burned.Dec()),
		slog.String("payout", res.Quote.Payout.Dec()),
		slog.Bool("clamped", res.Quote.Clamped),
	)
	return res, nil
}

// Snapshot settles pool id at a caller-supplied price.
func (s *PoolService) Snapshot(ctx context.Context, id, caller common.Address, price int64) (engine.SnapshotResult, error) {
	var res engine.SnapshotResult
	err := s.withPool(ctx, id, "snapshot", func(l *engine.Ledger) error {
		r, err := l.TakeSnapshot(ctx, caller, price, s.unix())
		if err != nil {
			return err
		}
		if err := s.persist(ctx, r.Pool); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return engine.SnapshotResult{}, err
	}

	s.emit(ctx, domain.PoolEvent{
		Type:   domain.EventSnapshotTaken,
		PoolID: id,
		Actor:  &caller,
		Side:   res.Winner,
		Amount: res.CreatorFee,
		Pool:   &res.Pool,
	})
	s.logger.InfoContext(ctx, "pool_service: snapshot taken",
		slog.String("pool", id.Hex()),
		slog.Int64("price", price),
		slog.String("winner", string(res.Winner)),
		slog.String("payout_base", res.Pool.PayoutBase.Dec()),
	)
	s.alert(ctx, domain.EventSnapshotTaken, res.Pool,
		"payout base "+res.Pool.PayoutBase.Dec(),
		"creator fee "+res.Pool.CreatorFeeAccrued.Dec(),
	)
	s.RefreshGauges(ctx)
	return res, nil
}

// SnapshotWithOracle settles pool id at the current oracle price of its
// token pair.
func (s *PoolService) SnapshotWithOracle(ctx context.Context, id, caller common.Address) (engine.SnapshotResult, error) {
	if s.oracle == nil {
		return engine.SnapshotResult{}, fmt.Errorf("pool_service: snapshot %s: %w", id.Hex(), domain.ErrNoPriceFeed)
	}
	l, err := s.reg.Get(id)
	if err != nil {
		return engine.SnapshotResult{}, fmt.Errorf("pool_service: snapshot: %w", err)
	}
	price, err := s.oracle.Price(ctx, l.TokenPair())
	if err != nil {
		return engine.SnapshotResult{}, fmt.Errorf("pool_service: snapshot %s: %w", id.Hex(), err)
	}
	return s.Snapshot(ctx, id, caller, price.Answer)
}

// Claim pays out user's winning shares of pool id.
func (s *PoolService) Claim(ctx context.Context, id, user common.Address) (engine.ClaimResult, error) {
	var res engine.ClaimResult
	err := s.withPool(ctx, id, "claim", func(l *engine.Ledger) error {
		r, err := l.Claim(ctx, user, s.unix())
		if err != nil {
			return err
		}
		if err := s.persist(ctx, r.Pool, r.Position); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return engine.ClaimResult{}, err
	}

	s.emit(ctx, domain.PoolEvent{
		Type:   domain.EventClaimed,
		PoolID: id,
		Actor:  &user,
		Side:   res.Pool.PayoutSide(),
		Amount: res.Reward,
		Pool:   &res.Pool,
	})
	metrics.AddCollateralOut("claim", res.Reward)
	s.logger.InfoContext(ctx, "pool_service: claimed",
		slog.String("pool", id.Hex()),
		slog.String("user", user.Hex()),
		slog.String("reward", res.Reward.Dec()),
	)
	s.alert(ctx, domain.EventClaimed, res.Pool, user.Hex()+" claimed "+res.Reward.Dec())
	return res, nil
}

// WithdrawCreatorFee pays the accrued creator fee of pool id to caller.
func (s *PoolService) WithdrawCreatorFee(ctx context.Context, id, caller common.Address) (engine.WithdrawResult, error) {
	var res engine.WithdrawResult
	err := s.withPool(ctx, id, "withdraw_creator_fee", func(l *engine.Ledger) error {
		r, err := l.WithdrawCreatorFee(ctx, caller)
		if err != nil {
			return err
		}
		if r.Amount.IsZero() {
			res = r
			return nil
		}
		if err := s.persist(ctx, r.Pool); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return engine.WithdrawResult{}, err
	}
	if res.Amount.IsZero() {
		return res, nil
	}

	s.emit(ctx, domain.PoolEvent{
		Type:   domain.EventCreatorFeeWithdraw,
		PoolID: id,
		Actor:  &caller,
		Amount: res.Amount,
		Pool:   &res.Pool,
	})
	metrics.AddCollateralOut("creator_fee", res.Amount)
	s.logger.InfoContext(ctx, "pool_service: creator fee withdrawn",
		slog.String("pool", id.Hex()),
		slog.String("amount", res.Amount.Dec()),
	)
	s.alert(ctx, domain.EventCreatorFeeWithdraw, res.Pool, "amount "+res.Amount.Dec())
	return res, nil
}

// SetPriceFeed binds a token pair to an oracle feed. Owner only.
func (s *PoolService) SetPriceFeed(ctx context.Context, caller common.Address, pair, feedID string) (domain.PriceFeedBinding, error) {
	prev, hadPrev := s.reg.PriceFeed(pair)
	b, err := s.reg.SetPriceFeed(caller, pair, feedID, s.unix())
	if err != nil {
		return domain.PriceFeedBinding{}, fmt.Errorf("pool_service: set price feed: %w", err)
	}
	if err := s.feeds.Upsert(ctx, b); err != nil {
		if hadPrev {
			s.reg.LoadPriceFeed(prev)
		}
		return domain.PriceFeedBinding{}, fmt.Errorf("pool_service: set price feed: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"type":       domain.EventPriceFeedSet,
		"token_pair": b.TokenPair,
		"feed_id":    b.FeedID,
		"at":         b.UpdatedAt,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "pool_service: marshal feed event failed", slog.String("error", err.Error()))
	} else if err := s.bus.Publish(ctx, domain.ChannelFeeds, payload); err != nil {
		s.logger.WarnContext(ctx, "pool_service: publish feed event failed", slog.String("error", err.Error()))
	}
	if err := s.audit.Log(ctx, domain.EventPriceFeedSet, map[string]any{
		"token_pair": b.TokenPair,
		"feed_id":    b.FeedID,
		"caller":     caller.Hex(),
	}); err != nil {
		s.logger.WarnContext(ctx, "pool_service: audit log failed", slog.String("error", err.Error()))
	}
	s.logger.InfoContext(ctx, "pool_service: price feed set",
		slog.String("pair", b.TokenPair),
		slog.String("feed", b.FeedID),
	)
	return b, nil
}

// PriceFeeds returns every binding.
func (s *PoolService) PriceFeeds() []domain.PriceFeedBinding {
	return s.reg.PriceFeeds()
}

// PushPrice stores an oracle answer for pair's feed. Owner only; this is the
// hook an external relayer uses when it cannot write to Redis directly.
func (s *PoolService) PushPrice(ctx context.Context, caller common.Address, pair string, answer int64) (oracle.Price, error) {
	if caller != s.reg.Owner() {
		return oracle.Price{}, fmt.Errorf("pool_service: push price: %w", domain.ErrUnauthorized)
	}
	if s.prices == nil {
		return oracle.Price{}, fmt.Errorf("pool_service: push price: %w", domain.ErrNoPriceFeed)
	}
	if answer <= 0 {
		return oracle.Price{}, fmt.Errorf("pool_service: push price: %w", domain.ErrZeroOrNegativeAmount)
	}
	b, ok := s.reg.PriceFeed(pair)
	if !ok {
		return oracle.Price{}, fmt.Errorf("pool_service: push price %s: %w", pair, domain.ErrNoPriceFeed)
	}
	ts := s.now()
	if err := s.prices.SetPrice(ctx, b.FeedID, answer, ts); err != nil {
		return oracle.Price{}, fmt.Errorf("pool_service: push price %s: %w", pair, err)
	}
	return oracle.Price{TokenPair: b.TokenPair, FeedID: b.FeedID, Answer: answer, UpdatedAt: ts}, nil
}

// Price returns the oracle's current answer for pair.
func (s *PoolService) Price(ctx context.Context, pair string) (oracle.Price, error) {
	if s.oracle == nil {
		return oracle.Price{}, fmt.Errorf("pool_service: price %s: %w", pair, domain.ErrNoPriceFeed)
	}
	return s.oracle.Price(ctx, pair)
}

// GetPool returns the view of pool id. Archived pools are served from
// storage.
func (s *PoolService) GetPool(ctx context.Context, id common.Address) (engine.PoolView, error) {
	now := s.unix()
	if l, err := s.reg.Get(id); err == nil {
		return l.View(ctx, now)
	}
	p, err := s.pools.GetByID(ctx, id)
	if err != nil {
		return engine.PoolView{}, fmt.Errorf("pool_service: get pool %s: %w", id.Hex(), err)
	}
	return engine.ViewOf(p, now), nil
}

// ListPools returns the views of live pools, optionally only creator's.
func (s *PoolService) ListPools(ctx context.Context, creator *common.Address) ([]engine.PoolView, error) {
	ledgers := s.reg.ListPools()
	if creator != nil {
		ledgers = s.reg.ListPoolsByCreator(*creator)
	}
	now := s.unix()
	out := make([]engine.PoolView, 0, len(ledgers))
	for _, l := range ledgers {
		v, err := l.View(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("pool_service: list pools: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetPosition returns user's position in pool id. Positions of archived
// pools are read back from the archive.
func (s *PoolService) GetPosition(ctx context.Context, id, user common.Address) (domain.Position, error) {
	if l, err := s.reg.Get(id); err == nil {
		return l.Position(ctx, user)
	}
	p, err := s.pools.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("pool_service: get position: %w", err)
	}
	if !p.Archived {
		pos, err := s.positions.Get(ctx, id, user)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewPosition(id, user), nil
		}
		return pos, err
	}
	if s.archive == nil {
		return domain.Position{}, fmt.Errorf("pool_service: get position: pool %s archived: %w", id.Hex(), domain.ErrNotFound)
	}
	_, positions, err := s.archive.LoadPool(ctx, s.archive.PoolPath(p))
	if err != nil {
		return domain.Position{}, fmt.Errorf("pool_service: get position: %w", err)
	}
	for _, pos := range positions {
		if pos.User == user {
			return pos, nil
		}
	}
	return domain.NewPosition(id, user), nil
}

// ListUserPositions returns user's positions across unarchived pools.
func (s *PoolService) ListUserPositions(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	out, err := s.positions.ListByUser(ctx, user, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list positions: %w", err)
	}
	return out, nil
}

// QuoteMint prices a deposit without executing it.
func (s *PoolService) QuoteMint(ctx context.Context, id common.Address, side domain.Side, deposit *uint256.Int) (engine.MintQuote, error) {
	l, err := s.reg.Get(id)
	if err != nil {
		return engine.MintQuote{}, fmt.Errorf("pool_service: quote mint: %w", err)
	}
	return l.QuoteMint(ctx, side, deposit, s.unix())
}

// QuoteBurn prices a burn without executing it.
func (s *PoolService) QuoteBurn(ctx context.Context, id common.Address, side domain.Side, amount *uint256.Int) (engine.BurnQuote, error) {
	l, err := s.reg.Get(id)
	if err != nil {
		return engine.BurnQuote{}, fmt.Errorf("pool_service: quote burn: %w", err)
	}
	return l.QuoteBurn(ctx, side, amount, s.unix())
}

// Events returns up to count of the most recent events of pool id, newest
// first.
func (s *PoolService) Events(ctx context.Context, id common.Address, count int) ([]domain.PoolEvent, error) {
	msgs, err := s.bus.StreamTail(ctx, domain.PoolStream(id.Hex()), count)
	if err != nil {
		return nil, fmt.Errorf("pool_service: events %s: %w", id.Hex(), err)
	}
	out := make([]domain.PoolEvent, 0, len(msgs))
	for _, m := range msgs {
		var evt domain.PoolEvent
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			s.logger.WarnContext(ctx, "pool_service: skip malformed event",
				slog.String("stream_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// Archive moves settled pool id to cold storage, drops it from the hot
// store and from memory. Unclaimed rewards of an archived pool can no
// longer be claimed.
func (s *PoolService) Archive(ctx context.Context, id common.Address) (string, error) {
	if s.archive == nil {
		return "", fmt.Errorf("pool_service: archive %s: archival disabled", id.Hex())
	}
	var (
		key  string
		pool domain.Pool
	)
	err := s.withPool(ctx, id, "archive", func(l *engine.Ledger) error {
		v, err := l.View(ctx, s.unix())
		if err != nil {
			return err
		}
		if !v.Pool.SnapshotTaken {
			return domain.ErrSnapshotNotTaken
		}
		positions, err := l.Positions(ctx)
		if err != nil {
			return err
		}
		if key, err = s.archive.ArchivePool(ctx, v.Pool, positions); err != nil {
			return err
		}
		if err := s.pools.MarkArchived(ctx, id, key); err != nil {
			return err
		}
		s.reg.Remove(id)
		pool = v.Pool
		pool.Archived = true
		return nil
	})
	if err != nil {
		return "", err
	}

	s.emit(ctx, domain.PoolEvent{Type: domain.EventPoolArchived, PoolID: id, Pool: &pool})
	s.logger.InfoContext(ctx, "pool_service: pool archived",
		slog.String("pool", id.Hex()),
		slog.String("path", key),
	)
	s.alert(ctx, domain.EventPoolArchived, pool, "archive "+key)
	return key, nil
}

// SettledBefore lists pools settled before t that are still in the hot
// store.
func (s *PoolService) SettledBefore(ctx context.Context, t time.Time) ([]domain.Pool, error) {
	pools, err := s.pools.ListSettledBefore(ctx, t.Unix())
	if err != nil {
		return nil, fmt.Errorf("pool_service: settled pools: %w", err)
	}
	return pools, nil
}

// AwaitingSnapshot lists live pools that have expired without a snapshot.
func (s *PoolService) AwaitingSnapshot(ctx context.Context) ([]engine.PoolView, error) {
	views, err := s.ListPools(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := views[:0]
	for _, v := range views {
		if v.Phase == domain.PhaseAwaitingSnapshot {
			out = append(out, v)
		}
	}
	return out, nil
}

// AnnounceAwaitingSnapshot publishes an awaiting_snapshot event for pool.
func (s *PoolService) AnnounceAwaitingSnapshot(ctx context.Context, pool domain.Pool) {
	s.emit(ctx, domain.PoolEvent{Type: domain.EventAwaitingSnapshot, PoolID: pool.ID, Pool: &pool})
	s.alert(ctx, domain.EventAwaitingSnapshot, pool)
}
