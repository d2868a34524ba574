package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/registry"
)

const t0 = int64(1_700_000_000)

var (
	owner   = common.HexToAddress("0x000000000000000000000000000000000000000f")
	factory = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func eth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

// memDB backs every store fake so several services can share one database.
type memDB struct {
	mu        sync.Mutex
	pools     map[common.Address]domain.Pool
	positions map[common.Address]map[common.Address]domain.Position
	feeds     map[string]domain.PriceFeedBinding
	audit     []domain.AuditEntry
	saveErr   error
}

func newMemDB() *memDB {
	return &memDB{
		pools:     make(map[common.Address]domain.Pool),
		positions: make(map[common.Address]map[common.Address]domain.Position),
		feeds:     make(map[string]domain.PriceFeedBinding),
	}
}

func (db *memDB) auditEvents() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.audit))
	for _, e := range db.audit {
		out = append(out, e.Event)
	}
	return out
}

type memPools struct{ *memDB }

func (s memPools) SaveState(_ context.Context, pool domain.Pool, positions []domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.pools[pool.ID] = pool.Clone()
	if s.positions[pool.ID] == nil {
		s.positions[pool.ID] = make(map[common.Address]domain.Position)
	}
	for _, p := range positions {
		s.positions[pool.ID][p.User] = p.Clone()
	}
	return nil
}

func (s memPools) GetByID(_ context.Context, id common.Address) (domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s memPools) ListActive(_ context.Context) ([]domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Pool
	for _, p := range s.pools {
		if !p.Archived {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s memPools) ListSettledBefore(_ context.Context, before int64) ([]domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Pool
	for _, p := range s.pools {
		if p.SnapshotTaken && !p.Archived && p.SnapshotAt < before {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s memPools) MarkArchived(_ context.Context, id common.Address, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Archived = true
	s.pools[id] = p
	delete(s.positions, id)
	return nil
}

func (s memPools) Count(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.pools)), nil
}

type memPositions struct{ *memDB }

func (s memPositions) Get(_ context.Context, poolID, user common.Address) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[poolID][user]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s memPositions) ListByPool(_ context.Context, poolID common.Address) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions[poolID] {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s memPositions) ListByUser(_ context.Context, user common.Address, _ domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, byUser := range s.positions {
		if p, ok := byUser[user]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

type memFeeds struct{ *memDB }

func (s memFeeds) Upsert(_ context.Context, b domain.PriceFeedBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[b.TokenPair] = b
	return nil
}

func (s memFeeds) List(_ context.Context) ([]domain.PriceFeedBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PriceFeedBinding
	for _, b := range s.feeds {
		out = append(out, b)
	}
	return out, nil
}

type memAudit struct{ *memDB }

func (s memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{ID: int64(len(s.audit) + 1), Event: event, Detail: detail})
	return nil
}

func (s memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.audit...), nil
}

// memLocks is a process-local LockManager shared by services in one test.
type memLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.Mutex)
	}
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][]domain.StreamMessage
}

func newMemBus() *memBus {
	return &memBus{published: make(map[string][][]byte), streams: make(map[string][]domain.StreamMessage)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := time.Duration(len(b.streams[stream])).String()
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, stream, _ string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.StreamMessage(nil), b.streams[stream]...), nil
}

func (b *memBus) StreamTail(_ context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.streams[stream]
	var out []domain.StreamMessage
	for i := len(msgs) - 1; i >= 0 && len(out) < count; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

type memPrices struct {
	mu     sync.Mutex
	prices map[string]int64
	at     map[string]time.Time
}

func (m *memPrices) SetPrice(_ context.Context, feedID string, price int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices, m.at = make(map[string]int64), make(map[string]time.Time)
	}
	m.prices[feedID], m.at[feedID] = price, ts
	return nil
}

func (m *memPrices) GetPrice(_ context.Context, feedID string) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[feedID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, m.at[feedID], nil
}

func (m *memPrices) GetPrices(ctx context.Context, feedIDs []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, id := range feedIDs {
		if p, _, err := m.GetPrice(ctx, id); err == nil {
			out[id] = p
		}
	}
	return out, nil
}

type memArchive struct {
	mu   sync.Mutex
	objs map[string]archived
}

type archived struct {
	pool      domain.Pool
	positions []domain.Position
}

func (a *memArchive) PoolPath(p domain.Pool) string { return "archive/pools/" + p.ID.Hex() + ".jsonl" }

func (a *memArchive) ArchivePool(_ context.Context, pool domain.Pool, positions []domain.Position) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objs == nil {
		a.objs = make(map[string]archived)
	}
	key := a.PoolPath(pool)
	a.objs[key] = archived{pool: pool.Clone(), positions: positions}
	return key, nil
}

func (a *memArchive) LoadPool(_ context.Context, key string) (domain.Pool, []domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.objs[key]
	if !ok {
		return domain.Pool{}, nil, domain.ErrNotFound
	}
	return o.pool.Clone(), o.positions, nil
}

type clock struct {
	mu  sync.Mutex
	now int64
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *clock) Set(t int64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	svc     *PoolService
	db      *memDB
	bus     *memBus
	locks   *memLocks
	prices  *memPrices
	archive *memArchive
	clock   *clock
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, newMemDB(), newMemBus(), &memLocks{}, &memArchive{}, &clock{now: t0})
}

// newHarnessOn builds a second process view over shared infrastructure.
func newHarnessOn(t *testing.T, db *memDB, bus *memBus, locks *memLocks, archive *memArchive, clk *clock) *harness {
	t.Helper()
	reg, err := registry.New(registry.Options{Params: engine.DefaultParams(), Owner: owner, Factory: factory})
	require.NoError(t, err)

	prices := &memPrices{}
	svc := NewPoolService(reg, memPools{db}, memPositions{db}, memFeeds{db}, memAudit{db}, locks, bus, quietLogger()).
		WithOracle(oracle.NewCacheSource(reg, prices, 0), prices).
		WithArchive(archive).
		WithClock(clk.Now)
	return &harness{svc: svc, db: db, bus: bus, locks: locks, prices: prices, archive: archive, clock: clk}
}

func poolParams() registry.CreatePoolParams {
	return registry.CreatePoolParams{
		TokenPair:        "ETH/USD",
		TargetPrice:      300_000_000_000,
		Expiry:           t0 + 86_400,
		RampStart:        t0,
		CreatorFeeBps:    50,
		InitialLiquidity: eth(2),
	}
}
