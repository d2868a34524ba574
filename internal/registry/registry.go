// Package registry is the pool factory: it validates and creates pools,
// derives their addresses, binds token pairs to oracle feeds and indexes the
// live pools by address and creator.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
)

// Options configures a Registry.
type Options struct {
	Params           engine.Params
	Owner            common.Address // may change price feed bindings
	Factory          common.Address // deployer address pool ids are derived from
	MaxCreatorFeeBps uint16         // zero means domain.MaxCreatorFeeBps
}

// CreatePoolParams are the caller-chosen terms of a new pool.
type CreatePoolParams struct {
	TokenPair        string
	TargetPrice      int64
	Expiry           int64
	RampStart        int64
	CreatorFeeBps    uint16
	InitialLiquidity *uint256.Int
}

// Registry indexes live pools. The index only grows, except through Remove
// on archival.
type Registry struct {
	params  engine.Params
	owner   common.Address
	factory common.Address
	maxFee  uint16

	mu        sync.RWMutex
	nonce     uint64
	pools     map[common.Address]*engine.Ledger
	order     []common.Address
	byCreator map[common.Address][]common.Address
	feeds     map[string]domain.PriceFeedBinding
}

// New creates an empty registry.
func New(opts Options) (*Registry, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	maxFee := opts.MaxCreatorFeeBps
	if maxFee == 0 || maxFee > domain.MaxCreatorFeeBps {
		maxFee = domain.MaxCreatorFeeBps
	}
	return &Registry{
		params:    opts.Params,
		owner:     opts.Owner,
		factory:   opts.Factory,
		maxFee:    maxFee,
		pools:     make(map[common.Address]*engine.Ledger),
		byCreator: make(map[common.Address][]common.Address),
		feeds:     make(map[string]domain.PriceFeedBinding),
	}, nil
}

// Owner returns the registry owner.
func (r *Registry) Owner() common.Address { return r.owner }

// Params returns the engine parameters every pool is created with.
func (r *Registry) Params() engine.Params { return r.params }

// NormalizePair canonicalises a token pair such as "eth/usd" to "ETH/USD".
func NormalizePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

// SetPriceFeed binds pair to feedID, replacing any earlier binding.
func (r *Registry) SetPriceFeed(caller common.Address, pair, feedID string, now int64) (domain.PriceFeedBinding, error) {
	if caller != r.owner {
		return domain.PriceFeedBinding{}, domain.ErrUnauthorized
	}
	pair = NormalizePair(pair)
	feedID = strings.TrimSpace(feedID)
	if pair == "" || feedID == "" {
		return domain.PriceFeedBinding{}, fmt.Errorf("registry: token pair and feed id are required")
	}

	b := domain.PriceFeedBinding{TokenPair: pair, FeedID: feedID, UpdatedAt: now}
	r.mu.Lock()
	r.feeds[pair] = b
	r.mu.Unlock()
	return b, nil
}

// LoadPriceFeed installs a persisted binding without an owner check.
func (r *Registry) LoadPriceFeed(b domain.PriceFeedBinding) {
	b.TokenPair = NormalizePair(b.TokenPair)
	r.mu.Lock()
	r.feeds[b.TokenPair] = b
	r.mu.Unlock()
}

// PriceFeed returns the binding for pair.
func (r *Registry) PriceFeed(pair string) (domain.PriceFeedBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.feeds[NormalizePair(pair)]
	return b, ok
}

// PriceFeeds returns every binding.
func (r *Registry) PriceFeeds() []domain.PriceFeedBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PriceFeedBinding, 0, len(r.feeds))
	for _, b := range r.feeds {
		out = append(out, b)
	}
	return out
}

// CreatePool validates p, derives the next pool address and opens a seeded
// ledger for it.
func (r *Registry) CreatePool(creator common.Address, p CreatePoolParams, now int64) (*engine.Ledger, error) {
	switch {
	case p.Expiry <= now:
		return nil, domain.ErrInvalidExpiry
	case p.RampStart >= p.Expiry:
		return nil, domain.ErrInvalidRampWindow
	case p.CreatorFeeBps > r.maxFee:
		return nil, domain.ErrFeeTooHigh
	case p.TargetPrice <= 0:
		return nil, fmt.Errorf("%w: target price %d", domain.ErrZeroOrNegativeAmount, p.TargetPrice)
	}
	pair := NormalizePair(p.TokenPair)
	if pair == "" {
		return nil, fmt.Errorf("registry: token pair is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := crypto.CreateAddress(r.factory, r.nonce)
	if _, exists := r.pools[id]; exists {
		return nil, fmt.Errorf("registry: pool %s: %w", id.Hex(), domain.ErrAlreadyExists)
	}

	l, err := engine.Open(r.params, domain.Pool{
		ID:            id,
		TokenPair:     pair,
		TargetPrice:   p.TargetPrice,
		Expiry:        p.Expiry,
		RampStart:     p.RampStart,
		CreatorFeeBps: p.CreatorFeeBps,
		Creator:       creator,
	}, p.InitialLiquidity, now)
	if err != nil {
		return nil, err
	}

	r.nonce++
	r.index(l)
	return l, nil
}

// Adopt indexes a ledger restored from storage.
func (r *Registry) Adopt(l *engine.Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pools[l.ID()]; exists {
		return fmt.Errorf("registry: pool %s: %w", l.ID().Hex(), domain.ErrAlreadyExists)
	}
	r.index(l)
	return nil
}

// Replace swaps the ledger indexed under l.ID() for l, typically after the
// pool was reloaded from storage. It adopts l when no ledger is indexed yet.
func (r *Registry) Replace(l *engine.Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pools[l.ID()]; exists {
		r.pools[l.ID()] = l
		return
	}
	r.index(l)
}

// SetNonce moves the address derivation counter forward to n, the number of
// pools ever created including archived ones. It never moves backwards.
func (r *Registry) SetNonce(n uint64) {
	r.mu.Lock()
	if n > r.nonce {
		r.nonce = n
	}
	r.mu.Unlock()
}

func (r *Registry) index(l *engine.Ledger) {
	r.pools[l.ID()] = l
	r.order = append(r.order, l.ID())
	r.byCreator[l.Creator()] = append(r.byCreator[l.Creator()], l.ID())
}

// Get returns the ledger for id.
func (r *Registry) Get(id common.Address) (*engine.Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("registry: pool %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return l, nil
}

// ListPools returns every live pool in creation order.
func (r *Registry) ListPools() []*engine.Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.order)
}

// ListPoolsByCreator returns creator's live pools in creation order.
func (r *Registry) ListPoolsByCreator(creator common.Address) []*engine.Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byCreator[creator])
}

func (r *Registry) collect(ids []common.Address) []*engine.Ledger {
	out := make([]*engine.Ledger, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.pools[id])
	}
	return out
}

// Remove drops an archived pool from the index.
func (r *Registry) Remove(id common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.pools[id]
	if !ok {
		return
	}
	delete(r.pools, id)
	r.order = without(r.order, id)
	r.byCreator[l.Creator()] = without(r.byCreator[l.Creator()], id)
	if len(r.byCreator[l.Creator()]) == 0 {
		delete(r.byCreator, l.Creator())
	}
}

func without(ids []common.Address, id common.Address) []common.Address {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
