// Package oracle resolves token pair prices for display and for snapshots.
// It never talks to a price network itself; answers are read from whatever
// an external relayer last wrote to the price cache.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Price is one oracle answer for a token pair.
type Price struct {
	TokenPair string    `json:"token_pair"`
	FeedID    string    `json:"feed_id"`
	Answer    int64     `json:"answer"` // 8 implied decimals
	UpdatedAt time.Time `json:"updated_at"`
}

// Source supplies the current price of a token pair.
type Source interface {
	Price(ctx context.Context, tokenPair string) (Price, error)
}

// FeedResolver maps token pairs to oracle feed ids.
type FeedResolver interface {
	PriceFeed(pair string) (domain.PriceFeedBinding, bool)
}

// CacheSource reads answers from a domain.PriceCache through the registry's
// feed bindings.
type CacheSource struct {
	feeds  FeedResolver
	cache  domain.PriceCache
	maxAge time.Duration
	now    func() time.Time
}

// NewCacheSource creates a CacheSource. Answers older than maxAge are
// rejected with domain.ErrStalePrice; maxAge <= 0 accepts any age.
func NewCacheSource(feeds FeedResolver, cache domain.PriceCache, maxAge time.Duration) *CacheSource {
	return &CacheSource{feeds: feeds, cache: cache, maxAge: maxAge, now: time.Now}
}

// Price implements Source.
func (s *CacheSource) Price(ctx context.Context, tokenPair string) (Price, error) {
	b, ok := s.feeds.PriceFeed(tokenPair)
	if !ok {
		return Price{}, fmt.Errorf("oracle: %s: %w", tokenPair, domain.ErrNoPriceFeed)
	}

	answer, ts, err := s.cache.GetPrice(ctx, b.FeedID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Price{}, fmt.Errorf("oracle: %s: feed %s has no answer: %w", tokenPair, b.FeedID, domain.ErrNotFound)
		}
		return Price{}, fmt.Errorf("oracle: %s: %w", tokenPair, err)
	}
	if answer <= 0 {
		return Price{}, fmt.Errorf("oracle: %s: non-positive answer %d: %w", tokenPair, answer, domain.ErrZeroOrNegativeAmount)
	}
	if s.maxAge > 0 && s.now().Sub(ts) > s.maxAge {
		return Price{}, fmt.Errorf("oracle: %s: answer from %s: %w", tokenPair, ts.UTC().Format(time.RFC3339), domain.ErrStalePrice)
	}

	return Price{TokenPair: b.TokenPair, FeedID: b.FeedID, Answer: answer, UpdatedAt: ts}, nil
}

var _ Source = (*CacheSource)(nil)
