package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// PriceCache implements domain.PriceCache. Each feed's latest answer is a
// hash at "{ns}:price:{feedID}" with fields "answer" (8-decimal fixed point)
// and "updated_at" (unix nanoseconds).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires answers that
// are not refreshed in time, so a dead feed reads as missing, not stale.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) key(feedID string) string {
	return pc.c.Key("price", feedID)
}

// SetPrice stores the latest answer for feedID.
func (pc *PriceCache) SetPrice(ctx context.Context, feedID string, price int64, ts time.Time) error {
	k := pc.key(feedID)
	pipe := pc.c.Underlying().TxPipeline()
	pipe.HSet(ctx, k, map[string]any{
		"answer":     strconv.FormatInt(price, 10),
		"updated_at": strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, k, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", feedID, err)
	}
	return nil
}

// GetPrice returns the latest answer for feedID, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, feedID string) (int64, time.Time, error) {
	vals, err := pc.c.Underlying().HGetAll(ctx, pc.key(feedID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	price, ts, err := decodePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	return price, ts, nil
}

// GetPrices fetches several feeds in one round trip. Missing or malformed
// feeds are left out of the result.
func (pc *PriceCache) GetPrices(ctx context.Context, feedIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(feedIDs))
	if len(feedIDs) == 0 {
		return out, nil
	}

	pipe := pc.c.Underlying().Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(feedIDs))
	for _, id := range feedIDs {
		cmds[id] = pipe.HGetAll(ctx, pc.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, err := decodePrice(vals); err == nil {
			out[id] = price
		}
	}
	return out, nil
}

func decodePrice(vals map[string]string) (int64, time.Time, error) {
	answer, ok := vals["answer"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseInt(answer, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse answer %q: %w", answer, err)
	}
	nanos, err := strconv.ParseInt(vals["updated_at"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse updated_at %q: %w", vals["updated_at"], err)
	}
	return price, time.Unix(0, nanos), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
