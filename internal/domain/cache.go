package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest oracle answer per feed, as 8-decimal fixed
// point integers.
type PriceCache interface {
	SetPrice(ctx context.Context, feedID string, price int64, ts time.Time) error
	GetPrice(ctx context.Context, feedID string) (int64, time.Time, error)
	GetPrices(ctx context.Context, feedIDs []string) (map[string]int64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. StreamTail returns the
// newest entries first.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
	StreamTail(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}
