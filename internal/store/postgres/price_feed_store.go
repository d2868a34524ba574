package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// PriceFeedStore implements domain.PriceFeedStore using PostgreSQL.
type PriceFeedStore struct {
	pool *pgxpool.Pool
}

// NewPriceFeedStore creates a new PriceFeedStore backed by the given connection pool.
func NewPriceFeedStore(pool *pgxpool.Pool) *PriceFeedStore {
	return &PriceFeedStore{pool: pool}
}

// Upsert writes or replaces the binding for b.TokenPair.
func (s *PriceFeedStore) Upsert(ctx context.Context, b domain.PriceFeedBinding) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_feeds (token_pair, feed_id, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (token_pair) DO UPDATE SET feed_id = EXCLUDED.feed_id, updated_at = EXCLUDED.updated_at`,
		b.TokenPair, b.FeedID, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert price feed %s: %w", b.TokenPair, err)
	}
	return nil
}

// List returns every binding ordered by token pair.
func (s *PriceFeedStore) List(ctx context.Context) ([]domain.PriceFeedBinding, error) {
	rows, err := s.pool.Query(ctx, `SELECT token_pair, feed_id, updated_at FROM price_feeds ORDER BY token_pair`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price feeds: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceFeedBinding
	for rows.Next() {
		var b domain.PriceFeedBinding
		if err := rows.Scan(&b.TokenPair, &b.FeedID, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan price feed: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list price feeds: %w", err)
	}
	return out, nil
}

var _ domain.PriceFeedStore = (*PriceFeedStore)(nil)
