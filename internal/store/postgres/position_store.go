package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Positions
// are written by PoolStore.SaveState together with their pool.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `pool_id, user_addr, bull_shares::text, bear_shares::text,
	claimed, claimed_amount::text, updated_at`

const upsertPosition = `
	INSERT INTO positions (pool_id, user_addr, bull_shares, bear_shares, claimed, claimed_amount, updated_at)
	VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6::numeric, $7)
	ON CONFLICT (pool_id, user_addr) DO UPDATE SET
		bull_shares    = EXCLUDED.bull_shares,
		bear_shares    = EXCLUDED.bear_shares,
		claimed        = EXCLUDED.claimed,
		claimed_amount = EXCLUDED.claimed_amount,
		updated_at     = EXCLUDED.updated_at`

func positionArgs(p domain.Position) []any {
	return []any{
		addr(p.PoolID), addr(p.User),
		numeric(p.BullShares), numeric(p.BearShares),
		p.Claimed, numeric(p.ClaimedAmount), p.UpdatedAt,
	}
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p          domain.Position
		pool, user string
		amt        amountScanner
	)
	err := row.Scan(&pool, &user,
		amt.add("bull_shares", &p.BullShares),
		amt.add("bear_shares", &p.BearShares),
		&p.Claimed,
		amt.add("claimed_amount", &p.ClaimedAmount),
		&p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if err := amt.finish(); err != nil {
		return domain.Position{}, err
	}
	if p.PoolID, err = parseAddr("pool_id", pool); err != nil {
		return domain.Position{}, err
	}
	if p.User, err = parseAddr("user_addr", user); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns user's position in pool.
func (s *PositionStore) Get(ctx context.Context, poolID, user common.Address) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE pool_id = $1 AND user_addr = $2`,
		addr(poolID), addr(user))
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", poolID.Hex(), user.Hex(), err)
	}
	return p, nil
}

// ListByPool returns every position in a pool ordered by user.
func (s *PositionStore) ListByPool(ctx context.Context, poolID common.Address) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE pool_id = $1 ORDER BY user_addr`,
		addr(poolID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", poolID.Hex(), err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", poolID.Hex(), err)
	}
	return out, nil
}

// ListByUser returns a user's positions across pools, most recently touched
// first. Since and Until filter on the position's updated_at.
func (s *PositionStore) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	q := newQuery(`SELECT `+positionSelectCols+` FROM positions WHERE user_addr = $1`, addr(user))
	if opts.Since != nil {
		q.where("updated_at >= %s", opts.Since.Unix())
	}
	if opts.Until != nil {
		q.where("updated_at <= %s", opts.Until.Unix())
	}
	q.raw(" ORDER BY updated_at DESC, pool_id")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", user.Hex(), err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", user.Hex(), err)
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
