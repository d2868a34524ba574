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

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolSelectCols = `id, token_pair, target_price, expiry, ramp_start,
	creator_fee_bps, creator, created_at,
	bull_reserve::text, bear_reserve::text, bull_shares::text, bear_shares::text,
	snapshot_taken, snapshot_price, snapshot_at, winner,
	payout_base::text, winning_shares::text, claimed_total::text,
	creator_fee_accrued::text, creator_fee_withdrawn::text, archived`

func scanPool(row pgx.Row) (domain.Pool, error) {
	var (
		p               domain.Pool
		id, creator, wn string
		fee             int32
		amt             amountScanner
	)
	err := row.Scan(
		&id, &p.TokenPair, &p.TargetPrice, &p.Expiry, &p.RampStart,
		&fee, &creator, &p.CreatedAt,
		amt.add("bull_reserve", &p.BullReserve),
		amt.add("bear_reserve", &p.BearReserve),
		amt.add("bull_shares", &p.BullSharesTotal),
		amt.add("bear_shares", &p.BearSharesTotal),
		&p.SnapshotTaken, &p.SnapshotPrice, &p.SnapshotAt, &wn,
		amt.add("payout_base", &p.PayoutBase),
		amt.add("winning_shares", &p.WinningSharesTotal),
		amt.add("claimed_total", &p.ClaimedTotal),
		amt.add("creator_fee_accrued", &p.CreatorFeeAccrued),
		amt.add("creator_fee_withdrawn", &p.CreatorFeeWithdrawn),
		&p.Archived,
	)
	if err != nil {
		return domain.Pool{}, err
	}
	if err := amt.finish(); err != nil {
		return domain.Pool{}, err
	}
	if p.ID, err = parseAddr("id", id); err != nil {
		return domain.Pool{}, err
	}
	if p.Creator, err = parseAddr("creator", creator); err != nil {
		return domain.Pool{}, err
	}
	if p.Winner, err = parseWinner(wn); err != nil {
		return domain.Pool{}, err
	}
	p.CreatorFeeBps = uint16(fee)
	return p, nil
}

func collectPools(rows pgx.Rows) ([]domain.Pool, error) {
	defer rows.Close()
	var out []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const upsertPool = `
	INSERT INTO pools (
		id, token_pair, target_price, expiry, ramp_start,
		creator_fee_bps, creator, created_at,
		bull_reserve, bear_reserve, bull_shares, bear_shares,
		snapshot_taken, snapshot_price, snapshot_at, winner,
		payout_base, winning_shares, claimed_total,
		creator_fee_accrued, creator_fee_withdrawn, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8,
		$9::numeric, $10::numeric, $11::numeric, $12::numeric,
		$13, $14, $15, $16,
		$17::numeric, $18::numeric, $19::numeric,
		$20::numeric, $21::numeric, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		bull_reserve          = EXCLUDED.bull_reserve,
		bear_reserve          = EXCLUDED.bear_reserve,
		bull_shares           = EXCLUDED.bull_shares,
		bear_shares           = EXCLUDED.bear_shares,
		snapshot_taken        = EXCLUDED.snapshot_taken,
		snapshot_price        = EXCLUDED.snapshot_price,
		snapshot_at           = EXCLUDED.snapshot_at,
		winner                = EXCLUDED.winner,
		payout_base           = EXCLUDED.payout_base,
		winning_shares        = EXCLUDED.winning_shares,
		claimed_total         = EXCLUDED.claimed_total,
		creator_fee_accrued   = EXCLUDED.creator_fee_accrued,
		creator_fee_withdrawn = EXCLUDED.creator_fee_withdrawn,
		updated_at            = NOW()`

func poolArgs(p domain.Pool) []any {
	return []any{
		addr(p.ID), p.TokenPair, p.TargetPrice, p.Expiry, p.RampStart,
		int32(p.CreatorFeeBps), addr(p.Creator), p.CreatedAt,
		numeric(p.BullReserve), numeric(p.BearReserve),
		numeric(p.BullSharesTotal), numeric(p.BearSharesTotal),
		p.SnapshotTaken, p.SnapshotPrice, p.SnapshotAt, string(p.Winner),
		numeric(p.PayoutBase), numeric(p.WinningSharesTotal), numeric(p.ClaimedTotal),
		numeric(p.CreatorFeeAccrued), numeric(p.CreatorFeeWithdrawn),
	}
}

// SaveState upserts pool and the given positions in one transaction, so a
// reader never sees a pool total that disagrees with its positions.
func (s *PoolStore) SaveState(ctx context.Context, pool domain.Pool, positions []domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save pool %s: begin: %w", pool.ID.Hex(), err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	batch.Queue(upsertPool, poolArgs(pool)...)
	for _, p := range positions {
		batch.Queue(upsertPosition, positionArgs(p)...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: save pool %s: %w", pool.ID.Hex(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save pool %s: commit: %w", pool.ID.Hex(), err)
	}
	return nil
}

// GetByID returns the pool with the given address.
func (s *PoolStore) GetByID(ctx context.Context, id common.Address) (domain.Pool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolSelectCols+` FROM pools WHERE id = $1`, addr(id))
	p, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", id.Hex(), err)
	}
	return p, nil
}

// ListActive returns every pool that has not been archived, oldest first.
func (s *PoolStore) ListActive(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolSelectCols+` FROM pools WHERE NOT archived ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active pools: %w", err)
	}
	pools, err := collectPools(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active pools: %w", err)
	}
	return pools, nil
}

// ListSettledBefore returns unarchived pools whose snapshot was taken before
// the given unix time.
func (s *PoolStore) ListSettledBefore(ctx context.Context, before int64) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolSelectCols+` FROM pools
		WHERE snapshot_taken AND NOT archived AND snapshot_at < $1
		ORDER BY snapshot_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled pools: %w", err)
	}
	pools, err := collectPools(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled pools: %w", err)
	}
	return pools, nil
}

// MarkArchived flags a pool as archived at path and drops its positions,
// which from then on live only in the archive object.
func (s *PoolStore) MarkArchived(ctx context.Context, id common.Address, path string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: archive pool %s: begin: %w", id.Hex(), err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE pools SET archived = TRUE, archive_path = $2, updated_at = NOW() WHERE id = $1`,
		addr(id), path)
	if err != nil {
		return fmt.Errorf("postgres: archive pool %s: %w", id.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE pool_id = $1`, addr(id)); err != nil {
		return fmt.Errorf("postgres: archive pool %s: drop positions: %w", id.Hex(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: archive pool %s: commit: %w", id.Hex(), err)
	}
	return nil
}

// Count returns how many pools were ever created, archived ones included.
func (s *PoolStore) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pools`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count pools: %w", err)
	}
	return uint64(n), nil
}

var _ domain.PoolStore = (*PoolStore)(nil)
