package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists pool state. SaveState writes a pool together with the
// positions touched by a single engine mutation in one transaction.
type PoolStore interface {
	SaveState(ctx context.Context, pool Pool, positions []Position) error
	GetByID(ctx context.Context, id common.Address) (Pool, error)
	ListActive(ctx context.Context) ([]Pool, error)
	ListSettledBefore(ctx context.Context, before int64) ([]Pool, error)
	// MarkArchived flags the pool and drops its positions from the hot store.
	MarkArchived(ctx context.Context, id common.Address, path string) error
	// Count includes archived pools; it seeds pool address derivation.
	Count(ctx context.Context) (uint64, error)
}

// PositionStore persists per-user positions.
type PositionStore interface {
	Get(ctx context.Context, poolID, user common.Address) (Position, error)
	ListByPool(ctx context.Context, poolID common.Address) ([]Position, error)
	ListByUser(ctx context.Context, user common.Address, opts ListOpts) ([]Position, error)
}

// PriceFeedStore persists token pair to oracle feed bindings.
type PriceFeedStore interface {
	Upsert(ctx context.Context, b PriceFeedBinding) error
	List(ctx context.Context) ([]PriceFeedBinding, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
