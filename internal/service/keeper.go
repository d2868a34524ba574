package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/bullbear/internal/metrics"
)

// KeeperConfig schedules the background jobs. An empty spec disables a job.
type KeeperConfig struct {
	SnapshotSpec string         // cron spec, e.g. "@every 1m"
	ArchiveSpec  string         // cron spec, e.g. "0 3 * * *"
	Operator     common.Address // creator identity the keeper snapshots for
	Retention    time.Duration  // settled pools older than this are archived
}

// Keeper runs the scheduled snapshot and archive jobs.
type Keeper struct {
	svc    *PoolService
	cfg    KeeperConfig
	logger *slog.Logger

	mu        sync.Mutex
	announced map[common.Address]bool
}

// NewKeeper creates a Keeper.
func NewKeeper(svc *PoolService, cfg KeeperConfig, logger *slog.Logger) *Keeper {
	return &Keeper{
		svc:       svc,
		cfg:       cfg,
		logger:    logger,
		announced: make(map[common.Address]bool),
	}
}

// Run schedules the configured jobs and blocks until ctx is cancelled, then
// waits for running jobs to finish.
func (k *Keeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if k.cfg.SnapshotSpec != "" {
		if _, err := c.AddFunc(k.cfg.SnapshotSpec, func() { k.job(ctx, "snapshot", k.RunSnapshots) }); err != nil {
			return fmt.Errorf("keeper: snapshot schedule %q: %w", k.cfg.SnapshotSpec, err)
		}
	}
	if k.cfg.ArchiveSpec != "" && k.svc.Archiving() {
		if _, err := c.AddFunc(k.cfg.ArchiveSpec, func() { k.job(ctx, "archive", k.RunArchive) }); err != nil {
			return fmt.Errorf("keeper: archive schedule %q: %w", k.cfg.ArchiveSpec, err)
		}
	}

	k.logger.InfoContext(ctx, "keeper: started",
		slog.String("snapshot", k.cfg.SnapshotSpec),
		slog.String("archive", k.cfg.ArchiveSpec),
		slog.String("operator", k.cfg.Operator.Hex()),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	k.logger.Info("keeper: stopped")
	return nil
}

func (k *Keeper) job(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	metrics.RecordJob(name, time.Since(start), err == nil)
	if err != nil {
		k.logger.ErrorContext(ctx, "keeper: job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
	}
}

// RunSnapshots settles every expired pool owned by the operator at the
// oracle price, and announces the other expired pools once each. Pools
// created by other processes are picked up first.
func (k *Keeper) RunSnapshots(ctx context.Context) error {
	if err := k.svc.Refresh(ctx); err != nil {
		return err
	}
	pending, err := k.svc.AwaitingSnapshot(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, v := range pending {
		id := v.Pool.ID
		if v.Pool.Creator != k.cfg.Operator || k.cfg.Operator == (common.Address{}) {
			if k.markAnnounced(id) {
				k.svc.AnnounceAwaitingSnapshot(ctx, v.Pool)
			}
			continue
		}
		res, err := k.svc.SnapshotWithOracle(ctx, id, k.cfg.Operator)
		if err != nil {
			failed++
			k.logger.WarnContext(ctx, "keeper: snapshot failed",
				slog.String("pool", id.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		k.logger.InfoContext(ctx, "keeper: snapshot taken",
			slog.String("pool", id.Hex()),
			slog.Int64("price", res.Price),
			slog.String("winner", string(res.Winner)),
		)
	}
	if failed > 0 {
		return fmt.Errorf("keeper: %d of %d snapshots failed", failed, len(pending))
	}
	return nil
}

func (k *Keeper) markAnnounced(id common.Address) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.announced[id] {
		return false
	}
	k.announced[id] = true
	return true
}

// RunArchive archives every pool settled longer ago than the retention.
func (k *Keeper) RunArchive(ctx context.Context) error {
	settled, err := k.svc.SettledBefore(ctx, k.svc.now().Add(-k.cfg.Retention))
	if err != nil {
		return err
	}

	var failed int
	for _, p := range settled {
		if _, err := k.svc.Archive(ctx, p.ID); err != nil {
			failed++
			k.logger.WarnContext(ctx, "keeper: archive failed",
				slog.String("pool", p.ID.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		k.mu.Lock()
		delete(k.announced, p.ID)
		k.mu.Unlock()
	}
	if failed > 0 {
		return fmt.Errorf("keeper: %d of %d archivals failed", failed, len(settled))
	}
	return nil
}
