package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bullbear/internal/server"
	"github.com/alanyoungcy/bullbear/internal/server/handler"
	"github.com/alanyoungcy/bullbear/internal/server/ws"
	"github.com/alanyoungcy/bullbear/internal/service"
)

// refreshInterval is how often an API-only process rereads pool state
// written by the keeper.
const refreshInterval = 15 * time.Second

// ServerMode runs the HTTP and WebSocket API only. Snapshots are left to a
// separate keeper process, so pool state is refreshed from storage
// periodically.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	if !a.cfg.Server.Enabled {
		return errors.New("app: server mode with server.enabled = false")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	g.Go(func() error {
		a.refreshLoop(ctx, deps.Pools)
		return nil
	})
	return g.Wait()
}

// KeeperMode runs the scheduled snapshot and archive jobs only.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// FullMode runs the API and the keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}
	a.startKeeper(ctx, g, deps)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// startServer launches the WebSocket hub and the HTTP server, and shuts the
// server down when ctx is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
		RequireSignature: a.cfg.Server.RequireSignature,
		SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Pools:  handler.NewPoolHandler(deps.Pools, a.logger),
		Feeds:  handler.NewFeedHandler(deps.Pools, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper schedules the keeper jobs enabled in the configuration.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	kc := service.KeeperConfig{
		Operator:  a.cfg.Keeper.OperatorAddress(),
		Retention: a.cfg.Archive.Retention(),
	}
	if a.cfg.Keeper.Enabled {
		kc.SnapshotSpec = a.cfg.Keeper.SnapshotCron
	}
	if a.cfg.Archive.Enabled {
		kc.ArchiveSpec = a.cfg.Archive.Cron
	}
	if kc.SnapshotSpec == "" && kc.ArchiveSpec == "" {
		a.logger.InfoContext(ctx, "keeper disabled")
		return
	}

	keeper := service.NewKeeper(deps.Pools, kc, a.logger)
	g.Go(func() error { return keeper.Run(ctx) })
}

// refreshLoop rereads pool state until ctx is cancelled.
func (a *App) refreshLoop(ctx context.Context, pools *service.PoolService) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pools.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "pool refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}
