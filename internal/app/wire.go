package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/bullbear/internal/blob/s3"
	"github.com/alanyoungcy/bullbear/internal/cache/redis"
	"github.com/alanyoungcy/bullbear/internal/config"
	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/notify"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/registry"
	"github.com/alanyoungcy/bullbear/internal/server/handler"
	"github.com/alanyoungcy/bullbear/internal/service"
	"github.com/alanyoungcy/bullbear/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PoolStore      domain.PoolStore
	PositionStore  domain.PositionStore
	PriceFeedStore domain.PriceFeedStore
	AuditStore     domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil unless archival is enabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Registry *registry.Registry
	Pools    *service.PoolService

	// Health lists the backing services the health endpoint pings.
	Health map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration, restores pool state from Postgres, and returns them together
// with a cleanup function that should be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- PostgreSQL: the authoritative pool state ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Health["postgres"] = pgClient

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.PoolStore = postgres.NewPoolStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.PriceFeedStore = postgres.NewPriceFeedStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis: locks, oracle answers, events, rate limits ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Namespace:  cfg.Redis.Namespace,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Health["redis"] = redisClient

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Health["s3"] = handler.PingFunc(s3Client.Health)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.Archive.Prefix)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Registry and pool service ---
	reg, err := registry.New(registry.Options{
		Params:           cfg.Engine.Params(),
		Owner:            cfg.Registry.OwnerAddress(),
		Factory:          cfg.Registry.FactoryAddress(),
		MaxCreatorFeeBps: cfg.Engine.MaxCreatorFeeBps,
	})
	if err != nil {
		return fail("registry", err)
	}
	deps.Registry = reg

	svc := service.NewPoolService(
		reg,
		deps.PoolStore,
		deps.PositionStore,
		deps.PriceFeedStore,
		deps.AuditStore,
		deps.LockManager,
		deps.SignalBus,
		logger,
	).
		WithOracle(oracle.NewCacheSource(reg, deps.PriceCache, cfg.Oracle.MaxAge.Duration), deps.PriceCache).
		WithNotifier(deps.Notifier).
		WithLockTTL(cfg.Redis.LockTTL.Duration)
	if deps.Archiver != nil {
		svc = svc.WithArchive(deps.Archiver)
	}
	if err := svc.Restore(ctx); err != nil {
		return fail("restore pools", err)
	}
	deps.Pools = svc

	return deps, cleanup, nil
}
