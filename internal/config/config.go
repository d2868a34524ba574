// Package config defines the top-level configuration of the bullbear pool
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BULLBEAR_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Registry RegistryConfig `toml:"registry"`
	Oracle   OracleConfig   `toml:"oracle"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the pricing and settlement parameters shared by every
// pool.
type EngineConfig struct {
	MinSupply        uint64 `toml:"min_supply"`
	CreatorFeeTiming string `toml:"creator_fee_timing"` // "settlement" or "mint"
	MaxCreatorFeeBps uint16 `toml:"max_creator_fee_bps"`
}

// Params converts the section into engine parameters.
func (e EngineConfig) Params() engine.Params {
	return engine.Params{
		MinSupply:        e.MinSupply,
		CreatorFeeTiming: engine.CreatorFeeTiming(strings.ToLower(e.CreatorFeeTiming)),
	}
}

// RegistryConfig holds the pool factory identity.
type RegistryConfig struct {
	Owner   string `toml:"owner"`   // may bind price feeds and push prices
	Factory string `toml:"factory"` // pool addresses derive from this and a nonce
}

// OwnerAddress returns the parsed owner address.
func (r RegistryConfig) OwnerAddress() common.Address { return common.HexToAddress(r.Owner) }

// FactoryAddress returns the parsed factory address.
func (r RegistryConfig) FactoryAddress() common.Address { return common.HexToAddress(r.Factory) }

// OracleConfig bounds how old a cached oracle answer may be.
type OracleConfig struct {
	MaxAge duration `toml:"max_age"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	Namespace    string   `toml:"namespace"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	APIKey           string   `toml:"api_key"`
	RateLimit        int      `toml:"rate_limit"` // requests per window per client, 0 disables
	RateWindow       duration `toml:"rate_window"`
	RequireSignature bool     `toml:"require_signature"`
	SignatureMaxSkew duration `toml:"signature_max_skew"`
}

// KeeperConfig schedules automatic snapshots.
type KeeperConfig struct {
	Enabled      bool   `toml:"enabled"`
	SnapshotCron string `toml:"snapshot_cron"`
	Operator     string `toml:"operator"` // creator address the keeper settles for
}

// OperatorAddress returns the operator as an address. An unset operator is
// the zero address, which only announces due pools.
func (k KeeperConfig) OperatorAddress() common.Address {
	if k.Operator == "" {
		return common.Address{}
	}
	return common.HexToAddress(k.Operator)
}

// ArchiveConfig schedules archival of settled pools to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
	Prefix        string `toml:"prefix"`
}

// Retention returns the retention window.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MinSupply:        engine.DefaultMinSupply,
			CreatorFeeTiming: string(engine.CreatorFeeAtSettlement),
			MaxCreatorFeeBps: domain.MaxCreatorFeeBps,
		},
		Oracle: OracleConfig{
			MaxAge: duration{5 * time.Minute},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			Namespace:    "bullbear",
			StreamMaxLen: 10_000,
			LockTTL:      duration{10 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bullbear-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			SignatureMaxSkew: duration{2 * time.Minute},
		},
		Keeper: KeeperConfig{
			Enabled:      true,
			SnapshotCron: "@every 1m",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
			Prefix:        "archive",
		},
		Notify: NotifyConfig{
			Events: []string{
				domain.EventSnapshotTaken,
				domain.EventAwaitingSnapshot,
				domain.EventPoolArchived,
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true, // HTTP API only
	"keeper": true, // scheduled jobs only
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns one error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if err := c.Engine.Params().Validate(); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}
	if c.Engine.MaxCreatorFeeBps > domain.MaxCreatorFeeBps {
		errs = append(errs, fmt.Sprintf("engine: max_creator_fee_bps must be <= %d, got %d",
			domain.MaxCreatorFeeBps, c.Engine.MaxCreatorFeeBps))
	}

	// Registry
	if !common.IsHexAddress(c.Registry.Owner) {
		errs = append(errs, fmt.Sprintf("registry: owner must be a hex address, got %q", c.Registry.Owner))
	}
	if !common.IsHexAddress(c.Registry.Factory) {
		errs = append(errs, fmt.Sprintf("registry: factory must be a hex address, got %q", c.Registry.Factory))
	}

	if c.Oracle.MaxAge.Duration < 0 {
		errs = append(errs, "oracle: max_age must not be negative")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be > 0")
	}

	// Server
	if c.Server.Enabled && mode != "keeper" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Server.RequireSignature && c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be > 0 when require_signature is set")
		}
	}

	// Keeper
	if c.Keeper.Enabled {
		if _, err := cron.ParseStandard(c.Keeper.SnapshotCron); err != nil {
			errs = append(errs, fmt.Sprintf("keeper: snapshot_cron %q: %v", c.Keeper.SnapshotCron, err))
		}
		if c.Keeper.Operator != "" && !common.IsHexAddress(c.Keeper.Operator) {
			errs = append(errs, fmt.Sprintf("keeper: operator must be a hex address, got %q", c.Keeper.Operator))
		}
	}

	// Archive
	if c.Archive.Enabled {
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron %q: %v", c.Archive.Cron, err))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
