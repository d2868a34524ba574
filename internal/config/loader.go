package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BULLBEAR_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BULLBEAR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setUint64(&cfg.Engine.MinSupply, "BULLBEAR_ENGINE_MIN_SUPPLY")
	setStr(&cfg.Engine.CreatorFeeTiming, "BULLBEAR_ENGINE_CREATOR_FEE_TIMING")
	setUint16(&cfg.Engine.MaxCreatorFeeBps, "BULLBEAR_ENGINE_MAX_CREATOR_FEE_BPS")

	// ── Registry ──
	setStr(&cfg.Registry.Owner, "BULLBEAR_REGISTRY_OWNER")
	setStr(&cfg.Registry.Factory, "BULLBEAR_REGISTRY_FACTORY")

	// ── Oracle ──
	setDuration(&cfg.Oracle.MaxAge, "BULLBEAR_ORACLE_MAX_AGE")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "BULLBEAR_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "BULLBEAR_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "BULLBEAR_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "BULLBEAR_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "BULLBEAR_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "BULLBEAR_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "BULLBEAR_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "BULLBEAR_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "BULLBEAR_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "BULLBEAR_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "BULLBEAR_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BULLBEAR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BULLBEAR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BULLBEAR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BULLBEAR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BULLBEAR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BULLBEAR_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "BULLBEAR_REDIS_NAMESPACE")
	setDuration(&cfg.Redis.PriceTTL, "BULLBEAR_REDIS_PRICE_TTL")
	setInt(&cfg.Redis.StreamMaxLen, "BULLBEAR_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.LockTTL, "BULLBEAR_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BULLBEAR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BULLBEAR_S3_REGION")
	setStr(&cfg.S3.Bucket, "BULLBEAR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BULLBEAR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BULLBEAR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BULLBEAR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BULLBEAR_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BULLBEAR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BULLBEAR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BULLBEAR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BULLBEAR_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BULLBEAR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BULLBEAR_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.RequireSignature, "BULLBEAR_SERVER_REQUIRE_SIGNATURE")
	setDuration(&cfg.Server.SignatureMaxSkew, "BULLBEAR_SERVER_SIGNATURE_MAX_SKEW")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "BULLBEAR_KEEPER_ENABLED")
	setStr(&cfg.Keeper.SnapshotCron, "BULLBEAR_KEEPER_SNAPSHOT_CRON")
	setStr(&cfg.Keeper.Operator, "BULLBEAR_KEEPER_OPERATOR")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BULLBEAR_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "BULLBEAR_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "BULLBEAR_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "BULLBEAR_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BULLBEAR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BULLBEAR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BULLBEAR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BULLBEAR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BULLBEAR_MODE")
	setStr(&cfg.LogLevel, "BULLBEAR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint16(dst *uint16, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			*dst = uint16(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
