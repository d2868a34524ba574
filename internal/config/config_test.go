package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/engine"
)

const (
	testOwner   = "0x000000000000000000000000000000000000000f"
	testFactory = "0x00000000000000000000000000000000000000fa"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Registry.Owner = testOwner
	cfg.Registry.Factory = testFactory
	return cfg
}

func TestDefaultsNeedOnlyRegistry(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "registry: owner")
	require.Contains(t, err.Error(), "registry: factory")

	cfg = validConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, engine.DefaultParams(), cfg.Engine.Params())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trader"
	cfg.Engine.CreatorFeeTiming = "weekly"
	cfg.Engine.MaxCreatorFeeBps = 5_000
	cfg.Keeper.SnapshotCron = "every minute"
	cfg.Keeper.Operator = "bob"
	cfg.Server.RateWindow = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trader"`,
		"engine: unknown creator fee timing",
		"max_creator_fee_bps",
		"keeper: snapshot_cron",
		"keeper: operator",
		"server: rate_window",
	} {
		require.Contains(t, msg, want)
	}
	require.True(t, strings.HasPrefix(msg, "config validation failed:"))
}

func TestValidateArchive(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	require.NoError(t, cfg.Validate())
	require.Equal(t, 30*24*time.Hour, cfg.Archive.Retention())

	cfg.Archive.RetentionDays = 0
	cfg.S3.Bucket = ""
	cfg.Archive.Cron = "61 * * * *"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "archive: retention_days")
	require.Contains(t, err.Error(), "s3: bucket")
	require.Contains(t, err.Error(), "archive: cron")
}

func TestKeeperModeSkipsServerChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "keeper"
	cfg.Server.Port = 0
	require.NoError(t, cfg.Validate())

	cfg.Mode = "server"
	require.Error(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bullbear.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[engine]
creator_fee_timing = "mint"

[registry]
owner = "`+testOwner+`"
factory = "`+testFactory+`"

[oracle]
max_age = "90s"

[server]
port = 9100
`), 0o600))

	t.Setenv("BULLBEAR_SERVER_PORT", "9200")
	t.Setenv("BULLBEAR_SERVER_API_KEY", "k3y")
	t.Setenv("BULLBEAR_ENGINE_MIN_SUPPLY", "500")
	t.Setenv("BULLBEAR_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("BULLBEAR_REDIS_LOCK_TTL", "not-a-duration")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "server", cfg.Mode)
	require.Equal(t, engine.CreatorFeeAtMint, cfg.Engine.Params().CreatorFeeTiming)
	require.Equal(t, uint64(500), cfg.Engine.MinSupply)
	require.Equal(t, 90*time.Second, cfg.Oracle.MaxAge.Duration)
	require.Equal(t, 9200, cfg.Server.Port)
	require.Equal(t, "k3y", cfg.Server.APIKey)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, 10*time.Second, cfg.Redis.LockTTL.Duration, "unparseable override is ignored")
	require.Equal(t, testOwner, strings.ToLower(cfg.Registry.OwnerAddress().Hex()))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Supabase.Password = "pg"
	cfg.Server.APIKey = "key"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Supabase.Password)
	require.Equal(t, "***", out.Server.APIKey)
	require.Equal(t, "***", out.S3.SecretKey)
	require.Equal(t, "***", out.Notify.TelegramToken)
	require.Empty(t, out.Redis.Password)
	require.Equal(t, "key", cfg.Server.APIKey)

	out.Server.CORSOrigins[0] = "changed"
	require.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
