package postgres

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://u:p@db:5432/bullbear?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "bullbear", User: "u", Password: "p"}))
	require.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "001_init.sql", names[0])

	sql, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"pools", "positions", "price_feeds", "audit_log"} {
		require.Contains(t, string(sql), "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
}

func TestAmountScanner(t *testing.T) {
	var a, b *uint256.Int
	var s amountScanner
	*s.add("a", &a) = "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	*s.add("b", &b) = "42"
	require.NoError(t, s.finish())
	require.Equal(t, new(uint256.Int).SetAllOne(), a)
	require.Equal(t, uint256.NewInt(42), b)

	var c *uint256.Int
	var bad amountScanner
	*bad.add("c", &c) = "12x"
	require.ErrorContains(t, bad.finish(), "column c")

	require.Equal(t, "0", numeric(nil))
}

func TestQueryPlaceholders(t *testing.T) {
	since := time.Unix(100, 0)
	q := newQuery("SELECT 1 FROM positions WHERE user_addr = $1", "0xabc")
	q.where("updated_at >= %s", since.Unix())
	q.raw(" ORDER BY updated_at DESC")
	q.page(domain.ListOpts{Limit: 10, Offset: 20})

	require.Equal(t,
		"SELECT 1 FROM positions WHERE user_addr = $1 AND updated_at >= $2 ORDER BY updated_at DESC LIMIT $3 OFFSET $4",
		q.sql)
	require.Equal(t, []any{"0xabc", int64(100), 10, 20}, q.args)
}

func TestUpsertArgsMatchPlaceholders(t *testing.T) {
	p := domain.Pool{ID: common.HexToAddress("0x01"), Creator: common.HexToAddress("0x02")}.Clone()
	args := poolArgs(p)
	require.Len(t, args, 21)
	require.Contains(t, upsertPool, "$21")
	require.NotContains(t, upsertPool, "$22")
	require.Equal(t, p.ID.Hex(), args[0])

	pos := positionArgs(domain.NewPosition(p.ID, p.Creator))
	require.Len(t, pos, 7)
	require.Contains(t, upsertPosition, "$7")
	require.NotContains(t, upsertPosition, "$8")
}
