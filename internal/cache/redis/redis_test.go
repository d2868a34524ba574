package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

func TestKeyNamespace(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	require.Equal(t, "bullbear:lock:pool:0xab", NewFromClient(rdb, "").Key("lock", "pool", "0xab"))
	require.Equal(t, "test:ratelimit:api:ip:1.2.3.4", NewFromClient(rdb, "test").Key("ratelimit", "api:ip:1.2.3.4"))
}

func TestDecodePrice(t *testing.T) {
	at := time.Unix(1_700_000_000, 5)
	price, ts, err := decodePrice(map[string]string{
		"answer":     "310000000000",
		"updated_at": "1700000000000000005",
	})
	require.NoError(t, err)
	require.Equal(t, int64(310_000_000_000), price)
	require.True(t, ts.Equal(at))

	_, _, err = decodePrice(map[string]string{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = decodePrice(map[string]string{"answer": "abc", "updated_at": "1"})
	require.Error(t, err)
}

func TestAppendMessagesSkipsForeignValues(t *testing.T) {
	out := appendMessages(nil, []redis.XMessage{
		{ID: "1-0", Values: map[string]any{"payload": `{"type":"minted"}`}},
		{ID: "2-0", Values: map[string]any{"other": "x"}},
		{ID: "3-0", Values: map[string]any{"payload": []byte("raw")}},
	})
	require.Equal(t, []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"minted"}`)},
		{ID: "3-0", Payload: []byte("raw")},
	}, out)
}
