package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// chanBus hands out one buffered channel per bus channel.
type chanBus struct {
	chans map[string]chan []byte
}

func newChanBus() *chanBus {
	return &chanBus{chans: map[string]chan []byte{
		domain.ChannelPools: make(chan []byte, 16),
		domain.ChannelFeeds: make(chan []byte, 16),
	}}
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *chanBus) StreamTail(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T) (*chanBus, string) {
	t.Helper()
	bus := newChanBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "Server"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubPoolFilter(t *testing.T) {
	bus, url := startHub(t)
	ctx := context.Background()

	mine := "0x00000000000000000000000000000000000000AA"
	conn, _, err := websocket.DefaultDialer.Dial(url+"?pool="+mine, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readJSON(t, conn)
	require.Equal(t, "hello", hello["type"])
	payload := hello["payload"].(map[string]any)
	require.Equal(t, "server", payload["mode"])
	require.ElementsMatch(t, []any{domain.ChannelFeeds, PoolTopic(mine)}, payload["subscriptions"])

	require.NoError(t, bus.Publish(ctx, domain.ChannelPools, []byte(`{"type":"minted","pool_id":"0x00000000000000000000000000000000000000bb"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelPools, []byte(`{"type":"burned","pool_id":"`+mine+`"}`)))

	evt := readJSON(t, conn)
	require.Equal(t, "burned", evt["type"], "other pools are filtered out")

	require.NoError(t, bus.Publish(ctx, domain.ChannelFeeds, []byte(`{"type":"price_feed_set"}`)))
	evt = readJSON(t, conn)
	require.Equal(t, "price_feed_set", evt["type"])
}

func TestHubFirehose(t *testing.T) {
	bus, url := startHub(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "hello", readJSON(t, conn)["type"])
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelPools, []byte(`{"type":"minted","pool_id":"0x01"}`)))
	require.Equal(t, "minted", readJSON(t, conn)["type"])
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{}}
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{" Pool:0xAB ", "pool:*"}})
	require.True(t, c.isSubscribed("pool:0xab"))
	require.True(t, c.isSubscribed("pool:0xcd"), "wildcard")
	require.False(t, c.isSubscribed(domain.ChannelPools))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"pool:*"}})
	require.False(t, c.isSubscribed("pool:0xcd"))
}

func TestPoolTopicOf(t *testing.T) {
	require.Equal(t, "pool:0xabc", poolTopicOf([]byte(`{"pool_id":"0xABC"}`)))
	require.Empty(t, poolTopicOf([]byte(`{"type":"x"}`)))
	require.Empty(t, poolTopicOf([]byte(`not json`)))
}
