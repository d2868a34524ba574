package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

type recordSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func settledPool() domain.Pool {
	return domain.Pool{
		ID:            common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		TokenPair:     "ETH/USD",
		TargetPrice:   300_000_000_000,
		SnapshotTaken: true,
		SnapshotPrice: 320_012_345_678,
		Winner:        domain.SideBull,
	}
}

func TestNotifyPoolFiltersAndFormats(t *testing.T) {
	ctx := context.Background()
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{domain.EventSnapshotTaken}, quietLogger())

	require.NoError(t, n.NotifyPool(ctx, domain.EventMinted, settledPool()))
	require.Empty(t, s.titles, "filtered events are dropped")

	require.NoError(t, n.NotifyPool(ctx, domain.EventSnapshotTaken, settledPool(), "creator fee 0.02"))
	require.Equal(t, []string{"ETH/USD snapshot taken"}, s.titles)
	require.Contains(t, s.bodies[0], "target 3000.00000000, snapshot 3200.12345678, BULL wins")
	require.Contains(t, s.bodies[0], "\ncreator fee 0.02")
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("down")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad: down")
	require.Len(t, good.titles, 1)
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	require.False(t, n.Enabled(domain.EventClaimed))
	require.NoError(t, n.NotifyPool(context.Background(), domain.EventClaimed, settledPool()))
}

func TestFormatPrice(t *testing.T) {
	require.Equal(t, "0.00000001", FormatPrice(1))
	require.Equal(t, "-1.50000000", FormatPrice(-150_000_000))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "a<b", "x & y"))
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "<b>a&lt;b</b>\nx &amp; y", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 429")
}
