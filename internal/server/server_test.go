package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/server/handler"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
)

var owner = common.HexToAddress("0x000000000000000000000000000000000000000f")

type stubPools struct {
	handler.PoolService
	views []engine.PoolView
}

func (s *stubPools) ListPools(_ context.Context, creator *common.Address) ([]engine.PoolView, error) {
	if creator == nil {
		return s.views, nil
	}
	var out []engine.PoolView
	for _, v := range s.views {
		if v.Pool.Creator == *creator {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *stubPools) GetPool(_ context.Context, id common.Address) (engine.PoolView, error) {
	for _, v := range s.views {
		if v.Pool.ID == id {
			return v, nil
		}
	}
	return engine.PoolView{}, domain.ErrNotFound
}

type stubFeeds struct {
	feeds map[string]domain.PriceFeedBinding
}

func (s *stubFeeds) SetPriceFeed(_ context.Context, caller common.Address, pair, feedID string) (domain.PriceFeedBinding, error) {
	if caller != owner {
		return domain.PriceFeedBinding{}, domain.ErrUnauthorized
	}
	b := domain.PriceFeedBinding{TokenPair: pair, FeedID: feedID}
	s.feeds[pair] = b
	return b, nil
}

func (s *stubFeeds) PriceFeeds() []domain.PriceFeedBinding {
	out := make([]domain.PriceFeedBinding, 0, len(s.feeds))
	for _, b := range s.feeds {
		out = append(out, b)
	}
	return out
}

func (s *stubFeeds) PushPrice(_ context.Context, _ common.Address, pair string, answer int64) (oracle.Price, error) {
	return oracle.Price{TokenPair: pair, Answer: answer}, nil
}

func (s *stubFeeds) Price(_ context.Context, pair string) (oracle.Price, error) {
	if _, ok := s.feeds[pair]; !ok {
		return oracle.Price{}, domain.ErrNoPriceFeed
	}
	return oracle.Price{TokenPair: pair, Answer: 42}, nil
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("refused") }

func newTestHandler(t *testing.T, cfg Config, deps map[string]handler.Pinger) (http.Handler, *stubFeeds) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pools := &stubPools{views: []engine.PoolView{{
		Pool:  domain.Pool{ID: common.HexToAddress("0xaa"), Creator: owner, TokenPair: "ETH/USD"},
		Phase: domain.PhaseActive,
	}}}
	feeds := &stubFeeds{feeds: map[string]domain.PriceFeedBinding{}}
	h := NewHandler(cfg, Handlers{
		Health: handler.NewHealthHandler(deps, logger),
		Pools:  handler.NewPoolHandler(pools, logger),
		Feeds:  handler.NewFeedHandler(feeds, logger),
	}, nil, nil, logger)
	return h, feeds
}

func do(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, rdr)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestRoutesAndAuth(t *testing.T) {
	h, _ := newTestHandler(t, Config{APIKey: "k"}, nil)
	key := map[string]string{"X-API-Key": "k"}

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/pools", "", nil).Code)

	rec := do(h, http.MethodGet, "/api/pools", "", key)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"token_pair":"ETH/USD"`)
	require.Contains(t, rec.Body.String(), `"phase":"active"`)

	rec = do(h, http.MethodGet, "/api/pools?creator=0x00000000000000000000000000000000000000b0", "", key)
	require.JSONEq(t, `{"pools":[]}`, rec.Body.String())

	require.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/pools/0x00000000000000000000000000000000000000bb", "", key).Code)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/pools/not-an-address", "", key).Code)
	require.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodDelete, "/api/pools", "", key).Code)
}

func TestPriceFeedPairWithSlash(t *testing.T) {
	h, feeds := newTestHandler(t, Config{}, nil)
	asOwner := map[string]string{middleware.HeaderAccount: owner.Hex()}

	rec := do(h, http.MethodPut, "/api/price-feeds/ETH/USD", `{"feed_id":"0xfeed"}`, asOwner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, feeds.feeds, "ETH/USD")

	rec = do(h, http.MethodPut, "/api/price-feeds/BTC/USD", `{"feed_id":"0xfeed"}`,
		map[string]string{middleware.HeaderAccount: "0x00000000000000000000000000000000000000b0"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPut, "/api/price-feeds/BTC/USD", `{"feed_id":"0xfeed"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodGet, "/api/prices/ETH/USD", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"answer":42`)
	require.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/prices/SOL/USD", "", nil).Code)
}

func TestHealthReportsDependencies(t *testing.T) {
	h, _ := newTestHandler(t, Config{}, map[string]handler.Pinger{
		"redis":    handler.PingFunc(func(context.Context) error { return nil }),
		"postgres": downPinger{},
	})
	rec := do(h, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"postgres":"down"`)
	require.Contains(t, rec.Body.String(), `"redis":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, Config{APIKey: "k"}, nil)
	do(h, http.MethodGet, "/api/pools/0x00000000000000000000000000000000000000aa", "", map[string]string{"X-API-Key": "k"})

	rec := do(h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `bullbear_http_requests_total{method="GET",path="/api/pools/:addr",status="200"}`)
}

func TestServerShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(Config{Port: 0}, Handlers{
		Health: handler.NewHealthHandler(nil, logger),
		Pools:  handler.NewPoolHandler(&stubPools{}, logger),
		Feeds:  handler.NewFeedHandler(&stubFeeds{}, logger),
	}, nil, nil, logger)

	errs := make(chan error, 1)
	go func() { errs <- srv.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errs)
}
