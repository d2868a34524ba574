package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/oracle"
)

// FeedService defines the methods that the feed handler requires.
type FeedService interface {
	SetPriceFeed(ctx context.Context, caller common.Address, pair, feedID string) (domain.PriceFeedBinding, error)
	PriceFeeds() []domain.PriceFeedBinding
	PushPrice(ctx context.Context, caller common.Address, pair string, answer int64) (oracle.Price, error)
	Price(ctx context.Context, pair string) (oracle.Price, error)
}

// FeedHandler serves price feed bindings and oracle answers.
type FeedHandler struct {
	feeds  FeedService
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(feeds FeedService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feeds: feeds, logger: logHandler(logger, "feed")}
}

type listFeedsResponse struct {
	Feeds []domain.PriceFeedBinding `json:"feeds"`
}

// ListFeeds returns every token pair binding.
// GET /api/price-feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds := h.feeds.PriceFeeds()
	if feeds == nil {
		feeds = []domain.PriceFeedBinding{}
	}
	writeJSON(w, http.StatusOK, listFeedsResponse{Feeds: feeds})
}

type setFeedRequest struct {
	FeedID string `json:"feed_id"`
}

// SetFeed binds a token pair to a feed. Registry owner only.
// PUT /api/price-feeds/{pair...}
func (h *FeedHandler) SetFeed(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}
	var req setFeedRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.FeedID) == "" {
		writeError(w, http.StatusBadRequest, "feed_id is required")
		return
	}

	b, err := h.feeds.SetPriceFeed(r.Context(), who, pair, req.FeedID)
	if err != nil {
		writeServiceError(w, r, h.logger, "set price feed", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetPrice returns the oracle answer for a token pair.
// GET /api/prices/{pair...}
func (h *FeedHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}
	p, err := h.feeds.Price(r.Context(), pair)
	if err != nil {
		writeServiceError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type pushPriceRequest struct {
	Answer int64 `json:"answer"`
}

// PushPrice stores an oracle answer. Registry owner only.
// PUT /api/prices/{pair...}
func (h *FeedHandler) PushPrice(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}
	var req pushPriceRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	p, err := h.feeds.PushPrice(r.Context(), who, pair, req.Answer)
	if err != nil {
		writeServiceError(w, r, h.logger, "push price", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func pathPair(w http.ResponseWriter, r *http.Request) (string, bool) {
	pair := strings.TrimSpace(r.PathValue("pair"))
	if pair == "" {
		writeError(w, http.StatusBadRequest, "token pair is required")
		return "", false
	}
	return pair, true
}
