package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
)

const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNoPriceFeed):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotCreator),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSnapshotAlreadyTaken),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrZeroOrNegativeAmount),
		errors.Is(err, domain.ErrInvalidSide),
		errors.Is(err, domain.ErrInvalidExpiry),
		errors.Is(err, domain.ErrInvalidRampWindow),
		errors.Is(err, domain.ErrFeeTooHigh):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPoolExpired),
		errors.Is(err, domain.ErrPoolNotExpired),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrBurnBelowDustThreshold),
		errors.Is(err, domain.ErrSnapshotNotTaken),
		errors.Is(err, domain.ErrNoWinningPosition),
		errors.Is(err, domain.ErrArithmeticOverflow),
		errors.Is(err, domain.ErrStalePrice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err to the client. Unexpected failures are
// logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// parseAddress validates a hex address taken from a path or query value.
func parseAddress(name, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", name)
	}
	return common.HexToAddress(v), nil
}

// pathAddress reads an address path parameter, writing a 400 on failure.
func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	a, err := parseAddress(name, r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, false
	}
	return a, true
}

// parseAmount parses a base-10 wei amount.
func parseAmount(name, v string) (*uint256.Int, error) {
	if v == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	x, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be a non-negative decimal integer", name)
	}
	return x, nil
}

// caller returns the verified account of the request, writing a 401 when
// the request is anonymous.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	a, ok := middleware.Account(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.HeaderAccount+" header required")
		return common.Address{}, false
	}
	return a, true
}

// decodeBody decodes the JSON request body into v. An empty body leaves v
// untouched when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
