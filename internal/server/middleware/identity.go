package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bullbear/internal/crypto"
)

// Identity headers. X-Account names the caller; when signatures are required
// X-Signature must be an EIP-191 signature by that account over
// crypto.RequestMessage, and X-Timestamp the unix second it was made.
const (
	HeaderAccount   = "X-Account"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

const maxSignedBody = 1 << 20

type accountKey struct{}

// Account returns the caller address attached by Identity.
func Account(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(accountKey{}).(common.Address)
	return a, ok
}

// WithAccount returns ctx carrying account as the caller.
func WithAccount(ctx context.Context, account common.Address) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// IdentityConfig controls caller verification.
type IdentityConfig struct {
	RequireSignature bool
	MaxSkew          time.Duration
	Now              func() time.Time
}

// Identity resolves the caller from the X-Account header. Requests without
// the header pass through anonymously; handlers that mutate state reject
// them. With RequireSignature set the header is only trusted after the
// signature over method, path, timestamp and body recovers to it.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderAccount)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeError(w, http.StatusBadRequest, "invalid "+HeaderAccount+" header")
				return
			}
			account := common.HexToAddress(raw)

			if cfg.RequireSignature {
				if err := verifyRequest(r, account, cfg.MaxSkew, now()); err != nil {
					writeError(w, http.StatusUnauthorized, err.Error())
					return
				}
			}

			noteAccount(r.Context(), account.Hex())
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

func verifyRequest(r *http.Request, account common.Address, maxSkew time.Duration, now time.Time) error {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return errors.New("invalid " + HeaderTimestamp + " header")
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if maxSkew > 0 && skew > maxSkew {
		return errors.New("request timestamp outside allowed window")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return errors.New("read request body")
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	signer, err := crypto.RecoverSigner(crypto.RequestMessage(r.Method, r.URL.Path, ts, body), r.Header.Get(HeaderSignature))
	if err != nil {
		return errors.New("invalid signature")
	}
	if signer != account {
		return errors.New("signature does not match " + HeaderAccount)
	}
	return nil
}
