package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-payments/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	pkgredis "github.com/angelmondragon/marketplace-payments/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	refundReplayTTL   = 7 * 24 * time.Hour
	adminReplayTTL    = 24 * time.Hour
	inFlightTTL       = 2 * time.Minute
)

type idempotentRoute struct {
	method string
	path   *regexp.Regexp
	ttl    time.Duration
}

// Matched against the raw path: group-level middleware runs before chi has
// resolved the full route pattern.
var idempotentRoutes = []idempotentRoute{
	{http.MethodPost, regexp.MustCompile(`^/api/admin/orders/[^/]+/refund$`), refundReplayTTL},
	{http.MethodPost, regexp.MustCompile(`^/api/admin/orders/[^/]+/force-status$`), adminReplayTTL},
}

func replayTTL(method, path string) (time.Duration, bool) {
	for _, route := range idempotentRoutes {
		if route.method == method && route.path.MatchString(path) {
			return route.ttl, true
		}
	}
	return 0, false
}

// storedResponse is what a key resolves to in Redis. Pending marks a request
// that is still running.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency requires an Idempotency-Key on the admin mutations above and
// replays the first response for repeats with the same key and body. A key
// is claimed before the handler runs, so a concurrent duplicate is refused.
// 5xx responses release the key to allow a retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := replayTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				fail(pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			scope := strings.Join([]string{OperatorFromContext(ctx).ID.String(), r.Method, r.URL.Path}, "|")
			key := store.IdempotencyKey(scope, clientKey)

			claimed, err := claim(ctx, store, key, hash)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(ctx, store, key, hash, w, fail)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if capture.statusCode() >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			if err := finish(ctx, store, key, ttl, storedResponse{
				RequestHash: hash,
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	pending, err := json.Marshal(storedResponse{Pending: true, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(pending), inFlightTTL)
}

func finish(ctx context.Context, store pkgredis.IdempotencyStore, key string, ttl time.Duration, rec storedResponse) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := store.Del(ctx, key); err != nil {
		return err
	}
	_, err = store.SetNX(ctx, key, string(payload), ttl)
	return err
}

func replay(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string, w http.ResponseWriter, fail func(error)) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key expired mid-request, retry"))
		return
	}
	if err != nil {
		fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	var rec storedResponse
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.RequestHash != hash:
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case rec.Pending:
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
