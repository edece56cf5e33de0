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
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/fanvault-backend/api/responses"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/fanvault-backend/pkg/redis"
)

const IdempotencyHeader = "Idempotency-Key"

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// reservationTTL bounds how long a crashed handler can block its key.
	reservationTTL       = 2 * time.Minute
	maxIdempotencyKeyLen = 255
	maxIdempotentBody    = 1 << 20
)

type idempotentRoute struct {
	method   string
	prefix   string
	suffix   string
	ttl      time.Duration
	required bool
}

// matches compares against the request path rather than the chi pattern,
// which is incomplete inside mounted groups until routing finishes.
func (r idempotentRoute) matches(method, path string) bool {
	if r.method != method || !strings.HasPrefix(path, r.prefix) {
		return false
	}
	if r.suffix == "" {
		return path == r.prefix
	}
	return len(path) > len(r.prefix) && strings.HasSuffix(path, r.suffix)
}

var idempotentRoutes = []idempotentRoute{
	{method: http.MethodPost, prefix: "/api/v1/subscriptions", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/v1/subscriptions/", suffix: "/cancel", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/v1/creator/payouts/", suffix: "/cancel", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/v1/creator/payouts", ttl: criticalIdempotencyTTL, required: true},
	{method: http.MethodPost, prefix: "/api/admin/v1/payouts/", suffix: "/process", ttl: criticalIdempotencyTTL},
}

func matchRoute(method, path string) (idempotentRoute, bool) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return idempotentRoute{}, false
	}
	for _, route := range idempotentRoutes {
		if route.matches(method, path) {
			return route, true
		}
	}
	return idempotentRoute{}, false
}

const (
	recordPending  = "pending"
	recordComplete = "complete"
)

// idempotencyRecord is stored as pending while the handler runs, then swapped
// for the captured response.
type idempotencyRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (rec idempotencyRecord) encode() string {
	raw, _ := json.Marshal(rec)
	return string(raw)
}

// Idempotency replays the first non-5xx response for a (user, route, key)
// triple. A concurrent duplicate gets 409 while the first is in flight; a
// different body under the same key is rejected.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			route, ok := matchRoute(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			switch {
			case clientKey == "" && !route.required:
				next.ServeHTTP(w, r)
				return
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "Idempotency-Key must be at most %d characters", maxIdempotencyKeyLen))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(idempotencyScope(r), clientKey)
			pending := idempotencyRecord{State: recordPending, RequestHash: hashBody(body)}.encode()

			reserved, err := store.SetNX(ctx, key, pending, reservationTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayOrReject(ctx, logg, w, store, key, hashBody(body))
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			// 5xx stays retryable under the same key
			persistCtx := context.WithoutCancel(ctx)
			if capture.statusCode() >= http.StatusInternalServerError {
				if _, delErr := store.CompareAndDelete(persistCtx, key, pending); delErr != nil {
					logError(ctx, logg, "idempotency.release_failed", delErr)
				}
				return
			}

			complete := idempotencyRecord{
				State:       recordComplete,
				RequestHash: hashBody(body),
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}
			swapped, swapErr := store.CompareAndSwap(persistCtx, key, pending, complete.encode(), route.ttl)
			if swapErr != nil {
				logError(ctx, logg, "idempotency.persist_failed", swapErr)
			} else if !swapped && logg != nil {
				logg.Warn(ctx, "idempotency.reservation_lost")
			}
		})
	}
}

func replayOrReject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, requestHash string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotent request is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != requestHash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.State != recordComplete:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotent request is still in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func idempotencyScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, strings.TrimSuffix(r.URL.Path, "/")}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
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
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
