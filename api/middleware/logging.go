package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/fanvault-backend/pkg/logger"
)

// Logging emits one line per request once the handler returns. The route
// pattern is logged instead of the raw path so creator and fan ids do not
// fan out into distinct log keys.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logg == nil {
				next.ServeHTTP(w, r)
				return
			}

			tracked := &responseTracker{ResponseWriter: w}
			began := time.Now()
			next.ServeHTTP(tracked, r)

			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"route":       routePattern(r),
				"status":      tracked.statusCode(),
				"bytes":       tracked.written,
				"duration_ms": time.Since(began).Milliseconds(),
			})
			if tracked.statusCode() >= http.StatusInternalServerError {
				logg.Warn(ctx, "http.request")
				return
			}
			logg.Info(ctx, "http.request")
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type responseTracker struct {
	http.ResponseWriter
	status  int
	written int
}

func (t *responseTracker) statusCode() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}

func (t *responseTracker) WriteHeader(code int) {
	if t.status == 0 {
		t.status = code
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTracker) Write(b []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	n, err := t.ResponseWriter.Write(b)
	t.written += n
	return n, err
}
