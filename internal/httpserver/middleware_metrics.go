package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/sbtcgateway/server/internal/errors"
)

// httpMetricsMiddleware records request duration labeled by method, route
// pattern and status. The chi route pattern keeps label cardinality bounded;
// raw paths with embedded ids would explode it.
func (h *handlers) httpMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// adminMetricsAuth protects the /metrics endpoint with a static bearer key.
// An empty key leaves the endpoint open, which is the expected setup when
// Prometheus scrapes over a private network.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+apiKey {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeAuthenticationError, "invalid or missing admin API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
