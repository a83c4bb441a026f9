package metrics

import (
	"net/http"
	"strings"
	"time"
)

// PrometheusMiddleware records request durations by matched route pattern.
// Streaming endpoints are passed through untimed.
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/stream") || strings.HasSuffix(r.URL.Path, "/ws") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(duration.Seconds())
	})
}
