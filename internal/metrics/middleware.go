package metrics

import (
	"net/http"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware returns middleware that records request metrics.
// Requests are labeled by the mux pattern that matched, so paths with
// run IDs in them collapse to one series per route; requests no route
// matched fall back to the raw path.
func HTTPMiddleware(reg *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reg.InFlightInc()
			defer reg.InFlightDec()

			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			reg.RecordRequest(r.Method, routeLabel(r), rw.statusCode, time.Since(start).Seconds())
		})
	}
}

// routeLabel prefers the matched pattern, which the mux fills in during
// next.ServeHTTP. The method prefix is dropped since it is its own
// label.
func routeLabel(r *http.Request) string {
	pat := r.Pattern
	if pat == "" {
		return r.URL.Path
	}
	if i := strings.IndexByte(pat, ' '); i >= 0 {
		pat = pat[i+1:]
	}
	return pat
}
