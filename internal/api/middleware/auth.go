// Package middleware holds HTTP middleware specific to the API
// surface. Request logging and metrics middleware live in the metrics
// package and wrap the whole server.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/openquant/crucible/internal/api/response"
	"github.com/openquant/crucible/internal/core"
)

// APIKeyAuth returns middleware that validates the X-API-Key header.
// An empty configured key disables authentication. Missing and wrong
// keys are indistinguishable to the caller, and the comparison is
// constant time.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				response.Fail(w, core.WrapError(core.ErrUnauthorized, nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
