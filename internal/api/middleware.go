// Package api implements the localhost REST router over the engine using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry a valid "Authorization: Bearer <token>" header.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			given, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				writeError(w, nil, http.StatusUnauthorized, errorPayload{
					Kind:     kindUnauthorized,
					Message:  "missing or invalid bearer token",
					Recovery: "send Authorization: Bearer <token> as configured in auth.token",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
