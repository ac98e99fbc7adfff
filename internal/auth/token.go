// Package auth guards the admin API surface with a static bearer token.
// The scanner has no user accounts; operational endpoints (source
// management, manual sync, cache eviction) are operator-only.
package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

// AdminToken reads the operator token from the environment. Empty means
// admin endpoints are disabled entirely.
func AdminToken() string {
	return os.Getenv("ADMIN_TOKEN")
}

// RequireAdmin is chi middleware that validates the Authorization header
// against the configured admin token.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				deny(w, http.StatusForbidden, "admin API disabled")
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				deny(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
