package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// RequireControlToken guards match commands with a bearer token. An empty
// token disables the check.
func RequireControlToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	want := tokenDigest(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || !hmac.Equal(tokenDigest(got), want) {
				RecordConnectionRejected("auth")
				w.Header().Set("WWW-Authenticate", `Bearer realm="arena"`)
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Digests have a fixed length, so hmac.Equal never leaks the token length.
func tokenDigest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}
