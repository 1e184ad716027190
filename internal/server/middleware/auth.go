package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the operator API with a static key, accepted either as a
// Bearer token or in the X-API-Key header. An empty key disables the check
// entirely, which is the expected setup for localhost-only deployments.
func Auth(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			presented := credentialFrom(r)
			if presented == "" {
				deny(w, "missing credentials")
				return
			}
			// Constant-time comparison to avoid leaking key prefixes.
			if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				deny(w, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func credentialFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
