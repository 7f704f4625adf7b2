package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Middleware enforces API-key authentication. An empty apiKey disables
// enforcement entirely; paths in skipPaths (the health check) pass through
// unauthenticated. With a non-nil limiter, clients that keep failing
// authentication are blocked for a cooldown period.
func Middleware(apiKey string, limiter *RateLimiter, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := ClientIP(r)
			if limiter != nil && limiter.IsAuthBlocked(clientIP) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.AuthBlockRetryAfter(clientIP)))
				writeAuthError(w, http.StatusTooManyRequests, "rate_limited",
					"Too many failed authentication attempts. Try again later.")
				return
			}

			if !ValidateKey(KeyFromRequest(r), apiKey) {
				if limiter != nil {
					limiter.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
				return
			}

			if limiter != nil {
				limiter.AuthSuccess(clientIP)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
