// Package auth guards the HTTP API: API-key validation, key discovery,
// and per-client throttling of abusive traffic.
package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

// EnvVar is the environment variable consulted when no API key is set in
// the configuration file.
const EnvVar = "AGENTDESK_API_KEY"

// ValidateKey compares the provided key against the expected one in
// constant time. An empty expected key never matches.
func ValidateKey(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// KeyFromEnv returns the API key from the environment, or "" when unset.
func KeyFromEnv() string {
	return os.Getenv(EnvVar)
}

// KeyFromRequest extracts the caller's API key: the X-API-Key header
// first, then an Authorization bearer token.
func KeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
