package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name     string
		provided string
		expected string
		want     bool
	}{
		{name: "correct key matches", provided: "correct", expected: "correct", want: true},
		{name: "wrong key does not match", provided: "wrong", expected: "correct", want: false},
		{name: "empty provided does not match", provided: "", expected: "correct", want: false},
		{name: "empty expected never matches", provided: "anything", expected: "", want: false},
		{name: "both empty never matches", provided: "", expected: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateKey(tt.provided, tt.expected); got != tt.want {
				t.Errorf("ValidateKey(%q, %q) = %v, want %v", tt.provided, tt.expected, got, tt.want)
			}
		})
	}
}

func TestKeyFromEnv(t *testing.T) {
	t.Run("returns value when set", func(t *testing.T) {
		t.Setenv(EnvVar, "env-key")
		if got := KeyFromEnv(); got != "env-key" {
			t.Errorf("KeyFromEnv() = %q, want %q", got, "env-key")
		}
	})

	t.Run("returns empty when unset", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		if got := KeyFromEnv(); got != "" {
			t.Errorf("KeyFromEnv() = %q, want empty", got)
		}
	})
}

func TestKeyFromRequest(t *testing.T) {
	t.Run("reads X-API-Key header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-API-Key", "header-key")
		if got := KeyFromRequest(r); got != "header-key" {
			t.Errorf("KeyFromRequest() = %q, want %q", got, "header-key")
		}
	})

	t.Run("falls back to bearer token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer bearer-key")
		if got := KeyFromRequest(r); got != "bearer-key" {
			t.Errorf("KeyFromRequest() = %q, want %q", got, "bearer-key")
		}
	})

	t.Run("X-API-Key wins over bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-API-Key", "header-key")
		r.Header.Set("Authorization", "Bearer bearer-key")
		if got := KeyFromRequest(r); got != "header-key" {
			t.Errorf("KeyFromRequest() = %q, want %q", got, "header-key")
		}
	})

	t.Run("non-bearer Authorization ignored", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		if got := KeyFromRequest(r); got != "" {
			t.Errorf("KeyFromRequest() = %q, want empty", got)
		}
	})

	t.Run("no credentials returns empty", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if got := KeyFromRequest(r); got != "" {
			t.Errorf("KeyFromRequest() = %q, want empty", got)
		}
	})
}
