// Package secrets resolves secret references in configuration values and
// keeps resolved material out of log output.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// IsRef reports whether s is a secret reference of the form env(VAR_NAME).
func IsRef(s string) bool {
	return strings.HasPrefix(s, "env(") && strings.HasSuffix(s, ")")
}

// Resolve returns the value a secret reference points at. Referencing an
// unset variable is an error so a misconfigured deployment fails at
// startup instead of running with an empty secret.
func Resolve(ref string) (string, error) {
	if !IsRef(ref) {
		return "", fmt.Errorf("unsupported secret reference %q (expected env(VAR_NAME))", ref)
	}
	name := ref[4 : len(ref)-1]
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", name)
	}
	return value, nil
}

// Expand replaces ${NAME} occurrences with environment values. Unset
// variables expand to the empty string; bare $NAME stays literal so
// dollar signs inside secrets survive.
func Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.Index(s[i:], "}")
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(os.Getenv(s[i+2 : i+j]))
		s = s[i+j+1:]
	}
}
