package launcher

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultSensitiveNames are the key substrings treated as sensitive when
// summarizing environment variables for logs. Matching is case-insensitive.
func DefaultSensitiveNames() []string {
	return []string{
		"api_key", "apikey", "key", "secret", "password", "passwd", "pwd",
		"token", "auth", "credential", "cred", "private", "access",
		"session", "cookie", "oauth", "jwt", "bearer", "signature",
		"database_url", "db_url", "connection_string", "dsn",
	}
}

// isSensitive reports whether an environment key matches any of the
// sensitive substrings.
func isSensitive(key string, sensitive []string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitive {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// SafeEnvSummary renders the keys of an environment map for logging without
// exposing values. Sensitive keys are counted but never listed.
func SafeEnvSummary(env map[string]string, sensitive []string) string {
	var safe []string
	sensitiveCount := 0
	for key := range env {
		if isSensitive(key, sensitive) {
			sensitiveCount++
		} else {
			safe = append(safe, key)
		}
	}
	sort.Strings(safe)

	var parts []string
	if len(safe) > 0 {
		if len(safe) <= 5 {
			parts = append(parts, fmt.Sprintf("safe: %v", safe))
		} else {
			parts = append(parts, fmt.Sprintf("safe: %v + %d more", safe[:3], len(safe)-3))
		}
	}
	if sensitiveCount > 0 {
		parts = append(parts, fmt.Sprintf("sensitive: %d hidden", sensitiveCount))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
