package shared

import (
	"regexp"
	"strings"
)

const (
	redactedPlaceholder = "[REDACTED]"
	pathPlaceholder     = "[PATH_REDACTED]"
)

// secretPatterns matches common secret-bearing patterns in log/event/error strings.
var secretPatterns = []*regexp.Regexp{
	// API keys (generic: long hex/base64 strings preceded by key-like prefixes)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
	// Bearer tokens in Authorization headers
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
}

// pathPatterns matches absolute filesystem paths (POSIX and Windows drive
// letter forms) embedded in error strings.
var pathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[\s"'=:(])(/[^\s"'():]+)`),
	regexp.MustCompile(`(?i)([A-Z]:\\[^\s"'()]+)`),
}

// Redact replaces secret-bearing patterns in the input string with [REDACTED].
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			// For patterns with a prefix group, keep the prefix and redact the value.
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// RedactPaths replaces absolute paths in the input with [PATH_REDACTED].
// Diagnostics and smoke reports must never leak where the vault lives.
func RedactPaths(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range pathPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			idx := strings.IndexAny(match, "/\\")
			if idx < 0 {
				return match
			}
			// Drive-letter paths start two bytes (letter and colon) before
			// the separator.
			if idx >= 2 && match[idx] == '\\' {
				idx -= 2
			}
			return match[:idx] + pathPlaceholder
		})
	}
	return result
}

// RedactEnvValue checks if a key name looks secret and returns redacted value if so.
func RedactEnvValue(key, value string) string {
	keyLower := strings.ToLower(key)
	sensitiveKeys := []string{"api_key", "apikey", "secret", "token", "password", "credential"}
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return redactedPlaceholder
		}
	}
	return value
}
