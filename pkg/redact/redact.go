// Package redact strips secrets from strings and maps before they cross a
// logging or storage boundary.
package redact

import (
	"regexp"
	"strings"
)

var patterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|auth)['"]?\s*[:=]\s*['"]?[\w\-.]+`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)authorization:\s*bearer\s+[\w\-.]+`), "Authorization: Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)cookie:\s*.+`), "Cookie: [REDACTED]"},
	{regexp.MustCompile(`(?i)set-cookie:\s*.+`), "Set-Cookie: [REDACTED]"},
}

var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"token":         {},
	"secret":        {},
	"password":      {},
	"authorization": {},
	"cookie":        {},
	"api-key":       {},
}

// String replaces sensitive patterns in s with "[REDACTED]".
func String(s string) string {
	for _, p := range patterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

func isSensitiveKey(key string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(key), "-", "_")
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	for sk := range sensitiveKeys {
		if strings.Contains(normalized, sk) {
			return true
		}
	}
	return false
}

// Map recursively redacts sensitive values in a nested map, matching the
// key-name and string-pattern rules String applies. It returns a new map;
// the input is never mutated.
func Map(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	result := make(map[string]any, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = String(v)
			}
		case map[string]any:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = Map(v)
			}
		case []any:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = redactSlice(v)
			}
		default:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = value
			}
		}
	}
	return result
}

func redactSlice(items []any) []any {
	result := make([]any, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case map[string]any:
			result[i] = Map(v)
		case string:
			result[i] = String(v)
		default:
			result[i] = item
		}
	}
	return result
}
