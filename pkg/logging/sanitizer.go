package logging

import (
	"regexp"
	"unicode/utf8"
)

const (
	// MaxQueryLogLength is the maximum length of a statement to log
	MaxQueryLogLength = 100
	// MaxValueLogLength is the maximum length of a request value to log
	MaxValueLogLength = 40
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches password=xxx, pwd=xxx, pass=xxx up to the next delimiter, plus the
	// quoted and braced values SQL Server connection strings allow.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)\s*=\s*(\{[^}]*\}|"[^"]*"|'[^']*'|[^;&\s]+)`)

	// Service principal secrets and tokens used for Azure AD authentication
	secretPattern = regexp.MustCompile(`(?i)(client[_-]?secret|access[_-]?token|api[_-]?key)=[^;&\s]+`)

	// Matches user:pass@host and :pass@host (Redis URLs usually carry no user)
	connStringPattern = regexp.MustCompile(`://[^:/@\s]*:[^@\s]+@[^/\s]+`)
)

func redact(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = secretPattern.ReplaceAllString(s, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might contain sensitive data
// Use this before logging any error from database or Redis operations
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error())
}

// SanitizeQuery truncates and sanitizes a SQL statement for logging
func SanitizeQuery(query string) string {
	return redact(truncate(query, MaxQueryLogLength))
}

// SanitizeValue shortens a caller-supplied value before it is logged.
func SanitizeValue(value string) string {
	return redact(truncate(value, MaxValueLogLength))
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
