// Package redact provides utilities for redacting sensitive information from
// strings before they are logged. This prevents the accidental leakage of
// connection strings and filesystem paths that storage and queue errors tend
// to carry in their messages.
package redact

import "regexp"

// Constants for redaction placeholders
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
)

// Precompiled regex patterns
var (
	// Database and broker connection strings with inline credentials
	connRegex = regexp.MustCompile(`(?i)(postgres|postgresql|redis|rediss)://[^@\s]+@`)

	// Absolute filesystem paths (artifact directory internals)
	unixPathRegex = regexp.MustCompile(`(/[\w.-]+){2,}`)

	patternPlaceholders = []struct {
		re          *regexp.Regexp
		placeholder string
	}{
		{connRegex, RedactedCredentialPlaceholder},
		{unixPathRegex, RedactedPathPlaceholder},
	}
)

// String returns the input with all sensitive fragments replaced by
// placeholders.
func String(s string) string {
	for _, p := range patternPlaceholders {
		s = p.re.ReplaceAllString(s, p.placeholder)
	}
	return s
}

// Error redacts the message of a non-nil error; returns "" for nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
