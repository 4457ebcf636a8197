// Package redaction scrubs sensitive content from artifact payloads before
// they are hashed and persisted. Pattern scrubbing applies to every string
// value; per-field policies (drop, hash_only, raw_allowed) apply to JSON
// payloads by key name at any depth.
package redaction

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns are applied to string values in order. The replacement
// markers are load-bearing: readers of stored artifacts rely on them to tell
// scrubbed content from literal text.
var builtinPatterns = []*CompiledPattern{
	{
		Name:        "email",
		Regex:       regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
		Replacement: "[REDACTED_EMAIL]",
		Description: "Email addresses",
	},
	{
		Name:        "ssn",
		Regex:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Replacement: "[REDACTED_SSN]",
		Description: "US social security numbers",
	},
	{
		Name:        "phone",
		Regex:       regexp.MustCompile(`\b(?:\+1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`),
		Replacement: "[REDACTED_PHONE]",
		Description: "North American phone numbers",
	},
	{
		Name:        "secret",
		Regex:       regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password)\s*[:=]\s*[^\s,;]+`),
		Replacement: "[REDACTED_SECRET]",
		Description: "Key/value credential assignments",
	},
}
