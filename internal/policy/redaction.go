// Package policy masks sensitive text before it reaches logs.
package policy

import "regexp"

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: keys before cards, cards before phones.
var rules = []rule{
	{regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_\-*]{8,}`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{8,}`), "Bearer [REDACTED_KEY]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redact masks API keys, bearer tokens, emails, card and phone numbers.
func Redact(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactString is Redact without the changed flag, for log attributes.
func RedactString(input string) string {
	out, _ := Redact(input)
	return out
}
