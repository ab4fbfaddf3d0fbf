// Package policy masks personal data in transcripts before they are logged or
// stored in the session journal.
package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Card numbers run before phone numbers so long digit runs are not misread as phones.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		if next != out {
			changed = true
			out = next
		}
	}
	return out, changed
}

// Transcript redacts and bounds a transcript for logs and journal records.
func Transcript(text string, maxRunes int) string {
	out, _ := RedactPII(text)
	if maxRunes <= 0 {
		return out
	}
	r := []rune(out)
	if len(r) <= maxRunes {
		return out
	}
	return string(r[:maxRunes]) + "…"
}
