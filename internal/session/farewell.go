package session

import "regexp"

var farewellPattern = regexp.MustCompile(`(?i)\b(goodbye|see you|see ya|take care|talk to you later|bye)\b`)

// IsFarewell reports whether text contains a closing phrase as whole words.
func IsFarewell(text string) bool {
	return farewellPattern.MatchString(text)
}
