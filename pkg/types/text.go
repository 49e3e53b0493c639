package types

import "unicode/utf8"

// Truncate cuts s to at most maxRunes runes without splitting a UTF-8
// sequence. A non-positive limit returns s unchanged.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
