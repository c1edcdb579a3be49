package route

import (
	"strings"
	"unicode"
)

// Normalize maps an internal route code to its public form. Codes longer than
// four characters that end in a letter or space followed by a single digit
// lose the trailing digit ("1010H4" -> "1010H", "1010 3" -> "1010").
func Normalize(raw string) string {
	rs := []rune(raw)
	n := len(rs)
	if n <= 4 {
		return raw
	}
	prev, last := rs[n-2], rs[n-1]
	if (unicode.IsLetter(prev) || prev == ' ') && unicode.IsDigit(last) {
		return strings.TrimRight(string(rs[:n-1]), " ")
	}
	return raw
}

// ToFeedDirection converts a Jore direction (1 or 2) to the zero-based
// GTFS-RT direction_id. Any other value is reported as invalid.
func ToFeedDirection(joreDirection int) (int, bool) {
	switch joreDirection {
	case 1, 2:
		return joreDirection - 1, true
	default:
		return 0, false
	}
}
