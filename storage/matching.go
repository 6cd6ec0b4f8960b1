package storage

import "strings"

// MatchPattern reports whether str matches the Redis glob pattern.
//
// Supported syntax:
//
//	*       any sequence of characters, including none
//	?       exactly one character
//	[abc]   one of the listed characters
//	[^abc]  any character but the listed ones
//	[a-z]   a character in the range
//	\x      the literal x
func MatchPattern(str, pattern string) bool {
	if !strings.ContainsAny(pattern, `*?[\`) {
		return str == pattern
	}
	// Fast path for the common prefix* form
	if n := len(pattern); n > 0 && pattern[n-1] == '*' && !strings.ContainsAny(pattern[:n-1], `*?[\`) {
		return strings.HasPrefix(str, pattern[:n-1])
	}
	return matchGlob(str, pattern)
}

func matchGlob(str, pattern string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(str); i++ {
				if matchGlob(str[i:], pattern[1:]) {
					return true
				}
			}
			return false

		case '?':
			if len(str) == 0 {
				return false
			}
			str = str[1:]
			pattern = pattern[1:]

		case '[':
			if len(str) == 0 {
				return false
			}
			matched, rest := matchClass(str[0], pattern[1:])
			if !matched {
				return false
			}
			str = str[1:]
			pattern = rest

		case '\\':
			if len(pattern) >= 2 {
				pattern = pattern[1:]
			}
			fallthrough

		default:
			if len(str) == 0 || str[0] != pattern[0] {
				return false
			}
			str = str[1:]
			pattern = pattern[1:]
		}
	}
	return len(str) == 0
}

// matchClass matches c against the bracket expression that starts right
// after '['. It returns the pattern remaining after the closing ']'. An
// unterminated class runs to the end of the pattern.
func matchClass(c byte, pattern string) (bool, string) {
	negate := false
	if len(pattern) > 0 && pattern[0] == '^' {
		negate = true
		pattern = pattern[1:]
	}

	matched := false
	for len(pattern) > 0 && pattern[0] != ']' {
		switch {
		case pattern[0] == '\\' && len(pattern) >= 2:
			if pattern[1] == c {
				matched = true
			}
			pattern = pattern[2:]
		case len(pattern) >= 3 && pattern[1] == '-' && pattern[2] != ']':
			lo, hi := pattern[0], pattern[2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			pattern = pattern[3:]
		default:
			if pattern[0] == c {
				matched = true
			}
			pattern = pattern[1:]
		}
	}
	if len(pattern) > 0 {
		pattern = pattern[1:]
	}

	if negate {
		matched = !matched
	}
	return matched, pattern
}
