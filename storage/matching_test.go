package storage

import (
	"testing"
)

// Test cases for pattern matching
var matchTestCases = []struct {
	name     string
	str      string
	pattern  string
	expected bool
}{
	// Empty patterns
	{"empty pattern, empty string", "", "", true},
	{"empty pattern, non-empty string", "test", "", false},
	{"non-empty pattern, empty string", "", "test", false},

	// Exact matches
	{"exact match", "hello", "hello", true},
	{"exact match case sensitive", "Hello", "hello", false},
	{"exact match different", "hello", "world", false},

	// Single wildcard pattern "*"
	{"single wildcard, non-empty string", "test", "*", true},
	{"single wildcard, empty string", "", "*", true},

	// Prefix patterns (ending with *)
	{"prefix match", "hello world", "hello*", true},
	{"prefix no match", "hi world", "hello*", false},
	{"prefix empty", "", "hello*", false},
	{"prefix exact", "hello", "hello*", true},

	// Suffix patterns (starting with *)
	{"suffix match", "hello world", "*world", true},
	{"suffix no match", "hello universe", "*world", false},
	{"suffix exact", "world", "*world", true},

	// Middle wildcard patterns
	{"middle wildcard match", "hello world", "hello*world", true},
	{"middle wildcard no match", "hello universe", "hello*world", false},
	{"middle wildcard empty middle", "helloworld", "hello*world", true},

	// Single character wildcard (?)
	{"single char wildcard", "hello", "hell?", true},
	{"single char wildcard no match", "hello", "hell??", false},
	{"single char wildcard multiple", "hello", "h?ll?", true},

	// Character classes
	{"class match", "hallo", "h[ae]llo", true},
	{"class no match", "hillo", "h[ae]llo", false},
	{"negated class", "hillo", "h[^e]llo", true},
	{"negated class no match", "hello", "h[^e]llo", false},
	{"range", "hbllo", "h[a-c]llo", true},
	{"range no match", "hzllo", "h[a-c]llo", false},
	{"escaped star in class", "a*b", "a[\\*]b", true},

	// Escapes
	{"escaped star", "a*b", "a\\*b", true},
	{"escaped star literal only", "axb", "a\\*b", false},
	{"escaped question", "a?", "a\\?", true},

	// Slashes are ordinary characters
	{"star spans slash", "a/b/c", "a*c", true},

	// Edge cases
	{"only stars", "anything", "***", true},
	{"only question marks", "abc", "???", true},
	{"only question marks no match", "abcd", "???", false},
	{"pattern longer than string", "hi", "hello", false},
	{"string longer than pattern", "hello", "hi", false},

	// Real-world Redis key patterns
	{"redis key prefix", "user:123:profile", "user:*", true},
	{"redis key suffix", "user:123:profile", "*:profile", true},
	{"redis key middle", "user:123:profile", "user:*:profile", true},
	{"redis key complex", "cache:user:123:data", "cache:*:*:data", true},
}

func TestMatchPattern(t *testing.T) {
	for _, tc := range matchTestCases {
		t.Run(tc.name, func(t *testing.T) {
			result := MatchPattern(tc.str, tc.pattern)
			if result != tc.expected {
				t.Errorf("MatchPattern(%q, %q) = %v, expected %v",
					tc.str, tc.pattern, result, tc.expected)
			}
		})
	}
}

func TestMatchPatternUnterminatedClass(t *testing.T) {
	// Should not panic
	_ = MatchPattern("test", "[")
	_ = MatchPattern("test", "te[st")
	_ = MatchPattern("test", "test\\")
}

func BenchmarkMatchPattern(b *testing.B) {
	patterns := []string{"user:*", "*:profile", "user:*:profile", "h[a-e]llo*"}
	for _, p := range patterns {
		b.Run(p, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				MatchPattern("user:12345:profile", p)
			}
		})
	}
}
