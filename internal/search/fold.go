package search

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/search"
)

// matcher is a case-insensitive substring test. It is not safe for
// concurrent use; each worker builds its own.
type matcher struct {
	all     bool
	ascii   bool
	lower   string
	pattern *search.Pattern
}

func newMatcher(term string) *matcher {
	if term == "" {
		return &matcher{all: true}
	}
	m := &matcher{
		ascii:   isASCII(term),
		lower:   strings.ToLower(term),
		pattern: search.New(language.Und, search.IgnoreCase).CompileString(term),
	}
	return m
}

func (m *matcher) match(line string) bool {
	if m.all {
		return true
	}
	if m.ascii && isASCII(line) {
		return containsFoldASCII(line, m.lower)
	}
	start, _ := m.pattern.IndexString(line)
	return start >= 0
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// containsFoldASCII reports whether s contains lowerSub, ignoring ASCII case.
// lowerSub must already be lower case.
func containsFoldASCII(s, lowerSub string) bool {
	n := len(lowerSub)
	first := lowerSub[0]
	for i := 0; i+n <= len(s); i++ {
		if lowerASCII(s[i]) != first {
			continue
		}
		j := 1
		for j < n && lowerASCII(s[i+j]) == lowerSub[j] {
			j++
		}
		if j == n {
			return true
		}
	}
	return false
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}
