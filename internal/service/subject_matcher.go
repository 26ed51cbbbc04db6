package service

import (
	"strings"
	"unicode"
)

// NormalizeSubjectCode lowercases code and drops every character that is not a letter or digit,
// so "CS-101", "cs 101" and "CS101" compare equal.
func NormalizeSubjectCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// subjectMatcher resolves free-form codes to known subjects. Schedule ingestion and
// attendance recording share it so both accept the same spellings.
type subjectMatcher[T any] struct {
	exact      map[string]T
	normalized map[string]T
}

func newSubjectMatcher[T any]() *subjectMatcher[T] {
	return &subjectMatcher[T]{exact: make(map[string]T), normalized: make(map[string]T)}
}

// add registers value under code. The first registration of a code or normalized code wins.
func (m *subjectMatcher[T]) add(code string, value T) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	if _, ok := m.exact[code]; ok {
		return false
	}
	m.exact[code] = value
	if key := NormalizeSubjectCode(code); key != "" {
		if _, ok := m.normalized[key]; !ok {
			m.normalized[key] = value
		}
	}
	return true
}

// resolve tries an exact match first, then the normalized form.
func (m *subjectMatcher[T]) resolve(code string) (T, bool) {
	code = strings.TrimSpace(code)
	if v, ok := m.exact[code]; ok {
		return v, true
	}
	if key := NormalizeSubjectCode(code); key != "" {
		if v, ok := m.normalized[key]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
