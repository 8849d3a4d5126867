// Package sanitize turns arbitrary strings into filesystem-safe path segments.
package sanitize

import (
	"strings"
	"unicode"
)

// Name keeps letters, digits, '.', ' ' and '-' and replaces every other rune
// with '_'.
func Name(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// Names applies Name to every element.
func Names(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = Name(s)
	}
	return out
}

// Segment is Name for a single path component: empty, "." and ".." become "_"
// so a sanitised segment can never step outside its parent.
func Segment(s string) string {
	n := Name(s)
	switch strings.TrimSpace(n) {
	case "", ".", "..":
		return "_"
	}
	return n
}

func keep(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == ' ' || r == '-'
}
