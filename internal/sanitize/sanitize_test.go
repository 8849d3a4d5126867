package sanitize

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"Week 1 - Intro", "Week 1 - Intro"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{`a\b:c*d?e"f<g>h|i`, "a_b_c_d_e_f_g_h_i"},
		{"tab\there", "tab_here"},
		{"Ünïcödé 数据", "Ünïcödé 数据"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Name(tt.in), "Name(%q)", tt.in)
	}
}

func TestNameIsIdempotent(t *testing.T) {
	inputs := []string{
		"plain", "a/b/c", "..", "x\x00y", "emoji 🎉 file.txt", "C:\\Windows\\system32", "%2e%2e",
	}
	for _, in := range inputs {
		once := Name(in)
		assert.Equal(t, once, Name(once), "Name not idempotent for %q", in)
	}
}

func TestNameNeverRemovesKeptCharacters(t *testing.T) {
	in := "Abc 123.-xyz"
	out := Name(in)
	assert.Equal(t, in, out)

	for _, r := range Name("a/b c.d-e") {
		if r == '_' {
			continue
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(". -", r)) {
			t.Fatalf("unexpected rune %q survived", r)
		}
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"a_b", "c", "_"}, Names([]string{"a/b", "c", "?"}))
	assert.Empty(t, Names(nil))
}

func TestSegmentNeutralisesDotSegments(t *testing.T) {
	for _, in := range []string{"", ".", "..", " .. "} {
		assert.Equal(t, "_", Segment(in), "Segment(%q)", in)
	}
	assert.Equal(t, "...", Segment("..."))
	assert.Equal(t, "notes.txt", Segment("notes.txt"))
}
