package tgui

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "…"

// TruncRunes shortens s to at most n runes, the trailing "…" included.
// Whitespace left before the ellipsis is dropped.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n == 1 {
		return ellipsis
	}
	i, kept := 0, 0
	for kept < n-1 {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		kept++
	}
	return strings.TrimRightFunc(s[:i], func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }) + ellipsis
}
