package tools

import (
	"unicode"
	"unicode/utf8"
)

type printableType interface {
	~string | ~[]byte
}

// Printable returns v with every non printable rune replaced by '.', cut to at most max runes.
// A max of 0 or less keeps the whole value. Peer supplied text goes through it before it is logged.
func Printable[T printableType](v T, max int) string {
	s := string(v)
	result := make([]rune, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if max > 0 && len(result) == max {
			return string(result) + "..."
		}
		if r == utf8.RuneError && size == 1 || !unicode.IsPrint(r) {
			r = '.'
		}
		result = append(result, r)
	}
	return string(result)
}
