package process

import (
	"strings"
	"unicode"
)

// SplitCommandLine splits a raw argument string into argv elements.
// Runs of whitespace separate arguments; double or single quotes group a
// span into one argument. Backslashes pass through untouched so Windows
// paths survive the split. An unterminated quote extends to the end of the
// string.
func SplitCommandLine(s string) []string {
	var args []string
	var current strings.Builder
	var quote rune
	inWord := false

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case unicode.IsSpace(r):
			if inWord {
				args = append(args, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		args = append(args, current.String())
	}

	return args
}
