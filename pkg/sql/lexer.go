package sql

import (
	"strings"
	"unicode"
)

// lex splits a statement template into whitespace-delimited words.
//
// Single-quoted literals are copied verbatim and never split. Backtick
// parameter tokens always stand alone with their inner whitespace removed,
// and commas outside literals are always words of their own, so "(a,b)" and
// "( a , b )" produce the same commas.
func lex(text string) ([]string, error) {
	var (
		words []string
		cur   strings.Builder
	)

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'':
			cur.WriteRune(r)
			for i++; i < len(runes); i++ {
				cur.WriteRune(runes[i])
				if runes[i] == '\'' {
					break
				}
			}
		case r == '`':
			flush()
			var param strings.Builder
			param.WriteRune('`')
			closed := false
			for i++; i < len(runes); i++ {
				if runes[i] == '`' {
					closed = true
					break
				}
				if !unicode.IsSpace(runes[i]) {
					param.WriteRune(runes[i])
				}
			}
			if !closed {
				return nil, parseErr(CodeMalformedParameterToken, text, "unterminated parameter token %s", param.String())
			}
			param.WriteRune('`')
			words = append(words, param.String())
		case r == ',':
			flush()
			words = append(words, ",")
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words, nil
}

func isParameterWord(w string) bool {
	return len(w) >= 2 && w[0] == '`' && w[len(w)-1] == '`'
}
