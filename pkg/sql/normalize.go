package sql

import "strings"

// normalizeTemplate trims a template and drops one trailing semicolon.
// A semicolon left outside quotes means the template holds more than one
// statement, which is rejected.
func normalizeTemplate(text string) (string, error) {
	out := strings.TrimSpace(text)
	if strings.HasSuffix(out, ";") {
		out = strings.TrimRight(strings.TrimSuffix(out, ";"), " \t\r\n")
	}
	if hasSemicolonOutsideQuotes(out) {
		return "", parseErr(CodeMalformedStatement, text, "only one statement per template is allowed")
	}
	return out, nil
}

func hasSemicolonOutsideQuotes(s string) bool {
	var quote rune
	prev := rune(0)
	for _, r := range s {
		switch {
		case quote == 0 && r == ';':
			return true
		case quote == 0 && (r == '\'' || r == '"' || r == '`'):
			quote = r
		case quote != 0 && r == quote && prev != '\\':
			// A doubled '' closes and immediately reopens the literal.
			quote = 0
		}
		prev = r
	}
	return false
}
