package datasource

import (
	"strconv"
	"strings"
)

// RewritePlaceholders replaces each ? outside quoted text with the marker
// returned by mark for its 1-based ordinal.
func RewritePlaceholders(text string, mark func(n int) string) string {
	var (
		b     strings.Builder
		quote rune
		n     int
	)
	b.Grow(len(text) + 8)
	for _, r := range text {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			b.WriteString(mark(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DollarPlaceholders renders $1, $2, ... as used by PostgreSQL.
func DollarPlaceholders(n int) string { return "$" + strconv.Itoa(n) }

// AtPlaceholders renders @p1, @p2, ... as used by SQL Server.
func AtPlaceholders(n int) string { return "@p" + strconv.Itoa(n) }

// RoutineCall returns the part of a callable's prepared text that follows the
// call keyword, e.g. "car_count( ? , 5 )" for "? = call car_count( ? , 5 )".
func RoutineCall(prepared string) string {
	fields := strings.Fields(prepared)
	for i, f := range fields {
		lower := strings.ToLower(f)
		if lower == "call" || lower == "=call" {
			return strings.Join(fields[i+1:], " ")
		}
	}
	return prepared
}
