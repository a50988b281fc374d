package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionFinding describes a request value that libinjection flags as SQL.
type InjectionFinding struct {
	Key         string
	Value       string
	Fingerprint string
}

// CheckValueForInjection runs libinjection over one value. It returns nil when
// the value looks clean.
func CheckValueForInjection(key, value string) *InjectionFinding {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionFinding{Key: key, Value: value, Fingerprint: string(fingerprint)}
}

// ScreenInjection checks the character-typed values of a bound statement.
// Numeric, temporal and boolean values have already been coerced and cannot
// carry SQL, so they are skipped. Findings are ordered by key.
//
// Values are always bound as parameters, so this is an extra screen for
// operators who want suspicious input rejected outright.
func ScreenInjection(b *BoundStatement) []*InjectionFinding {
	var findings []*InjectionFinding
	for _, t := range b.Statement.SortedKeyTokens() {
		if !t.Type.IsCharacter() || t.Mode == ModeOut {
			continue
		}
		if f := CheckValueForInjection(t.Key, b.Params[t.Key]); f != nil {
			findings = append(findings, f)
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Key < findings[j].Key })
	return findings
}
