package sql

import (
	"fmt"
	"sort"
	"strings"
)

// Resolve picks the statement that serves a request carrying the given
// parameter names. It returns nil when nothing matches; callers decide
// whether that is "not found" or "unprocessable".
//
// With no keys the first statement without parameters wins, falling back to
// a callable whose only parameter is OUT. With keys, the first statement
// whose input names equal the requested set wins. The scan is first-match,
// so list order matters; CheckSignatures keeps lists free of ties.
func Resolve(statements []*Statement, keys []string) *Statement {
	requested := keySet(keys)

	if len(requested) == 0 {
		for _, s := range statements {
			if s.PreparedText() == "" {
				return s
			}
		}
		for _, s := range statements {
			if s.outOnly() {
				return s
			}
		}
		return nil
	}

	for _, s := range statements {
		if s.matches(requested) {
			return s
		}
	}
	return nil
}

// outOnly reports a callable that takes no input and returns one value.
func (s *Statement) outOnly() bool {
	return s.IsCallable() && len(s.in) == 0 && len(s.sorted) == 1
}

func (s *Statement) matches(requested map[string]struct{}) bool {
	if !s.IsCallable() {
		if len(requested) != len(s.keyTokens) {
			return false
		}
		for k := range requested {
			if _, ok := s.keyTokens[k]; !ok {
				return false
			}
		}
		return true
	}

	if len(requested) != len(s.in) {
		return false
	}
	for k := range requested {
		t, ok := s.keyTokens[k]
		if !ok || !t.Mode.IsInput() {
			return false
		}
	}
	return true
}

// CheckSignatures rejects statement lists that Resolve could not tell apart:
// two statements with the same input names (compared by name and count, not
// type), including an unparameterized statement next to an OUT-only callable.
// It also rejects statements without inputs that Resolve never picks, such as
// an insert whose only marker is the primary key or a procedure with several
// OUT parameters and no IN.
func CheckSignatures(statements []*Statement) error {
	seen := make(map[string]*Statement, len(statements))
	for _, s := range statements {
		keys := s.InputKeys()
		if len(keys) == 0 && s.PreparedText() != "" && !s.outOnly() {
			return fmt.Errorf("%w: %q takes no input values", ErrUnreachableStatement, s.OriginalText())
		}
		sort.Strings(keys)
		sig := strings.Join(keys, "\x00")
		if prev, ok := seen[sig]; ok {
			return &SignatureCollisionError{
				First:  prev.OriginalText(),
				Second: s.OriginalText(),
				Keys:   keys,
			}
		}
		seen[sig] = s
	}
	return nil
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = normalizeKey(k); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}
