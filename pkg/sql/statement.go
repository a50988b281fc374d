// Package sql parses annotated SQL templates, picks the template that fits a
// request and binds typed request values to it.
package sql

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Kind is the closed set of statement kinds.
type Kind int

const (
	KindSelect Kind = iota + 1
	KindInsert
	KindUpdate
	KindDelete
	KindFunction
	KindProcedure
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "SELECT"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindFunction:
		return "FUNCTION"
	case KindProcedure:
		return "PROCEDURE"
	default:
		return "UNKNOWN"
	}
}

// IsCallable reports whether the kind invokes a stored routine.
func (k Kind) IsCallable() bool {
	return k == KindFunction || k == KindProcedure
}

// Statement is a parsed, validated SQL template. It is immutable once Parse
// returns and safe for concurrent use.
type Statement struct {
	original string
	prepared string
	kind     Kind

	tokens []*Token
	// keyTokens holds one token per name. A callable that reuses a name for
	// an IN and an OUT parameter keeps the IN token here.
	keyTokens map[string]*Token
	params    []*Token
	sorted    []*Token
	in        []*Token

	// primaryKey is only set for KindInsert.
	primaryKey string
	// procedureName is only set for callable kinds.
	procedureName string

	placeholders int
	pollInterval PollInterval
	fingerprint  string
}

// OriginalText returns the template as written.
func (s *Statement) OriginalText() string { return s.original }

// PreparedText returns the template with a ? per bound placeholder, or ""
// when the statement has no parameters.
func (s *Statement) PreparedText() string { return s.prepared }

// SQL returns the text to hand to a driver.
func (s *Statement) SQL() string {
	if s.prepared != "" {
		return s.prepared
	}
	return s.literalText()
}

func (s *Statement) Kind() Kind { return s.kind }

// IsCallable reports whether the statement invokes a function or procedure.
func (s *Statement) IsCallable() bool { return s.kind.IsCallable() }

// IsFunction reports whether the statement captures a function return value.
func (s *Statement) IsFunction() bool { return s.kind == KindFunction }

// Tokens returns every token in source order.
func (s *Statement) Tokens() []*Token { return s.tokens }

// KeyToken looks up a key token by name, case-insensitively.
func (s *Statement) KeyToken(name string) (*Token, bool) {
	t, ok := s.keyTokens[normalizeKey(name)]
	return t, ok
}

// KeyTokenCount is the number of distinct parameter names.
func (s *Statement) KeyTokenCount() int { return len(s.keyTokens) }

// SortedKeyTokens returns key tokens in binding order. A callable name shared
// by an IN and an OUT parameter appears once for each.
func (s *Statement) SortedKeyTokens() []*Token { return s.sorted }

// InTokens returns the tokens a caller supplies values for on a callable.
func (s *Statement) InTokens() []*Token { return s.in }

// InputKeys returns the names a caller must supply, in binding order.
func (s *Statement) InputKeys() []string {
	src := s.sorted
	if s.IsCallable() {
		src = s.in
	}
	keys := make([]string, 0, len(src))
	for _, t := range src {
		keys = append(keys, t.Key)
	}
	return keys
}

// PrimaryKey returns the generated-key column of an INSERT, if any.
func (s *Statement) PrimaryKey() (string, bool) {
	if s.kind != KindInsert || s.primaryKey == "" {
		return "", false
	}
	return s.primaryKey, true
}

// ProcedureName returns the routine name of a callable statement.
func (s *Statement) ProcedureName() (string, bool) {
	if !s.IsCallable() {
		return "", false
	}
	return s.procedureName, true
}

// PlaceholderCount is the number of ? markers in the prepared text.
func (s *Statement) PlaceholderCount() int { return s.placeholders }

// PollInterval returns the push cadence, if one was configured.
func (s *Statement) PollInterval() (PollInterval, bool) {
	return s.pollInterval, !s.pollInterval.IsZero()
}

// Fingerprint is a stable hash over the statement's token values.
func (s *Statement) Fingerprint() string { return s.fingerprint }

func (s *Statement) String() string { return s.original }

func (s *Statement) literalText() string {
	parts := make([]string, 0, len(s.tokens))
	for _, t := range s.tokens {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, " ")
}

// finish derives the binding order, prepared text and fingerprint.
func (s *Statement) finish() {
	s.sorted = make([]*Token, 0, len(s.params))
	s.sorted = append(s.sorted, s.params...)
	sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i].Position < s.sorted[j].Position })

	if s.IsCallable() {
		for _, t := range s.sorted {
			if t.Mode.IsInput() {
				s.in = append(s.in, t)
			}
		}
	}

	s.prepared = s.render()

	h := sha256.New()
	for _, t := range s.tokens {
		if t.IsParameter() {
			h.Write([]byte(t.Type.String() + ":" + t.Key + ":" + t.Mode.String()))
		} else {
			h.Write([]byte(t.Text))
		}
		h.Write([]byte{0})
	}
	s.fingerprint = hex.EncodeToString(h.Sum(nil))
}

// render builds the prepared text. PKEY markers contribute nothing and take
// an adjacent comma with them so the rendered SQL stays well formed.
func (s *Statement) render() string {
	hasParams := false
	for _, t := range s.tokens {
		if t.IsParameter() {
			hasParams = true
			break
		}
	}
	if !hasParams {
		return ""
	}

	out := make([]string, 0, len(s.tokens))
	for i := 0; i < len(s.tokens); i++ {
		t := s.tokens[i]
		switch {
		case t.IsPrimaryKey():
			next := i + 1
			if next < len(s.tokens) && isComma(s.tokens[next]) {
				i = next
			} else if len(out) > 0 && out[len(out)-1] == "," &&
				(next >= len(s.tokens) || strings.HasPrefix(s.tokens[next].Text, ")")) {
				out = out[:len(out)-1]
			}
		case t.IsParameter():
			out = append(out, "?")
		default:
			out = append(out, t.Text)
		}
	}
	return strings.Join(out, " ")
}

func isComma(t *Token) bool {
	return t.Kind == LiteralToken && t.Text == ","
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
