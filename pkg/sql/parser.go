package sql

import (
	"strings"
)

// Option adjusts how a statement is parsed.
type Option func(*parseOptions)

type parseOptions struct {
	pollInterval PollInterval
	primaryKey   string
}

// WithPollInterval attaches a push cadence to the statement.
func WithPollInterval(p PollInterval) Option {
	return func(o *parseOptions) { o.pollInterval = p }
}

// WithPrimaryKey names the generated-key column for an INSERT that carries
// no PKEY marker of its own. It is ignored for other kinds.
func WithPrimaryKey(column string) Option {
	return func(o *parseOptions) { o.primaryKey = column }
}

// Parse turns an annotated SQL template into a Statement.
//
// Parameters are written as `type:key` or `type:key:mode` inside backticks:
//
//	select * from car where id = `integer:id`
//	`integer:total` = call car_count(`varchar:make`)
//	insert into car (id, mpg) values (`pkey:id`, s_car.nextval, `integer:mpg`)
//
// Everything outside backticks is opaque SQL.
func Parse(text string, opts ...Option) (*Statement, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	normalized, err := normalizeTemplate(text)
	if err != nil {
		return nil, err
	}
	words, err := lex(normalized)
	if err != nil {
		return nil, err
	}
	if len(words) < 2 {
		return nil, parseErr(CodeMalformedStatement, text, "expected at least two tokens, got %d", len(words))
	}

	raw := make([]*Token, len(words))
	for i, w := range words {
		if !isParameterWord(w) {
			raw[i] = &Token{Kind: LiteralToken, Text: w}
			continue
		}
		t, err := parseParameterWord(text, w)
		if err != nil {
			return nil, err
		}
		raw[i] = t
	}

	s := &Statement{
		original:     text,
		keyTokens:    make(map[string]*Token),
		pollInterval: o.pollInterval,
	}
	if err := s.detectKind(raw); err != nil {
		return nil, err
	}

	position := 0
	for i, t := range raw {
		if t.Kind == LiteralToken {
			s.tokens = append(s.tokens, t)
			continue
		}

		if t.Type == TypePrimaryKey {
			if err := s.acceptPrimaryKey(i, t); err != nil {
				return nil, err
			}
			s.tokens = append(s.tokens, t)
			continue
		}

		if err := s.assignMode(i, t); err != nil {
			return nil, err
		}
		position++
		t.Position = position

		prev, dup := s.keyTokens[t.Key]
		switch {
		case !dup:
			s.keyTokens[t.Key] = t
			s.params = append(s.params, t)
		case s.IsCallable():
			// A name may serve one IN and one OUT parameter. Two inputs
			// would be ambiguous to bind and two outputs to report.
			for _, p := range s.params {
				if p.Key == t.Key && ((p.Mode.IsInput() && t.Mode.IsInput()) || (p.Mode.IsOutput() && t.Mode.IsOutput())) {
					return nil, parseErr(CodeDuplicateCallableKey, text, "parameter '%s' appears more than once", t.Key)
				}
			}
			if t.Mode.IsInput() {
				s.keyTokens[t.Key] = t
			}
			s.params = append(s.params, t)
		case prev.Type != t.Type:
			return nil, parseErr(CodeDuplicateKeyTypeMismatch, text,
				"parameter '%s' declared as %s and %s", t.Key, prev.Type, t.Type)
		default:
			prev.ExtraPositions = append(prev.ExtraPositions, position)
		}
		s.tokens = append(s.tokens, t)
	}

	if s.kind == KindProcedure && position == 0 {
		return nil, parseErr(CodeProcedureRequiresParams, text, "procedure call declares no parameters")
	}
	if s.kind == KindInsert && s.primaryKey == "" && o.primaryKey != "" {
		s.primaryKey = normalizeKey(o.primaryKey)
	}

	s.placeholders = position
	s.finish()
	return s, nil
}

// MustParse is Parse for templates known to be valid; it panics on error.
func MustParse(text string, opts ...Option) *Statement {
	s, err := Parse(text, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func parseParameterWord(text, word string) (*Token, error) {
	inner := word[1 : len(word)-1]
	parts := strings.Split(inner, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return nil, parseErr(CodeMalformedParameterToken, text, "token %s must be type:key or type:key:mode", word)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[1] == "" {
		return nil, parseErr(CodeMalformedParameterToken, text, "token %s has an empty key", word)
	}

	typ, ok := LookupType(parts[0])
	if !ok {
		return nil, parseErr(CodeUnknownParameterType, text, "unknown type '%s' in %s", parts[0], word)
	}

	t := &Token{
		Kind:     ParameterToken,
		Text:     word,
		Type:     typ,
		Key:      normalizeKey(parts[1]),
		Position: -1,
	}
	if len(parts) == 3 {
		mode, ok := parseMode(parts[2])
		if !ok {
			return nil, parseErr(CodeMalformedParameterToken, text, "unknown mode '%s' in %s", parts[2], word)
		}
		t.Mode = mode
		t.explicitMode = true
	}
	return t, nil
}

// detectKind derives the statement kind from its leading tokens.
func (s *Statement) detectKind(raw []*Token) error {
	first := raw[0]

	if first.Kind == ParameterToken {
		if first.Type == TypePrimaryKey {
			return parseErr(CodeInvalidPrimaryKeyPlacement, s.original, "a primary key marker cannot be the first token")
		}
		nameAt := -1
		switch {
		case isLiteral(raw[1], "=") && len(raw) > 2 && isLiteral(raw[2], "call"):
			nameAt = 3
		case isLiteral(raw[1], "=call"):
			nameAt = 2
		}
		if nameAt < 0 || nameAt >= len(raw) || raw[nameAt].Kind != LiteralToken {
			return parseErr(CodeMalformedFunctionHeader, s.original, "expected `<out> = call name(...)`")
		}
		s.kind = KindFunction
		s.procedureName = routineName(raw[nameAt].Text)
		if s.procedureName == "" {
			return parseErr(CodeMalformedFunctionHeader, s.original, "missing function name")
		}
		return nil
	}

	switch strings.ToLower(first.Text) {
	case "call":
		if raw[1].Kind != LiteralToken || routineName(raw[1].Text) == "" {
			return parseErr(CodeMalformedStatement, s.original, "missing procedure name")
		}
		s.kind = KindProcedure
		s.procedureName = routineName(raw[1].Text)
	case "select":
		s.kind = KindSelect
	case "insert":
		s.kind = KindInsert
	case "update":
		s.kind = KindUpdate
	case "delete":
		s.kind = KindDelete
	default:
		return parseErr(CodeUnrecognizedStatement, s.original, "unsupported leading token '%s'", first.Text)
	}
	return nil
}

func (s *Statement) acceptPrimaryKey(index int, t *Token) error {
	if index == 0 {
		return parseErr(CodeInvalidPrimaryKeyPlacement, s.original, "a primary key marker cannot be the first token")
	}
	if s.primaryKey != "" {
		return parseErr(CodeDuplicatePrimaryKey, s.original, "second primary key marker '%s'", t.Key)
	}
	if s.kind != KindInsert {
		return parseErr(CodePrimaryKeyNotAllowed, s.original, "primary key markers are only valid in INSERT, not %s", s.kind)
	}
	if t.explicitMode {
		return parseErr(CodeModeOnNonCallable, s.original, "mode on primary key marker '%s'", t.Key)
	}
	s.primaryKey = t.Key
	t.Mode = ModeNone
	return nil
}

// assignMode applies the mode rules for a bound parameter at the given index.
func (s *Statement) assignMode(index int, t *Token) error {
	switch {
	case index == 0:
		// Function return value.
		if t.explicitMode && t.Mode != ModeOut {
			return parseErr(CodeMalformedFunctionHeader, s.original, "function result '%s' must be OUT, not %s", t.Key, t.Mode)
		}
		t.Mode = ModeOut

	case s.kind == KindFunction:
		if t.Type.IsResultSet() {
			return parseErr(CodeResultSetParamInFunction, s.original, "result set argument '%s' in function call", t.Key)
		}
		if !t.explicitMode {
			t.Mode = ModeIn
		}

	case s.kind == KindProcedure:
		if t.explicitMode {
			if t.Type.IsResultSet() && t.Mode.IsInput() {
				return parseErr(CodeCursorCannotBeInput, s.original, "result set parameter '%s' declared %s", t.Key, t.Mode)
			}
		} else if t.Type.IsResultSet() {
			t.Mode = ModeOut
		} else {
			t.Mode = ModeIn
		}

	default:
		if t.explicitMode {
			return parseErr(CodeModeOnNonCallable, s.original, "mode %s on parameter '%s' of a %s statement", t.Mode, t.Key, s.kind)
		}
		if t.Type.IsResultSet() {
			return parseErr(CodeCursorOnNonCallable, s.original, "result set parameter '%s' in a %s statement", t.Key, s.kind)
		}
		t.Mode = ModeNone
	}
	return nil
}

func isLiteral(t *Token, text string) bool {
	return t.Kind == LiteralToken && strings.EqualFold(t.Text, text)
}

// routineName strips an argument list from "name(...".
func routineName(word string) string {
	if i := strings.IndexByte(word, '('); i >= 0 {
		word = word[:i]
	}
	return strings.TrimSpace(word)
}
