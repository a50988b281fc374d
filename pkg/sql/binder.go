package sql

import (
	"fmt"
	"sort"
)

// OutParam declares a value returned by a callable statement.
type OutParam struct {
	Key      string
	Position int
	Type     DeclaredType
	Mode     Mode
}

// BoundStatement is a statement paired with typed values for one execution.
type BoundStatement struct {
	Statement *Statement

	// Args holds one entry per placeholder; Args[i] binds position i+1.
	// Slots for OUT-only parameters stay nil.
	Args []any

	// Outs lists the values a callable returns. RESULTSET parameters come
	// first, the rest follow in position order.
	Outs []OutParam

	// Params are the caller's values keyed by lower-cased parameter name.
	Params map[string]string
}

// SQL returns the text to execute.
func (b *BoundStatement) SQL() string {
	return b.Statement.SQL()
}

// Bind converts request values into the ordered, typed arguments for stmt.
//
// Keys are matched case-insensitively. A callable takes exactly one value per
// IN or INOUT parameter; any other statement takes one per distinct key.
func Bind(stmt *Statement, values map[string]string) (*BoundStatement, error) {
	params := make(map[string]string, len(values))
	for k, v := range values {
		params[normalizeKey(k)] = v
	}

	want := len(stmt.keyTokens)
	if stmt.IsCallable() {
		want = len(stmt.in)
	}
	if len(params) != want {
		return nil, &BindError{
			Kind:  ErrBindCountMismatch,
			Value: fmt.Sprintf("expected %d values, got %d", want, len(params)),
		}
	}

	b := &BoundStatement{
		Statement: stmt,
		Args:      make([]any, stmt.placeholders),
		Params:    params,
	}

	for _, t := range stmt.sorted {
		if t.Mode == ModeOut {
			continue
		}
		raw, ok := params[t.Key]
		if !ok {
			return nil, &BindError{Kind: ErrMissingBindValue, Key: t.Key}
		}
		v, err := Coerce(t.Type, raw)
		if err != nil {
			return nil, &BindError{Kind: ErrTypeCoercion, Key: t.Key, Value: raw, Err: err}
		}
		for _, p := range t.Positions() {
			b.Args[p-1] = v
		}
	}

	if stmt.IsCallable() {
		b.Outs = outParams(stmt)
	}
	return b, nil
}

func outParams(stmt *Statement) []OutParam {
	var outs []OutParam
	for _, t := range stmt.sorted {
		if t.Mode.IsOutput() {
			outs = append(outs, OutParam{Key: t.Key, Position: t.Position, Type: t.Type, Mode: t.Mode})
		}
	}
	sort.SliceStable(outs, func(i, j int) bool {
		return outs[i].Type.IsResultSet() && !outs[j].Type.IsResultSet()
	})
	return outs
}
