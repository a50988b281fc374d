package datasource

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// Row is one result row. Columns keep the order the database returned them in.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of a column by name.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// MarshalJSON writes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// OutValue is a value returned through a callable's OUT parameter: either a
// scalar or, for RESULTSET parameters, a list of rows. Which one is decided
// by the parameter's declared type.
type OutValue struct {
	scalar   any
	rows     []Row
	isRowSet bool
}

// Scalar wraps a single returned value.
func Scalar(v any) OutValue { return OutValue{scalar: v} }

// RowSet wraps returned rows.
func RowSet(rows []Row) OutValue {
	if rows == nil {
		rows = []Row{}
	}
	return OutValue{rows: rows, isRowSet: true}
}

func (o OutValue) IsRowSet() bool { return o.isRowSet }

// Value returns the scalar, or nil for a row set.
func (o OutValue) Value() any { return o.scalar }

// Rows returns the rows, or nil for a scalar.
func (o OutValue) Rows() []Row { return o.rows }

func (o OutValue) MarshalJSON() ([]byte, error) {
	if o.isRowSet {
		return json.Marshal(o.rows)
	}
	return json.Marshal(o.scalar)
}

// Result is the outcome of executing one statement.
type Result struct {
	Kind sql.Kind

	// Rows is set for SELECT.
	Rows []Row

	// RowsAffected is set for INSERT, UPDATE and DELETE.
	RowsAffected int64
	// KeyColumn and GeneratedKey are set for an INSERT with a primary key marker.
	KeyColumn    string
	GeneratedKey any

	// Outputs holds one entry per OUT or INOUT parameter of a callable.
	Outputs map[string]OutValue
}

// Payload serializes the result for HTTP responses and push notifications.
//
// SELECT produces a JSON array of row objects. Updates produce
// {"rows_affected": n} plus the generated key under its column name.
// Callables produce an object keyed by output parameter name.
func (r *Result) Payload() ([]byte, error) {
	switch {
	case r.Kind == sql.KindSelect:
		rows := r.Rows
		if rows == nil {
			rows = []Row{}
		}
		return json.Marshal(rows)

	case r.Kind.IsCallable():
		outputs := r.Outputs
		if outputs == nil {
			outputs = map[string]OutValue{}
		}
		return json.Marshal(outputs)

	default:
		body := Row{Columns: []string{"rows_affected"}, Values: []any{r.RowsAffected}}
		if r.KeyColumn != "" && r.GeneratedKey != nil {
			body.Columns = append(body.Columns, r.KeyColumn)
			body.Values = append(body.Values, r.GeneratedKey)
		}
		return json.Marshal(body)
	}
}
