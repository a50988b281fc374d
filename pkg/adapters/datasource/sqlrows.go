package datasource

import (
	"database/sql"
	"fmt"
	"strings"
)

// ValueConverter adjusts a scanned value given its database type name.
type ValueConverter func(dbType string, v any) any

// BytesAsText converts []byte to string unless the column is binary.
func BytesAsText(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(dbType) {
	case "BINARY", "VARBINARY", "IMAGE", "BLOB", "BYTEA":
		return b
	}
	return string(b)
}

// ScanRows reads every row of the current result set from a database/sql
// cursor. It does not advance to further result sets or close rows.
func ScanRows(rows *sql.Rows, convert ValueConverter) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	out := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if convert != nil {
			for i := range values {
				if values[i] != nil {
					values[i] = convert(types[i].DatabaseTypeName(), values[i])
				}
			}
		}
		out = append(out, Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
