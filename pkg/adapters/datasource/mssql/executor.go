package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	sqltmpl "github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// Executor runs bound statements on SQL Server.
//
// Placeholders become named @pN parameters. INSERT statements with a primary
// key marker get an OUTPUT INSERTED clause. Functions run as SELECT and stored
// procedures are invoked by name over RPC, so OUT parameters come back through
// sql.Out and RESULTSET parameters map to the result sets the procedure emits.
type Executor struct {
	db     *sql.DB
	target string
	logger *zap.Logger
	ownDB  bool
}

// NewExecutor opens a connection pool for cfg.
func NewExecutor(ctx context.Context, cfg *Config, logger *zap.Logger) (*Executor, error) {
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Executor{db: db, target: cfg.Target(), logger: logger, ownDB: true}, nil
}

// NewExecutorWithDB wraps a *sql.DB owned by the caller.
func NewExecutorWithDB(db *sql.DB, target string, logger *zap.Logger) *Executor {
	return &Executor{db: db, target: target, logger: logger}
}

func (e *Executor) Target() string { return e.target }

func (e *Executor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close releases the pool if the executor opened it.
func (e *Executor) Close() error {
	if e.ownDB && e.db != nil {
		return e.db.Close()
	}
	return nil
}

func (e *Executor) Execute(ctx context.Context, b *sqltmpl.BoundStatement) (*datasource.Result, error) {
	stmt := b.Statement
	text := datasource.RewritePlaceholders(b.SQL(), datasource.AtPlaceholders)

	e.logger.Debug("Executing statement",
		zap.String("kind", stmt.Kind().String()),
		zap.String("sql", logging.SanitizeQuery(text)))

	switch stmt.Kind() {
	case sqltmpl.KindSelect:
		rows, err := e.query(ctx, text, namedArgs(b.Args))
		if err != nil {
			return nil, err
		}
		return &datasource.Result{Kind: sqltmpl.KindSelect, Rows: rows}, nil

	case sqltmpl.KindInsert:
		if pk, ok := stmt.PrimaryKey(); ok {
			if withOutput, ok := withOutputClause(text, pk); ok {
				rows, err := e.query(ctx, withOutput, namedArgs(b.Args))
				if err != nil {
					return nil, err
				}
				res := &datasource.Result{Kind: sqltmpl.KindInsert, RowsAffected: int64(len(rows)), KeyColumn: pk}
				if len(rows) > 0 {
					res.GeneratedKey = rows[0].Values[0]
				}
				return res, nil
			}
		}
		return e.exec(ctx, sqltmpl.KindInsert, text, b.Args)

	case sqltmpl.KindUpdate, sqltmpl.KindDelete:
		return e.exec(ctx, stmt.Kind(), text, b.Args)

	case sqltmpl.KindFunction:
		return e.callFunction(ctx, b)

	case sqltmpl.KindProcedure:
		return e.callProcedure(ctx, b)
	}
	return nil, fmt.Errorf("unsupported statement kind %s", stmt.Kind())
}

func (e *Executor) exec(ctx context.Context, kind sqltmpl.Kind, text string, args []any) (*datasource.Result, error) {
	res, err := e.db.ExecContext(ctx, text, namedArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return &datasource.Result{Kind: kind, RowsAffected: n}, nil
}

func (e *Executor) callFunction(ctx context.Context, b *sqltmpl.BoundStatement) (*datasource.Result, error) {
	ret := b.Statement.SortedKeyTokens()[0]
	call := datasource.RewritePlaceholders(datasource.RoutineCall(b.SQL()), datasource.AtPlaceholders)
	args := namedArgs(b.Args[1:])

	if ret.Type.IsResultSet() {
		rows, err := e.query(ctx, "SELECT * FROM "+call, args)
		if err != nil {
			return nil, err
		}
		return &datasource.Result{
			Kind:    sqltmpl.KindFunction,
			Outputs: map[string]datasource.OutValue{ret.Key: datasource.RowSet(rows)},
		}, nil
	}

	rows, err := e.query(ctx, "SELECT "+call, args)
	if err != nil {
		return nil, err
	}
	var v any
	if len(rows) > 0 && len(rows[0].Values) > 0 {
		v = rows[0].Values[0]
	}
	return &datasource.Result{
		Kind:    sqltmpl.KindFunction,
		Outputs: map[string]datasource.OutValue{ret.Key: datasource.Scalar(v)},
	}, nil
}

// callProcedure invokes the procedure by name. Parameter keys must match the
// procedure's parameter names.
func (e *Executor) callProcedure(ctx context.Context, b *sqltmpl.BoundStatement) (*datasource.Result, error) {
	name, _ := b.Statement.ProcedureName()
	if err := uniqueParamNames(b.Statement); err != nil {
		return nil, err
	}

	var (
		args    []any
		cursors []string
		readers = make(map[string]func() any)
	)
	for _, t := range b.Statement.SortedKeyTokens() {
		switch {
		case t.Type.IsResultSet():
			cursors = append(cursors, t.Key)
		case t.Mode == sqltmpl.ModeIn:
			args = append(args, sql.Named(t.Key, b.Args[t.Position-1]))
		default:
			dest, read := outDest(t.Type, b.Args[t.Position-1])
			readers[t.Key] = read
			args = append(args, sql.Named(t.Key, sql.Out{Dest: dest, In: t.Mode == sqltmpl.ModeInOut}))
		}
	}

	rows, err := e.db.QueryContext(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", name, err)
	}

	outputs := make(map[string]datasource.OutValue, len(b.Outs))
	for i := 0; ; i++ {
		set, err := datasource.ScanRows(rows, datasource.BytesAsText)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if i < len(cursors) {
			outputs[cursors[i]] = datasource.RowSet(set)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	// OUT values are only populated once the result stream is drained.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to close results of %s: %w", name, err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading results of %s: %w", name, err)
	}

	for _, key := range cursors {
		if _, ok := outputs[key]; !ok {
			outputs[key] = datasource.RowSet(nil)
		}
	}
	keys := make([]string, 0, len(readers))
	for k := range readers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		outputs[k] = datasource.Scalar(readers[k]())
	}

	return &datasource.Result{Kind: sqltmpl.KindProcedure, Outputs: outputs}, nil
}

// uniqueParamNames rejects procedures that reuse a name for an IN and an OUT
// parameter. SQL Server binds procedure arguments by name, so each @name can
// appear once.
func uniqueParamNames(stmt *sqltmpl.Statement) error {
	seen := make(map[string]bool)
	for _, t := range stmt.SortedKeyTokens() {
		if seen[t.Key] {
			return fmt.Errorf("SQL Server procedure parameter @%s is declared more than once", t.Key)
		}
		seen[t.Key] = true
	}
	return nil
}

func (e *Executor) query(ctx context.Context, text string, args []any) ([]datasource.Row, error) {
	rows, err := e.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()
	return datasource.ScanRows(rows, datasource.BytesAsText)
}

func namedArgs(args []any) []any {
	named := make([]any, len(args))
	for i, v := range args {
		named[i] = sql.Named(fmt.Sprintf("p%d", i+1), v)
	}
	return named
}

// outDest returns a typed destination for an OUT parameter, seeded with the
// input value for INOUT, and a reader for the value after the call.
func outDest(t sqltmpl.DeclaredType, in any) (any, func() any) {
	switch t {
	case sqltmpl.TypeTinyInt, sqltmpl.TypeSmallInt, sqltmpl.TypeInteger, sqltmpl.TypeBigInt:
		v, _ := in.(int64)
		return &v, func() any { return v }
	case sqltmpl.TypeReal, sqltmpl.TypeFloat, sqltmpl.TypeDouble:
		v, _ := in.(float64)
		return &v, func() any { return v }
	case sqltmpl.TypeBit, sqltmpl.TypeBoolean:
		v, _ := in.(bool)
		return &v, func() any { return v }
	case sqltmpl.TypeDate, sqltmpl.TypeTime, sqltmpl.TypeTimestamp:
		v, _ := in.(time.Time)
		return &v, func() any { return v }
	case sqltmpl.TypeDecimal, sqltmpl.TypeNumeric:
		var v string
		if d, ok := in.(decimal.Decimal); ok {
			v = d.String()
		}
		return &v, func() any {
			if d, err := decimal.NewFromString(v); err == nil {
				return d
			}
			return v
		}
	case sqltmpl.TypeUUID:
		var v string
		if id, ok := in.(uuid.UUID); ok {
			v = id.String()
		}
		return &v, func() any { return v }
	}
	v, _ := in.(string)
	return &v, func() any { return v }
}

// withOutputClause inserts OUTPUT INSERTED.<pk> ahead of the VALUES or
// SELECT keyword of an INSERT. It reports false when neither is found.
func withOutputClause(text, pk string) (string, bool) {
	idx := keywordIndex(text, "values")
	if idx < 0 {
		idx = keywordIndex(text, "select")
	}
	if idx < 0 {
		return text, false
	}
	return text[:idx] + "OUTPUT INSERTED." + quoteName(pk) + " " + text[idx:], true
}

// keywordIndex finds a whole-word keyword outside quoted text.
func keywordIndex(text, keyword string) int {
	lower := strings.ToLower(text)
	var quote byte
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' || c == '[' {
			quote = c
			if c == '[' {
				quote = ']'
			}
			continue
		}
		if strings.HasPrefix(lower[i:], keyword) &&
			(i == 0 || !isWordByte(lower[i-1])) &&
			(i+len(keyword) == len(lower) || !isWordByte(lower[i+len(keyword)])) {
			return i
		}
	}
	return -1
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// quoteName quotes an identifier with brackets, escaping ] as ]].
func quoteName(identifier string) string {
	return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
}

// Ensure Executor implements datasource.StatementExecutor at compile time.
var _ datasource.StatementExecutor = (*Executor)(nil)
