package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/database"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/retry"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// Executor runs bound statements on PostgreSQL.
//
// Placeholders are rewritten to $n. INSERT statements with a primary key
// marker get a RETURNING clause. Functions run as SELECT; procedures run as
// CALL inside a transaction so refcursor outputs can be fetched before commit.
type Executor struct {
	pool      *pgxpool.Pool
	target    string
	logger    *zap.Logger
	ownedPool bool
}

// NewExecutor opens a pool for cfg.
func NewExecutor(ctx context.Context, cfg *Config, logger *zap.Logger) (*Executor, error) {
	rc := retry.StartupConfig()
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("PostgreSQL not ready, retrying",
			zap.String("target", cfg.Target()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", logging.SanitizeError(err)))
	}
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.ConnectionString(),
		MaxConnections: int32(cfg.MaxConnections),
		Retry:          rc,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Executor{
		pool:      db.Pool,
		target:    cfg.Target(),
		logger:    logger,
		ownedPool: true,
	}, nil
}

// NewExecutorWithPool wraps a pool owned by the caller.
func NewExecutorWithPool(pool *pgxpool.Pool, target string, logger *zap.Logger) *Executor {
	return &Executor{pool: pool, target: target, logger: logger}
}

func (e *Executor) Target() string { return e.target }

func (e *Executor) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Close releases the pool if the executor created it.
func (e *Executor) Close() error {
	if e.ownedPool && e.pool != nil {
		e.pool.Close()
	}
	return nil
}

func (e *Executor) Execute(ctx context.Context, b *sql.BoundStatement) (*datasource.Result, error) {
	stmt := b.Statement
	text := datasource.RewritePlaceholders(b.SQL(), datasource.DollarPlaceholders)

	e.logger.Debug("Executing statement",
		zap.String("kind", stmt.Kind().String()),
		zap.String("sql", logging.SanitizeQuery(text)))

	switch stmt.Kind() {
	case sql.KindSelect:
		rows, err := e.query(ctx, e.pool, text, b.Args...)
		if err != nil {
			return nil, err
		}
		return &datasource.Result{Kind: sql.KindSelect, Rows: rows}, nil

	case sql.KindInsert:
		if pk, ok := stmt.PrimaryKey(); ok {
			return e.insertReturning(ctx, text, pk, b.Args)
		}
		return e.exec(ctx, sql.KindInsert, text, b.Args)

	case sql.KindUpdate, sql.KindDelete:
		return e.exec(ctx, stmt.Kind(), text, b.Args)

	case sql.KindFunction:
		return e.callFunction(ctx, b)

	case sql.KindProcedure:
		return e.callProcedure(ctx, b, text)
	}
	return nil, fmt.Errorf("unsupported statement kind %s", stmt.Kind())
}

func (e *Executor) exec(ctx context.Context, kind sql.Kind, text string, args []any) (*datasource.Result, error) {
	tag, err := e.pool.Exec(ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	return &datasource.Result{Kind: kind, RowsAffected: tag.RowsAffected()}, nil
}

func (e *Executor) insertReturning(ctx context.Context, text, pk string, args []any) (*datasource.Result, error) {
	rows, err := e.query(ctx, e.pool, text+" RETURNING "+pgx.Identifier{pk}.Sanitize(), args...)
	if err != nil {
		return nil, err
	}
	res := &datasource.Result{Kind: sql.KindInsert, RowsAffected: int64(len(rows)), KeyColumn: pk}
	if len(rows) > 0 {
		res.GeneratedKey = rows[0].Values[0]
	}
	return res, nil
}

// callFunction runs "? = call f(args)" as SELECT f(args), or as
// SELECT * FROM f(args) when the declared return type is a result set.
func (e *Executor) callFunction(ctx context.Context, b *sql.BoundStatement) (*datasource.Result, error) {
	tokens := b.Statement.SortedKeyTokens()
	ret := tokens[0]
	for _, t := range tokens[1:] {
		if t.Mode == sql.ModeOut {
			return nil, fmt.Errorf("function argument '%s': postgres functions take IN arguments only", t.Key)
		}
	}

	call := datasource.RewritePlaceholders(datasource.RoutineCall(b.SQL()), datasource.DollarPlaceholders)
	args := b.Args[1:]

	if ret.Type.IsResultSet() {
		rows, err := e.query(ctx, e.pool, "SELECT * FROM "+call, args...)
		if err != nil {
			return nil, err
		}
		return &datasource.Result{
			Kind:    sql.KindFunction,
			Outputs: map[string]datasource.OutValue{ret.Key: datasource.RowSet(rows)},
		}, nil
	}

	rows, err := e.query(ctx, e.pool, "SELECT "+call, args...)
	if err != nil {
		return nil, err
	}
	var v any
	if len(rows) > 0 && len(rows[0].Values) > 0 {
		v = rows[0].Values[0]
	}
	return &datasource.Result{
		Kind:    sql.KindFunction,
		Outputs: map[string]datasource.OutValue{ret.Key: datasource.Scalar(v)},
	}, nil
}

// callProcedure runs CALL with NULL in each OUT slot. PostgreSQL returns one
// row holding the OUT and INOUT values in declaration order; refcursor values
// are fetched within the same transaction.
func (e *Executor) callProcedure(ctx context.Context, b *sql.BoundStatement, text string) (*datasource.Result, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := e.query(ctx, tx, text, b.Args...)
	if err != nil {
		return nil, err
	}

	outs := make([]sql.OutParam, len(b.Outs))
	copy(outs, b.Outs)
	sort.Slice(outs, func(i, j int) bool { return outs[i].Position < outs[j].Position })

	outputs := make(map[string]datasource.OutValue, len(outs))
	if len(outs) > 0 {
		if len(rows) != 1 || len(rows[0].Values) != len(outs) {
			return nil, fmt.Errorf("procedure %s returned %d rows for %d output parameters", text, len(rows), len(outs))
		}
		for i, out := range outs {
			v := rows[0].Values[i]
			if !out.Type.IsResultSet() {
				outputs[out.Key] = datasource.Scalar(v)
				continue
			}
			cursor, ok := v.(string)
			if !ok {
				outputs[out.Key] = datasource.RowSet(nil)
				continue
			}
			fetched, err := e.query(ctx, tx, "FETCH ALL FROM "+pgx.Identifier{cursor}.Sanitize())
			if err != nil {
				return nil, fmt.Errorf("fetch cursor %s: %w", out.Key, err)
			}
			outputs[out.Key] = datasource.RowSet(fetched)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &datasource.Result{Kind: sql.KindProcedure, Outputs: outputs}, nil
}

func (e *Executor) query(ctx context.Context, q querier, text string, args ...any) ([]datasource.Row, error) {
	rows, err := q.Query(ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	out := make([]datasource.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		out = append(out, datasource.Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// normalizeValue turns pgx wire types into values that serialize cleanly.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		if t.NaN || t.InfinityModifier != pgtype.Finite {
			f, err := t.Float64Value()
			if err != nil {
				return nil
			}
			return f.Float64
		}
		return decimal.NewFromBigInt(t.Int, t.Exp)
	}
	return v
}

// Ensure Executor implements datasource.StatementExecutor at compile time.
var _ datasource.StatementExecutor = (*Executor)(nil)
