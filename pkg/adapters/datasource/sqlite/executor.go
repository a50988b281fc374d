package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	sqltmpl "github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// Executor runs bound statements on an SQLite database. SQLite has no stored
// routines, so callable statements fail with datasource.ErrCallableUnsupported.
type Executor struct {
	db     *sql.DB
	target string
	logger *zap.Logger
	ownDB  bool
}

// NewExecutor opens the database described by cfg.
func NewExecutor(ctx context.Context, cfg *Config, logger *zap.Logger) (*Executor, error) {
	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	switch {
	case cfg.IsMemory():
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	case cfg.MaxConnections > 0:
		db.SetMaxOpenConns(cfg.MaxConnections)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
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

func (e *Executor) Close() error {
	if e.ownDB && e.db != nil {
		return e.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for schema setup.
func (e *Executor) DB() *sql.DB { return e.db }

func (e *Executor) Execute(ctx context.Context, b *sqltmpl.BoundStatement) (*datasource.Result, error) {
	stmt := b.Statement
	text := b.SQL()

	e.logger.Debug("Executing statement",
		zap.String("kind", stmt.Kind().String()),
		zap.String("sql", logging.SanitizeQuery(text)))

	switch stmt.Kind() {
	case sqltmpl.KindSelect:
		rows, err := e.db.QueryContext(ctx, text, b.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to execute query: %w", err)
		}
		defer rows.Close()
		out, err := datasource.ScanRows(rows, datasource.BytesAsText)
		if err != nil {
			return nil, err
		}
		return &datasource.Result{Kind: sqltmpl.KindSelect, Rows: out}, nil

	case sqltmpl.KindInsert, sqltmpl.KindUpdate, sqltmpl.KindDelete:
		res, err := e.db.ExecContext(ctx, text, b.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to execute statement: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		result := &datasource.Result{Kind: stmt.Kind(), RowsAffected: n}
		if pk, ok := stmt.PrimaryKey(); ok && stmt.Kind() == sqltmpl.KindInsert {
			id, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("failed to get generated key: %w", err)
			}
			result.KeyColumn = pk
			result.GeneratedKey = id
		}
		return result, nil

	case sqltmpl.KindFunction, sqltmpl.KindProcedure:
		return nil, datasource.ErrCallableUnsupported
	}
	return nil, fmt.Errorf("unsupported statement kind %s", stmt.Kind())
}

// Ensure Executor implements datasource.StatementExecutor at compile time.
var _ datasource.StatementExecutor = (*Executor)(nil)
