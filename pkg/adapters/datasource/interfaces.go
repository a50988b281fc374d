package datasource

import (
	"context"
	"errors"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// ErrCallableUnsupported is returned by executors whose database has no
// stored routines.
var ErrCallableUnsupported = errors.New("stored routines are not supported by this datasource")

// StatementExecutor runs bound statements against one database.
// Implementations own their connection pool and must be closed when done.
// They are safe for concurrent use by request handlers and poll jobs.
type StatementExecutor interface {
	// Execute runs the statement and returns its result. The shape of the
	// result follows the statement kind: rows for SELECT, an update count
	// (and generated key) for INSERT/UPDATE/DELETE, outputs for callables.
	Execute(ctx context.Context, stmt *sql.BoundStatement) (*Result, error)

	// Target identifies the database the executor points at, without
	// credentials. Poll jobs fold it into their identity.
	Target() string

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}
