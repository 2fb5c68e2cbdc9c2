// Package vertica provides the connection layer for vload. It defines a
// small driver surface (Conn, Rows) that the batch writer and the migration
// orchestrator program against, a Provider that dials one node of a cluster,
// and a production adapter backed by database/sql with the vertica-sql-go
// driver.
//
// The batch writer only needs a connection that can execute SQL and stream
// bytes into a COPY statement; tests substitute an in-memory implementation.
package vertica

import (
	"context"
	"io"
)

// Conn is one live database session. A Conn is not safe for concurrent use;
// the batch writer serializes all access for its lifetime.
type Conn interface {
	// Exec executes a statement and returns the number of affected rows
	// when the driver reports one, -1 otherwise.
	Exec(ctx context.Context, sql string, args ...interface{}) (int64, error)

	// QueryValue executes a query expected to return a single value.
	// A query with no rows returns (nil, nil).
	QueryValue(ctx context.Context, sql string, args ...interface{}) (interface{}, error)

	// QueryRows executes a query and returns a row cursor.
	QueryRows(ctx context.Context, sql string, args ...interface{}) (Rows, error)

	// BulkCopy executes a COPY ... FROM STDIN statement, feeding it from
	// data until EOF, and returns the number of rows the database accepted.
	// The call blocks for the duration of the statement.
	BulkCopy(ctx context.Context, sql string, data io.Reader) (int64, error)

	// Commit commits the session transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the session transaction.
	Rollback(ctx context.Context) error

	// Close releases the session.
	Close() error
}

// Rows is a forward-only row cursor.
type Rows interface {
	// Columns returns the result column names.
	Columns() []string
	// Next advances to the next row, returning false at the end.
	Next() bool
	// Values returns the current row as a value slice.
	Values() ([]interface{}, error)
	// Err returns the error, if any, that ended iteration.
	Err() error
	// Close releases the cursor.
	Close() error
}
