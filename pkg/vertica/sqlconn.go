package vertica

import (
	"context"
	"database/sql"
	"io"
	"net/url"

	vertigo "github.com/vertica/vertica-sql-go"

	"github.com/vertica-tools/vload/pkg/config"
	"github.com/vertica-tools/vload/pkg/errors"
)

// copyBlockSize is the chunk size handed to the driver when streaming a
// COPY FROM STDIN payload.
const copyBlockSize = 64 * 1024

// sqlConn adapts a single database/sql session to the Conn interface.
// It pins one *sql.Conn so that NO COMMIT loads, the subsequent COMMIT or
// ROLLBACK and the reject-store queries all run inside the same session.
type sqlConn struct {
	db   *sql.DB
	conn *sql.Conn
}

var _ Conn = (*sqlConn)(nil)

// WrapDB pins one session of an existing database/sql pool and exposes it
// as a Conn. The caller keeps ownership of nothing: Close releases both the
// session and the pool.
func WrapDB(ctx context.Context, db *sql.DB) (Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connect failed")
	}
	return &sqlConn{db: db, conn: conn}, nil
}

// dialSQL opens a database/sql connection to one node via vertica-sql-go.
func dialSQL(ctx context.Context, node string, cfg config.ConnectionConfig) (Conn, error) {
	dsn := buildDSN(node, cfg)

	db, err := sql.Open("vertica", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "open failed").
			WithDetail("node", node)
	}

	// One session per Conn; the pool must not hand the transaction to
	// another physical connection.
	db.SetMaxOpenConns(1)

	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := db.Conn(dialCtx)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connect failed").
			WithDetail("node", node)
	}

	return &sqlConn{db: db, conn: conn}, nil
}

// buildDSN renders the vertica-sql-go connection URL for one node.
// Driver-side load balancing stays off; node selection is the Provider's job.
func buildDSN(node string, cfg config.ConnectionConfig) string {
	query := url.Values{}
	query.Set("connection_load_balance", "0")
	if cfg.TLSMode != "" {
		query.Set("tlsmode", cfg.TLSMode)
	}

	u := url.URL{
		Scheme:   "vertica",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     node,
		Path:     "/" + cfg.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "exec failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return affected, nil
}

func (c *sqlConn) QueryValue(ctx context.Context, query string, args ...interface{}) (interface{}, error) {
	var value interface{}
	err := c.conn.QueryRowContext(ctx, query, args...).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	return value, nil
}

func (c *sqlConn) QueryRows(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "columns unavailable")
	}
	return &sqlRows{rows: rows, columns: columns}, nil
}

// BulkCopy streams data into a COPY FROM STDIN statement using the driver's
// copy-input support and returns the accepted row count.
func (c *sqlConn) BulkCopy(ctx context.Context, query string, data io.Reader) (int64, error) {
	vCtx := vertigo.NewVerticaContext(ctx)
	if err := vCtx.SetCopyInputStream(data); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeInternal, "copy input stream rejected")
	}
	if err := vCtx.SetCopyBlockSizeBytes(copyBlockSize); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeInternal, "copy block size rejected")
	}

	res, err := c.conn.ExecContext(vCtx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *sqlConn) Commit(ctx context.Context) error {
	_, err := c.conn.ExecContext(ctx, "COMMIT")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "commit failed")
	}
	return nil
}

func (c *sqlConn) Rollback(ctx context.Context) error {
	_, err := c.conn.ExecContext(ctx, "ROLLBACK")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "rollback failed")
	}
	return nil
}

func (c *sqlConn) Close() error {
	connErr := c.conn.Close()
	dbErr := c.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

// sqlRows adapts *sql.Rows to the Rows cursor.
type sqlRows struct {
	rows    *sql.Rows
	columns []string
}

func (r *sqlRows) Columns() []string { return r.columns }

func (r *sqlRows) Next() bool { return r.rows.Next() }

func (r *sqlRows) Values() ([]interface{}, error) {
	values := make([]interface{}, len(r.columns))
	ptrs := make([]interface{}, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "scan failed")
	}
	return values, nil
}

func (r *sqlRows) Err() error { return r.rows.Err() }

func (r *sqlRows) Close() error { return r.rows.Close() }
