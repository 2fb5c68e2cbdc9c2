package vertica

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockConn(t *testing.T) (Conn, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	conn, err := WrapDB(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, mock
}

func TestSQLConnExec(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectExec("TRUNCATE TABLE staging.orders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := conn.Exec(context.Background(), "TRUNCATE TABLE staging.orders")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConnQueryValue(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery("SELECT GET_NUM_REJECTED_ROWS").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	v, err := conn.QueryValue(context.Background(), "SELECT GET_NUM_REJECTED_ROWS()")
	require.NoError(t, err)
	assert.EqualValues(t, 7, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConnQueryValueNoRows(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery("SELECT EXPORT_OBJECTS").
		WillReturnRows(sqlmock.NewRows([]string{"ddl"}))

	v, err := conn.QueryValue(context.Background(), "SELECT EXPORT_OBJECTS('', 'staging.orders', false)")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSQLConnQueryRows(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery("SELECT table_schema, table_name FROM tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).
			AddRow("staging", "orders").
			AddRow("staging", "customers"))

	rows, err := conn.QueryRows(context.Background(),
		"SELECT table_schema, table_name FROM tables")
	require.NoError(t, err)
	defer rows.Close()

	assert.Equal(t, []string{"table_schema", "table_name"}, rows.Columns())

	var got [][]interface{}
	for rows.Next() {
		values, err := rows.Values()
		require.NoError(t, err)
		got = append(got, values)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "orders", got[0][1])
	assert.Equal(t, "customers", got[1][1])
}

func TestSQLConnCommitRollback(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, conn.Commit(context.Background()))
	assert.NoError(t, conn.Rollback(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
