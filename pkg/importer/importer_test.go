package importer

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertica-tools/vload/pkg/errors"
	"github.com/vertica-tools/vload/pkg/testutil"
	"github.com/vertica-tools/vload/pkg/vertica"
)

type execCall struct {
	sql  string
	args []interface{}
}

// fakeConn is an in-memory Conn scripted for importer tests.
type fakeConn struct {
	mu sync.Mutex

	historyPath   interface{} // value returned by the duplicate check
	rejectedCount int64
	rejectRows    [][]interface{}

	execs     []execCall
	copies    []string
	commits   int
	rollbacks int
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...interface{}) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, execCall{sql: sql, args: args})
	return 0, nil
}

func (c *fakeConn) QueryValue(_ context.Context, sql string, _ ...interface{}) (interface{}, error) {
	switch {
	case strings.Contains(sql, "GET_NUM_REJECTED_ROWS"):
		return c.rejectedCount, nil
	case strings.Contains(sql, "batch_history"):
		return c.historyPath, nil
	}
	return nil, nil
}

func (c *fakeConn) QueryRows(_ context.Context, sql string, _ ...interface{}) (vertica.Rows, error) {
	switch {
	case strings.Contains(sql, "ANALYZE_CONSTRAINTS"):
		return nil, errors.New(errors.ErrorTypeQuery, "no constraints defined on the table")
	case strings.Contains(sql, "_rejects_"):
		return &fakeRows{
			columns: []string{"row_number", "rejected_reason", "rejected_data"},
			rows:    c.rejectRows,
		}, nil
	}
	return &fakeRows{}, nil
}

func (c *fakeConn) BulkCopy(_ context.Context, sql string, data io.Reader) (int64, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copies = append(c.copies, sql+"\n"+string(payload))
	return int64(strings.Count(string(payload), "\x01")) - c.rejectedCount, nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	return nil
}

func (c *fakeConn) Close() error { return nil }

type fakeRows struct {
	columns []string
	rows    [][]interface{}
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Values() ([]interface{}, error) { return r.rows[r.pos-1], nil }
func (r *fakeRows) Err() error                     { return nil }
func (r *fakeRows) Close() error                   { return nil }

var testMapping = []FieldMapping{
	{Field: "AccountCurrencyCode", Column: "account_currency_code", DataType: "VARCHAR(10)"},
	{Field: "Clicks", Column: "clicks", DataType: "INT"},
}

var testSource = Source{
	Name: "adwords_api",
	Type: "ad_group_performance_report",
	Path: "ADGROUP_PERFORMANCE_REPORT.1234.20260521",
}

func newTestImporter(t *testing.T, conn vertica.Conn, options ...Option) *Importer {
	t.Helper()

	options = append(options,
		WithLogger(testutil.TestLogger(t)),
		WithClock(func() time.Time {
			return time.Date(2026, 5, 21, 12, 0, 0, 0, time.UTC)
		}))
	im, err := New(conn, "reporting.ad_group_performance", testSource, testMapping, options...)
	require.NoError(t, err)
	return im
}

func TestNewValidatesArguments(t *testing.T) {
	conn := &fakeConn{}

	_, err := New(conn, "", testSource, testMapping)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(conn, "reporting.t", Source{Name: "x"}, testMapping)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(conn, "reporting.t", testSource, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestColumnsPrependProvenanceFields(t *testing.T) {
	im := newTestImporter(t, &fakeConn{})
	assert.Equal(t, []string{
		"batch_source_name",
		"batch_source_path",
		"batch_import_timestamp",
		"account_currency_code",
		"clicks",
	}, im.Columns())
}

func TestCreateTableSQL(t *testing.T) {
	im := newTestImporter(t, &fakeConn{})
	assert.Equal(t,
		"CREATE TABLE reporting.ad_group_performance ("+
			"batch_source_name VARCHAR(255), "+
			"batch_source_path VARCHAR(255), "+
			"batch_import_timestamp TIMESTAMP, "+
			"account_currency_code VARCHAR(10), "+
			"clicks INT)",
		im.CreateTableSQL())
}

func TestRunImportsRecordsWithProvenance(t *testing.T) {
	conn := &fakeConn{}
	im := newTestImporter(t, conn)

	accepted, err := im.Run(context.Background(), NewRecordSlice([]Record{
		{"AccountCurrencyCode": "EUR", "Clicks": int64(12)},
		{"AccountCurrencyCode": "USD", "Clicks": int64(7)},
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), accepted)
	assert.Equal(t, 1, conn.commits)

	require.Len(t, conn.copies, 1)
	copySQL := conn.copies[0]
	assert.Contains(t, copySQL, "COPY reporting.ad_group_performance "+
		"(batch_source_name, batch_source_path, batch_import_timestamp, "+
		"account_currency_code, clicks)")
	assert.Contains(t, copySQL, "adwords_api")
	assert.Contains(t, copySQL, "EUR")
	assert.Contains(t, copySQL, "USD")

	var history *execCall
	for i := range conn.execs {
		if strings.Contains(conn.execs[i].sql, "INSERT INTO meta.batch_history") {
			history = &conn.execs[i]
		}
	}
	require.NotNil(t, history)
	require.Len(t, history.args, 4)
	assert.Equal(t, "adwords_api", history.args[0])
	assert.Equal(t, "ad_group_performance_report", history.args[1])
	assert.Equal(t, testSource.Path, history.args[2])
	assert.Equal(t, time.Date(2026, 5, 21, 12, 0, 0, 0, time.UTC), history.args[3])
}

func TestRunRefusesDuplicateImport(t *testing.T) {
	conn := &fakeConn{historyPath: testSource.Path}
	im := newTestImporter(t, conn)

	_, err := im.Run(context.Background(), NewRecordSlice(nil))
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyImported(err))
	assert.Empty(t, conn.copies)
	assert.Zero(t, conn.commits)
}

func TestRunRollsBackOnRejectedRows(t *testing.T) {
	conn := &fakeConn{
		rejectedCount: 1,
		rejectRows: [][]interface{}{
			{int64(2), "Invalid integer format", "USD;seven"},
		},
	}
	im := newTestImporter(t, conn)

	_, err := im.Run(context.Background(), NewRecordSlice([]Record{
		{"AccountCurrencyCode": "EUR", "Clicks": int64(12)},
		{"AccountCurrencyCode": "USD", "Clicks": "seven"},
	}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Zero(t, conn.commits)
	assert.Equal(t, 1, conn.rollbacks)

	for _, call := range conn.execs {
		assert.NotContains(t, call.sql, "INSERT INTO meta.batch_history")
	}
}

func TestRunFailsOnRecordMissingMappedField(t *testing.T) {
	conn := &fakeConn{}
	im := newTestImporter(t, conn)

	_, err := im.Run(context.Background(), NewRecordSlice([]Record{
		{"AccountCurrencyCode": "EUR"},
	}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Zero(t, conn.commits)
}

func TestLastImportedPath(t *testing.T) {
	conn := &fakeConn{historyPath: "ADGROUP_PERFORMANCE_REPORT.1233.20260520"}
	im := newTestImporter(t, conn)

	path, err := im.LastImportedPath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ADGROUP_PERFORMANCE_REPORT.1233.20260520", path)
}
