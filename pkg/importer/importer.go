// Package importer builds repeatable file-and-feed imports on top of the
// batch writer. An Importer maps source records onto table columns, prepends
// provenance fields to every row, and keeps a history table so the same
// source is never loaded twice. History bookkeeping and the data load share
// one session transaction, so an import is either fully recorded or fully
// absent.
package importer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertica-tools/vload/pkg/batch"
	"github.com/vertica-tools/vload/pkg/config"
	"github.com/vertica-tools/vload/pkg/errors"
	"github.com/vertica-tools/vload/pkg/logger"
	"github.com/vertica-tools/vload/pkg/vertica"
)

// DefaultHistoryTable is where completed imports are recorded.
const DefaultHistoryTable = "meta.batch_history"

// Record is one source row keyed by source field name.
type Record map[string]interface{}

// Reader yields records one at a time. Next returns io.EOF after the last
// record.
type Reader interface {
	Next() (Record, error)
}

// RecordSlice adapts an in-memory record list to the Reader interface.
type RecordSlice struct {
	records []Record
	pos     int
}

// NewRecordSlice returns a Reader over records.
func NewRecordSlice(records []Record) *RecordSlice {
	return &RecordSlice{records: records}
}

func (r *RecordSlice) Next() (Record, error) {
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

// FieldMapping binds one source field to one table column. Column defaults
// to Field when empty.
type FieldMapping struct {
	// Field is the key in the source record
	Field string
	// Column is the table column name
	Column string
	// DataType is the column type used by CreateTableSQL
	DataType string
}

func (m FieldMapping) column() string {
	if m.Column != "" {
		return m.Column
	}
	return m.Field
}

// Source identifies where an import came from. Path must be unique per
// import; it is the key the duplicate check runs on.
type Source struct {
	// Name is the origin system ("adwords_api")
	Name string
	// Type is the kind of data pulled from it ("ad_group_performance_report")
	Type string
	// Path identifies this particular extract (file path, report id)
	Path string
}

// Importer loads one source into one table with provenance and duplicate
// protection.
type Importer struct {
	conn         vertica.Conn
	table        string
	source       Source
	mapping      []FieldMapping
	historyTable string
	copy         config.CopyOptions
	log          *zap.Logger
	now          func() time.Time
}

// Option customizes an Importer.
type Option func(*Importer)

// WithHistoryTable overrides the history table name.
func WithHistoryTable(name string) Option {
	return func(im *Importer) { im.historyTable = name }
}

// WithCopyOptions overrides the COPY options of the underlying batch writer.
func WithCopyOptions(opts config.CopyOptions) Option {
	return func(im *Importer) { im.copy = opts }
}

// WithLogger overrides the package logger.
func WithLogger(log *zap.Logger) Option {
	return func(im *Importer) { im.log = log }
}

// WithClock overrides the import timestamp source.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// New builds an Importer writing to the qualified table through conn.
func New(conn vertica.Conn, table string, source Source, mapping []FieldMapping, options ...Option) (*Importer, error) {
	if table == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "table name is required")
	}
	if source.Name == "" || source.Path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "source name and path are required")
	}
	if len(mapping) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "field mapping is empty")
	}
	im := &Importer{
		conn:         conn,
		table:        table,
		source:       source,
		mapping:      mapping,
		historyTable: DefaultHistoryTable,
		copy:         config.DefaultCopyOptions(),
		log:          logger.Get().Named("importer"),
		now:          time.Now,
	}
	for _, opt := range options {
		opt(im)
	}
	return im, nil
}

// extraColumns are the provenance fields prepended to every row.
var extraColumns = []struct {
	name     string
	dataType string
}{
	{"batch_source_name", "VARCHAR(255)"},
	{"batch_source_path", "VARCHAR(255)"},
	{"batch_import_timestamp", "TIMESTAMP"},
}

// Columns returns the target column list: provenance fields first, mapped
// fields after, in mapping order.
func (im *Importer) Columns() []string {
	out := make([]string, 0, len(extraColumns)+len(im.mapping))
	for _, c := range extraColumns {
		out = append(out, c.name)
	}
	for _, m := range im.mapping {
		out = append(out, m.column())
	}
	return out
}

// CreateTableSQL returns the statement creating the target table from the
// mapping.
func (im *Importer) CreateTableSQL() string {
	fields := make([]string, 0, len(extraColumns)+len(im.mapping))
	for _, c := range extraColumns {
		fields = append(fields, c.name+" "+c.dataType)
	}
	for _, m := range im.mapping {
		fields = append(fields, m.column()+" "+m.DataType)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", im.table, strings.Join(fields, ", "))
}

// CreateHistoryTableSQL returns the statement creating the history table.
func (im *Importer) CreateHistoryTableSQL() string {
	return fmt.Sprintf("CREATE TABLE %s (batch_source_name VARCHAR(255), "+
		"batch_source_type_name VARCHAR(255), batch_source_path VARCHAR(255), "+
		"batch_import_timestamp TIMESTAMP)", im.historyTable)
}

// AlreadyImported reports whether the history table records a prior import
// of the same source path.
func (im *Importer) AlreadyImported(ctx context.Context) (bool, error) {
	v, err := im.conn.QueryValue(ctx, fmt.Sprintf(
		"SELECT batch_source_path FROM %s WHERE batch_source_name = ? "+
			"AND batch_source_type_name = ? AND batch_source_path = ? LIMIT 1",
		im.historyTable),
		im.source.Name, im.source.Type, im.source.Path)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeQuery, "checking batch history")
	}
	return v != nil, nil
}

// LastImportedPath returns the most recently imported source path for this
// source name and type, or the empty string when none exists.
func (im *Importer) LastImportedPath(ctx context.Context) (string, error) {
	v, err := im.conn.QueryValue(ctx, fmt.Sprintf(
		"SELECT batch_source_path FROM %s WHERE batch_source_name = ? "+
			"AND batch_source_type_name = ? ORDER BY batch_import_timestamp DESC LIMIT 1",
		im.historyTable),
		im.source.Name, im.source.Type)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "reading batch history")
	}
	path, _ := v.(string)
	return path, nil
}

// Run streams every record from r into the target table and, when the load
// is clean, records the import in the history table and commits both in one
// transaction. A prior import of the same source path fails the run before
// any data moves; rejected rows roll the whole transaction back.
func (im *Importer) Run(ctx context.Context, r Reader) (int64, error) {
	exists, err := im.AlreadyImported(ctx)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, errors.Newf(errors.ErrorTypeAlreadyImported,
			"an import with batch_source_path=%s already exists", im.source.Path)
	}

	log := im.log.With(
		zap.String("table", im.table),
		zap.String("source_path", im.source.Path))
	stamp := im.now().UTC()

	writer, err := batch.Open(ctx, im.conn, im.table, im.copy,
		batch.WithColumns(im.Columns()),
		batch.WithLogger(log))
	if err != nil {
		return 0, err
	}
	defer writer.Close(ctx)

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeData, "reading source record")
		}
		row, err := im.rowValues(rec, stamp)
		if err != nil {
			return 0, err
		}
		if err := writer.InsertRow(ctx, row); err != nil {
			return 0, err
		}
	}

	report, err := writer.Errors(ctx, im.copy.RejectMax)
	if err != nil {
		return 0, err
	}
	if !report.Empty() {
		for _, line := range strings.Split(strings.TrimRight(report.String(), "\n"), "\n") {
			log.Error("batch error", zap.String("detail", line))
		}
		if err := writer.Rollback(ctx); err != nil {
			return 0, err
		}
		return 0, errors.Newf(errors.ErrorTypeData,
			"%d errors detected importing batch_source_path=%s",
			report.Count, im.source.Path)
	}

	if _, err := im.conn.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (batch_source_name, batch_source_type_name, "+
			"batch_source_path, batch_import_timestamp) VALUES (?, ?, ?, ?)",
		im.historyTable),
		im.source.Name, im.source.Type, im.source.Path, stamp); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "recording batch history")
	}

	accepted, err := writer.Commit(ctx)
	if err != nil {
		return 0, err
	}
	log.Info("import committed", zap.Int64("rows", accepted))
	return accepted, nil
}

func (im *Importer) rowValues(rec Record, stamp time.Time) ([]interface{}, error) {
	row := make([]interface{}, 0, len(extraColumns)+len(im.mapping))
	row = append(row, im.source.Name, im.source.Path, stamp)
	for _, m := range im.mapping {
		v, ok := rec[m.Field]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData,
				"record is missing field %q", m.Field)
		}
		row = append(row, v)
	}
	return row, nil
}
