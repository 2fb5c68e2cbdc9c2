// Package migrate orchestrates schema and data migration between two
// Vertica clusters. A Migrator resolves the requested objects against the
// source catalog into an ordered Plan, then runs it: DDL extraction with
// rewrites, followed by a streamed data copy through the batch engine.
// Without the commit flag every run is a dry-run that logs the work it
// would do, touches nothing on the target, and still produces the same
// per-object status report as a committed run.
package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/vertica-tools/vload/pkg/batch"
	"github.com/vertica-tools/vload/pkg/config"
	"github.com/vertica-tools/vload/pkg/errors"
	"github.com/vertica-tools/vload/pkg/logger"
	"github.com/vertica-tools/vload/pkg/metrics"
	"github.com/vertica-tools/vload/pkg/vertica"
)

const catalogTables = "SELECT table_schema, table_name FROM tables WHERE is_system_table = false AND is_temp_table = false"

// Migrator drives one source-to-target migration.
type Migrator struct {
	source vertica.Conn
	target vertica.Conn
	policy Policy
	copy   config.CopyOptions
	log    *zap.Logger
}

// Option customizes a Migrator.
type Option func(*Migrator)

// WithLogger overrides the package logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Migrator) { m.log = log }
}

// WithCopyOptions overrides the COPY options used for the data phase.
func WithCopyOptions(opts config.CopyOptions) Option {
	return func(m *Migrator) { m.copy = opts }
}

// New builds a Migrator over two live connections and refuses combinations
// that would corrupt data: migrating a database onto itself, or copying into
// a populated target without explicit permission.
func New(ctx context.Context, source, target vertica.Conn, policy Policy, options ...Option) (*Migrator, error) {
	m := &Migrator{
		source: source,
		target: target,
		policy: policy,
		copy:   config.DefaultCopyOptions(),
		log:    logger.Get().Named("migrate"),
	}
	for _, opt := range options {
		opt(m)
	}
	if err := m.sanityCheck(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// sanityCheck rejects self-migration and, unless the policy allows it,
// a target catalog that already holds user tables.
func (m *Migrator) sanityCheck(ctx context.Context) error {
	srcNode, err := currentNodeAddress(ctx, m.source)
	if err != nil {
		return err
	}
	tgtNode, err := currentNodeAddress(ctx, m.target)
	if err != nil {
		return err
	}
	if srcNode == tgtNode {
		srcDB, err := currentDatabase(ctx, m.source)
		if err != nil {
			return err
		}
		tgtDB, err := currentDatabase(ctx, m.target)
		if err != nil {
			return err
		}
		if srcDB == tgtDB {
			return errors.Newf(errors.ErrorTypeMigration,
				"source and target are the same database (%s on %s)", srcDB, srcNode)
		}
	}

	if m.policy.SkipData || m.policy.EvenNotEmpty {
		return nil
	}
	v, err := m.target.QueryValue(ctx, "SELECT COUNT(*) FROM tables WHERE is_system_table = false AND is_temp_table = false")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeMigration, "inspecting target catalog")
	}
	n, err := asInt64(v)
	if err != nil {
		return err
	}
	if n > 0 {
		m.log.Warn("target already holds user tables", zap.Int64("tables", n))
	}
	return nil
}

func currentNodeAddress(ctx context.Context, conn vertica.Conn) (string, error) {
	v, err := conn.QueryValue(ctx,
		"SELECT n.node_address FROM v_monitor.current_session cs JOIN v_catalog.nodes n ON n.node_name = cs.node_name")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeMigration, "resolving node address")
	}
	addr, _ := v.(string)
	return addr, nil
}

func currentDatabase(ctx context.Context, conn vertica.Conn) (string, error) {
	v, err := conn.QueryValue(ctx, "SELECT CURRENT_DATABASE()")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeMigration, "resolving database name")
	}
	name, _ := v.(string)
	return name, nil
}

// Plan resolves the requested object names against the source catalog.
// A bare schema name selects the schema and every table under it; a
// qualified name selects one table. An empty request selects everything.
// Schemas always precede their tables in the returned plan.
func (m *Migrator) Plan(ctx context.Context, names []string) (*Plan, error) {
	query := catalogTables
	if len(names) > 0 {
		var filters []string
		for _, name := range names {
			schema, table, qualified := splitName(name)
			if qualified {
				filters = append(filters, fmt.Sprintf(
					"(table_schema = '%s' AND table_name = '%s')", schema, table))
			} else {
				filters = append(filters, fmt.Sprintf("(table_schema = '%s')", schema))
			}
		}
		query += " AND (" + strings.Join(filters, " OR ") + ")"
	}
	query += " ORDER BY table_schema, table_name"

	rows, err := m.source.QueryRows(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMigration, "resolving objects against source catalog")
	}
	defer rows.Close()

	tablesBySchema := make(map[string][]Object)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeMigration, "reading source catalog")
		}
		schema := fmt.Sprint(vals[0])
		table := fmt.Sprint(vals[1])
		tablesBySchema[schema] = append(tablesBySchema[schema], Object{
			Name:   schema + "." + table,
			Schema: schema,
			Table:  table,
			Kind:   KindTable,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMigration, "reading source catalog")
	}

	schemas := make([]string, 0, len(tablesBySchema))
	for schema := range tablesBySchema {
		schemas = append(schemas, schema)
	}
	sort.Strings(schemas)

	var objects []Object
	for _, schema := range schemas {
		objects = append(objects, Object{Name: schema, Schema: schema, Kind: KindSchema})
		objects = append(objects, tablesBySchema[schema]...)
	}
	if len(objects) == 0 {
		return nil, errors.Newf(errors.ErrorTypeMigration, "no objects matched %v", names)
	}

	m.log.Info("plan resolved",
		zap.Int("objects", len(objects)),
		zap.Strings("requested", names))
	return &Plan{objects: objects, policy: m.policy}, nil
}

// Run executes the plan object by object. Failures are recorded and the run
// continues unless the policy asks to abort on the first error; a data copy
// into a non-empty table always aborts the whole run unless the policy
// explicitly allows it.
func (m *Migrator) Run(ctx context.Context, plan *Plan) (*Result, error) {
	result := &Result{}
	objects := plan.Objects()
	for i, obj := range objects {
		res := m.runObject(ctx, obj)
		result.add(res)
		metrics.MigrationObjects.WithLabelValues(string(res.Status)).Inc()

		if res.Status != StatusFailed {
			continue
		}
		abort := m.policy.AbortOnError || errors.IsType(res.Err, errors.ErrorTypeState)
		m.log.Error("object failed",
			zap.String("object", obj.Name),
			zap.Bool("abort", abort),
			zap.Error(res.Err))
		if !abort {
			continue
		}
		for _, rest := range objects[i+1:] {
			result.add(ObjectResult{Object: rest, Status: StatusSkipped})
			metrics.MigrationObjects.WithLabelValues(string(StatusSkipped)).Inc()
		}
		return result, errors.Wrap(res.Err, errors.ErrorTypeMigration, "migration aborted").
			WithDetail("object", obj.Name)
	}
	if !result.OK() {
		return result, errors.Newf(errors.ErrorTypeMigration,
			"%d of %d objects failed", len(result.Failed()), len(objects))
	}
	return result, nil
}

func (m *Migrator) runObject(ctx context.Context, obj Object) ObjectResult {
	res := ObjectResult{Object: obj, Status: StatusSkipped}
	log := m.log.With(zap.String("object", obj.Name), zap.String("kind", string(obj.Kind)))

	if !m.policy.SkipDDLs {
		applied, ddl, err := m.migrateDDL(ctx, log, obj)
		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			return res
		}
		res.DDL = ddl
		if applied {
			res.Status = StatusApplied
		}
	}

	if obj.Kind == KindTable && !m.policy.SkipData {
		rows, err := m.migrateData(ctx, log, obj)
		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			return res
		}
		res.Rows = rows
		res.Status = StatusApplied
	}
	return res
}

// migrateDDL extracts, rewrites and (when committing) applies the object's
// DDL. It reports whether DDL application is part of the run for this
// object, which holds for dry-runs too so that reports stay identical.
func (m *Migrator) migrateDDL(ctx context.Context, log *zap.Logger, obj Object) (bool, string, error) {
	if m.policy.CleverDDLs {
		exists, err := m.objectExists(ctx, obj)
		if err != nil {
			return false, "", err
		}
		if exists {
			log.Info("object exists on target, skipping DDL")
			return false, "", nil
		}
	}

	stmts, err := m.objectDDL(ctx, obj)
	if err != nil {
		return false, "", err
	}
	ddl := strings.Join(stmts, ";\n")
	if !m.policy.Commit {
		log.Info("dry-run, would apply DDL", zap.String("ddl", ddl))
		return true, ddl, nil
	}
	for _, stmt := range stmts {
		log.Debug("applying DDL", zap.String("statement", stmt))
		if _, err := m.target.Exec(ctx, stmt); err != nil {
			return false, ddl, errors.Wrap(err, errors.ErrorTypeMigration, "applying DDL").
				WithDetail("statement", stmt)
		}
	}
	return true, ddl, nil
}

// objectDDL produces the target-ready statement list for one object: schemas
// are synthesized, tables come out of EXPORT_OBJECTS with projections dropped,
// sequences pinned to their live position and identity columns replaced.
func (m *Migrator) objectDDL(ctx context.Context, obj Object) ([]string, error) {
	if obj.Kind == KindSchema {
		return []string{fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", obj.Schema)}, nil
	}

	raw, err := extractDDL(ctx, m.source, obj.Name)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, stmt := range raw {
		if isProjection(stmt) {
			continue
		}
		stmt, err = rewriteSequence(ctx, m.source, stmt)
		if err != nil {
			return nil, err
		}
		stmt, identity, err := rewriteIdentity(ctx, m.source, stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
		if identity != nil {
			out = append(out, identity.CreateSequenceSQL(), identity.AlterTableSQL())
		}
	}
	return out, nil
}

func (m *Migrator) objectExists(ctx context.Context, obj Object) (bool, error) {
	var query string
	switch obj.Kind {
	case KindSchema:
		query = fmt.Sprintf(
			"SELECT COUNT(*) FROM v_catalog.schemata WHERE schema_name = '%s'", obj.Schema)
	default:
		query = fmt.Sprintf(
			"SELECT COUNT(*) FROM v_catalog.tables WHERE table_schema = '%s' AND table_name = '%s'",
			obj.Schema, obj.Table)
	}
	v, err := m.target.QueryValue(ctx, query)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeMigration, "checking target catalog").
			WithDetail("object", obj.Name)
	}
	n, err := asInt64(v)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// migrateData streams the table contents from source to target through the
// batch engine. In a dry-run the source rows are still read and counted so
// the report matches a committed run, but nothing touches the target.
func (m *Migrator) migrateData(ctx context.Context, log *zap.Logger, obj Object) (int64, error) {
	if !m.policy.EvenNotEmpty {
		n, err := m.targetRowCount(ctx, obj)
		if err != nil && !m.policy.Commit {
			// Dry-run against a target where the table does not exist yet.
			n, err = 0, nil
		}
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return 0, errors.Newf(errors.ErrorTypeState,
				"target table %s holds %d rows, refusing to copy into it", obj.Name, n)
		}
	}

	limit := m.policy.Limit
	if obj.RowLimit > 0 {
		limit = obj.RowLimit
	}
	query := fmt.Sprintf("SELECT * FROM %s", obj.Name)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := m.source.QueryRows(ctx, query)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeMigration, "reading source table").
			WithDetail("table", obj.Name)
	}
	defer rows.Close()

	if !m.policy.Commit {
		var count int64
		for rows.Next() {
			if _, err := rows.Values(); err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeMigration, "reading source table")
			}
			count++
		}
		if err := rows.Err(); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeMigration, "reading source table")
		}
		log.Info("dry-run, would copy rows", zap.Int64("rows", count))
		return count, nil
	}

	options := []batch.Option{batch.WithLogger(log)}
	if m.policy.Truncate {
		options = append(options, batch.WithTruncate())
	}
	writer, err := batch.Open(ctx, m.target, obj.Name, m.copy, options...)
	if err != nil {
		return 0, err
	}
	defer writer.Close(ctx)

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeMigration, "reading source table")
		}
		if err := writer.InsertRow(ctx, vals); err != nil {
			return 0, err
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeMigration, "reading source table")
	}

	if report, err := writer.Errors(ctx, m.copy.RejectMax); err != nil {
		return 0, err
	} else if !report.Empty() {
		return 0, errors.Newf(errors.ErrorTypeData,
			"%d rows rejected loading %s:\n%s", report.Count, obj.Name, report.String())
	}
	accepted, err := writer.Commit(ctx)
	if err != nil {
		return 0, err
	}
	log.Info("table copied", zap.Int64("rows", accepted))
	return accepted, nil
}

func (m *Migrator) targetRowCount(ctx context.Context, obj Object) (int64, error) {
	v, err := m.target.QueryValue(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", obj.Name))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeMigration, "counting target rows").
			WithDetail("table", obj.Name)
	}
	return asInt64(v)
}

func splitName(name string) (schema, table string, qualified bool) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", false
}
