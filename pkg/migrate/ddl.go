package migrate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vertica-tools/vload/pkg/errors"
	"github.com/vertica-tools/vload/pkg/vertica"
)

var (
	projectionRe = regexp.MustCompile(`(?i)^\s*CREATE\s+PROJECTION\b`)
	sequenceRe   = regexp.MustCompile(`(?im)^\s*CREATE\s+SEQUENCE\s+("?[\w]+"?)\.("?[\w]+"?)\s*;?\s*$`)
	identityRe   = regexp.MustCompile(`(?im)^\s*("?[\w]+"?)\s+IDENTITY\s*(?:\([^)]*\))?\s*(,?)\s*$`)
	createTabRe  = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+("?[\w]+"?)\.("?[\w]+"?)`)
)

// extractDDL pulls the CREATE statements for one object out of the source
// catalog via EXPORT_OBJECTS.
func extractDDL(ctx context.Context, conn vertica.Conn, name string) ([]string, error) {
	v, err := conn.QueryValue(ctx, fmt.Sprintf("SELECT EXPORT_OBJECTS('', '%s', false)", name))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMigration, "exporting DDL").
			WithDetail("object", name)
	}
	text, ok := v.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return nil, errors.Newf(errors.ErrorTypeMigration, "no DDL exported for %s", name)
	}
	return splitStatements(text), nil
}

// splitStatements breaks an EXPORT_OBJECTS dump into individual statements,
// dropping comment lines and empty fragments.
func splitStatements(dump string) []string {
	var out []string
	for _, stmt := range strings.Split(dump, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		s := strings.TrimSpace(strings.Join(lines, "\n"))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// isProjection reports whether the statement creates a projection. Projections
// are design artifacts of the source cluster and are never carried over; the
// target builds its own.
func isProjection(stmt string) bool {
	return projectionRe.MatchString(stmt)
}

// rewriteSequence pins an exported CREATE SEQUENCE to the live counter of the
// source cluster so the target continues numbering where the source stopped.
func rewriteSequence(ctx context.Context, source vertica.Conn, stmt string) (string, error) {
	m := sequenceRe.FindStringSubmatch(stmt)
	if m == nil {
		return stmt, nil
	}
	schema, seq := unquote(m[1]), unquote(m[2])
	v, err := source.QueryValue(ctx, fmt.Sprintf(
		"SELECT current_value FROM v_catalog.sequences WHERE sequence_schema = '%s' AND sequence_name = '%s'",
		schema, seq))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeMigration, "reading sequence position").
			WithDetail("sequence", schema+"."+seq)
	}
	current, err := asInt64(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s START WITH %d", strings.TrimRight(stmt, "; \n\t"), current+1), nil
}

// identityRewrite is the replacement plan for one IDENTITY column: the column
// becomes a plain INT NOT NULL and a dedicated sequence feeds its default.
type identityRewrite struct {
	Schema string
	Table  string
	Column string
	Seq    string
	Start  int64
}

// CreateSequenceSQL returns the statement creating the replacement sequence.
func (r identityRewrite) CreateSequenceSQL() string {
	return fmt.Sprintf("CREATE SEQUENCE %s.%s START WITH %d", r.Schema, r.Seq, r.Start+1)
}

// AlterTableSQL returns the statement wiring the sequence as column default.
func (r identityRewrite) AlterTableSQL() string {
	return fmt.Sprintf("ALTER TABLE %s.%s ALTER COLUMN %s SET DEFAULT NEXTVAL('%s.%s')",
		r.Schema, r.Table, r.Column, r.Schema, r.Seq)
}

// rewriteIdentity replaces an IDENTITY column inside a CREATE TABLE with a
// plain INT NOT NULL column, because COPY cannot load into identity columns.
// The returned identityRewrite carries the follow-up statements restoring
// auto-numbering through an explicit sequence.
func rewriteIdentity(ctx context.Context, source vertica.Conn, stmt string) (string, *identityRewrite, error) {
	col := identityRe.FindStringSubmatch(stmt)
	if col == nil {
		return stmt, nil, nil
	}
	tab := createTabRe.FindStringSubmatch(stmt)
	if tab == nil {
		return stmt, nil, nil
	}
	schema, table := unquote(tab[1]), unquote(tab[2])
	column := unquote(col[1])

	v, err := source.QueryValue(ctx, fmt.Sprintf(
		"SELECT sequence_name FROM v_catalog.sequences WHERE sequence_schema = '%s' AND identity_table_name = '%s'",
		schema, table))
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeMigration, "resolving identity sequence").
			WithDetail("table", schema+"."+table)
	}
	seq, _ := v.(string)
	if seq == "" {
		seq = fmt.Sprintf("seq_%s_%s", table, column)
	}

	v, err = source.QueryValue(ctx, fmt.Sprintf("SELECT MAX(%s) FROM %s.%s", column, schema, table))
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeMigration, "reading identity high-water mark").
			WithDetail("table", schema+"."+table)
	}
	var start int64
	if v != nil {
		if start, err = asInt64(v); err != nil {
			return "", nil, err
		}
	}

	rewritten := identityRe.ReplaceAllString(stmt, fmt.Sprintf("    %s INT NOT NULL$2", col[1]))
	return rewritten, &identityRewrite{
		Schema: schema,
		Table:  table,
		Column: column,
		Seq:    seq,
		Start:  start,
	}, nil
}

func unquote(s string) string { return strings.Trim(s, `"`) }

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		var out int64
		if _, err := fmt.Sscanf(n, "%d", &out); err != nil {
			return 0, errors.Newf(errors.ErrorTypeMigration, "non-numeric catalog value %q", n)
		}
		return out, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeMigration, "unexpected catalog value type %T", v)
	}
}
