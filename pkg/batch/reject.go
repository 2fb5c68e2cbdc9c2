package batch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/vertica-tools/vload/pkg/errors"
	"github.com/vertica-tools/vload/pkg/metrics"
)

// RejectReport holds the outcome of constraint analysis and reject-store
// inspection for the batches flushed since the last commit.
type RejectReport struct {
	// Count is the number of rejected rows plus constraint violations
	Count int64

	text string
}

// Reader returns the report body as a readable stream. Line endings are
// normalized to \n regardless of the session's record terminator.
func (r *RejectReport) Reader() io.Reader {
	return strings.NewReader(r.text)
}

// String returns the report body.
func (r *RejectReport) String() string { return r.text }

// Empty reports whether nothing was rejected.
func (r *RejectReport) Empty() bool { return r.Count == 0 }

// Errors flushes the in-flight batch if needed, then inspects the database's
// rejection metadata: the session reject count, constraint analysis of the
// target table and the session's reject store. When rejectMax is positive
// and the reject count exceeds it, the transaction is rolled back and a
// reject-limit error is returned instead of a report. rejectMax <= 0
// disables the limit.
//
// The report covers the inserts since the last commit only.
func (w *Writer) Errors(ctx context.Context, rejectMax int) (*RejectReport, error) {
	if w.state == StateClosed {
		return nil, errors.New(errors.ErrorTypeState, "session is closed")
	}

	if err := w.flushBatch(ctx); err != nil {
		return nil, err
	}

	report := &RejectReport{}
	if w.batchCount == 0 {
		return report, nil
	}

	count, err := w.rejectedRowCount(ctx)
	if err != nil {
		return nil, err
	}
	report.Count = count

	var body strings.Builder

	if w.analyzeConstraints {
		violations, err := w.constraintViolations(ctx, &body)
		if err != nil {
			return nil, err
		}
		report.Count += violations
	}

	if w.opts.RejectedData && count > 0 {
		if err := w.readRejectStore(ctx, &body); err != nil {
			return nil, err
		}
	}
	report.text = body.String()

	metrics.RowsRejected.WithLabelValues(w.table).Add(float64(report.Count))

	if rejectMax > 0 && report.Count > int64(rejectMax) {
		w.log.Warn("reject limit exceeded",
			zap.Int64("rejected", report.Count),
			zap.Int("limit", rejectMax))
		if err := w.Rollback(ctx); err != nil {
			w.log.Warn("rollback after reject-limit breach failed", zap.Error(err))
		}
		return nil, errors.Newf(errors.ErrorTypeRejectLimit,
			"%d rows rejected, limit is %d", report.Count, rejectMax)
	}

	return report, nil
}

// rejectedRowCount asks the database how many rows the last COPY rejected.
func (w *Writer) rejectedRowCount(ctx context.Context) (int64, error) {
	value, err := w.conn.QueryValue(ctx, "SELECT GET_NUM_REJECTED_ROWS()")
	if err != nil {
		return 0, err
	}
	return toInt64(value), nil
}

// constraintViolations runs ANALYZE_CONSTRAINTS on the target table and
// appends one line per violated constraint. Tables without constraints are
// not an error.
func (w *Writer) constraintViolations(ctx context.Context, body *strings.Builder) (int64, error) {
	rows, err := w.conn.QueryRows(ctx,
		fmt.Sprintf("SELECT ANALYZE_CONSTRAINTS('%s')", w.table))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no constraints defined") {
			return 0, nil
		}
		return 0, err
	}
	defer rows.Close()

	var violations int64
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return 0, err
		}
		violations++
		body.WriteString("Constraint not met: ")
		body.WriteString(joinValues(values))
		body.WriteString("\n")
	}
	return violations, rows.Err()
}

// readRejectStore reads the session's reject store and appends one
// normalized line per rejected record.
func (w *Writer) readRejectStore(ctx context.Context, body *strings.Builder) error {
	rows, err := w.conn.QueryRows(ctx,
		"SELECT row_number, rejected_reason, rejected_data FROM "+w.rejectTable+" ORDER BY row_number")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return err
		}
		if len(values) != 3 {
			continue
		}
		fmt.Fprintf(body, "Rejected data at line %v (%s): %s\n",
			values[0],
			w.normalizeTerminators(fmt.Sprint(values[1])),
			w.normalizeTerminators(fmt.Sprint(values[2])))
	}
	return rows.Err()
}

// normalizeTerminators rewrites the session record terminator and both CRLF
// and bare CR endings to \n so the report reads the same on every platform.
func (w *Writer) normalizeTerminators(s string) string {
	if w.opts.RecordTerminator != "\n" {
		s = strings.ReplaceAll(s, w.opts.RecordTerminator, "\n")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimRight(s, "\n")
}

func joinValues(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

// toInt64 widens the count value returned by the driver.
func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case nil:
		return 0
	default:
		return 0
	}
}
