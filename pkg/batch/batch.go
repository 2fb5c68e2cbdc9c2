// Package batch implements the streaming bulk-load engine. A Writer owns
// one bulk-copy session against a target table: rows inserted by the caller
// are encoded and streamed through an in-process byte pipe to a background
// executor goroutine running the COPY statement. The pipe's bounded buffer
// provides flow control in both directions; no rows are ever materialized
// in full.
//
// Usage:
//
//	w, err := batch.Open(ctx, conn, "staging.orders", config.DefaultCopyOptions(),
//	    batch.WithColumns([]string{"id", "amount"}))
//	if err != nil { ... }
//	defer w.Close(ctx)
//
//	for _, row := range rows {
//	    if err := w.InsertRow(row); err != nil { ... }
//	}
//	accepted, err := w.Commit(ctx)
package batch

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vertica-tools/vload/pkg/config"
	"github.com/vertica-tools/vload/pkg/errors"
	"github.com/vertica-tools/vload/pkg/logger"
	"github.com/vertica-tools/vload/pkg/metrics"
	"github.com/vertica-tools/vload/pkg/vertica"
)

// State is the lifecycle state of a batch session.
type State int32

const (
	// StateIdle is a session that exists but has not started a batch
	StateIdle State = iota
	// StateOpen has live resources but no rows buffered yet
	StateOpen
	// StateWriting has a bulk-copy statement consuming the pipe
	StateWriting
	// StateFlushing is draining the current batch into the statement
	StateFlushing
	// StateCommitted follows a commit in multi-batch mode
	StateCommitted
	// StateFailed marks an executor failure; resources are already released
	StateFailed
	// StateClosed is terminal
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateWriting:
		return "writing"
	case StateFlushing:
		return "flushing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats exposes session counters, including the resource-spawn counts that
// multi-batch reuse is measured by.
type Stats struct {
	BatchCount     int64 // rows inserted since the last commit
	TotalCount     int64 // rows inserted over the session lifetime
	ExecutorSpawns int   // background executors created
	PipeSpawns     int   // byte pipes created
}

// Writer is one bulk-copy session bound to one target table. It owns exactly
// one executor goroutine and one byte pipe for its lifetime (or for its whole
// multi-batch lifetime when reuse is enabled). A Writer is not safe for
// concurrent use.
type Writer struct {
	conn    vertica.Conn
	table   string
	columns []string
	opts    config.CopyOptions

	multiBatch         bool
	truncate           bool
	analyzeConstraints bool

	sessionID   string
	rejectTable string
	log         *zap.Logger

	state State
	pipe  *bytePipe
	ex    *executor
	task  *copyTask

	execErr      error
	lastAccepted int64
	batchCount   int64
	totalCount   int64

	executorSpawns int
	pipeSpawns     int

	encodeBuf []byte
}

// Option configures a Writer.
type Option func(*Writer)

// WithColumns restricts the load to the given column list. When set, every
// inserted row must match its arity.
func WithColumns(columns []string) Option {
	return func(w *Writer) { w.columns = columns }
}

// MultiBatch keeps the pipe and executor alive across commits so a session
// can run several insert/commit cycles without respawning them.
func MultiBatch() Option {
	return func(w *Writer) { w.multiBatch = true }
}

// WithTruncate truncates the target table before the first insert.
func WithTruncate() Option {
	return func(w *Writer) { w.truncate = true }
}

// WithoutConstraintAnalysis skips the ANALYZE_CONSTRAINTS step when building
// a reject report.
func WithoutConstraintAnalysis() Option {
	return func(w *Writer) { w.analyzeConstraints = false }
}

// WithLogger overrides the session logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *Writer) { w.log = log }
}

// Open creates a batch session for the given target table. The connection
// stays owned by the caller; the session serializes all use of it until
// Close. Conflicting format options fail here, before any resource exists.
func Open(ctx context.Context, conn vertica.Conn, table string, opts config.CopyOptions, options ...Option) (*Writer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	w := &Writer{
		conn:               conn,
		table:              table,
		opts:               opts,
		analyzeConstraints: true,
		sessionID:          uuid.NewString(),
		state:              StateIdle,
	}
	for _, opt := range options {
		opt(w)
	}

	w.rejectTable = rejectTableName(table, w.sessionID)
	if w.log == nil {
		// Pick up any session fields the caller stored under the
		// logger context keys.
		w.log = logger.WithContext(ctx)
	}
	w.log = w.log.With(
		zap.String("session_id", w.sessionID),
		zap.String("table", table),
	)

	if w.truncate {
		w.log.Info("truncating table")
		if _, err := conn.Exec(ctx, "TRUNCATE TABLE "+table); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "truncate failed")
		}
	}

	w.log.Debug("session opened", zap.Bool("multi_batch", w.multiBatch))
	return w, nil
}

// State returns the session lifecycle state.
func (w *Writer) State() State { return w.state }

// Stats returns the session counters.
func (w *Writer) Stats() Stats {
	return Stats{
		BatchCount:     w.batchCount,
		TotalCount:     w.totalCount,
		ExecutorSpawns: w.executorSpawns,
		PipeSpawns:     w.pipeSpawns,
	}
}

// BatchCount returns the number of rows inserted since the last commit.
func (w *Writer) BatchCount() int64 { return w.batchCount }

// TotalCount returns the number of rows inserted over the session lifetime.
func (w *Writer) TotalCount() int64 { return w.totalCount }

// InsertRow appends one row to the pending batch. The row's arity must match
// the configured column list; values are not otherwise validated, the
// database rejects what it cannot parse. The call may block on pipe
// backpressure when the executor is slower than row production.
func (w *Writer) InsertRow(ctx context.Context, values []interface{}) error {
	if len(w.columns) > 0 && len(values) != len(w.columns) {
		return errors.Newf(errors.ErrorTypeData,
			"row has %d values, table expects %d", len(values), len(w.columns))
	}

	if err := w.startBatch(ctx); err != nil {
		return err
	}

	w.encodeBuf = encodeRow(w.encodeBuf[:0], values, w.opts)
	return w.writeFrame(w.encodeBuf)
}

// InsertRows appends every row produced by the iterator.
func (w *Writer) InsertRows(ctx context.Context, rows [][]interface{}) error {
	for _, row := range rows {
		if err := w.InsertRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// InsertLine appends one pre-formatted record. The line must already follow
// the session's format options; the record terminator is appended here.
func (w *Writer) InsertLine(ctx context.Context, line string) error {
	if err := w.startBatch(ctx); err != nil {
		return err
	}
	w.encodeBuf = append(append(w.encodeBuf[:0], line...), w.opts.RecordTerminator...)
	return w.writeFrame(w.encodeBuf)
}

// InsertRaw appends raw bytes as-is. Useful when the source data is already
// in the exact stream format, terminators included.
func (w *Writer) InsertRaw(ctx context.Context, raw []byte) error {
	if err := w.startBatch(ctx); err != nil {
		return err
	}
	return w.writeFrame(raw)
}

// writeFrame pushes encoded bytes into the pipe and surfaces any executor
// failure synchronously.
func (w *Writer) writeFrame(frame []byte) error {
	if err := w.pipe.write(frame, w.task.failed); err != nil {
		return w.captureExecutorFailure()
	}
	w.batchCount++
	w.totalCount++
	return nil
}

// startBatch lazily creates the pipe and executor, dispatches the COPY
// statement and waits for the handshake. In multi-batch mode the existing
// resources are reused; only a new statement is dispatched.
func (w *Writer) startBatch(ctx context.Context) error {
	switch w.state {
	case StateClosed:
		return errors.New(errors.ErrorTypeState, "session is closed")
	case StateFailed:
		return errors.Wrap(w.execErr, errors.ErrorTypeState, "session failed")
	case StateWriting:
		return nil
	}

	if w.pipe == nil {
		w.pipe = newBytePipe()
		w.pipeSpawns++
	}
	if w.ex == nil {
		w.ex = newExecutor(ctx, w.conn, w.log.Named("executor"))
		w.executorSpawns++
	}

	w.task = newCopyTask(
		buildCopySQL(w.table, w.columns, w.opts, w.rejectTable),
		newBatchReader(w.pipe),
	)
	w.batchCount = 0

	if !w.ex.dispatch(w.task) {
		w.state = StateFailed
		return errors.New(errors.ErrorTypeExecutor, "executor is gone")
	}

	w.state = StateWriting
	w.log.Debug("batch started")
	return nil
}

// flushBatch ends the in-flight COPY statement and collects its outcome.
// On failure the session resources are torn down and the error is kept for
// re-raising; the gate discipline in the executor guarantees this never
// blocks on a dead statement.
func (w *Writer) flushBatch(ctx context.Context) error {
	if w.state != StateWriting {
		return nil
	}
	w.state = StateFlushing

	_ = w.pipe.endBatch(w.task.failed)

	res := <-w.task.result
	w.task = nil

	if res.err != nil {
		return w.captureExecutorFailureFrom(res.err)
	}

	w.lastAccepted = res.accepted
	w.state = StateOpen
	w.log.Debug("batch flushed", zap.Int64("accepted", res.accepted))
	return nil
}

// captureExecutorFailure reads the pending result cell and records the error.
func (w *Writer) captureExecutorFailure() error {
	res := <-w.task.result
	w.task = nil
	return w.captureExecutorFailureFrom(res.err)
}

func (w *Writer) captureExecutorFailureFrom(cause error) error {
	w.execErr = errors.Wrap(cause, errors.ErrorTypeExecutor, "bulk-copy statement failed").
		WithDetail("table", w.table)
	w.teardown()
	w.state = StateFailed
	metrics.CommitsTotal.WithLabelValues(w.table, "failure").Inc()
	return w.execErr
}

// Commit flushes the pending batch, waits for the executor to finish the
// statement and commits the transaction. It returns the number of rows the
// database accepted. In multi-batch mode the session stays open for the next
// insert/commit cycle; otherwise it transitions to closed.
func (w *Writer) Commit(ctx context.Context) (int64, error) {
	timer := metrics.NewTimer("commit")

	if err := w.flushBatch(ctx); err != nil {
		return 0, err
	}

	switch w.state {
	case StateClosed:
		return 0, errors.New(errors.ErrorTypeState, "session is closed")
	case StateFailed:
		return 0, errors.Wrap(w.execErr, errors.ErrorTypeState, "session failed")
	}

	if err := w.conn.Commit(ctx); err != nil {
		metrics.CommitsTotal.WithLabelValues(w.table, "failure").Inc()
		return 0, err
	}

	accepted := w.lastAccepted
	w.lastAccepted = 0
	w.batchCount = 0

	elapsed := timer.Stop()
	metrics.CommitsTotal.WithLabelValues(w.table, "success").Inc()
	metrics.RowsLoaded.WithLabelValues(w.table).Add(float64(accepted))
	metrics.CommitDuration.WithLabelValues(w.table).Observe(elapsed.Seconds())

	w.log.Info("transaction committed",
		zap.Int64("accepted", accepted),
		zap.Duration("duration", elapsed))

	if w.multiBatch {
		w.state = StateCommitted
		// The reject store accumulates across COPY statements; recreate it
		// each cycle so Errors only ever reports the current batch.
		if w.opts.RejectedData {
			if _, err := w.conn.Exec(ctx, "DROP TABLE IF EXISTS "+w.rejectTable); err != nil {
				w.log.Warn("reject store reset failed", zap.Error(err))
			}
		}
	} else {
		w.teardown()
		w.state = StateClosed
	}
	return accepted, nil
}

// Rollback discards the current uncommitted batch and aborts the database
// transaction. Valid only before a commit of that batch has succeeded.
func (w *Writer) Rollback(ctx context.Context) error {
	if w.state == StateClosed {
		return errors.New(errors.ErrorTypeState, "session is closed")
	}

	// A failed executor has already aborted the statement; the transaction
	// rollback below is still issued.
	_ = w.flushBatch(ctx)

	if err := w.conn.Rollback(ctx); err != nil {
		return err
	}
	w.log.Info("transaction rolled back")

	if !w.multiBatch || w.state == StateFailed {
		w.teardown()
		w.state = StateClosed
	} else {
		w.state = StateOpen
	}
	w.batchCount = 0
	w.lastAccepted = 0
	return nil
}

// Close releases the pipe, the executor and the reject store. It runs on
// every exit path and is idempotent; an in-flight batch is flushed and its
// outcome discarded.
func (w *Writer) Close(ctx context.Context) error {
	if w.state == StateClosed {
		return nil
	}

	_ = w.flushBatch(ctx)
	w.teardown()

	if w.opts.RejectedData {
		if _, err := w.conn.Exec(ctx, "DROP TABLE IF EXISTS "+w.rejectTable); err != nil {
			w.log.Warn("reject store cleanup failed", zap.Error(err))
		}
	}

	w.state = StateClosed
	w.log.Debug("session closed", zap.Int64("total_rows", w.totalCount))
	return nil
}

// teardown releases the pipe and joins the executor goroutine. Safe to call
// on any path, any number of times.
func (w *Writer) teardown() {
	if w.pipe != nil {
		w.pipe.close()
		w.pipe = nil
	}
	if w.ex != nil {
		w.ex.stop()
		w.ex = nil
	}
	w.task = nil
}

// rejectTableName derives the session-scoped reject store name, kept in the
// target table's schema.
func rejectTableName(table, sessionID string) string {
	short := strings.ReplaceAll(sessionID, "-", "")[:8]
	return table + "_rejects_" + short
}
