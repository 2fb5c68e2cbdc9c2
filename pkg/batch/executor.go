package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/vertica-tools/vload/pkg/vertica"
)

// copyResult is the single-slot result cell of one bulk-copy statement.
// The executor writes it exactly once per task; the producer reads it after
// the ready gate or the failed signal fires.
type copyResult struct {
	accepted int64
	err      error
}

// copyTask is one COPY statement dispatched to the executor.
type copyTask struct {
	sql    string
	reader *batchReader
	result chan copyResult // buffered, capacity 1
	failed chan struct{}   // closed before the result is delivered on error
}

func newCopyTask(sql string, reader *batchReader) *copyTask {
	return &copyTask{
		sql:    sql,
		reader: reader,
		result: make(chan copyResult, 1),
		failed: make(chan struct{}),
	}
}

// executor owns the background goroutine that runs bulk-copy statements for
// one session. It is created when the first batch starts and lives until the
// session closes; in multi-batch mode it serves every commit cycle, one task
// at a time.
type executor struct {
	conn  vertica.Conn
	tasks chan *copyTask
	done  chan struct{}
	log   *zap.Logger
}

func newExecutor(ctx context.Context, conn vertica.Conn, log *zap.Logger) *executor {
	ex := &executor{
		conn:  conn,
		tasks: make(chan *copyTask),
		done:  make(chan struct{}),
		log:   log,
	}
	go ex.run(ctx)
	return ex
}

// run executes tasks until the task channel closes. Any error raised by the
// statement is captured into the task's result cell, never dropped; the
// reader gate is released on every path so the producer cannot block on a
// statement that is no longer running.
func (ex *executor) run(ctx context.Context) {
	defer close(ex.done)

	for task := range ex.tasks {
		ex.log.Debug("bulk-copy statement starting", zap.String("sql", task.sql))

		accepted, err := ex.conn.BulkCopy(ctx, task.sql, task.reader)

		task.reader.release()
		if err != nil {
			ex.log.Error("bulk-copy statement failed", zap.Error(err))
			close(task.failed)
		} else {
			ex.log.Debug("bulk-copy statement done", zap.Int64("accepted", accepted))
		}
		task.result <- copyResult{accepted: accepted, err: err}
	}
}

// stop closes the task channel and waits for the goroutine to exit.
func (ex *executor) stop() {
	close(ex.tasks)
	<-ex.done
}

// dispatch hands a task to the executor and blocks until the statement is
// consuming the pipe (or has already failed). It returns false when the
// executor goroutine is gone.
func (ex *executor) dispatch(task *copyTask) bool {
	select {
	case ex.tasks <- task:
	case <-ex.done:
		return false
	}

	select {
	case <-task.reader.ready:
		return true
	case <-ex.done:
		return false
	}
}
