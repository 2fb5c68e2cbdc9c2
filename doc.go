// Package vload streams bulk data into Vertica and migrates schemas, tables
// and data between Vertica clusters.
//
// The core is a streaming batch writer (pkg/batch) that feeds a COPY FROM
// STDIN statement through a bounded in-memory pipe, so arbitrarily large
// loads run in constant memory. A background executor owns the COPY
// statement for the lifetime of a session; the caller inserts rows, inspects
// rejected rows, and decides between commit and rollback.
//
// On top of the writer sit two collaborators:
//
//   - pkg/migrate resolves schemas and tables on a source cluster into an
//     ordered plan and replays them on a target cluster, DDL first, data
//     second, with dry-run support.
//   - pkg/importer maps external records onto table columns, prepends
//     provenance fields and keeps a batch-history table so the same source
//     file is never imported twice.
//
// Connections are dialed through pkg/vertica, which picks a random cluster
// node per connect and exposes the narrow driver surface the rest of the
// code programs against.
//
// # Quick Start
//
//	conn, err := provider.Acquire(ctx)
//	if err != nil {
//		return err
//	}
//	w, err := batch.Open(ctx, conn, "staging.orders", config.DefaultCopyOptions())
//	if err != nil {
//		return err
//	}
//	defer w.Close(ctx)
//
//	for _, row := range rows {
//		if err := w.InsertRow(ctx, row); err != nil {
//			return err
//		}
//	}
//	report, err := w.Errors(ctx, 0)
//	if err != nil {
//		return err
//	}
//	if !report.Empty() {
//		return w.Rollback(ctx)
//	}
//	accepted, err := w.Commit(ctx)
package vload
