// Package kymflow is a versioned store for N-dimensional pixel arrays and
// their per-record analysis artifacts, backed by a pluggable key/blob store.
//
// A dataset holds image records (chunked binary arrays plus JSON, tabular and
// array artifacts), dataset-level Parquet tables, a sources index for
// change-detected folder ingestion, and a rebuildable manifest. Indexers
// extract rows from records into provenance-stamped tables; the orchestrator
// decides per record whether rows are fresh or stale using run markers.
//
// Quick start:
//
//	db, err := kymflow.CreatePath(ctx, "./mydata",
//	    kymflow.WithLogger(kymflow.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil { ... }
//	defer db.Close()
//
//	rec, err := db.AddImage(ctx, arr, record.SaveArrayOptions{})
//
// The store assumes exactly one writer at a time; concurrent writers from
// multiple processes must be prevented by the caller.
package kymflow
