package kymflow

import (
	"context"
	"time"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/dataset"
	"github.com/mapmanager/kymflow-sub000/index"
	"github.com/mapmanager/kymflow-sub000/internal/ratelimit"
	"github.com/mapmanager/kymflow-sub000/manifest"
	"github.com/mapmanager/kymflow-sub000/record"
	"github.com/mapmanager/kymflow-sub000/table"
)

// DB is the top-level handle: a dataset plus logging and metrics around its
// operations. Create one with Create, Open, CreatePath or OpenPath.
type DB struct {
	ds      *dataset.Dataset
	orch    *index.Orchestrator
	metrics MetricsCollector
	logger  *Logger
}

// Create initializes a new dataset in an empty blob store.
func Create(ctx context.Context, blobs blobstore.Store, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	ds, err := dataset.Create(ctx, blobs, datasetConfig(o))
	if err != nil {
		return nil, translateError(err)
	}
	return newDB(ds, o), nil
}

// Open opens an existing dataset, validating its root attributes.
func Open(ctx context.Context, blobs blobstore.Store, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	ds, err := dataset.Open(ctx, blobs, datasetConfig(o))
	if err != nil {
		return nil, translateError(err)
	}
	return newDB(ds, o), nil
}

// CreatePath initializes a new dataset in a local directory.
func CreatePath(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	blobs, err := blobstore.NewLocalStore(dir)
	if err != nil {
		return nil, err
	}
	return Create(ctx, blobs, optFns...)
}

// OpenPath opens an existing dataset from a local directory.
func OpenPath(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	blobs, err := blobstore.NewLocalStore(dir)
	if err != nil {
		return nil, err
	}
	return Open(ctx, blobs, optFns...)
}

func datasetConfig(o options) dataset.Config {
	var limits *ratelimit.Limiter
	if o.limits != (ratelimit.Config{}) {
		limits = ratelimit.New(o.limits)
	}
	return dataset.Config{
		Compression:         o.compression,
		ReadOnly:            o.readOnly,
		RequireGroups:       o.requireGroups,
		IncludeAnalysisKeys: o.includeAnalysisKeys,
		Limits:              limits,
		Logger:              o.logger.Logger,
	}
}

func newDB(ds *dataset.Dataset, o options) *DB {
	return &DB{
		ds:      ds,
		orch:    index.NewOrchestrator(ds, o.logger.Logger),
		metrics: o.metricsCollector,
		logger:  o.logger,
	}
}

// Dataset exposes the underlying dataset for operations not wrapped here.
func (db *DB) Dataset() *dataset.Dataset {
	return db.ds
}

// ReadOnly reports whether the dataset rejects mutations.
func (db *DB) ReadOnly() bool {
	return db.ds.ReadOnly()
}

// Close releases the handle. Further operations fail.
func (db *DB) Close() error {
	return db.ds.Close()
}

// ImageIDs returns all record ids in sorted order.
func (db *DB) ImageIDs(ctx context.Context) ([]string, error) {
	ids, err := db.ds.ImageIDs(ctx)
	return ids, translateError(err)
}

// Record returns a handle for one image record. The record may not exist yet;
// existence is checked per operation.
func (db *DB) Record(id string) *record.Record {
	return db.ds.Record(id)
}

// AddImage mints a new record id and saves the array under it.
func (db *DB) AddImage(ctx context.Context, a *array.NDArray, opts record.SaveArrayOptions) (*record.Record, error) {
	start := time.Now()
	rec, err := db.ds.AddImage(ctx, a, opts)
	err = translateError(err)
	db.metrics.RecordAddImage(time.Since(start), err)
	if rec != nil {
		db.logger.LogAddImage(ctx, rec.ImageID(), err)
	} else {
		db.logger.LogAddImage(ctx, "", err)
	}
	return rec, err
}

// DeleteImage removes a record and all its blobs.
func (db *DB) DeleteImage(ctx context.Context, id string) error {
	start := time.Now()
	err := translateError(db.ds.DeleteImage(ctx, id))
	db.metrics.RecordDeleteImage(time.Since(start), err)
	db.logger.LogDeleteImage(ctx, id, err)
	return err
}

// ValidateImage checks one record's array against the schema rules.
func (db *DB) ValidateImage(ctx context.Context, id string) error {
	return translateError(db.ds.ValidateImage(ctx, id))
}

// RefreshFromFolder scans a source folder and ingests new or changed files
// according to mode.
func (db *DB) RefreshFromFolder(ctx context.Context, folder, pattern string, mode dataset.RefreshMode, load dataset.LoadFunc) (*dataset.RefreshStats, error) {
	start := time.Now()
	stats, err := db.ds.RefreshFromFolder(ctx, folder, pattern, mode, load)
	err = translateError(err)
	if stats != nil {
		db.metrics.RecordRefresh(stats.Scanned, stats.Ingested, time.Since(start))
		db.logger.LogRefresh(ctx, stats.Scanned, stats.Ingested, err)
	}
	return stats, err
}

// UpdateIndex runs an indexer over every record. See index.Mode for the
// replace/incremental distinction.
func (db *DB) UpdateIndex(ctx context.Context, ix index.Indexer, mode index.Mode) (*index.Stats, error) {
	start := time.Now()
	stats, err := db.orch.UpdateIndex(ctx, ix, mode)
	err = translateError(err)
	updated, total := 0, 0
	if stats != nil {
		updated, total = stats.Updated, stats.TotalImages
	}
	db.metrics.RecordUpdateIndex(updated, total, time.Since(start), err)
	db.logger.LogUpdateIndex(ctx, ix.Name(), updated, total, err)
	return stats, err
}

// EvaluateStaleness reports one record's staleness decision for an indexer
// without writing anything.
func (db *DB) EvaluateStaleness(ctx context.Context, ix index.Indexer, imageID string) (*index.Result, error) {
	res, err := db.orch.Evaluate(ctx, ix, imageID)
	return res, translateError(err)
}

// RebuildManifest scans all records and rewrites the manifest.
func (db *DB) RebuildManifest(ctx context.Context) (*manifest.Manifest, error) {
	start := time.Now()
	m, err := db.ds.RebuildManifest(ctx)
	err = translateError(err)
	db.metrics.RecordRebuildManifest(time.Since(start), err)
	images := 0
	if m != nil {
		images = len(m.Images)
	}
	db.logger.LogRebuildManifest(ctx, images, err)
	return m, err
}

// Manifest loads the stored manifest, rebuilding it when absent.
func (db *DB) Manifest(ctx context.Context) (*manifest.Manifest, error) {
	m, err := db.ds.Manifest(ctx)
	return m, translateError(err)
}

// LoadTable loads a dataset-level named table.
func (db *DB) LoadTable(ctx context.Context, name string) (*table.Table, error) {
	t, err := db.ds.LoadTable(ctx, name)
	return t, translateError(err)
}

// SaveTable writes a dataset-level named table.
func (db *DB) SaveTable(ctx context.Context, name string, t *table.Table) error {
	return translateError(db.ds.SaveTable(ctx, name, t))
}

// ExportTo copies every blob of the dataset into another store.
func (db *DB) ExportTo(ctx context.Context, dst blobstore.Store) error {
	err := translateError(db.ds.ExportTo(ctx, dst))
	db.logger.LogExport(ctx, err)
	return err
}
