// Package dataset implements the dataset root: the record collection,
// dataset-level named tables, the sources change-detection index and the
// manifest wiring.
//
// A dataset assumes exactly one writer at a time. There is no locking, no
// transaction layer and no multi-writer protocol; concurrent writers from
// multiple processes must be prevented by the caller.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/codec"
	"github.com/mapmanager/kymflow-sub000/internal/ratelimit"
	"github.com/mapmanager/kymflow-sub000/manifest"
	"github.com/mapmanager/kymflow-sub000/record"
	"github.com/mapmanager/kymflow-sub000/schema"
	"github.com/mapmanager/kymflow-sub000/table"
)

// RootAttrsKey is the blob key of the dataset root attributes.
const RootAttrsKey = "root.attrs.json"

// ErrExists is returned by Create when the store already holds a dataset.
var ErrExists = errors.New("dataset already exists")

// Config carries dataset-wide settings.
type Config struct {
	// Compression applied to newly written array blobs.
	Compression array.Compression

	// ReadOnly rejects every mutating operation with blobstore.ErrReadOnly.
	ReadOnly bool

	// RequireGroups lists top-level groups that must exist when opening.
	RequireGroups []string

	// IncludeAnalysisKeys lists artifact names in manifest entries.
	IncludeAnalysisKeys bool

	// Limits bounds bulk operations (folder ingestion, export). Nil means
	// no limits.
	Limits *ratelimit.Limiter

	// Logger receives structured operation logs. Nil discards.
	Logger *slog.Logger
}

// Dataset owns one record collection and its dataset-level state.
type Dataset struct {
	blobs  blobstore.Store
	cfg    Config
	log    *slog.Logger
	root   schema.Root
	closed bool
}

// Create initializes a new dataset in an empty store.
func Create(ctx context.Context, blobs blobstore.Store, cfg Config) (*Dataset, error) {
	if cfg.ReadOnly {
		return nil, fmt.Errorf("create dataset: %w", blobstore.ErrReadOnly)
	}
	exists, err := blobstore.Exists(ctx, blobs, RootAttrsKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrExists
	}

	now := nowUTC()
	root := schema.Root{
		Format:        schema.Format,
		SchemaVersion: schema.Version,
		CreatedUTC:    now,
		UpdatedUTC:    now,
	}
	data, err := (codec.JSON{}).Marshal(root)
	if err != nil {
		return nil, err
	}
	if err := blobs.Put(ctx, RootAttrsKey, data); err != nil {
		return nil, err
	}

	ds := newDataset(blobs, cfg, root)
	ds.log.Info("dataset created", "format", root.Format, "schema_version", root.SchemaVersion)
	return ds, nil
}

// Open opens an existing dataset and validates its root attributes. The
// schema version must match exactly; there is no forward compatibility.
func Open(ctx context.Context, blobs blobstore.Store, cfg Config) (*Dataset, error) {
	data, err := blobstore.Get(ctx, blobs, RootAttrsKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("dataset root attributes: %w", err)
		}
		return nil, err
	}
	var root schema.Root
	if err := (codec.JSON{}).Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("dataset root attributes: %w", err)
	}
	if err := schema.ValidateRoot(root); err != nil {
		return nil, err
	}
	if len(cfg.RequireGroups) > 0 {
		present, err := topLevelGroups(ctx, blobs)
		if err != nil {
			return nil, err
		}
		if err := schema.ValidateGroups(present, cfg.RequireGroups...); err != nil {
			return nil, err
		}
	}

	if cfg.ReadOnly {
		blobs = blobstore.ReadOnly(blobs)
	}
	return newDataset(blobs, cfg, root), nil
}

func newDataset(blobs blobstore.Store, cfg Config, root schema.Root) *Dataset {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Dataset{blobs: blobs, cfg: cfg, log: log, root: root}
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func topLevelGroups(ctx context.Context, blobs blobstore.Store) ([]string, error) {
	keys, err := blobs.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var groups []string
	seen := make(map[string]bool)
	for _, key := range keys {
		if i := strings.IndexByte(key, '/'); i > 0 {
			group := key[:i]
			if !seen[group] {
				seen[group] = true
				groups = append(groups, group)
			}
		}
	}
	return groups, nil
}

// Root returns the dataset root attributes.
func (ds *Dataset) Root() schema.Root {
	return ds.root
}

// ReadOnly reports whether mutating operations are rejected.
func (ds *Dataset) ReadOnly() bool {
	return ds.cfg.ReadOnly
}

// Store exposes the backing blob store.
func (ds *Dataset) Store() blobstore.Store {
	return ds.blobs
}

// Logger returns the dataset's structured logger.
func (ds *Dataset) Logger() *slog.Logger {
	return ds.log
}

// Close releases the dataset handle. The blob store itself is owned by the
// caller. Idempotent.
func (ds *Dataset) Close() error {
	if ds.closed {
		return nil
	}
	ds.closed = true
	return nil
}

// touchRoot advances the root updated_utc after a mutation.
func (ds *Dataset) touchRoot(ctx context.Context) error {
	ds.root.UpdatedUTC = nowUTC()
	data, err := (codec.JSON{}).Marshal(ds.root)
	if err != nil {
		return err
	}
	return ds.blobs.Put(ctx, RootAttrsKey, data)
}

// ImageIDs returns the sorted ids of all records.
func (ds *Dataset) ImageIDs(ctx context.Context) ([]string, error) {
	return manifest.ListImageIDs(ctx, ds.blobs)
}

// Record returns a handle to the record with the given id. The handle is
// valid whether or not the record exists yet.
func (ds *Dataset) Record(id string) *record.Record {
	return record.New(ds.blobs, id, record.Config{Compression: ds.cfg.Compression})
}

// AddImage stores a new pixel array under a freshly minted image id. The id
// is random and never derived from content or caller input, so adding the
// same array twice yields two distinct records.
func (ds *Dataset) AddImage(ctx context.Context, a *array.NDArray, opts record.SaveArrayOptions) (*record.Record, error) {
	if ds.cfg.ReadOnly {
		return nil, fmt.Errorf("add image: %w", blobstore.ErrReadOnly)
	}
	id := uuid.NewString()
	rec := ds.Record(id)
	opts.Overwrite = false
	if err := rec.SaveArray(ctx, a, opts); err != nil {
		return nil, err
	}
	if err := ds.touchRoot(ctx); err != nil {
		return nil, err
	}
	ds.log.Info("image added", "image_id", id, "shape", a.Shape, "dtype", a.DType.String())
	return rec, nil
}

// DeleteImage removes the record group and every artifact blob under the
// record's prefix, including orphaned ones.
func (ds *Dataset) DeleteImage(ctx context.Context, id string) error {
	if ds.cfg.ReadOnly {
		return fmt.Errorf("delete image: %w", blobstore.ErrReadOnly)
	}
	rec := ds.Record(id)
	keys, err := ds.blobs.List(ctx, rec.Prefix())
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("image %s: %w", id, blobstore.ErrNotFound)
	}
	if err := ds.deleteKeys(ctx, keys); err != nil {
		return err
	}
	if err := ds.touchRoot(ctx); err != nil {
		return err
	}
	ds.log.Info("image deleted", "image_id", id, "blobs_removed", len(keys))
	return nil
}

// ValidateImage checks that a record exists and satisfies the per-record
// schema invariants.
func (ds *Dataset) ValidateImage(ctx context.Context, id string) error {
	rec := ds.Record(id)
	keys, err := ds.blobs.List(ctx, rec.Prefix())
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return &schema.ValidationError{Detail: fmt.Sprintf("record group %s is missing", id)}
	}
	a, err := rec.LoadArray(ctx)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return &schema.ValidationError{Detail: fmt.Sprintf("record %s has no array", id)}
		}
		return err
	}
	return schema.ValidateArray(a)
}

// RebuildManifest rescans all records, persists the refreshed manifest and
// returns it.
func (ds *Dataset) RebuildManifest(ctx context.Context) (*manifest.Manifest, error) {
	m, err := manifest.Rebuild(ctx, ds.blobs, manifest.RebuildOptions{
		IncludeAnalysisKeys: ds.cfg.IncludeAnalysisKeys,
	})
	if err != nil {
		return nil, err
	}
	if !ds.cfg.ReadOnly {
		if err := manifest.Save(ctx, ds.blobs, m); err != nil {
			return nil, err
		}
	}
	ds.log.Debug("manifest rebuilt", "images", len(m.Images))
	return m, nil
}

// Manifest loads the cached manifest, rebuilding it when absent.
func (ds *Dataset) Manifest(ctx context.Context) (*manifest.Manifest, error) {
	m, err := manifest.Load(ctx, ds.blobs)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, err
	}
	return ds.RebuildManifest(ctx)
}

func tableKey(name string) string {
	return "tables/" + name + ".parquet"
}

// LoadTable reads a dataset-level named table. A missing table is an error;
// callers wanting an empty default must handle blobstore.ErrNotFound
// themselves.
func (ds *Dataset) LoadTable(ctx context.Context, name string) (*table.Table, error) {
	data, err := blobstore.Get(ctx, ds.blobs, tableKey(name))
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	return table.UnmarshalParquet(data)
}

// SaveTable writes a dataset-level named table.
func (ds *Dataset) SaveTable(ctx context.Context, name string, t *table.Table) error {
	data, err := table.MarshalParquet(t)
	if err != nil {
		return fmt.Errorf("table %s: %w", name, err)
	}
	if err := ds.blobs.Put(ctx, tableKey(name), data); err != nil {
		return err
	}
	return ds.touchRoot(ctx)
}

// ReplaceRowsForImageID drops every existing row for the given id from the
// named table and appends the new rows. This is a full per-id replacement,
// not a merge of individual rows.
func (ds *Dataset) ReplaceRowsForImageID(ctx context.Context, name, id string, rows *table.Table, idCol string) error {
	if !rows.HasColumn(idCol) {
		return fmt.Errorf("table %s: rows lack id column %q", name, idCol)
	}
	existing, err := ds.LoadTable(ctx, name)
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			return err
		}
		existing = table.New(rows.Columns()...)
	}
	merged := existing.Without(idCol, id)
	merged.Concat(rows)
	return ds.SaveTable(ctx, name, merged)
}

func (ds *Dataset) deleteKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := ds.cfg.Limits.Acquire(ctx); err != nil {
			return err
		}
		err := ds.blobs.Delete(ctx, key)
		ds.cfg.Limits.Release()
		if err != nil {
			return err
		}
	}
	return nil
}
