// Package record implements per-record storage: the pixel array, its group
// attributes, and the named analysis artifacts (JSON, tabular, array blobs).
//
// Key layout below the dataset root:
//
//	images/<id>/data                      chunked array blob
//	images/<id>/attrs.json                group attrs (axes, timestamps)
//	images/<id>/analysis/<name>.json      JSON artifact (canonical)
//	images/<id>/analysis/<name>.json.gz   JSON artifact (legacy, read-only)
//	images/<id>/analysis/<name>.parquet   tabular artifact (canonical)
//	images/<id>/analysis/<name>.csv.gz    tabular artifact (legacy, read-only)
//	images/<id>/analysis/<name>.arr       array artifact
//
// `metadata` is the reserved artifact name for the domain metadata payload;
// `runmarker_<indexer>` names are reserved for run markers.
package record

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/codec"
	"github.com/mapmanager/kymflow-sub000/marker"
	"github.com/mapmanager/kymflow-sub000/schema"
	"github.com/mapmanager/kymflow-sub000/table"
)

// MetadataArtifact is the reserved canonical artifact name for the
// per-record domain metadata payload.
const MetadataArtifact = "metadata"

// ErrMetadataNotFound distinguishes a missing metadata payload from a
// generic missing blob: callers commonly branch on it.
var ErrMetadataNotFound = errors.New("record metadata payload not found")

// ErrArrayExists is returned by SaveArray when the record already holds an
// array and overwrite was not requested.
var ErrArrayExists = errors.New("record array already exists")

// Attrs are the record group attributes.
type Attrs struct {
	Axes       []string `json:"axes"`
	CreatedUTC string   `json:"created_utc"`
	UpdatedUTC string   `json:"updated_utc"`
}

// Config carries cross-record settings handed down by the dataset.
type Config struct {
	// Compression applied to newly written array blobs.
	Compression array.Compression
}

// Record is a handle to one record's storage. It is cheap to construct and
// carries no per-record state beyond the id.
type Record struct {
	blobs blobstore.Store
	id    string
	cfg   Config
}

// New creates a handle for the record with the given id.
func New(blobs blobstore.Store, id string, cfg Config) *Record {
	return &Record{blobs: blobs, id: id, cfg: cfg}
}

// ImageID returns the record's globally unique id.
func (r *Record) ImageID() string {
	return r.id
}

// Prefix returns the key prefix owning every blob of this record.
func (r *Record) Prefix() string {
	return "images/" + r.id + "/"
}

func (r *Record) dataKey() string {
	return r.Prefix() + "data"
}

func (r *Record) attrsKey() string {
	return r.Prefix() + "attrs.json"
}

// AnalysisPrefix returns the key prefix of the record's artifact blobs.
func (r *Record) AnalysisPrefix() string {
	return r.Prefix() + "analysis/"
}

func (r *Record) artifactKey(name string) string {
	return r.AnalysisPrefix() + name
}

// SaveArrayOptions controls SaveArray.
type SaveArrayOptions struct {
	// Axes labels; inferred from dimensionality when nil.
	Axes []string
	// Chunks per axis; inferred from axes when nil.
	Chunks []int
	// Overwrite replaces an existing array in place. created_utc is
	// preserved; updated_utc advances.
	Overwrite bool
}

// SaveArray stores the record's pixel array.
func (r *Record) SaveArray(ctx context.Context, a *array.NDArray, opts SaveArrayOptions) error {
	if a == nil {
		return fmt.Errorf("nil array")
	}

	axes := opts.Axes
	if axes == nil {
		axes = a.Axes
	}
	if axes == nil {
		inferred, err := array.InferAxes(a.NDim())
		if err != nil {
			return err
		}
		axes = inferred
	}
	chunks := opts.Chunks
	if chunks == nil {
		chunks = a.Chunks
	}
	if chunks == nil {
		chunks = array.InferChunks(a.Shape, axes)
	}

	stored := a.Clone()
	stored.Axes = axes
	stored.Chunks = chunks
	if err := stored.Validate(); err != nil {
		return err
	}
	if err := schema.ValidateArray(stored); err != nil {
		return err
	}

	exists, err := blobstore.Exists(ctx, r.blobs, r.dataKey())
	if err != nil {
		return err
	}
	if exists && !opts.Overwrite {
		return fmt.Errorf("record %s: %w", r.id, ErrArrayExists)
	}
	prev, err := r.loadAttrs(ctx)
	hadAttrs := err == nil
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}

	encoded, err := array.Encode(stored, r.cfg.Compression)
	if err != nil {
		return err
	}
	if err := r.blobs.Put(ctx, r.dataKey(), encoded); err != nil {
		return err
	}

	now := nowUTC()
	attrs := Attrs{Axes: axes, CreatedUTC: now, UpdatedUTC: now}
	if hadAttrs {
		// created_utc is set once and never changed
		attrs.CreatedUTC = prev.CreatedUTC
	}
	return r.saveAttrs(ctx, attrs)
}

// LoadArray reads the record's pixel array, including its axes labels from
// the group attrs.
func (r *Record) LoadArray(ctx context.Context) (*array.NDArray, error) {
	data, err := blobstore.Get(ctx, r.blobs, r.dataKey())
	if err != nil {
		return nil, err
	}
	a, err := array.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.id, err)
	}
	attrs, err := r.loadAttrs(ctx)
	if err != nil {
		return nil, err
	}
	a.Axes = attrs.Axes
	return a, nil
}

// Exists reports whether the record has a stored array.
func (r *Record) Exists(ctx context.Context) (bool, error) {
	return blobstore.Exists(ctx, r.blobs, r.dataKey())
}

// Attrs returns the record group attributes.
func (r *Record) Attrs(ctx context.Context) (Attrs, error) {
	return r.loadAttrs(ctx)
}

func (r *Record) loadAttrs(ctx context.Context) (Attrs, error) {
	data, err := blobstore.Get(ctx, r.blobs, r.attrsKey())
	if err != nil {
		return Attrs{}, err
	}
	var attrs Attrs
	if err := (codec.JSON{}).Unmarshal(data, &attrs); err != nil {
		return Attrs{}, fmt.Errorf("record %s attrs: %w", r.id, err)
	}
	return attrs, nil
}

func (r *Record) saveAttrs(ctx context.Context, attrs Attrs) error {
	data, err := (codec.JSON{}).Marshal(attrs)
	if err != nil {
		return err
	}
	return r.blobs.Put(ctx, r.attrsKey(), data)
}

// touch refreshes updated_utc after a mutating artifact call. Records
// created artifact-first (no array yet) get fresh attrs.
func (r *Record) touch(ctx context.Context) error {
	attrs, err := r.loadAttrs(ctx)
	if errors.Is(err, blobstore.ErrNotFound) {
		now := nowUTC()
		attrs = Attrs{CreatedUTC: now, UpdatedUTC: now}
		return r.saveAttrs(ctx, attrs)
	}
	if err != nil {
		return err
	}
	attrs.UpdatedUTC = nowUTC()
	return r.saveAttrs(ctx, attrs)
}

// readFirst resolves an ordered list of candidate keys and returns the
// content of the first that exists. All artifact read fallbacks go through
// here so the canonical-then-legacy order lives in one place.
func (r *Record) readFirst(ctx context.Context, keys ...string) ([]byte, string, error) {
	for _, key := range keys {
		data, err := blobstore.Get(ctx, r.blobs, key)
		if err == nil {
			return data, key, nil
		}
		if !errors.Is(err, blobstore.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("record %s: none of %v: %w", r.id, keys, blobstore.ErrNotFound)
}

// SaveJSON writes a JSON artifact under its canonical name.
func (r *Record) SaveJSON(ctx context.Context, name string, v any) error {
	data, err := codec.Default.Marshal(v)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	if err := r.blobs.Put(ctx, r.artifactKey(name+".json"), data); err != nil {
		return err
	}
	return r.touch(ctx)
}

// LoadJSON reads a JSON artifact, trying the canonical `.json` key first and
// falling back to the legacy `.json.gz` form.
func (r *Record) LoadJSON(ctx context.Context, name string, out any) error {
	data, key, err := r.readFirst(ctx,
		r.artifactKey(name+".json"),
		r.artifactKey(name+".json.gz"),
	)
	if err != nil {
		return err
	}
	c := codec.Codec(codec.JSON{})
	if strings.HasSuffix(key, ".gz") {
		c = codec.GzipJSON{}
	}
	if err := c.Unmarshal(data, out); err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	return nil
}

// SaveDF writes a tabular artifact as Parquet.
func (r *Record) SaveDF(ctx context.Context, name string, t *table.Table) error {
	data, err := table.MarshalParquet(t)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	if err := r.blobs.Put(ctx, r.artifactKey(name+".parquet"), data); err != nil {
		return err
	}
	return r.touch(ctx)
}

// LoadDF reads a tabular artifact, trying Parquet first and falling back to
// the legacy gzip-CSV form.
func (r *Record) LoadDF(ctx context.Context, name string) (*table.Table, error) {
	data, key, err := r.readFirst(ctx,
		r.artifactKey(name+".parquet"),
		r.artifactKey(name+".csv.gz"),
	)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(key, ".csv.gz") {
		return table.UnmarshalCSVGz(data)
	}
	return table.UnmarshalParquet(data)
}

// SaveArrayArtifact writes a named secondary array (e.g. a filtered
// kymograph) as an artifact blob.
func (r *Record) SaveArrayArtifact(ctx context.Context, name string, a *array.NDArray) error {
	stored := a.Clone()
	if stored.Chunks == nil {
		axes := stored.Axes
		if axes == nil {
			inferred, err := array.InferAxes(stored.NDim())
			if err != nil {
				return err
			}
			axes = inferred
			stored.Axes = axes
		}
		stored.Chunks = array.InferChunks(stored.Shape, axes)
	}
	data, err := array.Encode(stored, r.cfg.Compression)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	if err := r.blobs.Put(ctx, r.artifactKey(name+".arr"), data); err != nil {
		return err
	}
	return r.touch(ctx)
}

// LoadArrayArtifact reads a named array artifact.
func (r *Record) LoadArrayArtifact(ctx context.Context, name string) (*array.NDArray, error) {
	data, err := blobstore.Get(ctx, r.blobs, r.artifactKey(name+".arr"))
	if err != nil {
		return nil, err
	}
	return array.Decode(data)
}

// SaveMetadataPayload stores the canonical per-record domain metadata dict.
func (r *Record) SaveMetadataPayload(ctx context.Context, payload map[string]any) error {
	return r.SaveJSON(ctx, MetadataArtifact, payload)
}

// LoadMetadataPayload loads the canonical per-record domain metadata dict.
// A missing payload is reported as ErrMetadataNotFound.
func (r *Record) LoadMetadataPayload(ctx context.Context) (map[string]any, error) {
	var payload map[string]any
	if err := r.LoadJSON(ctx, MetadataArtifact, &payload); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("record %s: %w", r.id, ErrMetadataNotFound)
		}
		return nil, err
	}
	return payload, nil
}

// AnalysisKeys returns the artifact blob names of this record (file names
// under the analysis prefix), sorted.
func (r *Record) AnalysisKeys(ctx context.Context) ([]string, error) {
	keys, err := r.blobs.List(ctx, r.AnalysisPrefix())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, path.Base(key))
	}
	return names, nil
}

// DeleteAnalysis removes artifact blobs, optionally restricted to keys
// ending in one of the given suffixes, and returns the count removed.
// Removing zero blobs is not an error.
func (r *Record) DeleteAnalysis(ctx context.Context, suffixes ...string) (int, error) {
	keys, err := r.blobs.List(ctx, r.AnalysisPrefix())
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if len(suffixes) > 0 && !hasAnySuffix(key, suffixes) {
			continue
		}
		if err := r.blobs.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		if err := r.touch(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func hasAnySuffix(key string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// LoadRunMarker reads the run marker for the given indexer name. The marker
// is returned unvalidated; staleness evaluation treats invalid markers as
// absent.
func (r *Record) LoadRunMarker(ctx context.Context, indexerName string) (*marker.Marker, error) {
	var m marker.Marker
	if err := r.LoadJSON(ctx, "runmarker_"+indexerName, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveRunMarker validates and writes the run marker, overwriting any
// previous marker for the same indexer.
func (r *Record) SaveRunMarker(ctx context.Context, m *marker.Marker) error {
	if err := marker.Validate(m); err != nil {
		return fmt.Errorf("record %s: %w", r.id, err)
	}
	return r.SaveJSON(ctx, "runmarker_"+m.IndexerName, m)
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
