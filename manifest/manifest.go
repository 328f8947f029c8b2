// Package manifest maintains the dataset's rebuildable record index.
//
// The manifest is a cache: it is never authoritative and can always be
// reconstructed by scanning record storage. It exists so ordered traversal
// of records does not require touching every record group.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/codec"
	"github.com/mapmanager/kymflow-sub000/record"
	"github.com/mapmanager/kymflow-sub000/schema"
)

// Key is the blob key of the persisted manifest.
const Key = "index/manifest.json.gz"

// AcquiredMetadataKey is the metadata payload field holding the acquisition
// timestamp, when the acquisition tooling recorded one.
const AcquiredMetadataKey = "acquired_local_epoch_ns"

// Entry is the cached description of one record.
type Entry struct {
	ImageID              string   `json:"image_id"`
	Shape                []int    `json:"shape"`
	DType                string   `json:"dtype"`
	Chunks               []int    `json:"chunks"`
	Axes                 []string `json:"axes"`
	CreatedUTC           string   `json:"created_utc"`
	UpdatedUTC           string   `json:"updated_utc"`
	AcquiredLocalEpochNS *int64   `json:"acquired_local_epoch_ns"`
	AnalysisKeys         []string `json:"analysis_keys,omitempty"`
}

// Manifest is the dataset-level record index.
type Manifest struct {
	SchemaVersion int     `json:"schema_version"`
	Format        string  `json:"format"`
	CreatedUTC    string  `json:"created_utc"`
	UpdatedUTC    string  `json:"updated_utc"`
	Images        []Entry `json:"images"`
}

// Load reads the persisted manifest.
func Load(ctx context.Context, blobs blobstore.Store) (*Manifest, error) {
	data, err := blobstore.Get(ctx, blobs, Key)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := (codec.GzipJSON{}).Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &m, nil
}

// Save persists the manifest in its gzip-compressed form.
func Save(ctx context.Context, blobs blobstore.Store, m *Manifest) error {
	data, err := (codec.GzipJSON{}).Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	return blobs.Put(ctx, Key, data)
}

// RebuildOptions controls Rebuild.
type RebuildOptions struct {
	// IncludeAnalysisKeys lists each record's artifact names in its entry.
	IncludeAnalysisKeys bool
}

// Rebuild scans every record group and reconstructs the manifest. The
// previous manifest's created_utc is preserved; only updated_utc advances.
// Acquisition timestamps are extracted from record metadata best-effort:
// missing or malformed metadata yields a nil timestamp, never an error.
func Rebuild(ctx context.Context, blobs blobstore.Store, opts RebuildOptions) (*Manifest, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	m := &Manifest{
		SchemaVersion: schema.Version,
		Format:        schema.Format,
		CreatedUTC:    now,
		UpdatedUTC:    now,
	}
	if prev, err := Load(ctx, blobs); err == nil && prev.CreatedUTC != "" {
		m.CreatedUTC = prev.CreatedUTC
	}

	ids, err := ListImageIDs(ctx, blobs)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		entry, err := buildEntry(ctx, blobs, id, opts)
		if err != nil {
			return nil, err
		}
		m.Images = append(m.Images, entry)
	}
	return m, nil
}

// ListImageIDs returns the sorted ids of all record groups.
func ListImageIDs(ctx context.Context, blobs blobstore.Store) ([]string, error) {
	keys, err := blobs.List(ctx, "images/")
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := make(map[string]bool)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, "images/")
		id, _, ok := strings.Cut(rest, "/")
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	// List is sorted, so ids arrive sorted too.
	return ids, nil
}

func buildEntry(ctx context.Context, blobs blobstore.Store, id string, opts RebuildOptions) (Entry, error) {
	rec := record.New(blobs, id, record.Config{})

	entry := Entry{ImageID: id}

	// Records created artifact-first have no array yet; their entry simply
	// carries no shape.
	info, err := statArray(ctx, blobs, rec)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return Entry{}, fmt.Errorf("record %s: %w", id, err)
	}
	if err == nil {
		entry.Shape = info.Shape
		entry.DType = info.DType.String()
		entry.Chunks = info.Chunks
	}

	attrs, err := rec.Attrs(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("record %s: %w", id, err)
	}
	entry.Axes = attrs.Axes
	entry.CreatedUTC = attrs.CreatedUTC
	entry.UpdatedUTC = attrs.UpdatedUTC

	entry.AcquiredLocalEpochNS = acquiredEpochNS(ctx, rec)

	if opts.IncludeAnalysisKeys {
		keys, err := rec.AnalysisKeys(ctx)
		if err != nil {
			return Entry{}, fmt.Errorf("record %s: %w", id, err)
		}
		entry.AnalysisKeys = keys
	}
	return entry, nil
}

// statArray reads only the array header.
func statArray(ctx context.Context, blobs blobstore.Store, rec *record.Record) (array.Info, error) {
	b, err := blobs.Open(ctx, rec.Prefix()+"data")
	if err != nil {
		return array.Info{}, err
	}
	defer b.Close()

	header := make([]byte, min(int64(array.HeaderMaxSize), b.Size()))
	if _, err := b.ReadAt(ctx, header, 0); err != nil && !errors.Is(err, io.EOF) {
		return array.Info{}, err
	}
	return array.DecodeInfo(header)
}

func acquiredEpochNS(ctx context.Context, rec *record.Record) *int64 {
	payload, err := rec.LoadMetadataPayload(ctx)
	if err != nil {
		return nil
	}
	switch v := payload[AcquiredMetadataKey].(type) {
	case float64:
		ns := int64(v)
		return &ns
	case int64:
		return &v
	default:
		return nil
	}
}
