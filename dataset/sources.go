package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/record"
	"github.com/mapmanager/kymflow-sub000/table"
)

// SourcesIndexKey is the blob key of the sources change-detection index.
const SourcesIndexKey = "index/sources.parquet"

// Sources index column names.
const (
	ColSourcePrimaryPath = "source_primary_path"
	ColImageID           = "image_id"
	ColSourceMtimeNS     = "source_mtime_ns"
	ColSourceSizeBytes   = "source_size_bytes"
	ColIngestedEpochNS   = "ingested_epoch_ns"
)

// RefreshMode selects how RefreshFromFolder treats already-known paths.
type RefreshMode string

const (
	// RefreshSkip ingests only paths absent from the sources index.
	RefreshSkip RefreshMode = "skip"
	// RefreshReingestIfChanged also re-ingests paths whose current
	// mtime/size differ from the most recently recorded entry.
	RefreshReingestIfChanged RefreshMode = "reingest_if_changed"
)

// LoadFunc decodes one external source file into a pixel array and an
// optional metadata payload. File-format decoding lives with the caller;
// the dataset only stores the result.
type LoadFunc func(path string) (*array.NDArray, map[string]any, error)

// RefreshStats summarizes one RefreshFromFolder run.
type RefreshStats struct {
	Scanned          int
	Ingested         int
	SkippedExisting  int
	SkippedUnchanged int
}

// LoadSourcesIndex reads the sources index. A dataset that never ingested
// anything yields an empty table, not an error.
func (ds *Dataset) LoadSourcesIndex(ctx context.Context) (*table.Table, error) {
	data, err := blobstore.Get(ctx, ds.blobs, SourcesIndexKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return table.New(ColSourcePrimaryPath, ColImageID, ColSourceMtimeNS,
				ColSourceSizeBytes, ColIngestedEpochNS), nil
		}
		return nil, err
	}
	return table.UnmarshalParquet(data)
}

func (ds *Dataset) saveSourcesIndex(ctx context.Context, t *table.Table) error {
	data, err := table.MarshalParquet(t)
	if err != nil {
		return err
	}
	return ds.blobs.Put(ctx, SourcesIndexKey, data)
}

// sourceState is the change-detection fingerprint of one ingested path.
type sourceState struct {
	mtimeNS int64
	size    int64
}

// latestSources folds the append-only index down to the most recently
// appended entry per path.
func latestSources(t *table.Table) map[string]sourceState {
	latest := make(map[string]sourceState, t.Len())
	for _, row := range t.Rows() {
		path, _ := row[ColSourcePrimaryPath].(string)
		if path == "" {
			continue
		}
		mtime, _ := row[ColSourceMtimeNS].(int64)
		size, _ := row[ColSourceSizeBytes].(int64)
		latest[path] = sourceState{mtimeNS: mtime, size: size}
	}
	return latest
}

// RefreshFromFolder enumerates files matching pattern below folder and
// ingests new (and, in reingest mode, changed) ones. Ingested rows are
// appended to the sources index; prior entries for the same path are kept,
// so the index doubles as an ingestion history. The manifest is rebuilt
// after any ingestion.
func (ds *Dataset) RefreshFromFolder(ctx context.Context, folder, pattern string, mode RefreshMode, load LoadFunc) (*RefreshStats, error) {
	if mode != RefreshSkip && mode != RefreshReingestIfChanged {
		return nil, fmt.Errorf("unsupported refresh mode %q", mode)
	}
	if ds.cfg.ReadOnly {
		return nil, fmt.Errorf("refresh from folder: %w", blobstore.ErrReadOnly)
	}
	if load == nil {
		return nil, fmt.Errorf("refresh from folder: nil load func")
	}

	paths, err := filepath.Glob(filepath.Join(folder, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	sort.Strings(paths)

	sources, err := ds.LoadSourcesIndex(ctx)
	if err != nil {
		return nil, err
	}
	latest := latestSources(sources)

	stats := &RefreshStats{}
	var appended []table.Row
	for _, path := range paths {
		stats.Scanned++

		fi, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		state := sourceState{mtimeNS: fi.ModTime().UnixNano(), size: fi.Size()}

		if prev, known := latest[path]; known {
			if mode == RefreshSkip {
				stats.SkippedExisting++
				continue
			}
			if prev == state {
				stats.SkippedUnchanged++
				continue
			}
		}

		if err := ds.cfg.Limits.WaitIO(ctx, int(fi.Size())); err != nil {
			return nil, err
		}
		rec, err := ds.ingestSource(ctx, path, load)
		if err != nil {
			return nil, fmt.Errorf("ingest %s: %w", path, err)
		}
		appended = append(appended, table.Row{
			ColSourcePrimaryPath: path,
			ColImageID:           rec.ImageID(),
			ColSourceMtimeNS:     state.mtimeNS,
			ColSourceSizeBytes:   state.size,
			ColIngestedEpochNS:   time.Now().UnixNano(),
		})
		latest[path] = state
		stats.Ingested++
	}

	if len(appended) > 0 {
		sources.Append(appended...)
		if err := ds.saveSourcesIndex(ctx, sources); err != nil {
			return nil, err
		}
		if _, err := ds.RebuildManifest(ctx); err != nil {
			return nil, err
		}
	}

	ds.log.Info("folder refresh complete",
		"folder", folder,
		"mode", string(mode),
		"scanned", stats.Scanned,
		"ingested", stats.Ingested,
		"skipped_existing", stats.SkippedExisting,
		"skipped_unchanged", stats.SkippedUnchanged,
	)
	return stats, nil
}

func (ds *Dataset) ingestSource(ctx context.Context, path string, load LoadFunc) (*record.Record, error) {
	a, meta, err := load(path)
	if err != nil {
		return nil, err
	}
	r, err := ds.AddImage(ctx, a, record.SaveArrayOptions{})
	if err != nil {
		return nil, err
	}
	if meta != nil {
		if err := r.SaveMetadataPayload(ctx, meta); err != nil {
			return nil, err
		}
	}
	return r, nil
}
