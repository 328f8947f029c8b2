package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/dataset"
	"github.com/mapmanager/kymflow-sub000/marker"
	"github.com/mapmanager/kymflow-sub000/record"
)

// Mode selects how UpdateIndex treats records that already have rows.
type Mode string

const (
	// ModeReplace recomputes every record unconditionally.
	ModeReplace Mode = "replace"
	// ModeIncremental evaluates staleness per record and skips fresh ones.
	ModeIncremental Mode = "incremental"
)

// Provenance columns the orchestrator stamps on every extracted row,
// overwriting any values the indexer set.
const (
	ColImageID         = dataset.ColImageID
	ColParamsHash      = "params_hash"
	ColAnalysisVersion = "analysis_version"
)

// TablePrefix is prepended to an indexer name to form its table name.
const TablePrefix = "kym_"

var nameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// reservedPrefixes may not start an indexer name; kym_ would collide with
// derived table names, the others with fixed storage keys.
var reservedPrefixes = []string{"kym_", "tables/", "index/"}

// ConfigError reports an invalid indexer name or mode. It is always returned
// before any storage access.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "index config: " + e.Detail
}

// ErrNotTable is returned when an indexer's ExtractRows yields no table.
var ErrNotTable = errors.New("indexer returned no table")

// TableNameFor validates an indexer name and derives its table name.
func TableNameFor(indexerName string) (string, error) {
	if !nameRE.MatchString(indexerName) {
		return "", &ConfigError{Detail: fmt.Sprintf("indexer name %q must match %s", indexerName, nameRE)}
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(indexerName, p) {
			return "", &ConfigError{Detail: fmt.Sprintf("indexer name %q uses reserved prefix %q", indexerName, p)}
		}
	}
	return TablePrefix + indexerName, nil
}

// Stats aggregates one UpdateIndex run. When no record fails outright,
// Updated + SkippedFresh + SkippedZeroRows == TotalImages.
type Stats struct {
	Updated                  int `json:"updated"`
	SkippedFresh             int `json:"skipped_fresh"`
	SkippedZeroRows          int `json:"skipped_zero_rows"`
	StaleMissingMarker       int `json:"stale_missing_marker"`
	StaleMarkerTableMismatch int `json:"stale_marker_table_mismatch"`
	TotalImages              int `json:"total_images"`
}

// Orchestrator drives indexers over a dataset: staleness evaluation, row
// replacement, provenance stamping, and run markers. Records are visited in
// sorted id order, so runs over an unchanged dataset are deterministic.
type Orchestrator struct {
	ds  *dataset.Dataset
	log *slog.Logger
}

// NewOrchestrator wraps a dataset. A nil logger inherits the dataset's.
func NewOrchestrator(ds *dataset.Dataset, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = ds.Logger()
	}
	return &Orchestrator{ds: ds, log: logger}
}

// Evaluate reports the staleness decision for one record without touching the
// target table or marker.
func (o *Orchestrator) Evaluate(ctx context.Context, ix Indexer, imageID string) (*Result, error) {
	tableName, err := TableNameFor(ix.Name())
	if err != nil {
		return nil, err
	}
	slices, err := o.tableSlices(ctx, tableName)
	if err != nil {
		return nil, err
	}
	rec := o.ds.Record(imageID)
	hash, err := ix.ParamsHash(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("params hash for %s: %w", imageID, err)
	}
	m, err := o.loadMarker(ctx, ix, rec)
	if err != nil {
		return nil, err
	}
	res := evaluate(imageID, tableName, slices[imageID], m, hash, ix.AnalysisVersion())
	return &res, nil
}

// UpdateIndex runs the indexer over every record. Per-record extraction or
// write failures abort the run; rows and markers written before the failure
// remain applied.
func (o *Orchestrator) UpdateIndex(ctx context.Context, ix Indexer, mode Mode) (*Stats, error) {
	tableName, err := TableNameFor(ix.Name())
	if err != nil {
		return nil, err
	}
	if mode != ModeReplace && mode != ModeIncremental {
		return nil, &ConfigError{Detail: fmt.Sprintf("unknown mode %q", mode)}
	}
	if o.ds.ReadOnly() {
		return nil, fmt.Errorf("update index %s: %w", ix.Name(), blobstore.ErrReadOnly)
	}

	ids, err := o.ds.ImageIDs(ctx)
	if err != nil {
		return nil, err
	}
	slices, err := o.tableSlices(ctx, tableName)
	if err != nil {
		return nil, err
	}
	version := ix.AnalysisVersion()

	stats := &Stats{TotalImages: len(ids)}
	for _, id := range ids {
		rec := o.ds.Record(id)
		hash, err := ix.ParamsHash(ctx, rec)
		if err != nil {
			return stats, fmt.Errorf("params hash for %s: %w", id, err)
		}

		if mode == ModeIncremental {
			m, err := o.loadMarker(ctx, ix, rec)
			if err != nil {
				return stats, err
			}
			res := evaluate(id, tableName, slices[id], m, hash, version)
			if !res.IsStale {
				if res.Reason == ReasonFreshZeroRows {
					stats.SkippedZeroRows++
				} else {
					stats.SkippedFresh++
				}
				continue
			}
			switch res.Reason {
			case ReasonStaleMissingMarker:
				stats.StaleMissingMarker++
			case ReasonStaleMarkerTableMismatch:
				stats.StaleMarkerTableMismatch++
			}
			o.log.Debug("record stale", "indexer", ix.Name(), "image_id", id, "reason", string(res.Reason))
		}

		rows, err := ix.ExtractRows(ctx, rec)
		if err != nil {
			return stats, fmt.Errorf("extract rows for %s: %w", id, err)
		}
		if rows == nil {
			return stats, fmt.Errorf("indexer %s, image %s: %w", ix.Name(), id, ErrNotTable)
		}
		rows.Set(ColImageID, id)
		rows.Set(ColParamsHash, hash)
		rows.Set(ColAnalysisVersion, version)
		if err := o.ds.ReplaceRowsForImageID(ctx, tableName, id, rows, ColImageID); err != nil {
			return stats, err
		}

		m := &marker.Marker{
			MarkerVersion:   marker.Version,
			IndexerName:     ix.Name(),
			ParamsHash:      hash,
			AnalysisVersion: version,
			NRows:           int64(rows.Len()),
			RanUTCEpochNS:   time.Now().UnixNano(),
			Status:          marker.StatusOK,
		}
		if err := o.saveMarker(ctx, ix, rec, m); err != nil {
			return stats, err
		}
		stats.Updated++
	}

	o.log.Info("index updated",
		"indexer", ix.Name(),
		"table", tableName,
		"mode", string(mode),
		"updated", stats.Updated,
		"skipped_fresh", stats.SkippedFresh,
		"skipped_zero_rows", stats.SkippedZeroRows,
		"stale_missing_marker", stats.StaleMissingMarker,
		"stale_marker_table_mismatch", stats.StaleMarkerTableMismatch,
		"total_images", stats.TotalImages,
	)
	return stats, nil
}

// tableSlices loads the target table once and summarizes, per image_id, the
// stored provenance columns. Later rows win so the summary matches the most
// recent replacement.
func (o *Orchestrator) tableSlices(ctx context.Context, tableName string) (map[string]tableSlice, error) {
	t, err := o.ds.LoadTable(ctx, tableName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return map[string]tableSlice{}, nil
		}
		return nil, err
	}
	slices := make(map[string]tableSlice)
	for _, row := range t.Rows() {
		id, _ := row[ColImageID].(string)
		if id == "" {
			continue
		}
		hash, _ := row[ColParamsHash].(string)
		version, _ := row[ColAnalysisVersion].(string)
		slices[id] = tableSlice{present: true, paramsHash: hash, analysisVersion: version}
	}
	return slices, nil
}

// loadMarker prefers the indexer's own MarkerStore hook, falling back to the
// per-record marker artifact. Absent or unreadable markers come back nil.
func (o *Orchestrator) loadMarker(ctx context.Context, ix Indexer, rec *record.Record) (*marker.Marker, error) {
	if ms, ok := ix.(MarkerStore); ok {
		m, err := ms.LoadRunMarker(ctx, rec)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return m, nil
	}
	m, err := rec.LoadRunMarker(ctx, ix.Name())
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (o *Orchestrator) saveMarker(ctx context.Context, ix Indexer, rec *record.Record, m *marker.Marker) error {
	if ms, ok := ix.(MarkerStore); ok {
		return ms.WriteRunMarker(ctx, rec, m)
	}
	return rec.SaveRunMarker(ctx, m)
}
