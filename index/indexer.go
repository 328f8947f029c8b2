package index

import (
	"context"

	"github.com/mapmanager/kymflow-sub000/marker"
	"github.com/mapmanager/kymflow-sub000/record"
	"github.com/mapmanager/kymflow-sub000/table"
)

// Indexer extracts analysis rows from a single record. Implementations are
// pure with respect to the record: the orchestrator owns table writes, run
// markers, and provenance stamping.
type Indexer interface {
	// Name is the indexer identifier. It must match ^[a-z0-9_]+$ and must not
	// start with a reserved prefix; the orchestrator validates it before any
	// storage access.
	Name() string

	// AnalysisVersion identifies the extraction algorithm revision. Bumping it
	// marks every previously indexed record stale.
	AnalysisVersion() string

	// ParamsHash returns the stable hash of the effective parameters for this
	// record, typically provenance.ParamsHash over a params struct.
	ParamsHash(ctx context.Context, rec *record.Record) (string, error)

	// ExtractRows computes the index rows for one record. Zero rows is a valid
	// outcome and is recorded distinctly from "never ran".
	ExtractRows(ctx context.Context, rec *record.Record) (*table.Table, error)
}

// MarkerStore lets an indexer take over run-marker persistence, e.g. to keep
// markers in an external system. Indexers that do not implement it get the
// default per-record marker artifacts.
type MarkerStore interface {
	LoadRunMarker(ctx context.Context, rec *record.Record) (*marker.Marker, error)
	WriteRunMarker(ctx context.Context, rec *record.Record, m *marker.Marker) error
}
