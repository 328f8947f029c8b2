package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/dataset"
	"github.com/mapmanager/kymflow-sub000/marker"
	"github.com/mapmanager/kymflow-sub000/provenance"
	"github.com/mapmanager/kymflow-sub000/record"
	"github.com/mapmanager/kymflow-sub000/table"
)

// fakeIndexer emits a configurable number of rows per record.
type fakeIndexer struct {
	name    string
	version string
	params  map[string]any
	rowsFor map[string]int
	calls   int
}

func (f *fakeIndexer) Name() string            { return f.name }
func (f *fakeIndexer) AnalysisVersion() string { return f.version }

func (f *fakeIndexer) ParamsHash(context.Context, *record.Record) (string, error) {
	return provenance.ParamsHash(f.params)
}

func (f *fakeIndexer) ExtractRows(_ context.Context, rec *record.Record) (*table.Table, error) {
	f.calls++
	t := table.New("image_id", "angle")
	for i := 0; i < f.rowsFor[rec.ImageID()]; i++ {
		t.Append(table.Row{"angle": float64(i) * 0.5})
	}
	return t, nil
}

func testDataset(t *testing.T, n int) (*dataset.Dataset, []string) {
	t.Helper()
	ctx := context.Background()
	ds, err := dataset.Create(ctx, blobstore.NewMemoryStore(), dataset.Config{})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		a, err := array.New(array.DTypeUint16, 4, 4)
		require.NoError(t, err)
		_, err = ds.AddImage(ctx, a, record.SaveArrayOptions{})
		require.NoError(t, err)
	}
	ids, err := ds.ImageIDs(ctx)
	require.NoError(t, err)
	return ds, ids
}

func TestTableNameFor(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "radon", want: "kym_radon"},
		{in: "flow_v2", want: "kym_flow_v2"},
		{in: "Radon", wantErr: true},
		{in: "", wantErr: true},
		{in: "has space", wantErr: true},
		{in: "kym_radon", wantErr: true},
		{in: "tables/x", wantErr: true},
		{in: "index/x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := TableNameFor(tt.in)
			if tt.wantErr {
				var ce *ConfigError
				require.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestUpdateIndexScenario(t *testing.T) {
	ctx := context.Background()
	ds, ids := testDataset(t, 2)
	orch := NewOrchestrator(ds, nil)

	ix := &fakeIndexer{
		name:    "radon",
		version: "v1",
		params:  map[string]any{"sigma": 1.5},
		rowsFor: map[string]int{ids[0]: 3, ids[1]: 0},
	}

	stats, err := orch.UpdateIndex(ctx, ix, ModeIncremental)
	require.NoError(t, err)
	require.Equal(t, &Stats{Updated: 2, StaleMissingMarker: 2, TotalImages: 2}, stats)

	tbl, err := ds.LoadTable(ctx, "kym_radon")
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Where("image_id", ids[0]).Len())
	require.Equal(t, 0, tbl.Where("image_id", ids[1]).Len())

	// Provenance columns stamped on every row.
	hash, err := ix.ParamsHash(ctx, nil)
	require.NoError(t, err)
	for _, row := range tbl.Rows() {
		require.Equal(t, hash, row["params_hash"])
		require.Equal(t, "v1", row["analysis_version"])
	}

	m0, err := ds.Record(ids[0]).LoadRunMarker(ctx, "radon")
	require.NoError(t, err)
	require.Equal(t, int64(3), m0.NRows)
	require.Equal(t, "ok", m0.Status)

	m1, err := ds.Record(ids[1]).LoadRunMarker(ctx, "radon")
	require.NoError(t, err)
	require.Equal(t, int64(0), m1.NRows)

	t.Run("second incremental run skips everything", func(t *testing.T) {
		before := ix.calls
		stats, err := orch.UpdateIndex(ctx, ix, ModeIncremental)
		require.NoError(t, err)
		require.Equal(t, &Stats{SkippedFresh: 1, SkippedZeroRows: 1, TotalImages: 2}, stats)
		require.Equal(t, stats.TotalImages, stats.Updated+stats.SkippedFresh+stats.SkippedZeroRows)
		require.Equal(t, before, ix.calls)
	})

	t.Run("version bump reprocesses everything", func(t *testing.T) {
		ix.version = "v2"
		stats, err := orch.UpdateIndex(ctx, ix, ModeIncremental)
		require.NoError(t, err)
		require.Equal(t, 2, stats.Updated)

		tbl, err := ds.LoadTable(ctx, "kym_radon")
		require.NoError(t, err)
		for _, row := range tbl.Rows() {
			require.Equal(t, "v2", row["analysis_version"])
		}
	})

	t.Run("params change reprocesses everything", func(t *testing.T) {
		ix.params = map[string]any{"sigma": 2.0}
		stats, err := orch.UpdateIndex(ctx, ix, ModeIncremental)
		require.NoError(t, err)
		require.Equal(t, 2, stats.Updated)
	})

	t.Run("replace mode always recomputes", func(t *testing.T) {
		stats, err := orch.UpdateIndex(ctx, ix, ModeReplace)
		require.NoError(t, err)
		require.Equal(t, 2, stats.Updated)
		require.Equal(t, 2, stats.TotalImages)
	})
}

func TestUpdateIndexRowCountStaysStable(t *testing.T) {
	ctx := context.Background()
	ds, ids := testDataset(t, 1)
	orch := NewOrchestrator(ds, nil)

	ix := &fakeIndexer{
		name:    "radon",
		version: "v1",
		params:  map[string]any{},
		rowsFor: map[string]int{ids[0]: 3},
	}

	for i := 0; i < 3; i++ {
		_, err := orch.UpdateIndex(ctx, ix, ModeReplace)
		require.NoError(t, err)
	}

	tbl, err := ds.LoadTable(ctx, "kym_radon")
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())
}

func TestUpdateIndexValidation(t *testing.T) {
	ctx := context.Background()
	ds, _ := testDataset(t, 1)
	orch := NewOrchestrator(ds, nil)

	t.Run("bad name fails before storage", func(t *testing.T) {
		ix := &fakeIndexer{name: "Radon", version: "v1", params: map[string]any{}}
		_, err := orch.UpdateIndex(ctx, ix, ModeIncremental)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		require.Zero(t, ix.calls)
	})

	t.Run("reserved prefix fails", func(t *testing.T) {
		ix := &fakeIndexer{name: "kym_radon", version: "v1", params: map[string]any{}}
		_, err := orch.UpdateIndex(ctx, ix, ModeIncremental)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("bad mode fails", func(t *testing.T) {
		ix := &fakeIndexer{name: "radon", version: "v1", params: map[string]any{}}
		_, err := orch.UpdateIndex(ctx, ix, Mode("always"))
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
	})
}

func TestUpdateIndexReadOnly(t *testing.T) {
	ctx := context.Background()
	ds, _ := testDataset(t, 1)

	ro, err := dataset.Open(ctx, ds.Store(), dataset.Config{ReadOnly: true})
	require.NoError(t, err)

	orch := NewOrchestrator(ro, nil)
	ix := &fakeIndexer{name: "radon", version: "v1", params: map[string]any{}}
	_, err = orch.UpdateIndex(ctx, ix, ModeIncremental)
	require.ErrorIs(t, err, blobstore.ErrReadOnly)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	ds, ids := testDataset(t, 1)
	orch := NewOrchestrator(ds, nil)

	ix := &fakeIndexer{
		name:    "radon",
		version: "v1",
		params:  map[string]any{},
		rowsFor: map[string]int{ids[0]: 1},
	}

	res, err := orch.Evaluate(ctx, ix, ids[0])
	require.NoError(t, err)
	require.True(t, res.IsStale)
	require.Equal(t, ReasonStaleMissingMarker, res.Reason)

	_, err = orch.UpdateIndex(ctx, ix, ModeIncremental)
	require.NoError(t, err)

	res, err = orch.Evaluate(ctx, ix, ids[0])
	require.NoError(t, err)
	require.False(t, res.IsStale)
	require.Equal(t, ReasonFreshRows, res.Reason)
}

// hookIndexer keeps run markers in memory instead of record storage.
type hookIndexer struct {
	fakeIndexer
	markers map[string]*marker.Marker
}

func (h *hookIndexer) LoadRunMarker(_ context.Context, rec *record.Record) (*marker.Marker, error) {
	m, ok := h.markers[rec.ImageID()]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return m, nil
}

func (h *hookIndexer) WriteRunMarker(_ context.Context, rec *record.Record, m *marker.Marker) error {
	h.markers[rec.ImageID()] = m
	return nil
}

func TestMarkerStoreHook(t *testing.T) {
	ctx := context.Background()
	ds, ids := testDataset(t, 1)
	orch := NewOrchestrator(ds, nil)

	ix := &hookIndexer{
		fakeIndexer: fakeIndexer{
			name:    "radon",
			version: "v1",
			params:  map[string]any{},
			rowsFor: map[string]int{ids[0]: 2},
		},
		markers: map[string]*marker.Marker{},
	}

	_, err := orch.UpdateIndex(ctx, ix, ModeIncremental)
	require.NoError(t, err)

	// Marker went to the hook, not to record storage.
	require.Len(t, ix.markers, 1)
	_, err = ds.Record(ids[0]).LoadRunMarker(ctx, "radon")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	// And the hook's marker keeps the second run fresh.
	stats, err := orch.UpdateIndex(ctx, ix, ModeIncremental)
	require.NoError(t, err)
	require.Equal(t, 1, stats.SkippedFresh)
}
