package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/record"
)

func seedRecord(t *testing.T, blobs blobstore.Store, id string, shape ...int) *record.Record {
	t.Helper()
	ctx := context.Background()
	rec := record.New(blobs, id, record.Config{})
	a, err := array.New(array.DTypeUint16, shape...)
	require.NoError(t, err)
	require.NoError(t, rec.SaveArray(ctx, a, record.SaveArrayOptions{}))
	return rec
}

func TestListImageIDs(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	seedRecord(t, blobs, "b", 4, 4)
	seedRecord(t, blobs, "a", 4, 4)
	require.NoError(t, blobs.Put(ctx, "tables/kym_x.parquet", []byte("x")))

	ids, err := ListImageIDs(ctx, blobs)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestRebuildAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	rec := seedRecord(t, blobs, "img-a", 8, 16)
	require.NoError(t, rec.SaveMetadataPayload(ctx, map[string]any{
		AcquiredMetadataKey: int64(1700000000000000000),
	}))
	seedRecord(t, blobs, "img-b", 4, 4)

	m, err := Rebuild(ctx, blobs, RebuildOptions{})
	require.NoError(t, err)
	require.Len(t, m.Images, 2)

	e := m.Images[0]
	require.Equal(t, "img-a", e.ImageID)
	require.Equal(t, []int{8, 16}, e.Shape)
	require.Equal(t, "uint16", e.DType)
	require.Equal(t, []string{"y", "x"}, e.Axes)
	require.NotNil(t, e.AcquiredLocalEpochNS)
	require.Equal(t, int64(1700000000000000000), *e.AcquiredLocalEpochNS)

	require.Nil(t, m.Images[1].AcquiredLocalEpochNS)

	require.NoError(t, Save(ctx, blobs, m))
	got, err := Load(ctx, blobs)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestRebuildPreservesCreated(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	seedRecord(t, blobs, "x", 4, 4)

	m1, err := Rebuild(ctx, blobs, RebuildOptions{})
	require.NoError(t, err)
	require.NoError(t, Save(ctx, blobs, m1))

	m2, err := Rebuild(ctx, blobs, RebuildOptions{})
	require.NoError(t, err)
	require.Equal(t, m1.CreatedUTC, m2.CreatedUTC)
}

func TestRebuildAnalysisKeys(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	rec := seedRecord(t, blobs, "x", 4, 4)
	require.NoError(t, rec.SaveJSON(ctx, "params", map[string]any{"a": 1}))

	m, err := Rebuild(ctx, blobs, RebuildOptions{IncludeAnalysisKeys: true})
	require.NoError(t, err)
	require.Equal(t, []string{"params.json"}, m.Images[0].AnalysisKeys)

	m, err = Rebuild(ctx, blobs, RebuildOptions{})
	require.NoError(t, err)
	require.Nil(t, m.Images[0].AnalysisKeys)
}

func TestRebuildToleratesArraylessRecord(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	rec := record.New(blobs, "meta-only", record.Config{})
	require.NoError(t, rec.SaveJSON(ctx, "notes", map[string]any{"n": 1}))

	m, err := Rebuild(ctx, blobs, RebuildOptions{})
	require.NoError(t, err)
	require.Len(t, m.Images, 1)
	require.Nil(t, m.Images[0].Shape)
	require.Empty(t, m.Images[0].DType)
}

func ns(v int64) *int64 { return &v }

func TestIterRecords(t *testing.T) {
	m := &Manifest{Images: []Entry{
		{ImageID: "c", CreatedUTC: "2026-01-03", AcquiredLocalEpochNS: ns(30)},
		{ImageID: "a", CreatedUTC: "2026-01-02"},
		{ImageID: "b", CreatedUTC: "2026-01-01", AcquiredLocalEpochNS: ns(10)},
	}}

	idsOf := func(entries []Entry) []string {
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.ImageID
		}
		return out
	}

	t.Run("by image id", func(t *testing.T) {
		got, err := m.IterRecords(OrderByImageID, MissingLast)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c"}, idsOf(got))
	})

	t.Run("by created", func(t *testing.T) {
		got, err := m.IterRecords(OrderByCreatedUTC, MissingLast)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "a", "c"}, idsOf(got))
	})

	t.Run("by acquired missing last", func(t *testing.T) {
		got, err := m.IterRecords(OrderByAcquired, MissingLast)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "c", "a"}, idsOf(got))
	})

	t.Run("by acquired missing first", func(t *testing.T) {
		got, err := m.IterRecords(OrderByAcquired, MissingFirst)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c"}, idsOf(got))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := m.IterRecords(OrderBy("size"), MissingLast)
		require.Error(t, err)
	})

	t.Run("input order untouched", func(t *testing.T) {
		require.Equal(t, "c", m.Images[0].ImageID)
	})
}

func TestImagesWithAnalysisKeys(t *testing.T) {
	m := &Manifest{Images: []Entry{
		{ImageID: "a", AnalysisKeys: []string{"metadata.json", "rows.parquet"}},
		{ImageID: "b", AnalysisKeys: []string{"metadata.json"}},
		{ImageID: "c"},
	}}

	t.Run("single key", func(t *testing.T) {
		got := m.ImagesWithAnalysisKeys("metadata.json")
		require.Len(t, got, 2)
	})

	t.Run("intersection", func(t *testing.T) {
		got := m.ImagesWithAnalysisKeys("metadata.json", "rows.parquet")
		require.Len(t, got, 1)
		require.Equal(t, "a", got[0].ImageID)
	})

	t.Run("unknown key", func(t *testing.T) {
		require.Empty(t, m.ImagesWithAnalysisKeys("nope.json"))
	})

	t.Run("no keys returns all", func(t *testing.T) {
		require.Len(t, m.ImagesWithAnalysisKeys(), 3)
	})
}
