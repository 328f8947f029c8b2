package dataset

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/internal/ratelimit"
	"github.com/mapmanager/kymflow-sub000/record"
	"github.com/mapmanager/kymflow-sub000/table"
)

func testArray(t *testing.T, shape ...int) *array.NDArray {
	t.Helper()
	a, err := array.New(array.DTypeUint16, shape...)
	require.NoError(t, err)
	return a
}

func testDataset(t *testing.T) (*Dataset, blobstore.Store) {
	t.Helper()
	blobs := blobstore.NewMemoryStore()
	ds, err := Create(context.Background(), blobs, Config{})
	require.NoError(t, err)
	return ds, blobs
}

func TestCreateOpen(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	ds, err := Create(ctx, blobs, Config{})
	require.NoError(t, err)
	require.NotEmpty(t, ds.Root().CreatedUTC)

	t.Run("create twice fails", func(t *testing.T) {
		_, err := Create(ctx, blobs, Config{})
		require.ErrorIs(t, err, ErrExists)
	})

	t.Run("open validates root", func(t *testing.T) {
		got, err := Open(ctx, blobs, Config{})
		require.NoError(t, err)
		require.Equal(t, ds.Root().Format, got.Root().Format)
	})

	t.Run("open empty store fails", func(t *testing.T) {
		_, err := Open(ctx, blobstore.NewMemoryStore(), Config{})
		require.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("open corrupt root fails", func(t *testing.T) {
		bad := blobstore.NewMemoryStore()
		require.NoError(t, bad.Put(ctx, RootAttrsKey, []byte(`{"format":"zarr","schema_version":1}`)))
		_, err := Open(ctx, bad, Config{})
		require.Error(t, err)
	})
}

func TestOpenRequireGroups(t *testing.T) {
	ctx := context.Background()
	ds, blobs := testDataset(t)
	_, err := ds.AddImage(ctx, testArray(t, 4, 4), record.SaveArrayOptions{})
	require.NoError(t, err)

	_, err = Open(ctx, blobs, Config{RequireGroups: []string{"images"}})
	require.NoError(t, err)

	_, err = Open(ctx, blobs, Config{RequireGroups: []string{"images", "tables"}})
	require.Error(t, err)
}

func TestAddImageMintsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	ds, _ := testDataset(t)

	a := testArray(t, 4, 4)
	r1, err := ds.AddImage(ctx, a, record.SaveArrayOptions{})
	require.NoError(t, err)
	r2, err := ds.AddImage(ctx, a, record.SaveArrayOptions{})
	require.NoError(t, err)
	require.NotEqual(t, r1.ImageID(), r2.ImageID())

	ids, err := ds.ImageIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestDeleteImage(t *testing.T) {
	ctx := context.Background()
	ds, blobs := testDataset(t)

	rec, err := ds.AddImage(ctx, testArray(t, 4, 4), record.SaveArrayOptions{})
	require.NoError(t, err)
	require.NoError(t, rec.SaveJSON(ctx, "params", map[string]any{"a": 1}))

	require.NoError(t, ds.DeleteImage(ctx, rec.ImageID()))

	keys, err := blobs.List(ctx, rec.Prefix())
	require.NoError(t, err)
	require.Empty(t, keys)

	require.ErrorIs(t, ds.DeleteImage(ctx, rec.ImageID()), blobstore.ErrNotFound)
}

func TestValidateImage(t *testing.T) {
	ctx := context.Background()
	ds, _ := testDataset(t)

	rec, err := ds.AddImage(ctx, testArray(t, 4, 4), record.SaveArrayOptions{})
	require.NoError(t, err)
	require.NoError(t, ds.ValidateImage(ctx, rec.ImageID()))

	require.Error(t, ds.ValidateImage(ctx, "missing-id"))
}

func TestReadOnlyDataset(t *testing.T) {
	ctx := context.Background()
	ds, blobs := testDataset(t)
	_, err := ds.AddImage(ctx, testArray(t, 4, 4), record.SaveArrayOptions{})
	require.NoError(t, err)

	ro, err := Open(ctx, blobs, Config{ReadOnly: true})
	require.NoError(t, err)
	require.True(t, ro.ReadOnly())

	_, err = ro.AddImage(ctx, testArray(t, 4, 4), record.SaveArrayOptions{})
	require.ErrorIs(t, err, blobstore.ErrReadOnly)

	ids, err := ro.ImageIDs(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, ro.DeleteImage(ctx, ids[0]), blobstore.ErrReadOnly)

	// Reads still work.
	rec := ro.Record(ids[0])
	_, err = rec.LoadArray(ctx)
	require.NoError(t, err)

	// Rebuild works but does not persist.
	m, err := ro.RebuildManifest(ctx)
	require.NoError(t, err)
	require.Len(t, m.Images, 1)
	ok, err := blobstore.Exists(ctx, blobs, "index/manifest.json.gz")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManifestLazyRebuild(t *testing.T) {
	ctx := context.Background()
	ds, _ := testDataset(t)
	_, err := ds.AddImage(ctx, testArray(t, 4, 4), record.SaveArrayOptions{})
	require.NoError(t, err)

	m, err := ds.Manifest(ctx)
	require.NoError(t, err)
	require.Len(t, m.Images, 1)

	// Second call loads the persisted copy.
	m2, err := ds.Manifest(ctx)
	require.NoError(t, err)
	require.Equal(t, m.CreatedUTC, m2.CreatedUTC)
}

func TestTables(t *testing.T) {
	ctx := context.Background()
	ds, _ := testDataset(t)

	_, err := ds.LoadTable(ctx, "kym_radon")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	tbl := table.New("image_id", "v")
	tbl.Append(table.Row{"image_id": "a", "v": int64(1)})
	require.NoError(t, ds.SaveTable(ctx, "kym_radon", tbl))

	got, err := ds.LoadTable(ctx, "kym_radon")
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
}

func TestReplaceRowsForImageID(t *testing.T) {
	ctx := context.Background()
	ds, _ := testDataset(t)

	seed := table.New("image_id", "v")
	seed.Append(
		table.Row{"image_id": "a", "v": int64(1)},
		table.Row{"image_id": "b", "v": int64(2)},
	)
	require.NoError(t, ds.SaveTable(ctx, "kym_x", seed))

	t.Run("replaces only the target id", func(t *testing.T) {
		rows := table.New("image_id", "v")
		rows.Append(
			table.Row{"image_id": "a", "v": int64(10)},
			table.Row{"image_id": "a", "v": int64(11)},
		)
		require.NoError(t, ds.ReplaceRowsForImageID(ctx, "kym_x", "a", rows, "image_id"))

		got, err := ds.LoadTable(ctx, "kym_x")
		require.NoError(t, err)
		require.Equal(t, 3, got.Len())
		require.Equal(t, 2, got.Where("image_id", "a").Len())
		require.Equal(t, 1, got.Where("image_id", "b").Len())
	})

	t.Run("zero rows clears the id", func(t *testing.T) {
		empty := table.New("image_id", "v")
		require.NoError(t, ds.ReplaceRowsForImageID(ctx, "kym_x", "a", empty, "image_id"))

		got, err := ds.LoadTable(ctx, "kym_x")
		require.NoError(t, err)
		require.Equal(t, 0, got.Where("image_id", "a").Len())
		require.Equal(t, 1, got.Where("image_id", "b").Len())
	})

	t.Run("absent table is created", func(t *testing.T) {
		rows := table.New("image_id", "v")
		rows.Append(table.Row{"image_id": "c", "v": int64(5)})
		require.NoError(t, ds.ReplaceRowsForImageID(ctx, "kym_new", "c", rows, "image_id"))

		got, err := ds.LoadTable(ctx, "kym_new")
		require.NoError(t, err)
		require.Equal(t, 1, got.Len())
	})

	t.Run("missing id column fails", func(t *testing.T) {
		rows := table.New("v")
		rows.Append(table.Row{"v": int64(1)})
		require.Error(t, ds.ReplaceRowsForImageID(ctx, "kym_x", "a", rows, "image_id"))
	})
}

func TestExportTo(t *testing.T) {
	ctx := context.Background()
	ds, blobs := testDataset(t)

	rec, err := ds.AddImage(ctx, testArray(t, 4, 4), record.SaveArrayOptions{})
	require.NoError(t, err)
	require.NoError(t, rec.SaveJSON(ctx, "params", map[string]any{"a": 1}))

	dst := blobstore.NewMemoryStore()
	require.NoError(t, ds.ExportTo(ctx, dst))

	srcKeys, err := blobs.List(ctx, "")
	require.NoError(t, err)
	dstKeys, err := dst.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, srcKeys, dstKeys)

	// A copied dataset opens cleanly.
	_, err = Open(ctx, dst, Config{})
	require.NoError(t, err)
}

// rejectingStore fails the first Put and parks every later Put on ctx until
// the export cancels it. Tracks in-flight writes so tests can assert none
// outlive ExportTo.
type rejectingStore struct {
	blobstore.Store
	failed   atomic.Bool
	inFlight atomic.Int32
}

func (s *rejectingStore) Put(ctx context.Context, key string, data []byte) error {
	if s.failed.CompareAndSwap(false, true) {
		return errors.New("destination rejected blob")
	}
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	<-ctx.Done()
	return ctx.Err()
}

func TestExportToDrainsCopiesOnFailure(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ds, err := Create(ctx, blobs, Config{Limits: ratelimit.New(ratelimit.Config{MaxConcurrent: 2})})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := ds.AddImage(ctx, testArray(t, 4, 4), record.SaveArrayOptions{})
		require.NoError(t, err)
	}

	dst := &rejectingStore{Store: blobstore.NewMemoryStore()}
	require.Error(t, ds.ExportTo(ctx, dst))
	// All copy goroutines must have finished before ExportTo returns.
	require.Equal(t, int32(0), dst.inFlight.Load())
}
