package dataset

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mapmanager/kymflow-sub000/blobstore"
)

// ExportTo copies every live key of the dataset into dst: record groups,
// artifacts, tables, the sources index and the manifest. Typical use is
// migrating a local dataset to an object store (or back).
//
// Copies run concurrently under the dataset's limiter; the export is not
// atomic on the destination, so the destination must not be read as a
// dataset until ExportTo returns.
func (ds *Dataset) ExportTo(ctx context.Context, dst blobstore.Store) error {
	keys, err := ds.blobs.List(ctx, "")
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	var acquireErr error
	for _, key := range keys {
		// Drain in-flight copies before returning on an acquire failure,
		// otherwise goroutines keep writing to dst after we return.
		if err := ds.cfg.Limits.Acquire(gctx); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer ds.cfg.Limits.Release()
			data, err := blobstore.Get(gctx, ds.blobs, key)
			if err != nil {
				return err
			}
			if err := ds.cfg.Limits.WaitIO(gctx, len(data)); err != nil {
				return err
			}
			return dst.Put(gctx, key, data)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if acquireErr != nil {
		return acquireErr
	}

	ds.log.Info("dataset exported", "blobs", len(keys))
	return nil
}
