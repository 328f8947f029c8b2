package manifest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// OrderBy selects the traversal order of IterRecords.
type OrderBy string

const (
	OrderByImageID    OrderBy = "image_id"
	OrderByCreatedUTC OrderBy = "created_utc"
	OrderByAcquired   OrderBy = "acquired_local_epoch_ns"
)

// MissingPolicy places records lacking the ordering field.
type MissingPolicy string

const (
	MissingFirst MissingPolicy = "first"
	MissingLast  MissingPolicy = "last"
)

// IterRecords returns the manifest entries in a stable, total order. Records
// missing the acquisition timestamp sort per the missing policy, and ties are
// broken by image_id.
func (m *Manifest) IterRecords(orderBy OrderBy, missing MissingPolicy) ([]Entry, error) {
	out := slices.Clone(m.Images)
	switch orderBy {
	case OrderByImageID:
		slices.SortStableFunc(out, func(a, b Entry) int {
			return strings.Compare(a.ImageID, b.ImageID)
		})
	case OrderByCreatedUTC:
		slices.SortStableFunc(out, func(a, b Entry) int {
			if c := strings.Compare(a.CreatedUTC, b.CreatedUTC); c != 0 {
				return c
			}
			return strings.Compare(a.ImageID, b.ImageID)
		})
	case OrderByAcquired:
		missingSign := 1
		if missing == MissingFirst {
			missingSign = -1
		}
		slices.SortStableFunc(out, func(a, b Entry) int {
			switch {
			case a.AcquiredLocalEpochNS == nil && b.AcquiredLocalEpochNS == nil:
				return strings.Compare(a.ImageID, b.ImageID)
			case a.AcquiredLocalEpochNS == nil:
				return missingSign
			case b.AcquiredLocalEpochNS == nil:
				return -missingSign
			case *a.AcquiredLocalEpochNS != *b.AcquiredLocalEpochNS:
				if *a.AcquiredLocalEpochNS < *b.AcquiredLocalEpochNS {
					return -1
				}
				return 1
			default:
				return strings.Compare(a.ImageID, b.ImageID)
			}
		})
	default:
		return nil, fmt.Errorf("unknown order_by %q", orderBy)
	}
	return out, nil
}

// ImagesWithAnalysisKeys returns the entries whose analysis-key listing
// contains every one of the given artifact names, in manifest order.
//
// The membership test runs on per-key bitmaps over entry ordinals so that
// multi-key intersections stay cheap on large datasets.
func (m *Manifest) ImagesWithAnalysisKeys(keys ...string) []Entry {
	if len(keys) == 0 {
		return slices.Clone(m.Images)
	}

	index := m.analysisKeyIndex()
	var acc *roaring.Bitmap
	for _, key := range keys {
		bm, ok := index[key]
		if !ok {
			return nil
		}
		if acc == nil {
			acc = bm.Clone()
		} else {
			acc.And(bm)
		}
	}

	out := make([]Entry, 0, acc.GetCardinality())
	it := acc.Iterator()
	for it.HasNext() {
		out = append(out, m.Images[it.Next()])
	}
	return out
}

func (m *Manifest) analysisKeyIndex() map[string]*roaring.Bitmap {
	index := make(map[string]*roaring.Bitmap)
	for i, entry := range m.Images {
		for _, key := range entry.AnalysisKeys {
			bm, ok := index[key]
			if !ok {
				bm = roaring.New()
				index[key] = bm
			}
			bm.Add(uint32(i))
		}
	}
	return index
}
