package array

import "fmt"

// DefaultPlaneChunk is the chunk size applied to spatial axes. Time, slice
// and channel axes are chunked at 1 so a single plane loads independently.
const DefaultPlaneChunk = 512

// InferAxes returns the conventional microscopy axes labels for an array of
// the given dimensionality.
//
//	2 -> (y, x)
//	3 -> (z, y, x)
//	4 -> (z, y, x, c)
//	5 -> (t, z, y, x, c)
func InferAxes(ndim int) ([]string, error) {
	switch ndim {
	case 2:
		return []string{"y", "x"}, nil
	case 3:
		return []string{"z", "y", "x"}, nil
	case 4:
		return []string{"z", "y", "x", "c"}, nil
	case 5:
		return []string{"t", "z", "y", "x", "c"}, nil
	default:
		return nil, fmt.Errorf("unsupported array dimensionality %d (want 2-5)", ndim)
	}
}

// InferChunks returns per-axis chunk sizes: t/z/c axes chunk at 1
// (single-plane/channel granularity), y/x and unrecognized axes at
// min(dim, DefaultPlaneChunk).
func InferChunks(shape []int, axes []string) []int {
	chunks := make([]int, len(shape))
	for i, dim := range shape {
		var axis string
		if i < len(axes) {
			axis = axes[i]
		}
		switch axis {
		case "t", "z", "c":
			chunks[i] = 1
		default:
			chunks[i] = min(dim, DefaultPlaneChunk)
		}
	}
	return chunks
}
