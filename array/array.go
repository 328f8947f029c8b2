// Package array provides the N-dimensional pixel array value type and its
// chunked binary encoding.
//
// Arrays are dense, C-order, little-endian. The on-disk form splits the array
// into chunks so that single planes of a time series can be read without
// loading the whole recording; chunk blocks are optionally compressed.
package array

import (
	"fmt"
)

// DType identifies the element type of an array.
type DType uint8

const (
	DTypeInvalid DType = iota
	DTypeUint8
	DTypeUint16
	DTypeInt16
	DTypeFloat32
	DTypeFloat64
)

// String returns the canonical name of the dtype.
func (d DType) String() string {
	switch d {
	case DTypeUint8:
		return "uint8"
	case DTypeUint16:
		return "uint16"
	case DTypeInt16:
		return "int16"
	case DTypeFloat32:
		return "float32"
	case DTypeFloat64:
		return "float64"
	default:
		return "invalid"
	}
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case DTypeUint8:
		return 1
	case DTypeUint16, DTypeInt16:
		return 2
	case DTypeFloat32:
		return 4
	case DTypeFloat64:
		return 8
	default:
		return 0
	}
}

// ParseDType maps a canonical dtype name to its DType.
func ParseDType(s string) (DType, error) {
	switch s {
	case "uint8":
		return DTypeUint8, nil
	case "uint16":
		return DTypeUint16, nil
	case "int16":
		return DTypeInt16, nil
	case "float32":
		return DTypeFloat32, nil
	case "float64":
		return DTypeFloat64, nil
	default:
		return DTypeInvalid, fmt.Errorf("unknown dtype %q", s)
	}
}

// NDArray is a dense N-dimensional array.
//
// Data is C-order (last axis fastest) and little-endian. Axes labels and
// Chunks always have the same length as Shape once the array has been
// persisted; both may be nil on a freshly constructed value, in which case
// the record store infers them.
type NDArray struct {
	Shape  []int
	DType  DType
	Axes   []string
	Chunks []int
	Data   []byte
}

// New allocates a zero-filled array with the given dtype and shape.
func New(dtype DType, shape ...int) (*NDArray, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("invalid dtype")
	}
	return &NDArray{
		Shape: append([]int(nil), shape...),
		DType: dtype,
		Data:  make([]byte, n*dtype.Size()),
	}, nil
}

// NumElements returns the element count for a shape.
func NumElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, dim := range shape {
		if dim <= 0 {
			return 0, fmt.Errorf("invalid dimension %d", dim)
		}
		n *= dim
	}
	return n, nil
}

// NDim returns the number of dimensions.
func (a *NDArray) NDim() int {
	return len(a.Shape)
}

// ByteSize returns the expected size of Data in bytes.
func (a *NDArray) ByteSize() int {
	n, err := NumElements(a.Shape)
	if err != nil {
		return 0
	}
	return n * a.DType.Size()
}

// Validate checks internal consistency of shape, dtype, axes, chunks and
// data length.
func (a *NDArray) Validate() error {
	if _, err := NumElements(a.Shape); err != nil {
		return err
	}
	if a.DType.Size() == 0 {
		return fmt.Errorf("invalid dtype")
	}
	if len(a.Data) != a.ByteSize() {
		return fmt.Errorf("data length %d does not match shape %v dtype %s (want %d)",
			len(a.Data), a.Shape, a.DType, a.ByteSize())
	}
	if a.Axes != nil && len(a.Axes) != len(a.Shape) {
		return fmt.Errorf("axes length %d does not match ndim %d", len(a.Axes), len(a.Shape))
	}
	if a.Chunks != nil {
		if len(a.Chunks) != len(a.Shape) {
			return fmt.Errorf("chunks length %d does not match ndim %d", len(a.Chunks), len(a.Shape))
		}
		for i, c := range a.Chunks {
			if c <= 0 || c > a.Shape[i] {
				return fmt.Errorf("invalid chunk size %d for axis %d (dim %d)", c, i, a.Shape[i])
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the array.
func (a *NDArray) Clone() *NDArray {
	out := &NDArray{
		Shape:  append([]int(nil), a.Shape...),
		DType:  a.DType,
		Data:   append([]byte(nil), a.Data...),
		Axes:   append([]string(nil), a.Axes...),
		Chunks: append([]int(nil), a.Chunks...),
	}
	return out
}
